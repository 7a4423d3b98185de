package sink

import (
	"io"

	"github.com/habspeaker/habspeaker/internal/audio"
)

// Stream is an audio source handed to the sink. It is read strictly forward
// and is owned by the sink for the duration of one Process call, which
// closes it.
type Stream interface {
	io.Reader
	// Format returns the declared format; unset fields are unknown
	Format() audio.Format
	// Length returns the total length in bytes when it is known up front
	Length() (int64, bool)
	Close() error
}

// StreamType is a capability of the streams a sink accepts
type StreamType string

const (
	// StreamFixedLength marks streams that declare their total length
	StreamFixedLength StreamType = "FIXED_LENGTH"
)

// ReaderStream adapts a reader with a declared format into a Stream. A
// negative length means unknown.
type ReaderStream struct {
	io.Reader
	format audio.Format
	length int64
	closer io.Closer
}

// NewReaderStream creates a Stream over r. When r implements io.Closer it is
// closed together with the stream.
func NewReaderStream(r io.Reader, format audio.Format, length int64) *ReaderStream {
	s := &ReaderStream{Reader: r, format: format, length: length}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *ReaderStream) Format() audio.Format { return s.format }

func (s *ReaderStream) Length() (int64, bool) { return s.length, s.length >= 0 }

func (s *ReaderStream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
