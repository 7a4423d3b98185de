package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/riff"
)

// WAVE format tags
const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// WAVSource decodes the data chunk of a RIFF/WAVE stream incrementally and
// yields mono float32 samples in [-1, 1]. The underlying reader is consumed
// strictly forward; nothing is buffered beyond one read block.
type WAVSource struct {
	data      io.Reader
	format    Format
	frameSize int
	length    int64 // declared data chunk size, -1 when open-ended

	buf   []byte
	carry int
}

// OpenWAV parses the RIFF header and chunk list up to the start of the data
// chunk. It fails with ErrUnsupportedFormat for anything other than integer
// PCM (8/16/24/32 bit) or 32-bit IEEE float, and with ErrMalformedStream when
// the header ends early or is inconsistent. Errors from r itself are returned
// wrapped, without either sentinel.
func OpenWAV(r io.Reader) (*WAVSource, error) {
	parser := riff.New(r)
	if err := parser.ParseHeaders(); err != nil {
		switch {
		case parser.ID != [4]byte{} && parser.ID != riff.RiffID:
			return nil, fmt.Errorf("%w: missing RIFF header", ErrUnsupportedFormat)
		case isTruncated(err):
			return nil, fmt.Errorf("%w: truncated RIFF header", ErrMalformedStream)
		default:
			return nil, fmt.Errorf("reading RIFF header: %w", err)
		}
	}

	if parser.ID != riff.RiffID {
		return nil, fmt.Errorf("%w: missing RIFF header", ErrUnsupportedFormat)
	}
	if parser.Format != riff.WavFormatID {
		return nil, fmt.Errorf("%w: missing WAVE format", ErrUnsupportedFormat)
	}

	haveFmt := false
	for {
		// Chunk headers are read directly so the data chunk keeps its declared
		// size; the parser would round odd sizes up to include the pad byte.
		id, size, err := parser.IDnSize()
		if err != nil {
			if isTruncated(err) {
				return nil, fmt.Errorf("%w: missing data chunk", ErrMalformedStream)
			}
			return nil, fmt.Errorf("reading chunk header: %w", err)
		}

		padded := int(size)
		if size%2 == 1 {
			padded++
		}
		chunk := &riff.Chunk{ID: id, Size: padded, R: r}

		switch id {
		case riff.FmtID:
			if size < 16 {
				return nil, fmt.Errorf("%w: fmt chunk of %d bytes", ErrMalformedStream, size)
			}
			if err := chunk.DecodeWavHeader(parser); err != nil {
				if isTruncated(err) {
					return nil, fmt.Errorf("%w: fmt chunk: %v", ErrMalformedStream, err)
				}
				return nil, fmt.Errorf("reading fmt chunk: %w", err)
			}
			if !chunk.IsFullyRead() {
				chunk.Drain()
			}
			haveFmt = true

		case riff.DataFormatID:
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrMalformedStream)
			}
			format, err := wavFormat(parser)
			if err != nil {
				return nil, err
			}

			src := &WAVSource{
				data:      r,
				format:    format,
				frameSize: format.FrameSize(),
				length:    -1,
			}
			// Streaming writers that cannot patch the header leave the size at
			// 0 or 0xFFFFFFFF; the data then runs to the end of the stream.
			if size > 0 && size < math.MaxUint32 {
				src.data = io.LimitReader(r, int64(size))
				src.length = int64(size)
			}
			return src, nil

		default:
			chunk.Drain()
		}
	}
}

func isTruncated(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func wavFormat(p *riff.Parser) (Format, error) {
	format := Format{
		Container:  ContainerWAVE,
		SampleRate: int(p.SampleRate),
		BitDepth:   int(p.BitsPerSample),
		Channels:   int(p.NumChannels),
		ByteOrder:  LittleEndian,
	}

	switch p.WavAudioFormat {
	case wavFormatPCM:
		switch format.BitDepth {
		case 8:
			format.Codec = CodecPCMUnsigned
		case 16, 24, 32:
			format.Codec = CodecPCMSigned
		default:
			return Format{}, fmt.Errorf("%w: %d-bit integer PCM", ErrUnsupportedFormat, format.BitDepth)
		}
	case wavFormatFloat:
		if format.BitDepth != 32 {
			return Format{}, fmt.Errorf("%w: %d-bit float PCM", ErrUnsupportedFormat, format.BitDepth)
		}
		format.Codec = CodecPCMFloat
	default:
		return Format{}, fmt.Errorf("%w: WAVE format tag %d (only PCM is supported)", ErrUnsupportedFormat, p.WavAudioFormat)
	}

	if format.Channels < 1 {
		return Format{}, fmt.Errorf("%w: %d channels", ErrMalformedStream, format.Channels)
	}
	if format.SampleRate < 1 {
		return Format{}, fmt.Errorf("%w: sample rate %d", ErrMalformedStream, format.SampleRate)
	}

	return format, nil
}

// Format returns the format declared by the stream header
func (s *WAVSource) Format() Format { return s.format }

// Length returns the declared data size in bytes and whether it is known
func (s *WAVSource) Length() (int64, bool) { return s.length, s.length >= 0 }

// ReadMono reads at most len(dst) frames, mixing channels down by averaging.
// Like io.Reader it may return n > 0 together with io.EOF. A trailing partial
// frame at end of stream is discarded.
func (s *WAVSource) ReadMono(dst []float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	want := len(dst) * s.frameSize
	if cap(s.buf) < want {
		grown := make([]byte, want)
		copy(grown, s.buf[:s.carry])
		s.buf = grown
	}
	s.buf = s.buf[:want]

	n, err := s.data.Read(s.buf[s.carry:want])
	total := s.carry + n
	frames := total / s.frameSize

	for i := 0; i < frames; i++ {
		dst[i] = s.mixFrame(s.buf[i*s.frameSize : (i+1)*s.frameSize])
	}

	s.carry = copy(s.buf, s.buf[frames*s.frameSize:total])

	if err != nil && !errors.Is(err, io.EOF) {
		return frames, fmt.Errorf("reading audio data: %w", err)
	}
	return frames, err
}

func (s *WAVSource) mixFrame(frame []byte) float32 {
	channels := s.format.Channels
	width := s.frameSize / channels

	if channels == 1 {
		return s.decodeSample(frame)
	}

	var sum float32
	for c := 0; c < channels; c++ {
		sum += s.decodeSample(frame[c*width : (c+1)*width])
	}
	return sum / float32(channels)
}

func (s *WAVSource) decodeSample(b []byte) float32 {
	switch s.format.Codec {
	case CodecPCMUnsigned:
		return (float32(b[0]) - 128) / 128
	case CodecPCMFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}

	switch s.format.BitDepth {
	case 16:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
		return float32(v) / 8388608
	default:
		return float32(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	}
}
