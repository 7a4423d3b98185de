package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/habspeaker/habspeaker/internal/audio"
	"github.com/habspeaker/habspeaker/internal/protocol"
	"github.com/habspeaker/habspeaker/internal/registry"
)

// ClientID is the fixed registry id of the recorder, so a restarted recorder
// replaces its predecessor instead of running next to it.
var ClientID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("habspeaker/recorder"))

// ErrRecorderClosed is returned by Send after Close
var ErrRecorderClosed = errors.New("recorder closed")

// Recorder is a registry transport that writes every session it receives to
// its own WAV file. Frames of one session are appended to the open file; the
// first frame of a new session finalizes it and starts the next one.
type Recorder struct {
	dir        string
	sampleRate int
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	session protocol.SessionID
	file    *os.File
	encoder *wav.Encoder
	buf     *goaudio.IntBuffer
	files   []string
	closed  bool
}

// New creates a recorder writing canonical PCM at sampleRate into dir
func New(dir string, sampleRate int, logger *slog.Logger) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	return &Recorder{
		dir:        dir,
		sampleRate: sampleRate,
		logger:     logger.With(slog.String("component", "recorder")),
		now:        time.Now,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: audio.CanonicalChannels, SampleRate: sampleRate},
			SourceBitDepth: audio.CanonicalBitDepth,
		},
	}, nil
}

// Client wraps the recorder in a registry client
func (r *Recorder) Client(queueSize int) *registry.Client {
	return registry.NewClient(ClientID, "recorder", "local:"+r.dir, r, queueSize)
}

// Send appends the frame payload to the file of its session
func (r *Recorder) Send(ctx context.Context, frame []byte) error {
	parsed, err := protocol.ParseFrame(frame)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}

	if r.encoder == nil || parsed.Session != r.session {
		if err := r.finish(); err != nil {
			return err
		}
		if err := r.open(parsed.Session); err != nil {
			return err
		}
	}

	r.buf.Data = r.buf.Data[:0]
	for i := 0; i+1 < len(parsed.Payload); i += 2 {
		r.buf.Data = append(r.buf.Data, int(int16(binary.LittleEndian.Uint16(parsed.Payload[i:]))))
	}

	if err := r.encoder.Write(r.buf); err != nil {
		return fmt.Errorf("failed to write session %s: %w", r.session, err)
	}
	return nil
}

// Close finalizes the current file. Later sends fail with ErrRecorderClosed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.finish()
}

// Files returns the paths of all files started so far
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func (r *Recorder) open(session protocol.SessionID) error {
	name := fmt.Sprintf("%d-%s.wav", r.now().UnixMilli(), session)
	path := filepath.Join(r.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	r.file = f
	r.encoder = wav.NewEncoder(f, r.sampleRate, audio.CanonicalBitDepth, audio.CanonicalChannels, 1)
	r.session = session
	r.files = append(r.files, path)

	r.logger.Info("Recording session",
		slog.String("session_id", session.String()),
		slog.String("path", path),
	)
	return nil
}

func (r *Recorder) finish() error {
	if r.encoder == nil {
		return nil
	}

	encErr := r.encoder.Close()
	fileErr := r.file.Close()
	r.encoder = nil
	r.file = nil

	if err := errors.Join(encErr, fileErr); err != nil {
		return fmt.Errorf("failed to finalize session %s: %w", r.session, err)
	}

	r.logger.Debug("Recording finalized", slog.String("session_id", r.session.String()))
	return nil
}
