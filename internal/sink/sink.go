package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/habspeaker/habspeaker/internal/audio"
	"github.com/habspeaker/habspeaker/internal/broadcast"
	"github.com/habspeaker/habspeaker/internal/config"
	"github.com/habspeaker/habspeaker/internal/metrics"
	"github.com/habspeaker/habspeaker/internal/protocol"
	"github.com/habspeaker/habspeaker/internal/registry"
	"github.com/habspeaker/habspeaker/internal/stream"
)

// Config contains sink identity and conversion parameters
type Config struct {
	ID        string
	Label     string
	Converter audio.ConverterConfig
}

// Sink is the entry point the host calls with audio to play. Each accepted
// stream becomes one session: it is converted to canonical PCM, tagged with
// the session id and broadcast to every registered speaker.
type Sink struct {
	config     Config
	registry   *registry.Registry
	sessions   *stream.Manager
	dispatcher *broadcast.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Holds a token while a stream is being played; serializes Process.
	playing chan struct{}
	running atomic.Bool
}

// New creates a stopped sink; call Start before Process
func New(cfg Config, reg *registry.Registry, sessions *stream.Manager, dispatcher *broadcast.Dispatcher,
	logger *slog.Logger, m *metrics.Metrics) *Sink {
	return &Sink{
		config:     cfg,
		registry:   reg,
		sessions:   sessions,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("sink", cfg.ID)),
		metrics:    m,
		playing:    make(chan struct{}, 1),
	}
}

// ID returns the sink identifier
func (s *Sink) ID() string { return s.config.ID }

// Label returns the human readable sink name
func (s *Sink) Label() string { return s.config.Label }

// SupportedFormats returns the formats accepted by Process
func (s *Sink) SupportedFormats() []audio.Format {
	return []audio.Format{audio.WAV}
}

// SupportedStreams returns the stream capabilities accepted by Process
func (s *Sink) SupportedStreams() []StreamType {
	return []StreamType{StreamFixedLength}
}

// Volume always reports 0; volume is controlled on the speakers themselves.
func (s *Sink) Volume() int { return 0 }

// SetVolume is a no-op.
func (s *Sink) SetVolume(int) {}

// Config returns the current speaker configuration
func (s *Sink) Config() config.SpeakerConfig {
	return s.registry.CurrentConfig()
}

// Start makes the sink accept streams
func (s *Sink) Start() {
	s.running.Store(true)
	s.logger.Info("Sink started",
		slog.String("label", s.config.Label),
		slog.Int("target_sample_rate", s.config.Converter.TargetSampleRate),
	)
}

// Stop rejects new streams and waits for the one in progress, if any, until
// ctx is done.
func (s *Sink) Stop(ctx context.Context) error {
	s.running.Store(false)

	select {
	case s.playing <- struct{}{}:
		<-s.playing
		s.logger.Info("Sink stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for playback to finish: %w", ctx.Err())
	}
}

// Process plays src to completion. It returns an error only when the sink is
// stopped or src is rejected for its format; rejection happens before
// anything is sent. Read, decode and transport failures, including those hit
// while reading the header, end playback and are logged.
// Cancelling ctx aborts playback and closes src.
func (s *Sink) Process(ctx context.Context, src Stream) error {
	if src == nil {
		s.logger.Debug("Ignoring nil stream")
		return nil
	}
	defer src.Close()

	if !s.running.Load() {
		return ErrSinkStopped
	}

	if err := s.validate(src); err != nil {
		return err
	}

	select {
	case s.playing <- struct{}{}:
		defer func() { <-s.playing }()
	case <-ctx.Done():
		s.logger.Info("Playback cancelled while waiting for previous stream",
			slog.String("error", ctx.Err().Error()),
		)
		return nil
	}

	// Unblock a pending read when the caller goes away.
	stopAfter := context.AfterFunc(ctx, func() { src.Close() })
	defer stopAfter()

	conv, err := audio.NewConverter(src, s.config.Converter)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Info("Playback cancelled before start")
			return nil
		}
		if errors.Is(err, audio.ErrUnsupportedFormat) {
			s.metrics.RecordSessionRejected("unsupported_format")
			s.logger.Warn("Rejected stream",
				slog.String("declared_format", src.Format().String()),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("%w: %v", ErrUnsupportedAudioFormat, err)
		}
		// Unreadable or truncated headers end playback like any other read
		// failure: logged, never returned.
		s.logger.Error("Playback failed before start",
			slog.String("declared_format", src.Format().String()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	s.play(ctx, conv)
	return nil
}

func (s *Sink) validate(src Stream) error {
	declared := src.Format()
	supported := false
	for _, f := range s.SupportedFormats() {
		if f.IsCompatible(declared) {
			supported = true
			break
		}
	}
	if !supported {
		s.metrics.RecordSessionRejected("unsupported_format")
		s.logger.Warn("Rejected stream with unsupported format",
			slog.String("declared_format", declared.String()),
		)
		return fmt.Errorf("%w: %s", ErrUnsupportedAudioFormat, declared)
	}

	if _, known := src.Length(); !known {
		s.metrics.RecordSessionRejected("unsupported_stream")
		s.logger.Warn("Rejected stream without known length")
		return fmt.Errorf("%w: total length must be known", ErrUnsupportedAudioStream)
	}

	return nil
}

func (s *Sink) play(ctx context.Context, conv *audio.Converter) {
	session := s.sessions.CreateSession(conv.TargetFormat())
	tagger := stream.NewTagger(session, conv)
	logger := s.logger.With(slog.String("session_id", session.ID.String()))

	s.metrics.RecordSessionStarted()
	logger.Info("Playback started",
		slog.String("source_format", conv.SourceFormat().String()),
		slog.String("target_format", conv.TargetFormat().String()),
		slog.Int("clients", s.registry.Count()),
	)

	var endErr error
	for {
		if err := ctx.Err(); err != nil {
			endErr = err
			break
		}

		frame, err := tagger.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				endErr = err
			}
			break
		}

		s.metrics.RecordChunkProduced(len(frame) - protocol.HeaderSize)
		s.dispatcher.Dispatch(frame)
	}

	// A read failing because the caller cancelled is a cancellation.
	if endErr != nil && ctx.Err() != nil {
		endErr = ctx.Err()
	}

	s.sessions.RemoveSession(session, endErr)
	info := session.GetSessionInfo()
	s.metrics.RecordSessionEnded(endErr != nil, time.Since(session.StartTime).Seconds())

	switch {
	case endErr == nil:
		logger.Info("Playback finished",
			slog.Uint64("chunks", info.Chunks),
			slog.Int64("samples", conv.SamplesProduced()),
			slog.Duration("duration", info.Duration),
		)
	case errors.Is(endErr, context.Canceled) || errors.Is(endErr, context.DeadlineExceeded):
		logger.Info("Playback cancelled",
			slog.Uint64("chunks", info.Chunks),
			slog.String("reason", endErr.Error()),
		)
	default:
		logger.Error("Playback failed",
			slog.Uint64("chunks", info.Chunks),
			slog.String("error", endErr.Error()),
		)
	}
}
