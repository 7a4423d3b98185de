package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/habspeaker/habspeaker/internal/audio"
	"github.com/habspeaker/habspeaker/internal/broadcast"
	"github.com/habspeaker/habspeaker/internal/config"
	"github.com/habspeaker/habspeaker/internal/metrics"
	"github.com/habspeaker/habspeaker/internal/recorder"
	"github.com/habspeaker/habspeaker/internal/registry"
	"github.com/habspeaker/habspeaker/internal/server"
	"github.com/habspeaker/habspeaker/internal/sink"
	"github.com/habspeaker/habspeaker/internal/stream"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "habspeaker"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
		slog.String("speaker_id", cfg.Speaker.ID),
		slog.Bool("secure", cfg.Speaker.Secure),
		slog.Int("target_sample_rate", cfg.Audio.TargetSampleRate),
		slog.String("resampler", cfg.Audio.Resampler),
		slog.Int("max_chunk_bytes", cfg.Audio.MaxChunkBytes),
		slog.Int("client_queue_size", cfg.Broadcast.ClientQueueSize),
		slog.Duration("send_timeout", cfg.Broadcast.GetSendTimeout()),
		slog.Bool("recording", cfg.Recording.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	reg := registry.New(cfg.Speaker, logger, appMetrics)
	sessions := stream.NewManager(logger)
	dispatcher := broadcast.NewDispatcher(reg, broadcast.Config{
		SendTimeout:  cfg.Broadcast.GetSendTimeout(),
		MaxSlowSends: cfg.Broadcast.MaxSlowSends,
	}, logger, appMetrics)

	if cfg.Recording.Enabled {
		rec, err := recorder.New(cfg.Recording.Directory, cfg.Audio.TargetSampleRate, logger)
		if err != nil {
			logger.Error("Failed to create recorder", slog.String("error", err.Error()))
			os.Exit(1)
		}
		reg.Register(rec.Client(cfg.Broadcast.ClientQueueSize))
		logger.Info("Session recorder enabled", slog.String("directory", cfg.Recording.Directory))
	}

	audioSink := sink.New(sink.Config{
		ID:    cfg.Speaker.ID,
		Label: cfg.Speaker.Label,
		Converter: audio.ConverterConfig{
			TargetSampleRate: cfg.Audio.TargetSampleRate,
			MaxChunkBytes:    cfg.Audio.MaxChunkBytes,
			ReadBlockBytes:   cfg.Audio.ReadBlockBytes,
			Resampler:        audio.ResamplerKind(cfg.Audio.Resampler),
			SincQuality:      cfg.Audio.SincQuality,
		},
	}, reg, sessions, dispatcher, logger, appMetrics)
	audioSink.Start()

	httpServer := server.NewHTTPServer(cfg, logger, audioSink, reg, sessions, appMetrics, prometheus.DefaultGatherer)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	logger.Info("Service started successfully, waiting for signals...")

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			reloadConfig(*configPath, reg, logger)
			continue
		}
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		break
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	defer shutdownCancel()

	// Stop accepting streams first, then wait for the one playing.
	if err := audioSink.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping sink", slog.String("error", err.Error()))
	}

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Closes speaker connections and finalizes the recording in progress.
	reg.CloseAll()
	dispatcher.Stop()

	stats := sessions.GetStats()
	logger.Info("Final session statistics",
		slog.Uint64("completed_sessions", stats.CompletedSessions),
		slog.Uint64("failed_sessions", stats.FailedSessions),
		slog.Uint64("total_chunks", stats.TotalChunks),
		slog.Uint64("total_bytes", stats.TotalBytes),
	)

	logger.Info("Service stopped")
}

// reloadConfig re-reads the configuration file and applies the speaker
// section. Other sections need a restart.
func reloadConfig(path string, reg *registry.Registry, logger *slog.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("Failed to reload configuration, keeping current",
			slog.String("config_path", path),
			slog.String("error", err.Error()),
		)
		return
	}

	reg.UpdateConfig(cfg.Speaker)
	logger.Info("Configuration reloaded",
		slog.String("config_path", path),
		slog.Bool("secure", cfg.Speaker.Secure),
	)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
