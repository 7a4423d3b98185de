package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Speaker   SpeakerConfig   `yaml:"speaker"`
	Audio     AudioConfig     `yaml:"audio"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Web       WebConfig       `yaml:"web"`
	Recording RecordingConfig `yaml:"recording"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP/websocket server configuration
type ServerConfig struct {
	Address         string `yaml:"address"`
	Port            int    `yaml:"port"`
	ReadTimeout     int    `yaml:"read_timeout"`     // seconds, bounds request headers only
	WriteTimeout    int    `yaml:"write_timeout"`    // seconds, 0 disables (ingest requests are long lived)
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// SpeakerConfig identifies the sink towards the host and carries the
// process-wide secure flag exposed on the configuration endpoint.
type SpeakerConfig struct {
	ID     string `yaml:"id"`
	Label  string `yaml:"label"`
	Secure bool   `yaml:"secure"`
}

// AudioConfig contains conversion parameters
type AudioConfig struct {
	TargetSampleRate int    `yaml:"target_sample_rate"`
	MaxChunkBytes    int    `yaml:"max_chunk_bytes"`
	ReadBlockBytes   int    `yaml:"read_block_bytes"`
	Resampler        string `yaml:"resampler"` // "cubic" or "sinc"
	SincQuality      int    `yaml:"sinc_quality"`
}

// BroadcastConfig contains per-client fan-out parameters
type BroadcastConfig struct {
	ClientQueueSize int `yaml:"client_queue_size"`
	SendTimeoutMS   int `yaml:"send_timeout_ms"`
	MaxSlowSends    int `yaml:"max_slow_sends"`
}

// WebConfig contains static resource serving configuration
type WebConfig struct {
	Alias         string `yaml:"alias"`
	ResourcesBase string `yaml:"resources_base"`
	Gzip          bool   `yaml:"gzip"`
}

// RecordingConfig controls the optional session recorder
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads, defaults and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration data, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with every field at its default value
func Default() *Config {
	var config Config
	config.ApplyDefaults()
	return &config
}

// ApplyDefaults fills zero-valued optional fields
func (c *Config) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10
	}

	if c.Speaker.ID == "" {
		c.Speaker.ID = "habspeaker"
	}
	if c.Speaker.Label == "" {
		c.Speaker.Label = "HAB Speaker"
	}

	if c.Audio.TargetSampleRate == 0 {
		c.Audio.TargetSampleRate = 16000
	}
	if c.Audio.MaxChunkBytes == 0 {
		c.Audio.MaxChunkBytes = 8192
	}
	if c.Audio.ReadBlockBytes == 0 {
		c.Audio.ReadBlockBytes = 4096
	}
	if c.Audio.Resampler == "" {
		c.Audio.Resampler = "cubic"
	}
	if c.Audio.SincQuality == 0 {
		c.Audio.SincQuality = 10
	}

	if c.Broadcast.ClientQueueSize == 0 {
		c.Broadcast.ClientQueueSize = 64
	}
	if c.Broadcast.SendTimeoutMS == 0 {
		c.Broadcast.SendTimeoutMS = 2000
	}
	if c.Broadcast.MaxSlowSends == 0 {
		c.Broadcast.MaxSlowSends = 3
	}

	if c.Web.Alias == "" {
		c.Web.Alias = "/habspeaker"
	}

	if c.Recording.Directory == "" {
		c.Recording.Directory = "recordings"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate performs validation of every configuration section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Speaker.Validate(); err != nil {
		return fmt.Errorf("speaker config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Broadcast.Validate(); err != nil {
		return fmt.Errorf("broadcast config: %w", err)
	}

	if err := c.Web.Validate(); err != nil {
		return fmt.Errorf("web config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	return nil
}

// Validate validates speaker identity
func (s *SpeakerConfig) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("id cannot be empty")
	}

	if strings.ContainsAny(s.ID, " /") {
		return fmt.Errorf("id must not contain spaces or slashes, got '%s'", s.ID)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.TargetSampleRate < 8000 || a.TargetSampleRate > 192000 {
		return fmt.Errorf("target_sample_rate must be between 8000 and 192000 Hz, got %d", a.TargetSampleRate)
	}

	if a.MaxChunkBytes < 64 {
		return fmt.Errorf("max_chunk_bytes must be at least 64, got %d", a.MaxChunkBytes)
	}

	if a.MaxChunkBytes%2 != 0 {
		return fmt.Errorf("max_chunk_bytes must be even (16-bit samples), got %d", a.MaxChunkBytes)
	}

	if a.ReadBlockBytes < 64 {
		return fmt.Errorf("read_block_bytes must be at least 64, got %d", a.ReadBlockBytes)
	}

	switch a.Resampler {
	case "cubic":
	case "sinc":
		if a.SincQuality < 0 || a.SincQuality > 10 {
			return fmt.Errorf("sinc_quality must be between 0 and 10, got %d", a.SincQuality)
		}
	default:
		return fmt.Errorf("resampler must be 'cubic' or 'sinc', got '%s'", a.Resampler)
	}

	return nil
}

// Validate validates broadcast configuration
func (b *BroadcastConfig) Validate() error {
	if b.ClientQueueSize < 1 {
		return fmt.Errorf("client_queue_size must be at least 1, got %d", b.ClientQueueSize)
	}

	if b.SendTimeoutMS < 10 {
		return fmt.Errorf("send_timeout_ms must be at least 10, got %d", b.SendTimeoutMS)
	}

	if b.MaxSlowSends < 1 {
		return fmt.Errorf("max_slow_sends must be at least 1, got %d", b.MaxSlowSends)
	}

	return nil
}

// Validate validates web configuration
func (w *WebConfig) Validate() error {
	if !strings.HasPrefix(w.Alias, "/") || w.Alias == "/" {
		return fmt.Errorf("alias must start with '/' and name a path, got '%s'", w.Alias)
	}

	if strings.HasSuffix(w.Alias, "/") {
		return fmt.Errorf("alias must not end with '/', got '%s'", w.Alias)
	}

	return nil
}

// Validate validates recorder configuration
func (r *RecordingConfig) Validate() error {
	if r.Enabled && r.Directory == "" {
		return fmt.Errorf("directory cannot be empty when recording is enabled")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeout returns the request header read timeout as a time.Duration
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetShutdownTimeout returns the graceful shutdown timeout as a time.Duration
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// GetSendTimeout returns the per-client send timeout as a time.Duration
func (b *BroadcastConfig) GetSendTimeout() time.Duration {
	return time.Duration(b.SendTimeoutMS) * time.Millisecond
}
