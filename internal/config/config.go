package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Summarization SummarizationConfig `yaml:"summarization"`
	Store         StoreConfig         `yaml:"store"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains UDP frame-feed server configuration
type ServerConfig struct {
	UDPPort               int    `yaml:"udp_port"`
	BindAddress           string `yaml:"bind_address"`
	BufferSize            int    `yaml:"buffer_size"`
	MaxConcurrentSessions int    `yaml:"max_concurrent_sessions"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio buffering parameters
type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate"`        // Hz, gateway frame rate
	SilenceThreshold float64 `yaml:"silence_threshold"`  // seconds of speaker silence before a flush
	FlushInterval    float64 `yaml:"flush_interval"`     // seconds between flush checks
	FeedTimeout      int     `yaml:"feed_timeout"`       // seconds without frames before a forced disconnect
}

// TranscriptionConfig contains transcription engine configuration
type TranscriptionConfig struct {
	Endpoint         string `yaml:"endpoint"`
	Model            string `yaml:"model"`
	Language         string `yaml:"language"`
	EngineSampleRate int    `yaml:"engine_sample_rate"` // Hz, rate for the normalized retry
	Timeout          int    `yaml:"timeout"`            // seconds
	MaxConcurrent    int    `yaml:"max_concurrent"`
}

// SummarizationConfig contains summarization engine configuration
type SummarizationConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// StoreConfig contains durable note storage configuration
type StoreConfig struct {
	DataDir        string `yaml:"data_dir"`
	ArchiveEnabled bool   `yaml:"archive_enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`  // file output rotation size
	MaxBackups int    `yaml:"max_backups"`  // rotated files to keep
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Summarization.Validate(); err != nil {
		return fmt.Errorf("summarization config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be at least 1, got %d", s.MaxConcurrentSessions)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.SilenceThreshold <= 0 {
		return fmt.Errorf("silence_threshold must be positive, got %f", a.SilenceThreshold)
	}

	if a.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive, got %f", a.FlushInterval)
	}

	if a.FlushInterval > a.SilenceThreshold {
		return fmt.Errorf("flush_interval (%f) must not exceed silence_threshold (%f)",
			a.FlushInterval, a.SilenceThreshold)
	}

	if a.FeedTimeout < 1 {
		return fmt.Errorf("feed_timeout must be at least 1 second, got %d", a.FeedTimeout)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.EngineSampleRate < 8000 || t.EngineSampleRate > 48000 {
		return fmt.Errorf("engine_sample_rate must be between 8000 and 48000 Hz, got %d", t.EngineSampleRate)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates summarization configuration
func (s *SummarizationConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	return nil
}

// Validate validates store configuration
func (s *StoreConfig) Validate() error {
	if s.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
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

	// Output accepts stdout, stderr, or a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	if l.MaxSizeMB < 0 {
		return fmt.Errorf("max_size_mb cannot be negative, got %d", l.MaxSizeMB)
	}

	if l.MaxBackups < 0 {
		return fmt.Errorf("max_backups cannot be negative, got %d", l.MaxBackups)
	}

	return nil
}

// GetSilenceThreshold returns the silence threshold as a time.Duration
func (a *AudioConfig) GetSilenceThreshold() time.Duration {
	return time.Duration(a.SilenceThreshold * float64(time.Second))
}

// GetFlushInterval returns the flush interval as a time.Duration
func (a *AudioConfig) GetFlushInterval() time.Duration {
	return time.Duration(a.FlushInterval * float64(time.Second))
}

// GetFeedTimeoutDuration returns the feed timeout as a time.Duration
func (a *AudioConfig) GetFeedTimeoutDuration() time.Duration {
	return time.Duration(a.FeedTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the summarization timeout as a time.Duration
func (s *SummarizationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}
