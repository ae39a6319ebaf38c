package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			UDPPort:               4444,
			BindAddress:           "0.0.0.0",
			BufferSize:            65536,
			MaxConcurrentSessions: 100,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate:       48000,
			SilenceThreshold: 1.5,
			FlushInterval:    0.5,
			FeedTimeout:      30,
		},
		Transcription: TranscriptionConfig{
			Endpoint:         "http://localhost:9000/transcribe",
			Model:            "base",
			Language:         "en",
			EngineSampleRate: 16000,
			Timeout:          30,
			MaxConcurrent:    4,
		},
		Summarization: SummarizationConfig{
			Endpoint:   "http://localhost:11434",
			Model:      "llama3.2",
			Timeout:    120,
			MaxRetries: 2,
		},
		Store: StoreConfig{
			DataDir:        "./data",
			ArchiveEnabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid server port",
			mutate:      func(c *Config) { c.Server.UDPPort = 70000 },
			expectError: true,
			errorMsg:    "udp_port must be between 1 and 65535",
		},
		{
			name:        "invalid audio sample rate",
			mutate:      func(c *Config) { c.Audio.SampleRate = 96000 },
			expectError: true,
			errorMsg:    "sample_rate must be between 8000 and 48000",
		},
		{
			name:        "flush interval exceeds silence threshold",
			mutate:      func(c *Config) { c.Audio.FlushInterval = 5.0 },
			expectError: true,
			errorMsg:    "flush_interval",
		},
		{
			name:        "missing transcription model",
			mutate:      func(c *Config) { c.Transcription.Model = "" },
			expectError: true,
			errorMsg:    "model cannot be empty",
		},
		{
			name:        "missing summarization endpoint",
			mutate:      func(c *Config) { c.Summarization.Endpoint = "" },
			expectError: true,
			errorMsg:    "endpoint cannot be empty",
		},
		{
			name:        "negative summarization retries",
			mutate:      func(c *Config) { c.Summarization.MaxRetries = -1 },
			expectError: true,
			errorMsg:    "max_retries cannot be negative",
		},
		{
			name:        "missing data dir",
			mutate:      func(c *Config) { c.Store.DataDir = "" },
			expectError: true,
			errorMsg:    "data_dir cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
server:
  udp_port: 4444
  bind_address: "0.0.0.0"
  buffer_size: 65536
  max_concurrent_sessions: 100
http:
  port: 8080
  address: "0.0.0.0"
  enabled: true
audio:
  sample_rate: 48000
  silence_threshold: 1.5
  flush_interval: 0.5
  feed_timeout: 30
transcription:
  endpoint: "http://localhost:9000/transcribe"
  model: "base"
  language: "en"
  engine_sample_rate: 16000
  timeout: 30
  max_concurrent: 4
summarization:
  endpoint: "http://localhost:11434"
  model: "llama3.2"
  timeout: 120
  max_retries: 2
store:
  data_dir: "./data"
  archive_enabled: true
logging:
  level: "info"
  format: "json"
  output: "stdout"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
server:
  udp_port: 4444
  bind_address: "0.0.0.0"
  buffer_size: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
server:
  udp_port: 4444
  # missing bind_address
`,
			expectError: true,
			errorMsg:    "bind_address cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	}
	if !contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	audio := AudioConfig{
		SilenceThreshold: 1.5,
		FlushInterval:    0.5,
		FeedTimeout:      30,
	}

	if audio.GetSilenceThreshold() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", audio.GetSilenceThreshold())
	}

	if audio.GetFlushInterval() != 500*time.Millisecond {
		t.Errorf("Expected 0.5 seconds, got %v", audio.GetFlushInterval())
	}

	if audio.GetFeedTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", audio.GetFeedTimeoutDuration())
	}

	transcription := TranscriptionConfig{Timeout: 30}
	if transcription.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", transcription.GetTimeoutDuration())
	}

	summarization := SummarizationConfig{Timeout: 120}
	if summarization.GetTimeoutDuration() != 120*time.Second {
		t.Errorf("Expected 120 seconds, got %v", summarization.GetTimeoutDuration())
	}
}

func TestServerConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config ServerConfig
		valid  bool
	}{
		{
			name: "valid config",
			config: ServerConfig{
				UDPPort:               4444,
				BindAddress:           "0.0.0.0",
				BufferSize:            65536,
				MaxConcurrentSessions: 100,
			},
			valid: true,
		},
		{
			name: "port too low",
			config: ServerConfig{
				UDPPort:               0,
				BindAddress:           "0.0.0.0",
				BufferSize:            65536,
				MaxConcurrentSessions: 100,
			},
			valid: false,
		},
		{
			name: "port too high",
			config: ServerConfig{
				UDPPort:               70000,
				BindAddress:           "0.0.0.0",
				BufferSize:            65536,
				MaxConcurrentSessions: 100,
			},
			valid: false,
		},
		{
			name: "empty bind address",
			config: ServerConfig{
				UDPPort:               4444,
				BindAddress:           "",
				BufferSize:            65536,
				MaxConcurrentSessions: 100,
			},
			valid: false,
		},
		{
			name: "buffer too small",
			config: ServerConfig{
				UDPPort:               4444,
				BindAddress:           "0.0.0.0",
				BufferSize:            512,
				MaxConcurrentSessions: 100,
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name: "valid json to stdout",
			config: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			valid: true,
		},
		{
			name: "valid text to stderr",
			config: LoggingConfig{
				Level:  "debug",
				Format: "text",
				Output: "stderr",
			},
			valid: true,
		},
		{
			name: "valid rotating file output",
			config: LoggingConfig{
				Level:      "info",
				Format:     "json",
				Output:     "/var/log/voice-notes/service.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
			},
			valid: true,
		},
		{
			name: "invalid log level",
			config: LoggingConfig{
				Level:  "trace",
				Format: "json",
				Output: "stdout",
			},
			valid: false,
		},
		{
			name: "invalid format",
			config: LoggingConfig{
				Level:  "info",
				Format: "xml",
				Output: "stdout",
			},
			valid: false,
		},
		{
			name: "empty output",
			config: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "",
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}

// Helper function to check if a string contains a substring
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > len(substr) && findSubstring(s, substr)))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
