package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default configuration should be valid: %v", err)
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
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:        "file source without path",
			mutate:      func(c *Config) { c.Capture.Source = "file" },
			expectError: true,
			errorMsg:    "file cannot be empty",
		},
		{
			name: "native container from microphone",
			mutate: func(c *Config) {
				c.Capture.Strategy = "native_container"
			},
			expectError: true,
			errorMsg:    "requires a file source",
		},
		{
			name:        "frame size not a power of two",
			mutate:      func(c *Config) { c.Capture.FrameSize = 4000 },
			expectError: true,
			errorMsg:    "frame_size",
		},
		{
			name:        "unknown chunk policy",
			mutate:      func(c *Config) { c.Chunking.Policy = "vad" },
			expectError: true,
			errorMsg:    "policy must be",
		},
		{
			name:        "zero chunk duration",
			mutate:      func(c *Config) { c.Chunking.Duration = 0 },
			expectError: true,
			errorMsg:    "duration must be positive",
		},
		{
			name:        "invalid gate threshold",
			mutate:      func(c *Config) { c.Gate.Threshold = 1.5 },
			expectError: true,
			errorMsg:    "threshold must be between 0 and 1",
		},
		{
			name:        "websocket url with http scheme",
			mutate:      func(c *Config) { c.Transport.WebSocket.URL = "http://localhost:5000" },
			expectError: true,
			errorMsg:    "ws:// or wss://",
		},
		{
			name: "reconnect cap below first delay",
			mutate: func(c *Config) {
				c.Transport.WebSocket.ReconnectDelay = 5
				c.Transport.WebSocket.ReconnectMaxDelay = 2
			},
			expectError: true,
			errorMsg:    "reconnect_max_delay must be at least",
		},
		{
			name:        "http transport without endpoint",
			mutate:      func(c *Config) { c.Transport.Kind = "http" },
			expectError: true,
			errorMsg:    "endpoint cannot be empty",
		},
		{
			name: "http transport",
			mutate: func(c *Config) {
				c.Transport.Kind = "http"
				c.Transport.HTTP.Endpoint = "http://localhost:9000/transcribe"
			},
		},
		{
			name:        "openai without key",
			mutate:      func(c *Config) { c.Transport.Kind = "openai" },
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
		{
			name: "openai compatible server without key",
			mutate: func(c *Config) {
				c.Transport.Kind = "openai"
				c.Transport.OpenAI.BaseURL = "http://localhost:8000/v1"
			},
		},
		{
			name:        "unknown transport",
			mutate:      func(c *Config) { c.Transport.Kind = "grpc" },
			expectError: true,
			errorMsg:    "kind must be one of",
		},
		{
			name:        "status url with bad scheme",
			mutate:      func(c *Config) { c.Status.URL = "ftp://example.com" },
			expectError: true,
			errorMsg:    "status config",
		},
		{
			name:        "invalid http port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port",
		},
		{
			name: "disabled http ignores port",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
		},
		{
			name:        "empty archive dir",
			mutate:      func(c *Config) { c.Archive.Dir = "" },
			expectError: true,
			errorMsg:    "dir cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
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
		check       func(t *testing.T, c *Config)
	}{
		{
			name: "valid config file",
			configYAML: `
capture:
  source: file
  file: ./meeting.wav
  realtime: false
chunking:
  policy: timer_driven
  duration: 2.5
gate:
  enabled: false
transport:
  kind: http
  http:
    endpoint: "http://localhost:9000/transcribe"
    output_format: text
logging:
  level: debug
  format: json
`,
			check: func(t *testing.T, c *Config) {
				if c.Capture.File != "./meeting.wav" || c.Capture.Realtime {
					t.Errorf("Unexpected capture config: %+v", c.Capture)
				}
				if c.Chunking.GetChunkDuration() != 2500*time.Millisecond {
					t.Errorf("Expected 2.5s chunks, got %v", c.Chunking.GetChunkDuration())
				}
				if c.Gate.Enabled {
					t.Error("Expected gate disabled")
				}
				// Unset fields keep their defaults
				if c.Capture.SampleRate != 16000 || c.Transport.HTTP.MaxConcurrent != 4 {
					t.Errorf("Defaults not preserved: %+v %+v", c.Capture, c.Transport.HTTP)
				}
			},
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
capture:
  sample_rate: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid value",
			configYAML: `
transport:
  kind: openai
`,
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if tt.check != nil {
				tt.check(t, config)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatal("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LIVESCRIBE_TRANSPORT":      "openai",
		"LIVESCRIBE_OPENAI_MODEL":   "whisper-large",
		"OPENAI_API_KEY":            "sk-test",
		"LIVESCRIBE_HTTP_PORT":      "9090",
		"LIVESCRIBE_CHUNK_DURATION": "1.5",
		"LIVESCRIBE_GATE_ENABLED":   "false",
		"LIVESCRIBE_LANGUAGE":       "uk",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	config := Default()
	if err := config.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if config.Transport.Kind != "openai" || config.Transport.OpenAI.Model != "whisper-large" {
		t.Errorf("Unexpected transport: %+v", config.Transport)
	}
	if config.Transport.OpenAI.APIKey != "sk-test" {
		t.Errorf("Expected OPENAI_API_KEY fallback, got %q", config.Transport.OpenAI.APIKey)
	}
	if config.HTTP.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", config.HTTP.Port)
	}
	if config.Chunking.Duration != 1.5 {
		t.Errorf("Expected duration 1.5, got %f", config.Chunking.Duration)
	}
	if config.Gate.Enabled {
		t.Error("Expected gate disabled")
	}
	if config.Transport.OpenAI.Language != "uk" || config.Transport.HTTP.Language != "uk" {
		t.Error("Expected language applied to both transports")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Overridden config should validate: %v", err)
	}
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "LIVESCRIBE_HTTP_PORT" {
			return "eighty", true
		}
		return "", false
	}

	if err := Default().ApplyEnv(lookup); err == nil || !strings.Contains(err.Error(), "LIVESCRIBE_HTTP_PORT") {
		t.Errorf("Expected error naming the variable, got %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LIVESCRIBE_TEST_DOTENV=loaded\n"), 0644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("LIVESCRIBE_TEST_DOTENV") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("LIVESCRIBE_TEST_DOTENV"); got != "loaded" {
		t.Errorf("Expected variable from .env, got %q", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	chunking := ChunkingConfig{Duration: 3}
	if chunking.GetChunkDuration() != 3*time.Second {
		t.Errorf("Expected 3 seconds, got %v", chunking.GetChunkDuration())
	}
	if chunking.GetTickInterval() != 3*time.Second {
		t.Errorf("Tick interval should default to chunk duration, got %v", chunking.GetTickInterval())
	}

	chunking.TickInterval = 0.25
	if chunking.GetTickInterval() != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", chunking.GetTickInterval())
	}

	transcription := TranscriptionConfig{Timeout: 30}
	if transcription.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", transcription.GetTimeoutDuration())
	}

	archive := ArchiveConfig{RetentionDays: 7}
	if archive.GetRetention() != 7*24*time.Hour {
		t.Errorf("Expected 7 days, got %v", archive.GetRetention())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name:   "valid json to stdout",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			valid:  true,
		},
		{
			name:   "valid text to file",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "/tmp/livescribe.log"},
			valid:  true,
		},
		{
			name:   "invalid log level",
			config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			valid:  false,
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

func TestExampleConfigLoads(t *testing.T) {
	config, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Example configuration should load: %v", err)
	}
	if config.Transport.Kind != "websocket" || !config.Transport.RequireModel {
		t.Errorf("Unexpected transport: %+v", config.Transport)
	}
}
