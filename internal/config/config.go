package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "LIVESCRIBE_"

// Config represents the complete client configuration
type Config struct {
	Capture   CaptureConfig   `yaml:"capture"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Gate      GateConfig      `yaml:"gate"`
	Transport TransportConfig `yaml:"transport"`
	Status    StatusConfig    `yaml:"status"`
	HTTP      HTTPConfig      `yaml:"http"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Logging   LoggingConfig   `yaml:"logging"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// CaptureConfig selects and parameterizes the audio source
type CaptureConfig struct {
	Source     string `yaml:"source"`   // microphone, file
	Strategy   string `yaml:"strategy"` // manual_pcm, native_container
	File       string `yaml:"file"`
	Realtime   bool   `yaml:"realtime"` // pace file playback at capture speed
	SampleRate int    `yaml:"sample_rate"`
	FrameSize  int    `yaml:"frame_size"`
	FrameQueue int    `yaml:"frame_queue"`
}

// ChunkingConfig contains chunk boundary parameters
type ChunkingConfig struct {
	Policy       string  `yaml:"policy"`        // fixed_duration, timer_driven
	Duration     float64 `yaml:"duration"`      // seconds
	TickInterval float64 `yaml:"tick_interval"` // seconds, 0 means duration
}

// GateConfig contains silence gate configuration
type GateConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
}

// TransportConfig selects the transcription transport
type TransportConfig struct {
	Kind            string              `yaml:"kind"` // websocket, http, openai
	RequireModel    bool                `yaml:"require_model"`
	DispatchTimeout int                 `yaml:"dispatch_timeout"` // seconds
	WebSocket       WebSocketConfig     `yaml:"websocket"`
	HTTP            TranscriptionConfig `yaml:"http"`
	OpenAI          OpenAIConfig        `yaml:"openai"`
}

// WebSocketConfig contains websocket transport configuration
type WebSocketConfig struct {
	URL               string `yaml:"url"`
	HandshakeTimeout  int    `yaml:"handshake_timeout"` // seconds
	PingInterval      int    `yaml:"ping_interval"`     // seconds, 0 disables
	QueueSize         int    `yaml:"queue_size"`
	ReconnectDelay    int    `yaml:"reconnect_delay"`     // seconds
	ReconnectMaxDelay int    `yaml:"reconnect_max_delay"` // seconds
}

// TranscriptionConfig contains stateless HTTP transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
	OutputFormat  string `yaml:"output_format"`
	Language      string `yaml:"language"`
	Model         string `yaml:"model"`
}

// OpenAIConfig contains OpenAI audio transcription configuration
type OpenAIConfig struct {
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Prompt        string `yaml:"prompt"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// StatusConfig contains the service status query. An empty URL disables it.
type StatusConfig struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// HTTPConfig contains local HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// ArchiveConfig contains transcript export configuration
type ArchiveConfig struct {
	Dir           string `yaml:"dir"`
	Title         string `yaml:"title"`
	StorePath     string `yaml:"store_path"` // badger directory, empty disables the store
	RetentionDays int    `yaml:"retention_days"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// NotifyConfig contains desktop notification configuration
type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration that captures from the microphone and
// streams 3 second chunks to a local websocket service
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Source:     "microphone",
			Strategy:   "manual_pcm",
			Realtime:   true,
			SampleRate: 16000,
			FrameSize:  4096,
			FrameQueue: 64,
		},
		Chunking: ChunkingConfig{
			Policy:   "fixed_duration",
			Duration: 3.0,
		},
		Gate: GateConfig{
			Enabled:   true,
			Threshold: 0.01,
		},
		Transport: TransportConfig{
			Kind:            "websocket",
			DispatchTimeout: 5,
			WebSocket: WebSocketConfig{
				URL:               "ws://localhost:5000/ws",
				HandshakeTimeout:  10,
				PingInterval:      30,
				QueueSize:         32,
				ReconnectDelay:    1,
				ReconnectMaxDelay: 30,
			},
			HTTP: TranscriptionConfig{
				Timeout:       30,
				MaxConcurrent: 4,
				OutputFormat:  "json",
			},
			OpenAI: OpenAIConfig{
				Model:         "whisper-1",
				Timeout:       30,
				MaxConcurrent: 4,
			},
		},
		Status: StatusConfig{
			Timeout: 5,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Archive: ArchiveConfig{
			Dir:   "transcripts",
			Title: "Livescribe Transcript",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadDotEnv loads environment files. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return nil
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment override failed: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields from LIVESCRIBE_* variables found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	float := func(name string, dst *float64) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = f
		return nil
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("CAPTURE_SOURCE", &c.Capture.Source)
	str("CAPTURE_FILE", &c.Capture.File)
	str("CAPTURE_STRATEGY", &c.Capture.Strategy)
	str("CHUNK_POLICY", &c.Chunking.Policy)
	str("TRANSPORT", &c.Transport.Kind)
	str("WS_URL", &c.Transport.WebSocket.URL)
	str("HTTP_ENDPOINT", &c.Transport.HTTP.Endpoint)
	str("API_KEY", &c.Transport.HTTP.APIKey)
	str("OPENAI_BASE_URL", &c.Transport.OpenAI.BaseURL)
	str("OPENAI_MODEL", &c.Transport.OpenAI.Model)
	str("LANGUAGE", &c.Transport.OpenAI.Language)
	str("LANGUAGE", &c.Transport.HTTP.Language)
	str("STATUS_URL", &c.Status.URL)
	str("ARCHIVE_DIR", &c.Archive.Dir)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	// The OpenAI key also honours the SDK's conventional variable
	if v, ok := lookup("OPENAI_API_KEY"); ok && c.Transport.OpenAI.APIKey == "" {
		c.Transport.OpenAI.APIKey = v
	}
	str("OPENAI_API_KEY", &c.Transport.OpenAI.APIKey)

	for _, err := range []error{
		integer("HTTP_PORT", &c.HTTP.Port),
		integer("SAMPLE_RATE", &c.Capture.SampleRate),
		float("CHUNK_DURATION", &c.Chunking.Duration),
		float("GATE_THRESHOLD", &c.Gate.Threshold),
		boolean("GATE_ENABLED", &c.Gate.Enabled),
		boolean("REQUIRE_MODEL", &c.Transport.RequireModel),
		boolean("NOTIFY", &c.Notify.Enabled),
	} {
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking config: %w", err)
	}

	if err := c.Gate.Validate(); err != nil {
		return fmt.Errorf("gate config: %w", err)
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Status.Validate(); err != nil {
		return fmt.Errorf("status config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Source {
	case "microphone":
	case "file":
		if c.File == "" {
			return fmt.Errorf("file cannot be empty when source is 'file'")
		}
	default:
		return fmt.Errorf("source must be 'microphone' or 'file', got '%s'", c.Source)
	}

	validStrategies := map[string]bool{"manual_pcm": true, "native_container": true}
	if !validStrategies[c.Strategy] {
		return fmt.Errorf("strategy must be 'manual_pcm' or 'native_container', got '%s'", c.Strategy)
	}

	if c.Strategy == "native_container" && c.Source != "file" {
		return fmt.Errorf("native_container strategy requires a file source")
	}

	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", c.SampleRate)
	}

	if c.FrameSize < 256 || c.FrameSize > 16384 || c.FrameSize&(c.FrameSize-1) != 0 {
		return fmt.Errorf("frame_size must be a power of two between 256 and 16384, got %d", c.FrameSize)
	}

	if c.FrameQueue < 1 {
		return fmt.Errorf("frame_queue must be at least 1, got %d", c.FrameQueue)
	}

	return nil
}

// Validate validates chunking configuration
func (c *ChunkingConfig) Validate() error {
	validPolicies := map[string]bool{"fixed_duration": true, "timer_driven": true}
	if !validPolicies[c.Policy] {
		return fmt.Errorf("policy must be 'fixed_duration' or 'timer_driven', got '%s'", c.Policy)
	}

	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", c.Duration)
	}

	if c.TickInterval < 0 {
		return fmt.Errorf("tick_interval cannot be negative, got %f", c.TickInterval)
	}

	return nil
}

// Validate validates silence gate configuration
func (g *GateConfig) Validate() error {
	if g.Threshold < 0 || g.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", g.Threshold)
	}
	return nil
}

// Validate validates transport configuration
func (t *TransportConfig) Validate() error {
	if t.DispatchTimeout < 1 {
		return fmt.Errorf("dispatch_timeout must be at least 1 second, got %d", t.DispatchTimeout)
	}

	switch t.Kind {
	case "websocket":
		return t.WebSocket.Validate()
	case "http":
		return t.HTTP.Validate()
	case "openai":
		return t.OpenAI.Validate()
	default:
		return fmt.Errorf("kind must be one of [websocket, http, openai], got '%s'", t.Kind)
	}
}

// Validate validates websocket configuration
func (w *WebSocketConfig) Validate() error {
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("websocket url must be a ws:// or wss:// URL, got '%s'", w.URL)
	}

	if w.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", w.HandshakeTimeout)
	}

	if w.PingInterval < 0 {
		return fmt.Errorf("ping_interval cannot be negative, got %d", w.PingInterval)
	}

	if w.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", w.QueueSize)
	}

	if w.ReconnectDelay < 1 {
		return fmt.Errorf("reconnect_delay must be at least 1 second, got %d", w.ReconnectDelay)
	}

	if w.ReconnectMaxDelay < w.ReconnectDelay {
		return fmt.Errorf("reconnect_max_delay must be at least reconnect_delay (%d), got %d", w.ReconnectDelay, w.ReconnectMaxDelay)
	}

	return nil
}

// Validate validates HTTP transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[t.OutputFormat] {
		return fmt.Errorf("output_format must be 'json' or 'text', got '%s'", t.OutputFormat)
	}

	return nil
}

// Validate validates OpenAI transcription configuration
func (o *OpenAIConfig) Validate() error {
	if o.APIKey == "" && o.BaseURL == "" {
		return fmt.Errorf("api_key cannot be empty for the public API")
	}

	if o.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if o.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", o.Timeout)
	}

	if o.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", o.MaxConcurrent)
	}

	return nil
}

// Validate validates status query configuration
func (s *StatusConfig) Validate() error {
	if s.URL == "" {
		return nil
	}

	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("url must be an http:// or https:// URL, got '%s'", s.URL)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
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

// Validate validates archive configuration
func (a *ArchiveConfig) Validate() error {
	if a.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	if a.RetentionDays < 0 {
		return fmt.Errorf("retention_days cannot be negative, got %d", a.RetentionDays)
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

	// Anything other than stdout or stderr is a file path
	return nil
}

// GetChunkDuration returns the chunk duration as a time.Duration
func (c *ChunkingConfig) GetChunkDuration() time.Duration {
	return time.Duration(c.Duration * float64(time.Second))
}

// GetTickInterval returns the chunk timer interval, defaulting to the chunk duration
func (c *ChunkingConfig) GetTickInterval() time.Duration {
	if c.TickInterval <= 0 {
		return c.GetChunkDuration()
	}
	return time.Duration(c.TickInterval * float64(time.Second))
}

// GetDispatchTimeout returns the dispatch timeout as a time.Duration
func (t *TransportConfig) GetDispatchTimeout() time.Duration {
	return time.Duration(t.DispatchTimeout) * time.Second
}

// GetHandshakeTimeout returns the websocket handshake timeout as a time.Duration
func (w *WebSocketConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(w.HandshakeTimeout) * time.Second
}

// GetReconnectDelay returns the first reconnect wait as a time.Duration
func (w *WebSocketConfig) GetReconnectDelay() time.Duration {
	return time.Duration(w.ReconnectDelay) * time.Second
}

// GetReconnectMaxDelay returns the reconnect backoff cap as a time.Duration
func (w *WebSocketConfig) GetReconnectMaxDelay() time.Duration {
	return time.Duration(w.ReconnectMaxDelay) * time.Second
}

// GetPingInterval returns the websocket keepalive interval as a time.Duration
func (w *WebSocketConfig) GetPingInterval() time.Duration {
	return time.Duration(w.PingInterval) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the OpenAI request timeout as a time.Duration
func (o *OpenAIConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(o.Timeout) * time.Second
}

// GetTimeoutDuration returns the status query timeout as a time.Duration
func (s *StatusConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetRetention returns how long saved transcripts are kept, 0 for forever
func (a *ArchiveConfig) GetRetention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}
