package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/skypro1111/livescribe/internal/audio"
	"github.com/skypro1111/livescribe/internal/capture"
	"github.com/skypro1111/livescribe/internal/vad"
)

// Strategy selects how a session produces chunk payloads
type Strategy int

const (
	// ManualPcmCapture accumulates raw PCM frames and encodes WAV chunks locally
	ManualPcmCapture Strategy = iota
	// NativeContainerCapture forwards pre-encoded container blobs untouched
	NativeContainerCapture
)

func (s Strategy) String() string {
	switch s {
	case ManualPcmCapture:
		return "manual_pcm"
	case NativeContainerCapture:
		return "native_container"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses a strategy name as used in configuration files
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual_pcm", "pcm", "":
		return ManualPcmCapture, nil
	case "native_container", "container":
		return NativeContainerCapture, nil
	default:
		return 0, fmt.Errorf("unknown capture strategy %q", s)
	}
}

// Config contains configuration for a streaming session
type Config struct {
	Strategy      Strategy
	Params        capture.Params
	ChunkDuration time.Duration
	Policy        audio.Policy
	// TickInterval drives TimerDriven emission; defaults to ChunkDuration
	TickInterval time.Duration

	GateEnabled   bool
	GateThreshold float64

	// RequireModel makes Start fail until the service reports a loaded model
	RequireModel    bool
	DispatchTimeout time.Duration
	// FrameQueue is the number of frames buffered between the capture callback and the session
	FrameQueue int
}

// DefaultConfig returns 3 second fixed-duration chunks with the silence gate on
func DefaultConfig() Config {
	return Config{
		Strategy:        ManualPcmCapture,
		Params:          capture.DefaultParams(),
		ChunkDuration:   3 * time.Second,
		Policy:          audio.FixedDuration,
		GateEnabled:     true,
		GateThreshold:   vad.DefaultThreshold,
		DispatchTimeout: 5 * time.Second,
		FrameQueue:      64,
	}
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = c.ChunkDuration
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 5 * time.Second
	}
	if c.FrameQueue <= 0 {
		c.FrameQueue = 64
	}
}

// Validate checks the session configuration
func (c Config) Validate() error {
	if c.Strategy != ManualPcmCapture && c.Strategy != NativeContainerCapture {
		return fmt.Errorf("invalid strategy: %d", int(c.Strategy))
	}
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("invalid capture params: %w", err)
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk duration must be positive, got %v", c.ChunkDuration)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("tick interval must not be negative, got %v", c.TickInterval)
	}
	if c.GateThreshold < 0 || c.GateThreshold > 1 {
		return fmt.Errorf("gate threshold must be between 0 and 1, got %f", c.GateThreshold)
	}
	return nil
}
