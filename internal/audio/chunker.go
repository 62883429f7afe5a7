package audio

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Policy selects when the accumulator reports a chunk boundary
type Policy int

const (
	// FixedDuration emits once SampleRate*ChunkDuration samples are buffered
	FixedDuration Policy = iota
	// TimerDriven emits whatever is buffered each time the external chunk timer fires
	TimerDriven
)

// String returns the configuration name of the policy
func (p Policy) String() string {
	switch p {
	case FixedDuration:
		return "fixed_duration"
	case TimerDriven:
		return "timer_driven"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses a policy name as used in configuration files
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed_duration", "fixed", "":
		return FixedDuration, nil
	case "timer_driven", "timer":
		return TimerDriven, nil
	default:
		return 0, fmt.Errorf("unknown chunk policy %q", s)
	}
}

// Chunk is a bounded span of captured audio prepared as one transcription request
type Chunk struct {
	Samples    []float32 `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Final      bool      `json:"final"` // drained by Flush on session stop
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// Len returns the number of samples in the chunk
func (c Chunk) Len() int {
	return len(c.Samples)
}

// Duration returns the audio duration represented by the chunk
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// AccumulatorConfig contains configuration for the chunk accumulator
type AccumulatorConfig struct {
	SampleRate    int
	ChunkDuration time.Duration
	Policy        Policy
}

// BoundarySamples returns the number of samples in a full chunk
func (c AccumulatorConfig) BoundarySamples() int {
	return int(int64(c.SampleRate) * int64(c.ChunkDuration) / int64(time.Second))
}

// AccumulatorStats represents accumulator statistics
type AccumulatorStats struct {
	Policy         string  `json:"policy"`
	ChunksDrained  uint64  `json:"chunks_drained"`
	SamplesPushed  uint64  `json:"samples_pushed"`
	BufferedNow    int     `json:"buffered_samples"`
	AvgChunkLength float64 `json:"avg_chunk_duration_sec"`
}

// Accumulator buffers PCM frames until the configured boundary policy fires
type Accumulator struct {
	config   AccumulatorConfig
	boundary int

	samples   []float32
	startedAt time.Time

	chunksDrained uint64
	samplesPushed uint64
	totalDrained  time.Duration

	mu sync.Mutex
}

// NewAccumulator creates a new chunk accumulator
func NewAccumulator(config AccumulatorConfig) (*Accumulator, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	boundary := config.BoundarySamples()
	if config.Policy == FixedDuration && boundary <= 0 {
		return nil, fmt.Errorf("chunk duration %v is too short for %d Hz", config.ChunkDuration, config.SampleRate)
	}

	return &Accumulator{
		config:   config,
		boundary: boundary,
		samples:  make([]float32, 0, max(boundary, 0)),
	}, nil
}

// Push appends a frame to the current chunk
func (a *Accumulator) Push(frame []float32) {
	if len(frame) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.samples) == 0 {
		a.startedAt = time.Now()
	}
	a.samples = append(a.samples, frame...)
	a.samplesPushed += uint64(len(frame))
}

// ShouldEmit reports whether the boundary policy has fired
func (a *Accumulator) ShouldEmit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.shouldEmit()
}

func (a *Accumulator) shouldEmit() bool {
	switch a.config.Policy {
	case TimerDriven:
		return len(a.samples) > 0
	default:
		return len(a.samples) >= a.boundary
	}
}

// Drain returns the accumulated chunk and resets the accumulator.
// Under FixedDuration exactly one boundary-sized chunk is returned and samples
// beyond the boundary stay buffered as the head of the next chunk.
func (a *Accumulator) Drain() Chunk {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.samples)
	if a.config.Policy == FixedDuration && n > a.boundary {
		n = a.boundary
	}
	return a.take(n, false)
}

// Flush unconditionally drains everything buffered, marking the chunk final
func (a *Accumulator) Flush() Chunk {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.take(len(a.samples), true)
}

// take must be called with mu held
func (a *Accumulator) take(n int, final bool) Chunk {
	now := time.Now()
	chunk := Chunk{
		SampleRate: a.config.SampleRate,
		Final:      final,
		StartedAt:  a.startedAt,
		EndedAt:    now,
	}

	if n == 0 {
		return chunk
	}

	chunk.Samples = make([]float32, n)
	copy(chunk.Samples, a.samples[:n])

	rest := len(a.samples) - n
	copy(a.samples, a.samples[n:])
	a.samples = a.samples[:rest]
	if rest > 0 {
		a.startedAt = now
	} else {
		a.startedAt = time.Time{}
	}

	a.chunksDrained++
	a.totalDrained += chunk.Duration()

	return chunk
}

// Reset discards any buffered audio
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples = a.samples[:0]
	a.startedAt = time.Time{}
}

// Buffered returns the number of samples waiting in the current chunk
func (a *Accumulator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

// Policy returns the configured boundary policy
func (a *Accumulator) Policy() Policy {
	return a.config.Policy
}

// GetStats returns current accumulator statistics
func (a *Accumulator) GetStats() AccumulatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	avg := float64(0)
	if a.chunksDrained > 0 {
		avg = a.totalDrained.Seconds() / float64(a.chunksDrained)
	}

	return AccumulatorStats{
		Policy:         a.config.Policy.String(),
		ChunksDrained:  a.chunksDrained,
		SamplesPushed:  a.samplesPushed,
		BufferedNow:    len(a.samples),
		AvgChunkLength: avg,
	}
}
