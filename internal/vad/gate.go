package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// DefaultThreshold is the RMS level below which a chunk is treated as silence
const DefaultThreshold = 0.01

// Gate suppresses chunks whose RMS energy falls below a threshold
type Gate struct {
	threshold float64
	enabled   bool

	// Statistics
	evaluated     uint64
	passed        uint64
	suppressed    uint64
	lastLevel     float64
	lastEvaluated time.Time

	mu sync.RWMutex
}

// GateStats represents silence gate statistics
type GateStats struct {
	Enabled       bool      `json:"enabled"`
	Threshold     float64   `json:"threshold"`
	Evaluated     uint64    `json:"evaluated"`
	Passed        uint64    `json:"passed"`
	Suppressed    uint64    `json:"suppressed"`
	LastLevel     float64   `json:"last_level"`
	LastEvaluated time.Time `json:"last_evaluated"`
}

// NewGate creates an enabled silence gate
func NewGate(threshold float64) (*Gate, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	return &Gate{
		threshold: threshold,
		enabled:   true,
	}, nil
}

// RMS returns the root-mean-square energy of samples, 0 for an empty slice
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return math.Sqrt(energy / float64(len(samples)))
}

// Passes reports whether a chunk should be forwarded.
// Empty chunks never pass; a disabled gate passes every non-empty chunk.
func (g *Gate) Passes(samples []float32) bool {
	level := RMS(samples)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.evaluated++
	g.lastLevel = level
	g.lastEvaluated = time.Now()

	ok := len(samples) > 0 && (!g.enabled || level >= g.threshold)
	if ok {
		g.passed++
	} else {
		g.suppressed++
	}
	return ok
}

// SetEnabled turns the energy check on or off
func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
}

// Enabled returns whether the energy check is active
func (g *Gate) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

// UpdateThreshold updates the silence threshold
func (g *Gate) UpdateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.threshold = threshold
	return nil
}

// GetThreshold returns the current silence threshold
func (g *Gate) GetThreshold() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.threshold
}

// GetStats returns current gate statistics
func (g *Gate) GetStats() GateStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return GateStats{
		Enabled:       g.enabled,
		Threshold:     g.threshold,
		Evaluated:     g.evaluated,
		Passed:        g.passed,
		Suppressed:    g.suppressed,
		LastLevel:     g.lastLevel,
		LastEvaluated: g.lastEvaluated,
	}
}

// Reset clears the gate statistics
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.evaluated = 0
	g.passed = 0
	g.suppressed = 0
	g.lastLevel = 0
	g.lastEvaluated = time.Time{}
}
