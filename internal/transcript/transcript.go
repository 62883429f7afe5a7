package transcript

import (
	"strings"
	"sync"
	"time"
)

// Segment is one unit of recognized text returned by the transcription service
type Segment struct {
	Text           string  `json:"text"`
	Timestamp      float64 `json:"timestamp"` // seconds since epoch, as reported by the service
	Language       string  `json:"language,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`
}

// Time converts the segment timestamp to a time.Time
func (s Segment) Time() time.Time {
	sec := int64(s.Timestamp)
	nsec := int64((s.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Transcript is an append-only log of segments in arrival order.
// Segments are never reordered by timestamp.
type Transcript struct {
	segments []Segment
	mu       sync.RWMutex
}

// New creates an empty transcript
func New() *Transcript {
	return &Transcript{}
}

// Append adds a segment to the end of the transcript
func (t *Transcript) Append(seg Segment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = append(t.segments, seg)
}

// WordCount returns the number of whitespace-delimited tokens across all segments
func (t *Transcript) WordCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, seg := range t.segments {
		count += len(strings.Fields(seg.Text))
	}
	return count
}

// ExportText joins all segment texts with a blank line, in append order
func (t *Transcript) ExportText() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	texts := make([]string, len(t.segments))
	for i, seg := range t.segments {
		texts[i] = seg.Text
	}
	return strings.Join(texts, "\n\n")
}

// Segments returns a copy of the segments
func (t *Transcript) Segments() []Segment {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Len returns the number of segments
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.segments)
}

// Clear removes all segments
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = nil
}
