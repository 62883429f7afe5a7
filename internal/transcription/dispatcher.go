package transcription

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/livescribe/internal/envelope"
	"github.com/skypro1111/livescribe/internal/transcript"
	"github.com/skypro1111/livescribe/internal/transport"
)

// transcribeFunc performs one request for one chunk
type transcribeFunc func(ctx context.Context, msg envelope.Message, audio []byte) (transcript.Segment, error)

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	EmptyResults    uint64        `json:"empty_results"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// asyncDispatcher runs each chunk request on its own goroutine, bounded by a
// semaphore. Requests are never retried; a failed chunk is reported and lost.
type asyncDispatcher struct {
	name       string
	timeout    time.Duration
	semaphore  chan struct{}
	handler    transport.Handler
	logger     *slog.Logger
	transcribe transcribeFunc

	// closeMu orders wg.Add in Dispatch against wg.Wait in Close
	closeMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	emptyResults    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

func newAsyncDispatcher(name string, timeout time.Duration, maxConcurrent int, h transport.Handler, logger *slog.Logger, fn transcribeFunc) *asyncDispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &asyncDispatcher{
		name:       name,
		timeout:    timeout,
		semaphore:  make(chan struct{}, maxConcurrent),
		handler:    h,
		logger:     logger.With(slog.String("component", name)),
		transcribe: fn,
	}
}

// Dispatch starts the request in the background and returns immediately
func (d *asyncDispatcher) Dispatch(ctx context.Context, msg envelope.Message) error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return &transport.TransportError{Op: "dispatch", Err: transport.ErrClosed}
	}
	d.wg.Add(1)
	d.closeMu.Unlock()

	audio, err := msg.Bytes()
	if err != nil {
		d.wg.Done()
		return &transport.TransportError{Op: "dispatch", Err: err}
	}

	// the request outlives the caller's context; stopping a session must not abort its final chunk
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)

	go func() {
		defer d.wg.Done()
		defer cancel()
		d.run(reqCtx, msg, audio)
	}()

	return nil
}

func (d *asyncDispatcher) run(ctx context.Context, msg envelope.Message, audio []byte) {
	select {
	case d.semaphore <- struct{}{}:
		defer func() { <-d.semaphore }()
	case <-ctx.Done():
		d.fail(&transport.TransportError{Op: "queue", Err: ctx.Err()})
		return
	}

	startTime := time.Now()
	d.incrementTotalRequests()

	seg, err := d.transcribe(ctx, msg, audio)
	if err != nil {
		d.fail(&transport.TransportError{Op: d.name, Err: err})
		return
	}

	d.recordSuccess(time.Since(startTime), seg.Text == "")

	d.logger.Debug("Chunk transcribed",
		slog.Float64("duration_sec", msg.Duration),
		slog.Int("text_len", len(seg.Text)),
		slog.Duration("response_time", time.Since(startTime)))

	if strings.TrimSpace(seg.Text) == "" {
		return
	}
	d.handler.OnSegment(seg)
}

func (d *asyncDispatcher) fail(err error) {
	d.mu.Lock()
	d.failedRequests++
	d.mu.Unlock()

	d.logger.Error("Chunk transcription failed", slog.String("error", err.Error()))
	d.handler.OnError(err)
}

func (d *asyncDispatcher) incrementTotalRequests() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.totalRequests++
}

func (d *asyncDispatcher) recordSuccess(responseTime time.Duration, empty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.successRequests++
	if empty {
		d.emptyResults++
	}

	// Simple moving average
	if d.avgResponseTime == 0 {
		d.avgResponseTime = responseTime
	} else {
		d.avgResponseTime = (d.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (d *asyncDispatcher) GetStats() ClientStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	successRate := float64(0)
	if d.totalRequests > 0 {
		successRate = float64(d.successRequests) / float64(d.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   d.totalRequests,
		SuccessRequests: d.successRequests,
		FailedRequests:  d.failedRequests,
		EmptyResults:    d.emptyResults,
		SuccessRate:     successRate,
		AvgResponseTime: d.avgResponseTime,
		ActiveRequests:  len(d.semaphore),
	}
}

// Close rejects new chunks and waits for in-flight requests to finish
func (d *asyncDispatcher) Close() error {
	d.closeMu.Lock()
	d.closed = true
	d.closeMu.Unlock()

	d.wg.Wait()
	return nil
}
