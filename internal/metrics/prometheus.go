package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livescribe"

// Metrics contains all Prometheus metrics for the live transcription client
type Metrics struct {
	registry *prometheus.Registry

	// Capture metrics
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter
	DeviceErrors   prometheus.Counter

	// Session metrics
	CaptureActive   prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionDuration prometheus.Histogram

	// Chunk pipeline metrics
	ChunksEmitted    *prometheus.CounterVec
	ChunksSuppressed prometheus.Counter
	ChunkDuration    prometheus.Histogram
	ChunkSize        prometheus.Histogram
	ChunkLevel       prometheus.Histogram

	// Transport metrics
	DispatchAttempts prometheus.Counter
	DispatchFailures prometheus.Counter
	AcksReceived     prometheus.Counter
	ProtocolErrors   prometheus.Counter
	RemoteErrors     prometheus.Counter

	// Transcript metrics
	SegmentsReceived prometheus.Counter
	TranscriptWords  prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg)
	m.registry = reg
	return m
}

// NewMetricsWithRuntime also registers the Go runtime and process collectors
func NewMetricsWithRuntime() *Metrics {
	m := NewMetrics()
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of PCM frames delivered by the capture source",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of PCM frames dropped because the frame queue was full",
		}),
		DeviceErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Total number of capture device failures",
		}),

		// Session metrics
		CaptureActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_active",
			Help:      "Whether a session is currently capturing (1) or idle (0)",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of capture sessions started",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_stopped_total",
			Help:      "Total number of capture sessions stopped",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of capture sessions in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Chunk pipeline metrics
		ChunksEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_emitted_total",
			Help:      "Total number of chunks encoded and dispatched",
		}, []string{"final"}),
		ChunksSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_suppressed_total",
			Help:      "Total number of chunks suppressed by the silence gate",
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Duration of emitted audio chunks",
			Buckets:   prometheus.LinearBuckets(0.5, 0.5, 12), // 0.5s to 6s
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_size_bytes",
			Help:      "Size of encoded audio chunks in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		ChunkLevel: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_rms_level",
			Help:      "RMS energy of chunks evaluated by the silence gate",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),

		// Transport metrics
		DispatchAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Total number of chunks handed to the transport",
		}),
		DispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Total number of chunks lost to transport errors",
		}),
		AcksReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_received_total",
			Help:      "Total number of chunk receipt acknowledgements",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total number of malformed inbound messages",
		}),
		RemoteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_errors_total",
			Help:      "Total number of error events reported by the transcription service",
		}),

		// Transcript metrics
		SegmentsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_received_total",
			Help:      "Total number of transcript segments received",
		}),
		TranscriptWords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcript_words",
			Help:      "Current number of words in the transcript",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler returns the /metrics handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordFrame increments the frames received counter
func (m *Metrics) RecordFrame() {
	m.FramesReceived.Inc()
}

// RecordFrameDropped increments the frames dropped counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordDeviceError increments the device errors counter
func (m *Metrics) RecordDeviceError() {
	m.DeviceErrors.Inc()
}

// RecordSessionStarted marks capture as active
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.CaptureActive.Set(1)
}

// RecordSessionStopped marks capture as idle and records its duration
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	m.SessionsStopped.Inc()
	m.SessionDuration.Observe(durationSeconds)
	m.CaptureActive.Set(0)
}

// RecordGateLevel records the RMS level of an evaluated chunk
func (m *Metrics) RecordGateLevel(level float64, passed bool) {
	m.ChunkLevel.Observe(level)
	if !passed {
		m.ChunksSuppressed.Inc()
	}
}

// RecordChunkEmitted records an encoded chunk
func (m *Metrics) RecordChunkEmitted(durationSeconds float64, sizeBytes int, final bool) {
	label := "false"
	if final {
		label = "true"
	}
	m.ChunksEmitted.WithLabelValues(label).Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordDispatch increments the dispatch attempts counter
func (m *Metrics) RecordDispatch() {
	m.DispatchAttempts.Inc()
}

// RecordDispatchFailure increments the dispatch failures counter
func (m *Metrics) RecordDispatchFailure() {
	m.DispatchFailures.Inc()
}

// RecordAck increments the acknowledgements counter
func (m *Metrics) RecordAck() {
	m.AcksReceived.Inc()
}

// RecordProtocolError increments the protocol errors counter
func (m *Metrics) RecordProtocolError() {
	m.ProtocolErrors.Inc()
}

// RecordRemoteError increments the remote errors counter
func (m *Metrics) RecordRemoteError() {
	m.RemoteErrors.Inc()
}

// RecordSegment records a received segment and the transcript's new word count
func (m *Metrics) RecordSegment(totalWords int) {
	m.SegmentsReceived.Inc()
	m.TranscriptWords.Set(float64(totalWords))
}

// SetTranscriptWords sets the current transcript word count
func (m *Metrics) SetTranscriptWords(count int) {
	m.TranscriptWords.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
