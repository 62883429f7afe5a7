package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/livescribe/internal/audio"
	"github.com/skypro1111/livescribe/internal/capture"
	"github.com/skypro1111/livescribe/internal/envelope"
	"github.com/skypro1111/livescribe/internal/metrics"
	"github.com/skypro1111/livescribe/internal/transcript"
	"github.com/skypro1111/livescribe/internal/transport"
	"github.com/skypro1111/livescribe/internal/vad"
)

// State is the lifecycle state of a session
type State int32

const (
	Idle State = iota
	Capturing
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrModelNotReady is returned by Start when the service has not reported a loaded model
	ErrModelNotReady = errors.New("transcription model not ready")
	// ErrNoDispatcher is returned when no transport has been bound
	ErrNoDispatcher = errors.New("no transport bound to session")
	// ErrAlreadyCapturing is returned by Start outside the Idle state
	ErrAlreadyCapturing = errors.New("session already capturing")
	// ErrWrongStrategy is returned when an operation does not match the configured strategy
	ErrWrongStrategy = errors.New("operation not supported by capture strategy")
)

// ChunkReport describes one chunk that left the accumulator
type ChunkReport struct {
	Samples    int           `json:"samples"`
	Duration   time.Duration `json:"duration"`
	Bytes      int           `json:"bytes"`
	Level      float64       `json:"level"`
	Encoding   string        `json:"encoding"`
	Final      bool          `json:"final"`
	Suppressed bool          `json:"suppressed"`
}

// Events are optional subscriber callbacks. They are delivered in order on a
// dedicated goroutine, never on the capture goroutine.
type Events struct {
	OnChunkReady        func(ChunkReport)
	OnTranscriptSegment func(transcript.Segment)
	OnError             func(error)
	OnStateChange       func(State)
}

// Stats represents session statistics
type Stats struct {
	ID               string                 `json:"id"`
	State            string                 `json:"state"`
	Strategy         string                 `json:"strategy"`
	ModelReady       bool                   `json:"model_ready"`
	ModelSize        string                 `json:"model_size,omitempty"`
	StartedAt        time.Time              `json:"started_at"`
	CaptureDuration  float64                `json:"capture_duration_sec"`
	FramesReceived   uint64                 `json:"frames_received"`
	FramesDropped    uint64                 `json:"frames_dropped"`
	ChunksEmitted    uint64                 `json:"chunks_emitted"`
	ChunksSuppressed uint64                 `json:"chunks_suppressed"`
	ChunksDispatched uint64                 `json:"chunks_dispatched"`
	DispatchFailures uint64                 `json:"dispatch_failures"`
	SegmentsReceived uint64                 `json:"segments_received"`
	AcksReceived     uint64                 `json:"acks_received"`
	ProtocolErrors   uint64                 `json:"protocol_errors"`
	RemoteErrors     uint64                 `json:"remote_errors"`
	WordCount        int                    `json:"word_count"`
	Accumulator      audio.AccumulatorStats `json:"accumulator"`
	Gate             vad.GateStats          `json:"gate"`
}

type counters struct {
	framesReceived   atomic.Uint64
	framesDropped    atomic.Uint64
	chunksEmitted    atomic.Uint64
	chunksSuppressed atomic.Uint64
	chunksDispatched atomic.Uint64
	dispatchFailures atomic.Uint64
	segments         atomic.Uint64
	acks             atomic.Uint64
	protocolErrors   atomic.Uint64
	remoteErrors     atomic.Uint64
}

// TickerFunc creates a ticker channel and its stop function
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func defaultTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records session activity on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithEvents subscribes to session events
func WithEvents(e Events) Option {
	return func(s *Session) {
		s.events = e
	}
}

// WithTicker replaces the chunk timer
func WithTicker(f TickerFunc) Option {
	return func(s *Session) {
		if f != nil {
			s.newTicker = f
		}
	}
}

// run is one capture run between Start and Stop
type run struct {
	stream     capture.Stream
	frames     chan capture.Frame
	disconnect chan error
	stop       chan struct{}
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	startedAt  time.Time
}

// Session turns captured audio into dispatched chunks and collects the
// returned transcript segments
type Session struct {
	id        string
	config    Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	events    Events
	queue     *eventQueue
	newTicker TickerFunc

	acc        *audio.Accumulator
	gate       *vad.Gate
	transcript *transcript.Transcript

	stats counters

	// mu guards the fields below
	mu         sync.Mutex
	state      State
	dispatcher transport.Dispatcher
	ready      bool
	modelSize  string
	current    *run

	// stopMu serializes Stop
	stopMu sync.Mutex
}

// New creates an idle session
func New(config Config, opts ...Option) (*Session, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	acc, err := audio.NewAccumulator(audio.AccumulatorConfig{
		SampleRate:    config.Params.SampleRate,
		ChunkDuration: config.ChunkDuration,
		Policy:        config.Policy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create accumulator: %w", err)
	}

	gate, err := vad.NewGate(config.GateThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to create silence gate: %w", err)
	}
	gate.SetEnabled(config.GateEnabled)

	s := &Session{
		id:         uuid.NewString(),
		config:     config,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		queue:      newEventQueue(),
		newTicker:  defaultTicker,
		acc:        acc,
		gate:       gate,
		transcript: transcript.New(),
		state:      Idle,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics()
	}
	s.logger = s.logger.With(slog.String("session_id", s.id))

	return s, nil
}

// ID returns the local session identifier
func (s *Session) ID() string {
	return s.id
}

// Strategy returns the configured capture strategy
func (s *Session) Strategy() Strategy {
	return s.config.Strategy
}

// Bind attaches the transport chunks are dispatched to
func (s *Session) Bind(d transport.Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher = d
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the session transcript
func (s *Session) Transcript() *transcript.Transcript {
	return s.transcript
}

// ClearTranscript removes every segment from the transcript
func (s *Session) ClearTranscript() {
	s.transcript.Clear()
	s.metrics.SetTranscriptWords(0)
	s.logger.Info("Transcript cleared")
}

// MarkReady records that the service has a model loaded
func (s *Session) MarkReady(modelSize string) {
	s.mu.Lock()
	s.ready = true
	s.modelSize = modelSize
	s.mu.Unlock()

	s.logger.Info("Transcription model ready", slog.String("model_size", modelSize))
}

// Ready reports whether a model is loaded and its size
func (s *Session) Ready() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready, s.modelSize
}

// Start opens source and begins capturing. The run lasts until Stop, until
// the source disconnects, or until ctx is cancelled.
func (s *Session) Start(ctx context.Context, source capture.Source) error {
	if s.config.Strategy != ManualPcmCapture {
		return fmt.Errorf("start capture: %w", ErrWrongStrategy)
	}

	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrAlreadyCapturing
	}
	if s.dispatcher == nil {
		s.mu.Unlock()
		return ErrNoDispatcher
	}
	if s.config.RequireModel && !s.ready {
		s.mu.Unlock()
		return ErrModelNotReady
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		frames:     make(chan capture.Frame, s.config.FrameQueue),
		disconnect: make(chan error, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        runCtx,
		cancel:     cancel,
		startedAt:  time.Now(),
	}

	s.acc.Reset()
	stream, err := source.Open(s.config.Params, &frameHandler{session: s, run: r})
	if err != nil {
		s.mu.Unlock()
		cancel()
		if capture.IsDeviceError(err) {
			s.metrics.RecordDeviceError()
		}
		return fmt.Errorf("failed to open capture source: %w", err)
	}
	r.stream = stream

	s.current = r
	s.state = Capturing
	s.mu.Unlock()

	go s.captureLoop(r)

	s.metrics.RecordSessionStarted()
	s.logger.Info("Capture started",
		slog.Int("sample_rate", s.config.Params.SampleRate),
		slog.Int("frame_size", s.config.Params.FrameSize),
		slog.String("policy", s.config.Policy.String()),
		slog.Duration("chunk_duration", s.config.ChunkDuration),
		slog.Bool("gate_enabled", s.gate.Enabled()),
	)
	s.notifyState(Capturing)

	return nil
}

// Stop ends the current run: the source is closed, queued frames are drained,
// the final partial chunk is dispatched and the session returns to Idle.
// Stop is idempotent.
func (s *Session) Stop() error {
	return s.stopRun(nil)
}

// stopRun stops r, or the current run when r is nil
func (s *Session) stopRun(r *run) error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.mu.Lock()
	if s.state != Capturing || (r != nil && s.current != r) {
		s.mu.Unlock()
		return nil
	}
	r = s.current
	s.state = Stopping
	s.mu.Unlock()

	s.notifyState(Stopping)

	var closeErr error
	if err := r.stream.Close(); err != nil {
		closeErr = fmt.Errorf("failed to close capture source: %w", err)
		s.logger.Warn("Error closing capture source", slog.String("error", err.Error()))
	}

	close(r.stop)
	<-r.done
	r.cancel()

	s.mu.Lock()
	s.current = nil
	s.state = Idle
	s.mu.Unlock()

	duration := time.Since(r.startedAt)
	s.metrics.RecordSessionStopped(duration.Seconds())
	s.logger.Info("Capture stopped",
		slog.Duration("duration", duration),
		slog.Uint64("frames_received", s.stats.framesReceived.Load()),
		slog.Uint64("frames_dropped", s.stats.framesDropped.Load()),
		slog.Uint64("chunks_emitted", s.stats.chunksEmitted.Load()),
		slog.Uint64("chunks_suppressed", s.stats.chunksSuppressed.Load()),
	)
	s.notifyState(Idle)

	return closeErr
}

// captureLoop owns the accumulator for the lifetime of r
func (s *Session) captureLoop(r *run) {
	defer close(r.done)

	tick, stopTick := s.newTicker(s.config.TickInterval)
	defer stopTick()

	ctxDone := r.ctx.Done()
	stopping := false
	for {
		select {
		case <-r.stop:
			s.drainQueued(r)
			s.emitFinal(r.ctx)
			return

		case frame := <-r.frames:
			s.acc.Push(frame)
			if s.acc.Policy() == audio.FixedDuration {
				s.emitReady(r.ctx)
			}

		case <-tick:
			s.emitReady(r.ctx)

		case err := <-r.disconnect:
			s.handleDisconnect(err)
			if !stopping {
				stopping = true
				go s.stopRun(r)
			}

		case <-ctxDone:
			ctxDone = nil
			if !stopping {
				stopping = true
				s.logger.Info("Capture context done", slog.String("reason", r.ctx.Err().Error()))
				go s.stopRun(r)
			}
		}
	}
}

func (s *Session) drainQueued(r *run) {
	for {
		select {
		case frame := <-r.frames:
			s.acc.Push(frame)
			if s.acc.Policy() == audio.FixedDuration {
				s.emitReady(r.ctx)
			}
		default:
			return
		}
	}
}

func (s *Session) emitReady(ctx context.Context) {
	for s.acc.ShouldEmit() {
		s.emit(ctx, s.acc.Drain())
	}
}

func (s *Session) emitFinal(ctx context.Context) {
	final := s.acc.Flush()
	if final.Len() == 0 {
		s.logger.Debug("No buffered audio at stop, final chunk dropped")
		return
	}

	s.logger.Info("Final chunk generated on stop",
		slog.Float64("duration", final.Duration().Seconds()),
		slog.Int("samples", final.Len()),
	)
	s.emit(ctx, final)
}

// emit gates, encodes and dispatches a drained chunk. The final chunk bypasses the gate.
func (s *Session) emit(ctx context.Context, chunk audio.Chunk) {
	if chunk.Len() == 0 {
		return
	}

	report := ChunkReport{
		Samples:  chunk.Len(),
		Duration: chunk.Duration(),
		Level:    vad.RMS(chunk.Samples),
		Encoding: envelope.EncodingWAV,
		Final:    chunk.Final,
	}

	if !chunk.Final {
		passed := s.gate.Passes(chunk.Samples)
		s.metrics.RecordGateLevel(report.Level, passed)
		if !passed {
			s.stats.chunksSuppressed.Add(1)
			report.Suppressed = true
			s.logger.Debug("Silent chunk suppressed",
				slog.Float64("level", report.Level),
				slog.Float64("threshold", s.gate.GetThreshold()),
			)
			s.notifyChunk(report)
			return
		}
	}

	encoded := audio.EncodeWAV(chunk.Samples, chunk.SampleRate)
	report.Bytes = len(encoded)

	msg := envelope.Wrap(encoded, envelope.Metadata{
		Encoding:   envelope.EncodingWAV,
		Duration:   chunk.Duration().Seconds(),
		SampleRate: chunk.SampleRate,
	})

	s.stats.chunksEmitted.Add(1)
	s.metrics.RecordChunkEmitted(report.Duration.Seconds(), report.Bytes, report.Final)
	s.logger.Debug("Audio chunk generated",
		slog.Float64("duration", report.Duration.Seconds()),
		slog.Int("samples", report.Samples),
		slog.Int("bytes", report.Bytes),
		slog.Float64("level", report.Level),
		slog.Bool("final", report.Final),
	)
	s.notifyChunk(report)

	if err := s.dispatch(ctx, msg); err != nil {
		s.reportError(err)
	}
}

// dispatch hands msg to the bound transport. Failures are counted and never retried.
func (s *Session) dispatch(ctx context.Context, msg envelope.Message) error {
	s.mu.Lock()
	d := s.dispatcher
	s.mu.Unlock()

	if d == nil {
		s.stats.dispatchFailures.Add(1)
		s.metrics.RecordDispatchFailure()
		return ErrNoDispatcher
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.DispatchTimeout)
	defer cancel()

	s.metrics.RecordDispatch()
	if err := d.Dispatch(dctx, msg); err != nil {
		s.stats.dispatchFailures.Add(1)
		s.metrics.RecordDispatchFailure()
		if !transport.IsTransportError(err) {
			err = &transport.TransportError{Op: "dispatch", Err: err}
		}
		return err
	}

	s.stats.chunksDispatched.Add(1)
	return nil
}

// SubmitBlob dispatches a pre-encoded container recording as a single chunk
func (s *Session) SubmitBlob(ctx context.Context, blob capture.Blob) error {
	if s.config.Strategy != NativeContainerCapture {
		return fmt.Errorf("submit blob: %w", ErrWrongStrategy)
	}

	s.mu.Lock()
	bound := s.dispatcher != nil
	notReady := s.config.RequireModel && !s.ready
	s.mu.Unlock()

	if !bound {
		return ErrNoDispatcher
	}
	if notReady {
		return ErrModelNotReady
	}
	if blob.Empty() {
		s.logger.Debug("Empty blob dropped", slog.String("name", blob.Name))
		return nil
	}

	msg := envelope.Wrap(blob.Data, envelope.Metadata{
		Encoding: blob.MimeType,
		Duration: blob.Duration,
	})

	report := ChunkReport{
		Duration: time.Duration(blob.Duration * float64(time.Second)),
		Bytes:    len(blob.Data),
		Encoding: blob.MimeType,
		Final:    true,
	}

	s.stats.chunksEmitted.Add(1)
	s.metrics.RecordChunkEmitted(blob.Duration, len(blob.Data), true)
	s.logger.Info("Submitting recorded blob",
		slog.String("name", blob.Name),
		slog.String("mime_type", blob.MimeType),
		slog.Int("bytes", len(blob.Data)),
		slog.Float64("duration", blob.Duration),
	)
	s.notifyChunk(report)

	return s.dispatch(ctx, msg)
}

func (s *Session) handleDisconnect(err error) {
	if err == nil || errors.Is(err, io.EOF) {
		s.logger.Info("Capture source ended")
		return
	}

	if !capture.IsDeviceError(err) {
		err = &capture.DeviceError{Op: "capture", Err: err}
	}
	s.metrics.RecordDeviceError()
	s.logger.Error("Capture device lost", slog.String("error", err.Error()))
	s.notifyError(err)
}

// OnSegment appends a transcript segment in arrival order
func (s *Session) OnSegment(seg transcript.Segment) {
	if strings.TrimSpace(seg.Text) == "" {
		return
	}

	s.transcript.Append(seg)
	s.stats.segments.Add(1)
	s.metrics.RecordSegment(s.transcript.WordCount())

	s.logger.Debug("Transcript segment received",
		slog.Float64("timestamp", seg.Timestamp),
		slog.Int("text_length", len(seg.Text)),
		slog.String("language", seg.Language),
	)

	if f := s.events.OnTranscriptSegment; f != nil {
		s.queue.push(func() { f(seg) })
	}
}

// OnModelReady marks the session ready
func (s *Session) OnModelReady(modelSize string) {
	s.MarkReady(modelSize)
}

// OnAck counts a chunk receipt acknowledgement
func (s *Session) OnAck(timestamp float64) {
	s.stats.acks.Add(1)
	s.metrics.RecordAck()
}

// OnError receives asynchronous transport, protocol and remote errors
func (s *Session) OnError(err error) {
	var (
		pe *transport.ProtocolError
		re *transport.RemoteError
	)

	switch {
	case errors.As(err, &pe):
		s.stats.protocolErrors.Add(1)
		s.metrics.RecordProtocolError()
	case errors.As(err, &re):
		s.stats.remoteErrors.Add(1)
		s.metrics.RecordRemoteError()
	case transport.IsTransportError(err):
		s.stats.dispatchFailures.Add(1)
		s.metrics.RecordDispatchFailure()
	}

	s.reportError(err)
}

func (s *Session) reportError(err error) {
	s.logger.Warn("Session error", slog.String("error", err.Error()))
	s.notifyError(err)
}

func (s *Session) notifyError(err error) {
	if f := s.events.OnError; f != nil {
		s.queue.push(func() { f(err) })
	}
}

func (s *Session) notifyChunk(r ChunkReport) {
	if f := s.events.OnChunkReady; f != nil {
		s.queue.push(func() { f(r) })
	}
}

func (s *Session) notifyState(st State) {
	if f := s.events.OnStateChange; f != nil {
		s.queue.push(func() { f(st) })
	}
}

// Stats returns current session statistics
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		ID:         s.id,
		State:      s.state.String(),
		Strategy:   s.config.Strategy.String(),
		ModelReady: s.ready,
		ModelSize:  s.modelSize,
	}
	if s.current != nil {
		st.StartedAt = s.current.startedAt
		st.CaptureDuration = time.Since(s.current.startedAt).Seconds()
	}
	s.mu.Unlock()

	st.FramesReceived = s.stats.framesReceived.Load()
	st.FramesDropped = s.stats.framesDropped.Load()
	st.ChunksEmitted = s.stats.chunksEmitted.Load()
	st.ChunksSuppressed = s.stats.chunksSuppressed.Load()
	st.ChunksDispatched = s.stats.chunksDispatched.Load()
	st.DispatchFailures = s.stats.dispatchFailures.Load()
	st.SegmentsReceived = s.stats.segments.Load()
	st.AcksReceived = s.stats.acks.Load()
	st.ProtocolErrors = s.stats.protocolErrors.Load()
	st.RemoteErrors = s.stats.remoteErrors.Load()
	st.WordCount = s.transcript.WordCount()
	st.Accumulator = s.acc.GetStats()
	st.Gate = s.gate.GetStats()

	return st
}

// frameHandler bridges source callbacks into one run's channels.
// Neither callback blocks.
type frameHandler struct {
	session *Session
	run     *run
}

func (h *frameHandler) OnFrame(f capture.Frame) {
	select {
	case h.run.frames <- f:
		h.session.stats.framesReceived.Add(1)
		h.session.metrics.RecordFrame()
	default:
		h.session.stats.framesDropped.Add(1)
		h.session.metrics.RecordFrameDropped()
	}
}

func (h *frameHandler) OnDisconnect(err error) {
	select {
	case h.run.disconnect <- err:
	default:
	}
}
