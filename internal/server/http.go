package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/skypro1111/livescribe/internal/archive"
	"github.com/skypro1111/livescribe/internal/capture"
	"github.com/skypro1111/livescribe/internal/config"
	"github.com/skypro1111/livescribe/internal/metrics"
	"github.com/skypro1111/livescribe/internal/notify"
	"github.com/skypro1111/livescribe/internal/session"
	"github.com/skypro1111/livescribe/internal/transcription"
)

const (
	serviceName    = "livescribe"
	serviceVersion = "1.0.0"

	// maxUploadBytes bounds uploaded recordings
	maxUploadBytes = 100 << 20
)

// StatusQuerier reports transcription service readiness
type StatusQuerier interface {
	Status(ctx context.Context) (*transcription.ServiceStatus, error)
}

// Dependencies are the components the API drives.
// Store, Status and Notifier may be nil.
type Dependencies struct {
	Session   *session.Session
	NewSource func() (capture.Source, error)
	Writer    *archive.Writer
	Store     *archive.Store
	Status    StatusQuerier
	Notifier  *notify.Notifier
	Metrics   *metrics.Metrics
}

// HTTPServer provides the local control and monitoring API
type HTTPServer struct {
	server  *http.Server
	router  *mux.Router
	logger  *slog.Logger
	config  *config.Config
	deps    Dependencies
	metrics *metrics.Metrics

	// baseCtx outlives individual requests; capture runs started over HTTP use it
	baseCtx context.Context

	// Server state
	startTime time.Time
	mu        sync.Mutex
}

// NewHTTPServer creates a new HTTP API server. Capture runs started through
// the API are bound to ctx.
func NewHTTPServer(ctx context.Context, cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, deps Dependencies) *HTTPServer {

	m := deps.Metrics
	if m == nil {
		m = metrics.NewMetrics()
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		deps:      deps,
		metrics:   m,
		baseCtx:   ctx,
		startTime: time.Now(),
	}

	h.router = mux.NewRouter()
	h.setupRoutes(h.router)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)
	r.HandleFunc("/status", h.withMetrics("/status", h.handleStatus)).Methods(http.MethodGet)
	r.HandleFunc("/config", h.withMetrics("/config", h.handleConfig)).Methods(http.MethodGet)

	// Session control
	r.HandleFunc("/session/start", h.withMetrics("/session/start", h.handleSessionStart)).Methods(http.MethodPost)
	r.HandleFunc("/session/stop", h.withMetrics("/session/stop", h.handleSessionStop)).Methods(http.MethodPost)
	r.HandleFunc("/upload", h.withMetrics("/upload", h.handleUpload)).Methods(http.MethodPost)

	// Transcript
	r.HandleFunc("/transcript", h.withMetrics("/transcript", h.handleTranscript)).Methods(http.MethodGet)
	r.HandleFunc("/transcript/segments", h.withMetrics("/transcript/segments", h.handleSegments)).Methods(http.MethodGet)
	r.HandleFunc("/transcript/clear", h.withMetrics("/transcript/clear", h.handleClear)).Methods(http.MethodPost)
	r.HandleFunc("/transcript/save", h.withMetrics("/transcript/save", h.handleSave)).Methods(http.MethodPost)

	// Archived transcripts
	r.HandleFunc("/transcripts", h.withMetrics("/transcripts", h.handleArchiveList)).Methods(http.MethodGet)
	r.HandleFunc("/transcripts/{id}", h.withMetrics("/transcripts/{id}", h.handleArchiveGet)).Methods(http.MethodGet)
	r.HandleFunc("/transcripts/{id}", h.withMetrics("/transcripts/{id}", h.handleArchiveDelete)).Methods(http.MethodDelete)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)

	// Root endpoint with API documentation
	r.HandleFunc("/", h.withMetrics("/", h.handleRoot)).Methods(http.MethodGet)
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": message,
	})
}

// sessionErrorStatus maps session errors to HTTP status codes
func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyCapturing):
		return http.StatusConflict
	case errors.Is(err, session.ErrModelNotReady), errors.Is(err, session.ErrNoDispatcher):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrWrongStrategy):
		return http.StatusBadRequest
	case capture.IsDeviceError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.deps.Session.Stats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"session": map[string]interface{}{
				"state":       stats.State,
				"model_ready": stats.ModelReady,
			},
			"transport": map[string]interface{}{
				"chunks_dispatched": stats.ChunksDispatched,
				"dispatch_failures": stats.DispatchFailures,
				"remote_errors":     stats.RemoteErrors,
			},
			"archive": map[string]interface{}{
				"dir":   h.deps.Writer.Dir(),
				"store": h.deps.Store != nil,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ready, modelSize := h.deps.Session.Ready()

	response := map[string]interface{}{
		"session":     h.deps.Session.Stats(),
		"model_ready": ready,
		"model_size":  modelSize,
		"timestamp":   time.Now().UTC(),
	}

	if h.deps.Status != nil {
		status, err := h.deps.Status.Status(r.Context())
		if err != nil {
			h.logger.Warn("Service status query failed", slog.String("error", err.Error()))
			response["service_error"] = err.Error()
		} else {
			response["service"] = status
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config

	// Return sanitized configuration (API keys are omitted)
	sanitizedConfig := map[string]interface{}{
		"capture": map[string]interface{}{
			"source":      c.Capture.Source,
			"strategy":    c.Capture.Strategy,
			"file":        c.Capture.File,
			"realtime":    c.Capture.Realtime,
			"sample_rate": c.Capture.SampleRate,
			"frame_size":  c.Capture.FrameSize,
			"frame_queue": c.Capture.FrameQueue,
		},
		"chunking": map[string]interface{}{
			"policy":        c.Chunking.Policy,
			"duration":      c.Chunking.Duration,
			"tick_interval": c.Chunking.GetTickInterval().Seconds(),
		},
		"gate": map[string]interface{}{
			"enabled":   c.Gate.Enabled,
			"threshold": c.Gate.Threshold,
		},
		"transport": map[string]interface{}{
			"kind":             c.Transport.Kind,
			"require_model":    c.Transport.RequireModel,
			"dispatch_timeout": c.Transport.DispatchTimeout,
			"websocket_url":    c.Transport.WebSocket.URL,
			"http_endpoint":    c.Transport.HTTP.Endpoint,
			"openai_base_url":  c.Transport.OpenAI.BaseURL,
			"openai_model":     c.Transport.OpenAI.Model,
		},
		"archive": map[string]interface{}{
			"dir":            c.Archive.Dir,
			"store_path":     c.Archive.StorePath,
			"retention_days": c.Archive.RetentionDays,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleSessionStart implements POST /session/start
func (h *HTTPServer) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.deps.Session
	if sess.Strategy() != session.ManualPcmCapture {
		writeError(w, http.StatusBadRequest, "native container capture is driven by /upload")
		return
	}
	if h.deps.NewSource == nil {
		writeError(w, http.StatusNotImplemented, "no capture source configured")
		return
	}

	source, err := h.deps.NewSource()
	if err != nil {
		h.logger.Error("Failed to create capture source", slog.String("error", err.Error()))
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}

	if err := sess.Start(h.baseCtx, source); err != nil {
		h.logger.Warn("Session start rejected", slog.String("error", err.Error()))
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess.Stats())
}

// handleSessionStop implements POST /session/stop
func (h *HTTPServer) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.deps.Session.Stop(); err != nil {
		h.logger.Warn("Session stop reported an error", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, h.deps.Session.Stats())
}

// handleUpload implements POST /upload. WAV uploads are replayed through the
// PCM pipeline; under native container capture any recording is passed through.
func (h *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.deps.Session
	logger := h.logger.With(slog.String("file", header.Filename), slog.Int("bytes", len(data)))

	if sess.Strategy() == session.NativeContainerCapture {
		blob := capture.NewBlob(header.Filename, data)
		if err := sess.SubmitBlob(h.baseCtx, blob); err != nil {
			logger.Warn("Upload dispatch failed", slog.String("error", err.Error()))
			writeError(w, sessionErrorStatus(err), err.Error())
			return
		}

		logger.Info("Upload submitted", slog.String("mime_type", blob.MimeType))
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status":    "submitted",
			"file":      header.Filename,
			"mime_type": blob.MimeType,
			"duration":  blob.Duration,
		})
		return
	}

	source := capture.NewFileSourceFromBytes(header.Filename, data, capture.WithFileLogger(h.logger))
	if err := sess.Start(h.baseCtx, source); err != nil {
		status := sessionErrorStatus(err)
		if capture.IsDeviceError(err) {
			// the upload itself could not be decoded
			status = http.StatusBadRequest
		}
		logger.Warn("Upload rejected", slog.String("error", err.Error()))
		writeError(w, status, err.Error())
		return
	}

	logger.Info("Upload replay started")
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "capturing",
		"file":    header.Filename,
		"session": sess.Stats(),
	})
}

// handleTranscript implements GET /transcript
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, h.deps.Session.Transcript().ExportText())
}

// handleSegments implements GET /transcript/segments
func (h *HTTPServer) handleSegments(w http.ResponseWriter, r *http.Request) {
	t := h.deps.Session.Transcript()
	segments := t.Segments()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": h.deps.Session.ID(),
		"segments":   segments,
		"count":      len(segments),
		"word_count": t.WordCount(),
	})
}

// handleClear implements POST /transcript/clear
func (h *HTTPServer) handleClear(w http.ResponseWriter, r *http.Request) {
	h.deps.Session.ClearTranscript()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": true,
	})
}

// handleSave implements POST /transcript/save
func (h *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request) {
	t := h.deps.Session.Transcript()
	if t.Len() == 0 {
		writeError(w, http.StatusBadRequest, "No transcript to save")
		return
	}

	result, err := h.deps.Writer.Save(t.ExportText())
	if err != nil {
		h.logger.Error("Failed to save transcript", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := map[string]interface{}{
		"success":  true,
		"filename": result.Filename,
		"path":     result.Path,
	}

	if h.deps.Store != nil {
		rec := archive.NewRecord(h.deps.Session.ID(), t)
		if err := h.deps.Store.Put(rec); err != nil {
			h.logger.Error("Failed to archive transcript", slog.String("error", err.Error()))
			response["archive_error"] = err.Error()
		} else {
			response["archive_id"] = rec.ID
		}
	}

	if h.deps.Notifier != nil {
		h.deps.Notifier.Saved(result.Path)
	}

	h.logger.Info("Transcript saved",
		slog.String("path", result.Path),
		slog.Int("word_count", t.WordCount()),
	)

	writeJSON(w, http.StatusOK, response)
}

// handleArchiveList implements GET /transcripts
func (h *HTTPServer) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusNotImplemented, "transcript archive not configured")
		return
	}

	records, err := h.deps.Store.List()
	if err != nil {
		h.logger.Error("Failed to list archive", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	summaries := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, map[string]interface{}{
			"id":         rec.ID,
			"session_id": rec.SessionID,
			"saved_at":   rec.SavedAt,
			"word_count": rec.WordCount,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transcripts": summaries,
		"count":       len(summaries),
	})
}

// handleArchiveGet implements GET /transcripts/{id}
func (h *HTTPServer) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusNotImplemented, "transcript archive not configured")
		return
	}

	id := mux.Vars(r)["id"]
	rec, err := h.deps.Store.Get(id)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Transcript not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleArchiveDelete implements DELETE /transcripts/{id}
func (h *HTTPServer) handleArchiveDelete(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusNotImplemented, "transcript archive not configured")
		return
	}

	id := mux.Vars(r)["id"]
	if _, err := h.deps.Store.Get(id); err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Transcript not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := h.deps.Store.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": id,
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Livescribe live transcription client",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                    "API documentation",
			"GET /health":              "Client health check",
			"GET /status":              "Session statistics and model readiness",
			"GET /config":              "Client configuration without secrets",
			"POST /session/start":      "Start capturing from the configured source",
			"POST /session/stop":       "Stop capturing and flush the final chunk",
			"POST /upload":             "Transcribe an uploaded recording (multipart field 'file')",
			"GET /transcript":          "Transcript as plain text",
			"GET /transcript/segments": "Transcript segments with word count",
			"POST /transcript/clear":   "Clear the transcript",
			"POST /transcript/save":    "Save the transcript to a text file",
			"GET /transcripts":         "List archived transcripts",
			"GET /transcripts/{id}":    "Get an archived transcript",
			"DELETE /transcripts/{id}": "Delete an archived transcript",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
