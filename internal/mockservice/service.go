package mockservice

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/skypro1111/livescribe/internal/envelope"
	"github.com/skypro1111/livescribe/internal/transcription"
	"github.com/skypro1111/livescribe/internal/transport"
)

// maxChunkBytes bounds one uploaded or streamed chunk
const maxChunkBytes = 10 << 20

// Config configures the canned responses
type Config struct {
	Text      string        // returned for every chunk
	Language  string        // reported language
	ModelSize string        // reported model
	Latency   time.Duration // simulated processing time
}

// Service answers transcription requests with canned text
type Service struct {
	config   Config
	logger   *slog.Logger
	router   *mux.Router
	upgrader websocket.Upgrader

	chunks  atomic.Uint64
	clients atomic.Int64
}

// New creates a service
func New(config Config, logger *slog.Logger) *Service {
	if config.Text == "" {
		config.Text = "test transcription"
	}
	if config.Language == "" {
		config.Language = "en"
	}
	if config.ModelSize == "" {
		config.ModelSize = "base"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Service{
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/transcribe", s.handleTranscribe).Methods(http.MethodPost)
	s.router.HandleFunc("/ws", s.handleWebSocket)

	return s
}

// Handler returns the routed handler
func (s *Service) Handler() http.Handler {
	return s.router
}

// Chunks returns the number of chunks transcribed so far
func (s *Service) Chunks() uint64 {
	return s.chunks.Load()
}

// transcribe produces the canned result for one chunk
func (s *Service) transcribe(meta envelope.Metadata, audio []byte) transport.InboundMessage {
	start := time.Now()
	n := s.chunks.Add(1)

	if s.config.Latency > 0 {
		time.Sleep(s.config.Latency)
	}

	s.logger.Info("Chunk transcribed",
		slog.Uint64("chunk", n),
		slog.String("mime_type", meta.Encoding),
		slog.Float64("duration", meta.Duration),
		slog.Int("bytes", len(audio)),
	)

	return transport.InboundMessage{
		Type:           transport.TypeTranscription,
		Text:           fmt.Sprintf("%s %d", s.config.Text, n),
		Timestamp:      float64(time.Now().UnixNano()) / 1e9,
		Language:       s.config.Language,
		ProcessingTime: time.Since(start).Seconds(),
	}
}

// handleStatus implements GET /status
func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := transcription.ServiceStatus{
		ModelLoaded:     true,
		ModelSize:       s.config.ModelSize,
		AvailableModels: []string{s.config.ModelSize},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleTranscribe implements the stateless multipart endpoint
func (s *Service) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChunkBytes)
	if err := r.ParseMultipartForm(maxChunkBytes); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	meta := envelope.Metadata{Encoding: r.FormValue("mime_type")}
	if meta.Encoding == "" {
		meta.Encoding = envelope.EncodingFor(header.Filename)
	}
	meta.Duration, _ = strconv.ParseFloat(r.FormValue("duration"), 64)
	meta.SampleRate, _ = strconv.Atoi(r.FormValue("sample_rate"))

	result := s.transcribe(meta, audio)

	if r.FormValue("response_format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, result.Text)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transcription.TranscriptionResponse{
		Text:           result.Text,
		Timestamp:      result.Timestamp,
		Language:       result.Language,
		ProcessingTime: result.ProcessingTime,
	})
}

// handleWebSocket implements the streaming protocol. Every audio_blob is
// acknowledged and answered on the same connection.
func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxChunkBytes)

	clientID := uuid.NewString()
	logger := s.logger.With(slog.String("client_id", clientID))
	s.clients.Add(1)
	defer s.clients.Add(-1)

	logger.Info("Client connected", slog.Int64("clients", s.clients.Load()))

	greeting := []transport.InboundMessage{
		{Type: transport.TypeConnected, ClientID: clientID, ModelLoaded: true, ModelSize: s.config.ModelSize},
		{Type: transport.TypeModelLoaded, ModelSize: s.config.ModelSize},
	}
	for _, msg := range greeting {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logger.Info("Client disconnected", slog.String("reason", err.Error()))
			return
		}

		reply, ok := s.handleFrame(raw)
		if !ok {
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
			continue
		}

		ack := transport.InboundMessage{Type: transport.TypeAudioReceived, Timestamp: float64(time.Now().UnixNano()) / 1e9}
		if err := conn.WriteJSON(ack); err != nil {
			return
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

// handleFrame decodes one outbound frame. ok is false when reply is an error event.
func (s *Service) handleFrame(raw []byte) (reply transport.InboundMessage, ok bool) {
	var msg transport.OutboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errorEvent("Invalid message"), false
	}
	if msg.Type != transport.TypeAudioBlob {
		return errorEvent(fmt.Sprintf("Unsupported event %q", msg.Type)), false
	}

	audio, err := msg.Bytes()
	if err != nil || len(audio) == 0 {
		return errorEvent("Invalid audio payload"), false
	}

	return s.transcribe(msg.Metadata(), audio), true
}

func errorEvent(message string) transport.InboundMessage {
	return transport.InboundMessage{Type: transport.TypeError, Message: message}
}
