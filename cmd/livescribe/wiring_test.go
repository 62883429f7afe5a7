package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/livescribe/internal/audio"
	"github.com/skypro1111/livescribe/internal/capture"
	"github.com/skypro1111/livescribe/internal/capture/portaudio"
	"github.com/skypro1111/livescribe/internal/config"
	"github.com/skypro1111/livescribe/internal/session"
	"github.com/skypro1111/livescribe/internal/transcription"
	"github.com/skypro1111/livescribe/internal/transport/wsclient"
)

func TestBuildSessionConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Chunking.Policy = "timer_driven"
	cfg.Chunking.Duration = 2
	cfg.Chunking.TickInterval = 0.5
	cfg.Transport.RequireModel = true

	sc, err := buildSessionConfig(cfg)
	if err != nil {
		t.Fatalf("buildSessionConfig failed: %v", err)
	}

	if sc.Strategy != session.ManualPcmCapture {
		t.Errorf("Expected manual PCM strategy, got %v", sc.Strategy)
	}
	if sc.Policy != audio.TimerDriven {
		t.Errorf("Expected timer driven policy, got %v", sc.Policy)
	}
	if sc.ChunkDuration != 2*time.Second || sc.TickInterval != 500*time.Millisecond {
		t.Errorf("Unexpected durations: %v %v", sc.ChunkDuration, sc.TickInterval)
	}
	if !sc.RequireModel || !sc.GateEnabled {
		t.Errorf("Unexpected flags: %+v", sc)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("Built config should validate: %v", err)
	}
}

func TestBuildSessionConfigRejectsUnknownStrategy(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.Strategy = "streaming"

	if _, err := buildSessionConfig(cfg); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

func TestNewDispatcherHTTP(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Kind = "http"
	cfg.Transport.HTTP.Endpoint = "http://localhost:9000/transcribe"

	sess := newTestSession(t)
	d, err := newDispatcher(context.Background(), cfg, sess, nil)
	if err != nil {
		t.Fatalf("newDispatcher failed: %v", err)
	}
	defer d.Close()

	if _, ok := d.(*transcription.Client); !ok {
		t.Errorf("Expected HTTP client, got %T", d)
	}
}

func TestNewDispatcherOpenAI(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Kind = "openai"
	cfg.Transport.OpenAI.APIKey = "sk-test"

	d, err := newDispatcher(context.Background(), cfg, newTestSession(t), nil)
	if err != nil {
		t.Fatalf("newDispatcher failed: %v", err)
	}
	defer d.Close()

	if _, ok := d.(*transcription.OpenAIDispatcher); !ok {
		t.Errorf("Expected OpenAI dispatcher, got %T", d)
	}
}

func TestNewDispatcherWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Transport.WebSocket.URL = "ws" + strings.TrimPrefix(srv.URL, "http")

	d, err := newDispatcher(context.Background(), cfg, newTestSession(t), nil)
	if err != nil {
		t.Fatalf("newDispatcher failed: %v", err)
	}
	defer d.Close()

	if _, ok := d.(*wsclient.Client); !ok {
		t.Errorf("Expected websocket client, got %T", d)
	}
}

func TestNewDispatcherUnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Kind = "grpc"

	if _, err := newDispatcher(context.Background(), cfg, newTestSession(t), nil); err == nil {
		t.Error("Expected error for unknown transport")
	}
}

func TestSourceFactory(t *testing.T) {
	cfg := config.Default()
	src, err := sourceFactory(cfg, nil)()
	if err != nil {
		t.Fatalf("Microphone source failed: %v", err)
	}
	if _, ok := src.(*portaudio.Source); !ok {
		t.Errorf("Expected microphone source, got %T", src)
	}

	cfg.Capture.Source = "file"
	cfg.Capture.File = filepath.Join(t.TempDir(), "missing.wav")
	if _, err := sourceFactory(cfg, nil)(); !capture.IsDeviceError(err) {
		t.Errorf("Expected device error for missing file, got %v", err)
	}
}

func TestInitLogger(t *testing.T) {
	logger := initLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug level enabled")
	}

	logger = initLogger(config.LoggingConfig{Level: "warn", Format: "text", Output: "stdout"})
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info level disabled at warn")
	}
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	sess, err := session.New(session.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return sess
}
