package mockservice

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/livescribe/internal/audio"
	"github.com/skypro1111/livescribe/internal/capture"
	"github.com/skypro1111/livescribe/internal/envelope"
	"github.com/skypro1111/livescribe/internal/session"
	"github.com/skypro1111/livescribe/internal/transcript"
	"github.com/skypro1111/livescribe/internal/transcription"
	"github.com/skypro1111/livescribe/internal/transport"
	"github.com/skypro1111/livescribe/internal/transport/wsclient"
)

type nopStream struct{}

func (nopStream) Close() error { return nil }

type pushSource struct {
	mu      sync.Mutex
	handler capture.Handler
}

func (s *pushSource) Open(p capture.Params, h capture.Handler) (capture.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
	return nopStream{}, nil
}

func (s *pushSource) push(samples []float32) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h.OnFrame(capture.Frame(samples))
}

type chanHandler struct {
	segments chan transcript.Segment
	errs     chan error
}

func (h *chanHandler) OnSegment(seg transcript.Segment) { h.segments <- seg }
func (h *chanHandler) OnModelReady(string)              {}
func (h *chanHandler) OnAck(float64)                    {}
func (h *chanHandler) OnError(err error)                { h.errs <- err }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func tone(n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.3
		} else {
			samples[i] = -0.3
		}
	}
	return samples
}

func TestStatusEndpoint(t *testing.T) {
	srv := httptest.NewServer(New(Config{ModelSize: "small"}, nil).Handler())
	defer srv.Close()

	status, err := transcription.NewStatusClient(srv.URL, time.Second).Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.ModelLoaded || status.ModelSize != "small" {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestTranscribeEndpoint(t *testing.T) {
	svc := New(Config{Text: "hello", Language: "uk"}, nil)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	h := &chanHandler{segments: make(chan transcript.Segment, 1), errs: make(chan error, 1)}
	client, err := transcription.NewClient(transcription.Config{Endpoint: srv.URL + "/transcribe", Timeout: 2 * time.Second}, h, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	msg := envelope.Wrap(audio.EncodeWAV(tone(1600), 16000), envelope.Metadata{
		Encoding:   envelope.EncodingWAV,
		Duration:   0.1,
		SampleRate: 16000,
	})
	if err := client.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	select {
	case seg := <-h.segments:
		if seg.Text != "hello 1" || seg.Language != "uk" {
			t.Errorf("Unexpected segment: %+v", seg)
		}
	case err := <-h.errs:
		t.Fatalf("Unexpected error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for segment")
	}
}

func TestStreamingSessionEndToEnd(t *testing.T) {
	svc := New(Config{Text: "streamed"}, nil)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	cfg := session.DefaultConfig()
	cfg.ChunkDuration = time.Second
	cfg.RequireModel = true

	sess, err := session.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	client, err := wsclient.Dial(context.Background(), wsclient.Config{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}, sess, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()
	sess.Bind(client)

	// The connected event marks the model ready
	waitFor(t, func() bool {
		ready, _ := sess.Ready()
		return ready
	})

	src := &pushSource{}
	if err := sess.Start(context.Background(), src); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.push(tone(16000))
	src.push(tone(8000))

	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// One full chunk plus the final partial chunk
	waitFor(t, func() bool { return sess.Transcript().Len() == 2 })

	if got := sess.Transcript().ExportText(); got != "streamed 1\n\nstreamed 2" {
		t.Errorf("Unexpected transcript %q", got)
	}

	waitFor(t, func() bool { return sess.Stats().AcksReceived == 2 })
	if svc.Chunks() != 2 {
		t.Errorf("Expected 2 chunks at the service, got %d", svc.Chunks())
	}
}

func TestWebSocketRejectsMalformedFrames(t *testing.T) {
	srv := httptest.NewServer(New(Config{}, nil).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// connected and model_loaded greeting
	for i := 0; i < 2; i++ {
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("Failed to read greeting: %v", err)
		}
	}

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{name: "not json", frame: "garbage", want: "Invalid message"},
		{name: "unknown event", frame: `{"type":"audio_data"}`, want: "Unsupported event"},
		{name: "bad base64", frame: `{"type":"audio_blob","audio":"!!","mimeType":"audio/wav"}`, want: "Invalid audio payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatalf("Write failed: %v", err)
			}

			var reply transport.InboundMessage
			if err := conn.ReadJSON(&reply); err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if reply.Type != transport.TypeError || !strings.Contains(reply.Message, tt.want) {
				t.Errorf("Expected error containing %q, got %+v", tt.want, reply)
			}
		})
	}
}
