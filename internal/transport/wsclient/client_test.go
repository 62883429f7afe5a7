package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/livescribe/internal/envelope"
	"github.com/skypro1111/livescribe/internal/transcript"
	"github.com/skypro1111/livescribe/internal/transport"
)

type chanHandler struct {
	segments chan transcript.Segment
	models   chan string
	acks     chan float64
	errs     chan error
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		segments: make(chan transcript.Segment, 16),
		models:   make(chan string, 16),
		acks:     make(chan float64, 16),
		errs:     make(chan error, 16),
	}
}

func (h *chanHandler) OnSegment(seg transcript.Segment) { h.segments <- seg }
func (h *chanHandler) OnModelReady(size string)         { h.models <- size }
func (h *chanHandler) OnAck(ts float64)                 { h.acks <- ts }
func (h *chanHandler) OnError(err error)                { h.errs <- err }

// connSet tracks accepted connections so a test can drop them
type connSet struct {
	mu    sync.Mutex
	conns []*websocket.Conn
}

func (s *connSet) add(c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns = append(s.conns, c)
}

func (s *connSet) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

// serviceHandler is a fake transcription service. Each audio_blob is
// acknowledged and answered with a transcription of its mime type.
func serviceHandler(received chan<- map[string]interface{}, conns *connSet) http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if conns != nil {
			conns.add(conn)
		}

		_ = conn.WriteJSON(map[string]interface{}{"type": "connected", "client_id": "c1", "model_loaded": true, "model_size": "base"})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var msg map[string]interface{}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if received != nil {
				received <- msg
			}

			if msg["mimeType"] == "bad" {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
				continue
			}

			_ = conn.WriteJSON(map[string]interface{}{"type": "audio_received", "timestamp": 100.5})
			_ = conn.WriteJSON(map[string]interface{}{
				"type":      "transcription",
				"text":      msg["mimeType"],
				"timestamp": 101.0,
				"language":  "en",
			})
		}
	})
}

func newServer(t *testing.T, received chan<- map[string]interface{}) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(serviceHandler(received, nil))
	t.Cleanup(srv.Close)
	return srv
}

func eventually(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", desc)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientRoundTrip(t *testing.T) {
	received := make(chan map[string]interface{}, 4)
	srv := newServer(t, received)
	h := newChanHandler()

	client, err := Dial(context.Background(), Config{URL: wsURL(srv)}, h, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	select {
	case size := <-h.models:
		if size != "base" {
			t.Errorf("Expected model size 'base', got %q", size)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for connected event")
	}

	msg := envelope.Wrap([]byte{1, 2, 3}, envelope.Metadata{Encoding: envelope.EncodingWAV, Duration: 3, SampleRate: 16000})
	if err := client.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	select {
	case got := <-received:
		if got["type"] != "audio_blob" {
			t.Errorf("Expected type audio_blob, got %v", got["type"])
		}
		if got["audio"] != "AQID" {
			t.Errorf("Expected audio AQID, got %v", got["audio"])
		}
		if got["sampleRate"] != 16000.0 {
			t.Errorf("Expected sampleRate 16000, got %v", got["sampleRate"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for server to receive chunk")
	}

	select {
	case ts := <-h.acks:
		if ts != 100.5 {
			t.Errorf("Expected ack timestamp 100.5, got %v", ts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for ack")
	}

	select {
	case seg := <-h.segments:
		if seg.Text != envelope.EncodingWAV || seg.Timestamp != 101 {
			t.Errorf("Unexpected segment: %+v", seg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for transcription")
	}

	stats := client.GetStats()
	if stats.Sent != 1 {
		t.Errorf("Expected 1 sent, got %d", stats.Sent)
	}
}

func TestClientPreservesDispatchOrder(t *testing.T) {
	received := make(chan map[string]interface{}, 8)
	srv := newServer(t, received)

	client, err := Dial(context.Background(), Config{URL: wsURL(srv)}, newChanHandler(), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	for _, d := range []float64{1, 2, 3, 4, 5} {
		if err := client.Dispatch(context.Background(), envelope.Wrap(nil, envelope.Metadata{Encoding: envelope.EncodingWAV, Duration: d})); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	}

	for _, want := range []float64{1, 2, 3, 4, 5} {
		select {
		case got := <-received:
			if got["duration"] != want {
				t.Errorf("Expected duration %v, got %v", want, got["duration"])
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for chunk")
		}
	}
}

func TestClientMalformedInbound(t *testing.T) {
	srv := newServer(t, nil)
	h := newChanHandler()

	client, err := Dial(context.Background(), Config{URL: wsURL(srv)}, h, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if err := client.Dispatch(context.Background(), envelope.Wrap(nil, envelope.Metadata{Encoding: "bad"})); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	select {
	case err := <-h.errs:
		if !transport.IsProtocolError(err) {
			t.Errorf("Expected ProtocolError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for protocol error")
	}

	// the connection survives a malformed frame
	if err := client.Dispatch(context.Background(), envelope.Wrap(nil, envelope.Metadata{Encoding: envelope.EncodingWAV})); err != nil {
		t.Fatalf("Dispatch after malformed frame failed: %v", err)
	}
	select {
	case <-h.segments:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for transcription after malformed frame")
	}
}

func TestClientDispatchAfterClose(t *testing.T) {
	srv := newServer(t, nil)

	client, err := Dial(context.Background(), Config{URL: wsURL(srv)}, newChanHandler(), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}

	err = client.Dispatch(context.Background(), envelope.Message{})
	if !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "ws://127.0.0.1:1/none", HandshakeTimeout: time.Second}, newChanHandler(), nil)
	if !transport.IsTransportError(err) {
		t.Errorf("Expected TransportError, got %v", err)
	}

	if _, err := Dial(context.Background(), Config{}, newChanHandler(), nil); err == nil {
		t.Error("Expected error for empty URL")
	}
}

func TestClientReconnectsAfterServiceRestart(t *testing.T) {
	received := make(chan map[string]interface{}, 8)
	conns := &connSet{}

	first := httptest.NewServer(serviceHandler(received, conns))
	addr := first.Listener.Addr().String()

	h := newChanHandler()
	client, err := Dial(context.Background(), Config{
		URL:               "ws://" + addr,
		ReconnectDelay:    20 * time.Millisecond,
		ReconnectMaxDelay: 100 * time.Millisecond,
	}, h, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	chunk := func(d float64) envelope.Message {
		return envelope.Wrap(nil, envelope.Metadata{Encoding: envelope.EncodingWAV, Duration: d})
	}

	if err := client.Dispatch(context.Background(), chunk(1)); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	select {
	case got := <-received:
		if got["duration"] != 1.0 {
			t.Errorf("Expected duration 1, got %v", got["duration"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for first chunk")
	}

	// Stop the service and drop its connections
	first.Close()
	conns.dropAll()

	eventually(t, "disconnect", func() bool { return !client.Connected() })

	select {
	case err := <-h.errs:
		if !transport.IsTransportError(err) {
			t.Errorf("Expected TransportError for the lost connection, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for connection loss error")
	}

	// Chunks dispatched while disconnected wait for the next connection
	if err := client.Dispatch(context.Background(), chunk(2)); err != nil {
		t.Fatalf("Dispatch while reconnecting failed: %v", err)
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to listen on %s again: %v", addr, err)
	}
	second := httptest.NewUnstartedServer(serviceHandler(received, conns))
	second.Listener.Close()
	second.Listener = l
	second.Start()
	defer second.Close()

	select {
	case got := <-received:
		if got["duration"] != 2.0 {
			t.Errorf("Expected duration 2 after reconnect, got %v", got["duration"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for chunk after reconnect")
	}

	if err := client.Dispatch(context.Background(), chunk(3)); err != nil {
		t.Fatalf("Dispatch after reconnect failed: %v", err)
	}
	select {
	case got := <-received:
		if got["duration"] != 3.0 {
			t.Errorf("Expected duration 3, got %v", got["duration"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for chunk on the new connection")
	}

	stats := client.GetStats()
	if stats.Reconnects != 1 || !stats.Connected {
		t.Errorf("Expected one live reconnect, got %+v", stats)
	}
}
