package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/livescribe/internal/envelope"
	"github.com/skypro1111/livescribe/internal/transport"
)

// Config contains websocket transport configuration
type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PongWait         time.Duration
	PingInterval     time.Duration
	QueueSize        int

	// ReconnectDelay is the first wait after a lost connection. It doubles
	// on every failed attempt up to ReconnectMaxDelay.
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
}

// Stats represents websocket transport statistics
type Stats struct {
	Sent       uint64 `json:"sent"`
	Received   uint64 `json:"received"`
	Dropped    uint64 `json:"dropped"`
	Malformed  uint64 `json:"malformed"`
	Reconnects uint64 `json:"reconnects"`
	Connected  bool   `json:"connected"`
	Queued     int    `json:"queued"`
}

// Client is a streaming transport. Chunks are written in dispatch order by a
// single writer goroutine; inbound events are routed to the handler from the
// reader goroutine. A lost connection is redialled with backoff until Close;
// chunks dispatched meanwhile wait in the send queue.
type Client struct {
	config  Config
	dialer  websocket.Dialer
	handler transport.Handler
	logger  *slog.Logger

	send     chan []byte
	shutdown chan struct{}
	wg       sync.WaitGroup

	// dialCtx is cancelled by Close to abort a pending redial
	dialCtx    context.Context
	cancelDial context.CancelFunc

	// mu guards conn
	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
	closed    atomic.Bool
	connected atomic.Bool

	sent       atomic.Uint64
	received   atomic.Uint64
	dropped    atomic.Uint64
	malformed  atomic.Uint64
	reconnects atomic.Uint64
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.ReconnectMaxDelay < c.ReconnectDelay {
		c.ReconnectMaxDelay = 30 * c.ReconnectDelay
	}
}

// Dial connects to the transcription service and starts the reader and writer
func Dial(ctx context.Context, config Config, h transport.Handler, logger *slog.Logger) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("websocket URL cannot be empty")
	}
	if h == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	config.applyDefaults()

	c := &Client{
		config: config,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		handler:  h,
		logger:   logger.With(slog.String("component", "wsclient")),
		send:     make(chan []byte, config.QueueSize),
		shutdown: make(chan struct{}),
	}

	conn, _, err := c.dialer.DialContext(ctx, config.URL, config.Header)
	if err != nil {
		return nil, &transport.TransportError{Op: "dial", Err: err}
	}
	c.setConn(conn)
	c.dialCtx, c.cancelDial = context.WithCancel(context.Background())

	c.logger.Info("Connected to transcription service", slog.String("url", config.URL))

	c.wg.Add(1)
	go c.run(conn)

	return c, nil
}

// Dispatch queues a chunk for sending. It never waits on the network.
func (c *Client) Dispatch(ctx context.Context, msg envelope.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return &transport.TransportError{Op: "dispatch", Err: transport.ErrClosed}
	}

	data, err := json.Marshal(transport.NewAudioBlob(msg))
	if err != nil {
		return &transport.TransportError{Op: "encode", Err: err}
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.dropped.Add(1)
		return &transport.TransportError{Op: "dispatch", Err: transport.ErrQueueFull}
	}
}

// run serves one connection at a time until Close
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		if c.serve(conn) {
			return
		}

		conn = c.redial()
		if conn == nil {
			return
		}
	}
}

// serve writes queued chunks to conn until the reader fails or Close is
// called. It reports whether the client is shutting down.
func (c *Client) serve(conn *websocket.Conn) bool {
	c.connected.Store(true)
	defer c.connected.Store(false)

	readDone := make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(readDone)
		c.readLoop(conn)
	}()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdown:
			c.drainQueue(conn)
			deadline := time.Now().Add(c.config.WriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"), deadline)
			return true

		case <-readDone:
			_ = conn.Close()
			return false

		case data := <-c.send:
			if err := write(conn, c.config.WriteTimeout, websocket.TextMessage, data); err != nil {
				c.logger.Error("Failed to send chunk", slog.String("error", err.Error()))
				c.handler.OnError(&transport.TransportError{Op: "write", Err: err})
				// the reader fails next and the connection is replaced
				_ = conn.Close()
				continue
			}
			c.sent.Add(1)

		case <-ticker.C:
			if err := write(conn, c.config.WriteTimeout, websocket.PingMessage, nil); err != nil {
				c.logger.Warn("Failed to send ping", slog.String("error", err.Error()))
			}
		}
	}
}

// redial reconnects with exponential backoff. It returns nil once Close is called.
func (c *Client) redial() *websocket.Conn {
	delay := c.config.ReconnectDelay
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-c.shutdown:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(c.dialCtx, c.config.HandshakeTimeout)
		conn, _, err := c.dialer.DialContext(ctx, c.config.URL, c.config.Header)
		cancel()
		if err == nil {
			if !c.setConn(conn) {
				_ = conn.Close()
				return nil
			}
			c.reconnects.Add(1)
			c.logger.Info("Reconnected to transcription service",
				slog.String("url", c.config.URL),
				slog.Int("attempt", attempt),
			)
			return conn
		}

		c.logger.Warn("Reconnect failed",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > c.config.ReconnectMaxDelay {
			delay = c.config.ReconnectMaxDelay
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isShuttingDown() {
				c.logger.Info("Transcription service connection closed")
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("Transcription service closed the connection")
				return
			}
			c.logger.Error("Failed to read from transcription service", slog.String("error", err.Error()))
			c.handler.OnError(&transport.TransportError{Op: "read", Err: err})
			return
		}

		c.received.Add(1)
		_ = conn.SetReadDeadline(time.Now().Add(c.config.PongWait))

		if err := transport.Route(c.handler, data); err != nil {
			c.malformed.Add(1)
			c.logger.Warn("Ignoring malformed message", slog.String("error", err.Error()))
			c.handler.OnError(err)
		}
	}
}

// drainQueue sends chunks that were dispatched before Close
func (c *Client) drainQueue(conn *websocket.Conn) {
	for {
		select {
		case data := <-c.send:
			if err := write(conn, c.config.WriteTimeout, websocket.TextMessage, data); err != nil {
				c.handler.OnError(&transport.TransportError{Op: "write", Err: err})
				return
			}
			c.sent.Add(1)
		default:
			return
		}
	}
}

func write(conn *websocket.Conn, timeout time.Duration, messageType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	return conn.WriteMessage(messageType, data)
}

func (c *Client) isShuttingDown() bool {
	select {
	case <-c.shutdown:
		return true
	default:
		return false
	}
}

// setConn records the live connection. It fails once Close has started.
func (c *Client) setConn(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return false
	}
	c.conn = conn
	return true
}

// Close flushes queued chunks, sends a close frame and waits for the
// connection goroutines to exit
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		conn := c.conn
		c.mu.Unlock()
		close(c.shutdown)
		c.cancelDial()

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(c.config.WriteTimeout):
		}

		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, websocket.ErrCloseSent) && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		<-done
	})
	return err
}

// Connected reports whether a connection is currently being served
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// GetStats returns current transport statistics
func (c *Client) GetStats() Stats {
	return Stats{
		Sent:       c.sent.Load(),
		Received:   c.received.Load(),
		Dropped:    c.dropped.Load(),
		Malformed:  c.malformed.Load(),
		Reconnects: c.reconnects.Load(),
		Connected:  c.connected.Load(),
		Queued:     len(c.send),
	}
}
