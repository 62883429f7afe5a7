package notify

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/skypro1111/livescribe/internal/capture"
	"github.com/skypro1111/livescribe/internal/transport"
)

const appName = "Livescribe"

const (
	// maxMessage bounds notification bodies
	maxMessage = 100
	// transportQuiet is the minimum gap between two transport notifications
	transportQuiet = 10 * time.Second
)

// SendFunc delivers one desktop notification
type SendFunc func(title, message, icon string) error

// Notifier shows desktop notifications for session events
type Notifier struct {
	enabled bool
	send    SendFunc
	logger  *slog.Logger
	now     func() time.Time

	mu            sync.Mutex
	lastTransport time.Time
	suppressed    int
}

// New creates a notifier backed by beeep
func New(enabled bool, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Notifier{enabled: enabled, send: beeepSend, logger: logger, now: time.Now}
}

func beeepSend(title, message, icon string) error {
	return beeep.Notify(title, message, icon)
}

// SetEnabled turns notifications on or off
func (n *Notifier) SetEnabled(enabled bool) {
	n.enabled = enabled
}

// SessionError shows device, remote and transport errors. Transport and
// protocol errors are collapsed to one notification per quiet period.
func (n *Notifier) SessionError(err error) {
	if err == nil {
		return
	}

	var re *transport.RemoteError
	switch {
	case capture.IsDeviceError(err):
		n.notify("Microphone", err.Error())
	case errors.As(err, &re):
		n.notify("Transcription service", re.Message)
	case transport.IsTransportError(err), transport.IsProtocolError(err):
		n.transportError(err)
	default:
		n.notify("Error", err.Error())
	}
}

func (n *Notifier) transportError(err error) {
	n.mu.Lock()
	now := n.now()
	if !n.lastTransport.IsZero() && now.Sub(n.lastTransport) < transportQuiet {
		n.suppressed++
		n.mu.Unlock()
		return
	}
	n.lastTransport = now
	suppressed := n.suppressed
	n.suppressed = 0
	n.mu.Unlock()

	message := err.Error()
	if suppressed > 0 {
		message = fmt.Sprintf("%s (%d more since last notice)", message, suppressed)
	}
	n.notify("Connection", message)
}

// Saved reports a written transcript file
func (n *Notifier) Saved(path string) {
	n.notify("Transcript saved", path)
}

// ModelReady reports that the service has loaded a model
func (n *Notifier) ModelReady(modelSize string) {
	n.notify("Ready", "Model "+modelSize+" loaded")
}

func (n *Notifier) notify(title, message string) {
	if !n.enabled {
		return
	}
	if len(message) > maxMessage {
		message = message[:maxMessage] + "..."
	}
	if err := n.send(appName+": "+title, message, ""); err != nil {
		n.logger.Debug("Notification failed", slog.String("error", err.Error()))
	}
}
