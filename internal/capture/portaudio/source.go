package portaudio

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/livescribe/internal/capture"
)

const (
	pollInterval = 10 * time.Millisecond
	// consecutive read failures before the device is considered gone
	maxReadFailures = 50
)

// Source captures mono float32 audio from the default input device
type Source struct {
	logger *slog.Logger
}

// New creates a microphone source
func New(logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Source{logger: logger}
}

// Open initializes portaudio, opens the default input device and starts the read loop
func (s *Source) Open(p capture.Params, h capture.Handler) (capture.Stream, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, &capture.DeviceError{Op: "initialize", Err: fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)}
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil || device == nil {
		portaudio.Terminate()
		return nil, &capture.DeviceError{Op: "default input", Err: fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)}
	}

	buffer := make([]float32, p.FrameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(p.SampleRate), p.FrameSize, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, &capture.DeviceError{Op: "open stream", Err: fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)}
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, &capture.DeviceError{Op: "start stream", Err: fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)}
	}

	s.logger.Info("Microphone opened",
		slog.String("device", device.Name),
		slog.Int("sample_rate", p.SampleRate),
		slog.Int("frame_size", p.FrameSize))

	ms := &micStream{
		stream:   stream,
		buffer:   buffer,
		handler:  h,
		logger:   s.logger,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go ms.readLoop()

	return ms, nil
}

type micStream struct {
	stream  *portaudio.Stream
	buffer  []float32
	handler capture.Handler
	logger  *slog.Logger

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
	closeOnce    sync.Once
	closeErr     error
}

func (m *micStream) closing() bool {
	select {
	case <-m.shutdown:
		return true
	default:
		return false
	}
}

func (m *micStream) readLoop() {
	defer close(m.done)

	failures := 0
	for !m.closing() {
		available, err := m.stream.AvailableToRead()
		if err == nil && available == 0 {
			time.Sleep(pollInterval)
			continue
		}
		if err == nil {
			err = m.stream.Read()
		}

		if err != nil {
			failures++
			if failures >= maxReadFailures {
				if m.closing() {
					return
				}
				m.logger.Warn("Microphone read failing, treating device as disconnected", slog.String("error", err.Error()))
				m.release()
				m.handler.OnDisconnect(&capture.DeviceError{Op: "read", Err: fmt.Errorf("%w: %v", capture.ErrDeviceDisconnected, err)})
				return
			}
			time.Sleep(pollInterval)
			continue
		}
		failures = 0

		if m.closing() {
			return
		}
		frame := make(capture.Frame, len(m.buffer))
		copy(frame, m.buffer)
		m.handler.OnFrame(frame)
	}
}

// release stops and closes the device exactly once
func (m *micStream) release() {
	m.closeOnce.Do(func() {
		if err := m.stream.Stop(); err != nil {
			m.closeErr = err
		}
		if err := m.stream.Close(); err != nil && m.closeErr == nil {
			m.closeErr = err
		}
		if err := portaudio.Terminate(); err != nil && m.closeErr == nil {
			m.closeErr = err
		}
	})
}

func (m *micStream) Close() error {
	m.shutdownOnce.Do(func() { close(m.shutdown) })
	<-m.done
	m.release()
	return m.closeErr
}
