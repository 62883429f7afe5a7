package capture

import (
	"errors"
	"fmt"
)

const (
	// DefaultSampleRate is the rate the transcription service expects
	DefaultSampleRate = 16000
	// DefaultFrameSize is the number of samples per delivered frame
	DefaultFrameSize = 4096

	MinFrameSize = 256
	MaxFrameSize = 16384
)

// Frame is one callback's worth of mono float samples in [-1, 1]
type Frame []float32

// Params configures an opened capture stream
type Params struct {
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`
	FrameSize  int `yaml:"frame_size" json:"frame_size"`
}

// DefaultParams returns 16 kHz mono capture in 4096-sample frames
func DefaultParams() Params {
	return Params{SampleRate: DefaultSampleRate, FrameSize: DefaultFrameSize}
}

// Validate checks the capture parameters
func (p Params) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	}
	if p.FrameSize < MinFrameSize || p.FrameSize > MaxFrameSize {
		return fmt.Errorf("frame size must be in [%d, %d], got %d", MinFrameSize, MaxFrameSize, p.FrameSize)
	}
	if p.FrameSize&(p.FrameSize-1) != 0 {
		return fmt.Errorf("frame size must be a power of two, got %d", p.FrameSize)
	}
	return nil
}

// Handler receives frames from an open stream.
// Implementations must not block; OnFrame is called from the capture goroutine.
type Handler interface {
	OnFrame(Frame)
	// OnDisconnect is called at most once when the stream ends on its own.
	// err is io.EOF for a finite source that ran out of audio.
	OnDisconnect(err error)
}

// Source opens capture streams
type Source interface {
	Open(p Params, h Handler) (Stream, error)
}

// Stream is an open capture handle
type Stream interface {
	// Close releases the device. It is idempotent, and once it returns no
	// further Handler calls are made.
	Close() error
}

var (
	// ErrDeviceUnavailable means no input device could be opened or access was denied
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	// ErrDeviceDisconnected means the device went away while capturing
	ErrDeviceDisconnected = errors.New("audio input device disconnected")
)

// DeviceError is a capture failure tied to a device operation
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsDeviceError reports whether err is or wraps a DeviceError
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// HandlerFuncs adapts plain functions to Handler
type HandlerFuncs struct {
	Frame      func(Frame)
	Disconnect func(error)
}

func (h HandlerFuncs) OnFrame(f Frame) {
	if h.Frame != nil {
		h.Frame(f)
	}
}

func (h HandlerFuncs) OnDisconnect(err error) {
	if h.Disconnect != nil {
		h.Disconnect(err)
	}
}
