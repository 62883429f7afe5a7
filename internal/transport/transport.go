package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/skypro1111/livescribe/internal/envelope"
	"github.com/skypro1111/livescribe/internal/transcript"
)

// Dispatcher delivers chunk messages to the transcription service.
// Dispatch must return without waiting for network I/O; delivery failures
// that happen later are reported through the Handler the dispatcher was
// created with.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg envelope.Message) error
	Close() error
}

// Handler receives inbound events from the transcription service.
// Calls may come from transport goroutines and must not block.
type Handler interface {
	OnSegment(seg transcript.Segment)
	OnModelReady(modelSize string)
	// OnAck is called when the service confirms it received a chunk
	OnAck(timestamp float64)
	// OnError receives *TransportError, *ProtocolError and *RemoteError values
	OnError(err error)
}

var (
	// ErrClosed is returned by Dispatch after Close
	ErrClosed = errors.New("transport closed")
	// ErrQueueFull is returned when the outbound queue cannot take another chunk
	ErrQueueFull = errors.New("outbound queue full")
)

// TransportError is a network failure or non-success response while dispatching a chunk
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a malformed inbound message
type ProtocolError struct {
	Raw []byte
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed message (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// RemoteError is an error event reported by the service itself
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "transcription service: " + e.Message
}

// IsTransportError reports whether err is or wraps a TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocolError reports whether err is or wraps a ProtocolError
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
