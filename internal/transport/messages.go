package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skypro1111/livescribe/internal/envelope"
	"github.com/skypro1111/livescribe/internal/transcript"
)

// Message types on the streaming connection
const (
	TypeAudioBlob     = "audio_blob"
	TypeTranscription = "transcription"
	TypeModelLoaded   = "model_loaded"
	TypeConnected     = "connected"
	TypeAudioReceived = "audio_received"
	TypeError         = "error"
)

// OutboundMessage is a chunk envelope tagged with its message type
type OutboundMessage struct {
	Type string `json:"type"`
	envelope.Message
}

// NewAudioBlob tags an envelope as an audio_blob message
func NewAudioBlob(msg envelope.Message) OutboundMessage {
	return OutboundMessage{Type: TypeAudioBlob, Message: msg}
}

// InboundMessage is the union of all events the service sends
type InboundMessage struct {
	Type string `json:"type"`

	// transcription
	Text           string  `json:"text,omitempty"`
	Timestamp      float64 `json:"timestamp,omitempty"`
	Language       string  `json:"language,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`

	// model_loaded
	ModelSize string `json:"model_size,omitempty"`

	// connected
	ClientID     string `json:"client_id,omitempty"`
	ModelLoaded  bool   `json:"model_loaded,omitempty"`
	ModelLoading bool   `json:"model_loading,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Segment converts a transcription event to a transcript segment
func (m InboundMessage) Segment() transcript.Segment {
	return transcript.Segment{
		Text:           m.Text,
		Timestamp:      m.Timestamp,
		Language:       m.Language,
		ProcessingTime: m.ProcessingTime,
	}
}

// ParseInbound decodes and checks one inbound frame
func ParseInbound(raw []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return InboundMessage{}, &ProtocolError{Raw: raw, Err: err}
	}

	switch msg.Type {
	case TypeTranscription, TypeModelLoaded, TypeConnected, TypeAudioReceived, TypeError:
		return msg, nil
	case "":
		return InboundMessage{}, &ProtocolError{Raw: raw, Err: errors.New("missing message type")}
	default:
		return InboundMessage{}, &ProtocolError{Raw: raw, Err: fmt.Errorf("unknown message type %q", msg.Type)}
	}
}

// Route parses a raw inbound frame and delivers it to h.
// Malformed frames are returned as *ProtocolError and not delivered.
func Route(h Handler, raw []byte) error {
	msg, err := ParseInbound(raw)
	if err != nil {
		return err
	}
	Deliver(h, msg)
	return nil
}

// Deliver dispatches a parsed inbound message to the matching handler method
func Deliver(h Handler, msg InboundMessage) {
	switch msg.Type {
	case TypeTranscription:
		h.OnSegment(msg.Segment())
	case TypeModelLoaded:
		h.OnModelReady(msg.ModelSize)
	case TypeConnected:
		if msg.ModelLoaded {
			h.OnModelReady(msg.ModelSize)
		}
	case TypeAudioReceived:
		h.OnAck(msg.Timestamp)
	case TypeError:
		h.OnError(&RemoteError{Message: msg.Message})
	}
}
