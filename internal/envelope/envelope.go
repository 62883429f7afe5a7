package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Encoding tags carried in the mimeType field
const (
	EncodingWAV  = "audio/wav"
	EncodingWebM = "audio/webm"
	EncodingOGG  = "audio/ogg"
	EncodingMP4  = "audio/mp4"
)

// Metadata describes an encoded chunk
type Metadata struct {
	Encoding   string  // mime type of the encoded bytes
	Duration   float64 // seconds
	SampleRate int     // 0 when unknown (container blobs)
}

// Message is one logical outbound chunk message.
// There is no sequence number; receivers rely on arrival order.
type Message struct {
	Audio      string  `json:"audio"`
	Encoding   string  `json:"mimeType"`
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sampleRate,omitempty"`
}

// Wrap base64-encodes the chunk (RFC 4648 standard alphabet, padded) and pairs it with metadata
func Wrap(encoded []byte, meta Metadata) Message {
	return Message{
		Audio:      base64.StdEncoding.EncodeToString(encoded),
		Encoding:   meta.Encoding,
		Duration:   meta.Duration,
		SampleRate: meta.SampleRate,
	}
}

// Bytes decodes the audio payload back to the encoded chunk
func (m Message) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return data, nil
}

// Metadata returns the metadata carried by the message
func (m Message) Metadata() Metadata {
	return Metadata{
		Encoding:   m.Encoding,
		Duration:   m.Duration,
		SampleRate: m.SampleRate,
	}
}

// Encode marshals a message to JSON
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses a JSON message and checks that its payload is valid base64
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if _, err := m.Bytes(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// ExtensionFor maps an encoding tag to a file extension, defaulting to webm
func ExtensionFor(encoding string) string {
	switch {
	case strings.Contains(encoding, "wav"):
		return "wav"
	case strings.Contains(encoding, "ogg"):
		return "ogg"
	case strings.Contains(encoding, "mp4"):
		return "mp4"
	default:
		return "webm"
	}
}

// EncodingFor maps a file name to an encoding tag by extension, defaulting to webm
func EncodingFor(filename string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "wav", "wave":
		return EncodingWAV
	case "ogg", "oga", "opus":
		return EncodingOGG
	case "mp4", "m4a":
		return EncodingMP4
	default:
		return EncodingWebM
	}
}
