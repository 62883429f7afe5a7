package capture

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/skypro1111/livescribe/internal/envelope"
)

// Blob is a pre-encoded container recording passed through without PCM processing
type Blob struct {
	Data     []byte
	MimeType string
	Duration float64 // seconds, 0 when unknown
	Name     string
}

// LoadBlob reads a recording from disk, inferring its mime type from the extension.
// The duration is measured for WAV files and left at 0 for other containers.
func LoadBlob(path string) (Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Blob{}, &DeviceError{Op: "load blob", Err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)}
	}
	return NewBlob(filepath.Base(path), data), nil
}

// NewBlob wraps in-memory container bytes
func NewBlob(name string, data []byte) Blob {
	b := Blob{
		Data:     data,
		MimeType: envelope.EncodingFor(name),
		Name:     name,
	}

	if b.MimeType == envelope.EncodingWAV {
		if samples, rate, err := DecodeWAVToFloat32(data); err == nil && rate > 0 {
			b.Duration = float64(len(samples)) / float64(rate)
		}
	}

	return b
}

// Empty reports whether the blob carries no audio bytes
func (b Blob) Empty() bool {
	return len(b.Data) == 0
}
