package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/skypro1111/livescribe/internal/envelope"
)

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name      string
		params    Params
		expectErr bool
	}{
		{"defaults", DefaultParams(), false},
		{"min frame", Params{SampleRate: 16000, FrameSize: 256}, false},
		{"max frame", Params{SampleRate: 16000, FrameSize: 16384}, false},
		{"zero rate", Params{SampleRate: 0, FrameSize: 4096}, true},
		{"negative rate", Params{SampleRate: -1, FrameSize: 4096}, true},
		{"frame below range", Params{SampleRate: 16000, FrameSize: 128}, true},
		{"frame above range", Params{SampleRate: 16000, FrameSize: 32768}, true},
		{"frame not power of two", Params{SampleRate: 16000, FrameSize: 1000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestDeviceError(t *testing.T) {
	err := fmt.Errorf("session start: %w", &DeviceError{Op: "open", Err: ErrDeviceUnavailable})

	if !IsDeviceError(err) {
		t.Error("Expected wrapped DeviceError to be detected")
	}
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Error("Expected errors.Is to find ErrDeviceUnavailable")
	}
	if errors.Is(err, ErrDeviceDisconnected) {
		t.Error("Did not expect ErrDeviceDisconnected")
	}
	if IsDeviceError(errors.New("other")) {
		t.Error("Plain error should not be a DeviceError")
	}
}

// writeWAV writes a 16-bit WAV file with the reference encoder
func writeWAV(t *testing.T, sampleRate, channels int, data []int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Failed to write samples: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to finalize wav: %v", err)
	}
	return path
}

type recordingHandler struct {
	mu           sync.Mutex
	frames       []Frame
	disconnects  []error
	disconnected chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{disconnected: make(chan struct{}, 1)}
}

func (h *recordingHandler) OnFrame(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, f)
}

func (h *recordingHandler) OnDisconnect(err error) {
	h.mu.Lock()
	h.disconnects = append(h.disconnects, err)
	h.mu.Unlock()
	h.disconnected <- struct{}{}
}

func (h *recordingHandler) totalSamples() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, f := range h.frames {
		n += len(f)
	}
	return n
}

func TestDecodeWAVToFloat32Stereo(t *testing.T) {
	// left = 16384, right = 0 => mono 0.25
	path := writeWAV(t, 16000, 2, []int{16384, 0, 16384, 0, -16384, -16384})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	samples, rate, err := DecodeWAVToFloat32(data)
	if err != nil {
		t.Fatalf("DecodeWAVToFloat32 failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected rate 16000, got %d", rate)
	}

	expected := []float32{0.25, 0.25, -0.5}
	if len(samples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(samples))
	}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Errorf("Sample %d: expected %f, got %f", i, expected[i], samples[i])
		}
	}
}

func TestDecodeWAVToFloat32Invalid(t *testing.T) {
	if _, _, err := DecodeWAVToFloat32([]byte("not a wav file at all")); err == nil {
		t.Error("Expected error for invalid data")
	}
}

func TestFileSourceDeliversFramesThenEOF(t *testing.T) {
	path := writeWAV(t, 16000, 1, make([]int, 10000))

	src, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}

	h := newRecordingHandler()
	stream, err := src.Open(Params{SampleRate: 16000, FrameSize: 4096}, h)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer stream.Close()

	select {
	case <-h.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for end of file")
	}

	if got := h.totalSamples(); got != 10000 {
		t.Errorf("Expected 10000 samples, got %d", got)
	}
	h.mu.Lock()
	if len(h.frames) != 3 {
		t.Errorf("Expected 3 frames, got %d", len(h.frames))
	}
	if len(h.frames[0]) != 4096 {
		t.Errorf("Expected first frame of 4096 samples, got %d", len(h.frames[0]))
	}
	if !errors.Is(h.disconnects[0], io.EOF) {
		t.Errorf("Expected io.EOF, got %v", h.disconnects[0])
	}
	h.mu.Unlock()
}

func TestFileSourceResamples(t *testing.T) {
	path := writeWAV(t, 8000, 1, make([]int, 8000))

	src, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}

	h := newRecordingHandler()
	stream, err := src.Open(Params{SampleRate: 16000, FrameSize: 1024}, h)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer stream.Close()

	<-h.disconnected

	if got := h.totalSamples(); got != 16000 {
		t.Errorf("Expected 16000 resampled samples, got %d", got)
	}
}

func TestFileSourceCloseStopsDelivery(t *testing.T) {
	path := writeWAV(t, 16000, 1, make([]int, 160000))

	src, err := NewFileSource(path, WithPacing(true))
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}

	h := newRecordingHandler()
	stream, err := src.Open(Params{SampleRate: 16000, FrameSize: 256}, h)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}

	after := h.totalSamples()
	time.Sleep(50 * time.Millisecond)
	if h.totalSamples() != after {
		t.Error("Frames delivered after Close returned")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.disconnects) != 0 {
		t.Error("Close should not report a disconnect")
	}
	if after >= 160000 {
		t.Error("Paced source should not have delivered the whole file in 50ms")
	}
}

func TestFileSourceRejectsBadParams(t *testing.T) {
	src := NewFileSourceFromBytes("x.wav", nil)
	if _, err := src.Open(Params{SampleRate: 16000, FrameSize: 1000}, newRecordingHandler()); err == nil {
		t.Error("Expected error for invalid frame size")
	}
}

func TestFileSourceRejectsInvalidFile(t *testing.T) {
	src := NewFileSourceFromBytes("x.wav", []byte("garbage"))

	_, err := src.Open(DefaultParams(), newRecordingHandler())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestNewFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.wav"))
	if !IsDeviceError(err) {
		t.Errorf("Expected DeviceError, got %v", err)
	}
}

func TestLoadBlob(t *testing.T) {
	path := writeWAV(t, 16000, 1, make([]int, 32000))

	blob, err := LoadBlob(path)
	if err != nil {
		t.Fatalf("LoadBlob failed: %v", err)
	}
	if blob.MimeType != envelope.EncodingWAV {
		t.Errorf("Expected %s, got %s", envelope.EncodingWAV, blob.MimeType)
	}
	if blob.Duration != 2 {
		t.Errorf("Expected duration 2s, got %f", blob.Duration)
	}
	if blob.Empty() {
		t.Error("Blob should not be empty")
	}
}

func TestNewBlobContainer(t *testing.T) {
	blob := NewBlob("voice.webm", []byte{0x1a, 0x45, 0xdf, 0xa3})
	if blob.MimeType != envelope.EncodingWebM {
		t.Errorf("Expected %s, got %s", envelope.EncodingWebM, blob.MimeType)
	}
	if blob.Duration != 0 {
		t.Errorf("Expected unknown duration, got %f", blob.Duration)
	}
}

func TestHandlerFuncs(t *testing.T) {
	var frames int
	var disconnected error

	h := HandlerFuncs{
		Frame:      func(Frame) { frames++ },
		Disconnect: func(err error) { disconnected = err },
	}
	h.OnFrame(Frame{0})
	h.OnDisconnect(ErrDeviceDisconnected)

	if frames != 1 || disconnected != ErrDeviceDisconnected {
		t.Errorf("Unexpected handler state: frames=%d err=%v", frames, disconnected)
	}

	HandlerFuncs{}.OnFrame(Frame{0})
}
