package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"github.com/skypro1111/livescribe/internal/audio"
)

// FileSource replays a WAV file as if it were a microphone
type FileSource struct {
	data   []byte
	name   string
	pace   bool
	logger *slog.Logger
}

// FileOption configures a FileSource
type FileOption func(*FileSource)

// WithPacing delivers frames in real time instead of as fast as possible
func WithPacing(pace bool) FileOption {
	return func(s *FileSource) { s.pace = pace }
}

// WithFileLogger sets the logger used by the source
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(s *FileSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFileSource reads a WAV file from disk
func NewFileSource(path string, opts ...FileOption) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DeviceError{Op: "open file", Err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)}
	}
	return NewFileSourceFromBytes(path, data, opts...), nil
}

// NewFileSourceFromBytes wraps an in-memory WAV file
func NewFileSourceFromBytes(name string, data []byte, opts ...FileOption) *FileSource {
	s := &FileSource{
		data:   data,
		name:   name,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DecodeWAVToFloat32 decodes a WAV file of any bit depth into mono float samples
func DecodeWAVToFloat32(data []byte) ([]float32, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("failed to decode wav: %w", err)
	}
	if buf == nil {
		return nil, 0, errors.New("empty wav buffer")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int(1) << (bitDepth - 1))

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}

	channels := int(dec.NumChans)
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}

	sampleRate := int(dec.SampleRate)
	if sampleRate == 0 && buf.Format != nil {
		sampleRate = buf.Format.SampleRate
	}
	if sampleRate == 0 {
		return nil, 0, errors.New("wav file declares no sample rate")
	}

	return audio.Downmix(samples, channels), sampleRate, nil
}

// Open decodes the file and starts delivering frames on a new goroutine
func (s *FileSource) Open(p Params, h Handler) (Stream, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	samples, rate, err := DecodeWAVToFloat32(s.data)
	if err != nil {
		return nil, &DeviceError{Op: "open file", Err: fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, s.name, err)}
	}
	samples = audio.ResampleLinear(samples, rate, p.SampleRate)

	s.logger.Info("Opened file source",
		slog.String("file", s.name),
		slog.Int("source_rate", rate),
		slog.Int("samples", len(samples)),
		slog.Bool("paced", s.pace))

	st := &fileStream{
		samples:  samples,
		params:   p,
		handler:  h,
		pace:     s.pace,
		shutdown: make(chan struct{}),
	}
	st.wg.Add(1)
	go st.run()

	return st, nil
}

type fileStream struct {
	samples []float32
	params  Params
	handler Handler
	pace    bool

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (st *fileStream) run() {
	defer st.wg.Done()

	frameDuration := time.Duration(st.params.FrameSize) * time.Second / time.Duration(st.params.SampleRate)
	var ticker *time.Ticker
	if st.pace {
		ticker = time.NewTicker(frameDuration)
		defer ticker.Stop()
	}

	for offset := 0; offset < len(st.samples); offset += st.params.FrameSize {
		if ticker != nil {
			select {
			case <-st.shutdown:
				return
			case <-ticker.C:
			}
		} else {
			select {
			case <-st.shutdown:
				return
			default:
			}
		}

		end := min(offset+st.params.FrameSize, len(st.samples))
		frame := make(Frame, end-offset)
		copy(frame, st.samples[offset:end])
		st.handler.OnFrame(frame)
	}

	select {
	case <-st.shutdown:
	default:
		st.handler.OnDisconnect(io.EOF)
	}
}

func (st *fileStream) Close() error {
	st.closeOnce.Do(func() {
		close(st.shutdown)
	})
	st.wg.Wait()
	return nil
}
