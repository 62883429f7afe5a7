package transcription

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/skypro1111/livescribe/internal/envelope"
	"github.com/skypro1111/livescribe/internal/transcript"
	"github.com/skypro1111/livescribe/internal/transport"
)

// OpenAIConfig contains hosted transcription configuration
type OpenAIConfig struct {
	APIKey        string
	BaseURL       string // empty for the public API
	Model         string
	Language      string
	Prompt        string
	Timeout       time.Duration
	MaxConcurrent int
}

// OpenAIDispatcher sends chunks to an OpenAI compatible audio transcription endpoint
type OpenAIDispatcher struct {
	*asyncDispatcher

	config OpenAIConfig
	client *openai.Client
}

var _ transport.Dispatcher = (*OpenAIDispatcher)(nil)

// NewOpenAIDispatcher creates a hosted transcription dispatcher
func NewOpenAIDispatcher(config OpenAIConfig, h transport.Handler, logger *slog.Logger) (*OpenAIDispatcher, error) {
	// a key is optional only for a compatible server at BaseURL
	if config.APIKey == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if h == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if config.Model == "" {
		config.Model = openai.Whisper1
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	d := &OpenAIDispatcher{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
	}
	d.asyncDispatcher = newAsyncDispatcher("openai", config.Timeout, config.MaxConcurrent, h, logger, d.transcribeChunk)

	return d, nil
}

func (d *OpenAIDispatcher) transcribeChunk(ctx context.Context, msg envelope.Message, audio []byte) (transcript.Segment, error) {
	startTime := time.Now()

	resp, err := d.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    d.config.Model,
		FilePath: "chunk." + envelope.ExtensionFor(msg.Encoding),
		Reader:   bytes.NewReader(audio),
		Language: d.config.Language,
		Prompt:   d.config.Prompt,
	})
	if err != nil {
		return transcript.Segment{}, fmt.Errorf("create transcription: %w", err)
	}

	lang := resp.Language
	if lang == "" {
		lang = d.config.Language
	}

	return transcript.Segment{
		Text:           resp.Text,
		Timestamp:      float64(time.Now().UnixNano()) / 1e9,
		Language:       lang,
		ProcessingTime: time.Since(startTime).Seconds(),
	}, nil
}
