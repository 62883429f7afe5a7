package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/skypro1111/livescribe/internal/envelope"
	"github.com/skypro1111/livescribe/internal/transcript"
	"github.com/skypro1111/livescribe/internal/transport"
)

// Config contains transcription client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxConcurrent int
	Language      string
	Model         string
	OutputFormat  string // "json" or "text"
}

// TranscriptionResponse represents the response from the transcription API
type TranscriptionResponse struct {
	Text           string  `json:"text"`
	Timestamp      float64 `json:"timestamp,omitempty"`
	Language       string  `json:"language,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`
}

// Client posts each chunk as a multipart request to a stateless transcription endpoint
type Client struct {
	*asyncDispatcher

	config     Config
	httpClient *http.Client
}

var _ transport.Dispatcher = (*Client)(nil)

// NewClient creates a new transcription HTTP client
func NewClient(config Config, h transport.Handler, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if h == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.OutputFormat == "" {
		config.OutputFormat = "json"
	}

	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	c.asyncDispatcher = newAsyncDispatcher("http", config.Timeout, config.MaxConcurrent, h, logger, c.transcribeChunk)

	return c, nil
}

func (c *Client) transcribeChunk(ctx context.Context, msg envelope.Message, audio []byte) (transcript.Segment, error) {
	resp, err := c.Transcribe(ctx, msg.Metadata(), audio)
	if err != nil {
		return transcript.Segment{}, err
	}

	ts := resp.Timestamp
	if ts == 0 {
		ts = float64(time.Now().UnixNano()) / 1e9
	}

	return transcript.Segment{
		Text:           resp.Text,
		Timestamp:      ts,
		Language:       resp.Language,
		ProcessingTime: resp.ProcessingTime,
	}, nil
}

// Transcribe performs a single synchronous request for one encoded chunk
func (c *Client) Transcribe(ctx context.Context, meta envelope.Metadata, audio []byte) (*TranscriptionResponse, error) {
	body, contentType, err := c.createMultipartRequest(meta, audio)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "livescribe/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	if c.config.OutputFormat == "text" {
		return &TranscriptionResponse{Text: string(bytes.TrimSpace(respBody))}, nil
	}

	var transcriptionResp TranscriptionResponse
	if err := json.Unmarshal(respBody, &transcriptionResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &transcriptionResp, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(meta envelope.Metadata, audio []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := "chunk." + envelope.ExtensionFor(meta.Encoding)
	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"mime_type":       meta.Encoding,
		"duration":        fmt.Sprintf("%.3f", meta.Duration),
		"response_format": c.config.OutputFormat,
	}

	if meta.SampleRate > 0 {
		fields["sample_rate"] = fmt.Sprintf("%d", meta.SampleRate)
	}
	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}
