package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/skypro1111/livescribe/internal/audio"
	"github.com/skypro1111/livescribe/internal/capture"
	"github.com/skypro1111/livescribe/internal/capture/portaudio"
	"github.com/skypro1111/livescribe/internal/config"
	"github.com/skypro1111/livescribe/internal/session"
	"github.com/skypro1111/livescribe/internal/transcription"
	"github.com/skypro1111/livescribe/internal/transport"
	"github.com/skypro1111/livescribe/internal/transport/wsclient"
)

// readyPollInterval paces start attempts while the service loads its model
const readyPollInterval = time.Second

// buildSessionConfig maps file configuration onto the session
func buildSessionConfig(cfg *config.Config) (session.Config, error) {
	strategy, err := session.ParseStrategy(cfg.Capture.Strategy)
	if err != nil {
		return session.Config{}, err
	}

	policy, err := audio.ParsePolicy(cfg.Chunking.Policy)
	if err != nil {
		return session.Config{}, err
	}

	return session.Config{
		Strategy: strategy,
		Params: capture.Params{
			SampleRate: cfg.Capture.SampleRate,
			FrameSize:  cfg.Capture.FrameSize,
		},
		ChunkDuration:   cfg.Chunking.GetChunkDuration(),
		Policy:          policy,
		TickInterval:    cfg.Chunking.GetTickInterval(),
		GateEnabled:     cfg.Gate.Enabled,
		GateThreshold:   cfg.Gate.Threshold,
		RequireModel:    cfg.Transport.RequireModel,
		DispatchTimeout: cfg.Transport.GetDispatchTimeout(),
		FrameQueue:      cfg.Capture.FrameQueue,
	}, nil
}

// newDispatcher creates the configured transport with h receiving its inbound events
func newDispatcher(ctx context.Context, cfg *config.Config, h transport.Handler, logger *slog.Logger) (transport.Dispatcher, error) {
	t := cfg.Transport

	switch t.Kind {
	case "websocket":
		return wsclient.Dial(ctx, wsclient.Config{
			URL:               t.WebSocket.URL,
			HandshakeTimeout:  t.WebSocket.GetHandshakeTimeout(),
			PingInterval:      t.WebSocket.GetPingInterval(),
			QueueSize:         t.WebSocket.QueueSize,
			ReconnectDelay:    t.WebSocket.GetReconnectDelay(),
			ReconnectMaxDelay: t.WebSocket.GetReconnectMaxDelay(),
		}, h, logger)

	case "http":
		return transcription.NewClient(transcription.Config{
			Endpoint:      t.HTTP.Endpoint,
			APIKey:        t.HTTP.APIKey,
			Timeout:       t.HTTP.GetTimeoutDuration(),
			MaxConcurrent: t.HTTP.MaxConcurrent,
			Language:      t.HTTP.Language,
			Model:         t.HTTP.Model,
			OutputFormat:  t.HTTP.OutputFormat,
		}, h, logger)

	case "openai":
		return transcription.NewOpenAIDispatcher(transcription.OpenAIConfig{
			APIKey:        t.OpenAI.APIKey,
			BaseURL:       t.OpenAI.BaseURL,
			Model:         t.OpenAI.Model,
			Language:      t.OpenAI.Language,
			Prompt:        t.OpenAI.Prompt,
			Timeout:       t.OpenAI.GetTimeoutDuration(),
			MaxConcurrent: t.OpenAI.MaxConcurrent,
		}, h, logger)

	default:
		return nil, fmt.Errorf("unknown transport kind %q", t.Kind)
	}
}

// sourceFactory returns a constructor for the configured PCM source.
// Every capture run gets a fresh source.
func sourceFactory(cfg *config.Config, logger *slog.Logger) func() (capture.Source, error) {
	return func() (capture.Source, error) {
		switch cfg.Capture.Source {
		case "file":
			return capture.NewFileSource(cfg.Capture.File,
				capture.WithPacing(cfg.Capture.Realtime),
				capture.WithFileLogger(logger),
			)
		case "microphone":
			return portaudio.New(logger), nil
		default:
			return nil, fmt.Errorf("unknown capture source %q", cfg.Capture.Source)
		}
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
