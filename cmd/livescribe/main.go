package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/livescribe/internal/archive"
	"github.com/skypro1111/livescribe/internal/capture"
	"github.com/skypro1111/livescribe/internal/config"
	"github.com/skypro1111/livescribe/internal/metrics"
	"github.com/skypro1111/livescribe/internal/notify"
	"github.com/skypro1111/livescribe/internal/server"
	"github.com/skypro1111/livescribe/internal/session"
	"github.com/skypro1111/livescribe/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvPath    = ".env"
	serviceName       = "livescribe"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", defaultEnvPath, "Path to .env file (skipped when missing)")
	filePath := flag.String("file", "", "Transcribe this recording instead of the microphone")
	autoStart := flag.Bool("autostart", true, "Start capturing immediately")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment file: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *filePath != "" {
		cfg.Capture.Source = "file"
		cfg.Capture.File = *filePath
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Client starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("capture_source", cfg.Capture.Source),
		slog.String("strategy", cfg.Capture.Strategy),
		slog.Int("sample_rate", cfg.Capture.SampleRate),
		slog.String("chunk_policy", cfg.Chunking.Policy),
		slog.Float64("chunk_duration", cfg.Chunking.Duration),
		slog.Bool("gate_enabled", cfg.Gate.Enabled),
		slog.Float64("gate_threshold", cfg.Gate.Threshold),
		slog.String("transport", cfg.Transport.Kind),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetricsWithRuntime()
	notifier := notify.New(cfg.Notify.Enabled, logger)

	sessionConfig, err := buildSessionConfig(cfg)
	if err != nil {
		logger.Error("Invalid session configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sess, err := session.New(sessionConfig,
		session.WithLogger(logger),
		session.WithMetrics(appMetrics),
		session.WithEvents(session.Events{
			OnError:       notifier.SessionError,
			OnStateChange: func(st session.State) {
				logger.Debug("Session state changed", slog.String("state", st.String()))
			},
		}),
	)
	if err != nil {
		logger.Error("Failed to create session", slog.String("error", err.Error()))
		os.Exit(1)
	}

	dispatcher, err := newDispatcher(ctx, cfg, sess, logger)
	if err != nil {
		logger.Error("Failed to create transport", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sess.Bind(dispatcher)
	logger.Info("Transport initialized", slog.String("kind", cfg.Transport.Kind))

	// Query service readiness
	var statusClient *transcription.StatusClient
	if cfg.Status.URL != "" {
		statusClient = transcription.NewStatusClient(cfg.Status.URL, cfg.Status.GetTimeoutDuration())
		checkStatus(ctx, statusClient, sess, notifier, logger)
	}

	// Transcript archive
	writer := archive.NewWriter(cfg.Archive.Dir, cfg.Archive.Title)
	if retention := cfg.Archive.GetRetention(); retention > 0 {
		removed, err := writer.Prune(retention)
		if err != nil {
			logger.Warn("Failed to prune transcript files", slog.String("error", err.Error()))
		} else if removed > 0 {
			logger.Info("Pruned old transcript files", slog.Int("removed", removed))
		}
	}

	var store *archive.Store
	if cfg.Archive.StorePath != "" {
		store, err = archive.OpenStore(cfg.Archive.StorePath)
		if err != nil {
			logger.Error("Failed to open transcript archive", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer store.Close()
		logger.Info("Transcript archive opened", slog.String("path", cfg.Archive.StorePath))
	}

	newSource := sourceFactory(cfg, logger)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		deps := server.Dependencies{
			Session:   sess,
			NewSource: newSource,
			Writer:    writer,
			Store:     store,
			Notifier:  notifier,
			Metrics:   appMetrics,
		}
		if statusClient != nil {
			deps.Status = statusClient
		}
		httpServer = server.NewHTTPServer(ctx, cfg.HTTP, logger, cfg, deps)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if *autoStart {
		go startCapture(ctx, cfg, sess, newSource, logger)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Client started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop capture first so the final chunk still reaches the transport
	if err := sess.Stop(); err != nil {
		logger.Error("Error stopping session", slog.String("error", err.Error()))
	}

	if err := dispatcher.Close(); err != nil {
		logger.Error("Error closing transport", slog.String("error", err.Error()))
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	stats := sess.Stats()
	logger.Info("Final session statistics",
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("chunks_emitted", stats.ChunksEmitted),
		slog.Uint64("chunks_suppressed", stats.ChunksSuppressed),
		slog.Uint64("dispatch_failures", stats.DispatchFailures),
		slog.Uint64("segments_received", stats.SegmentsReceived),
		slog.Int("word_count", stats.WordCount),
	)

	logger.Info("Client stopped")
}

// checkStatus marks the session ready when the service already has a model loaded
func checkStatus(ctx context.Context, c *transcription.StatusClient, sess *session.Session,
	notifier *notify.Notifier, logger *slog.Logger) {

	status, err := c.Status(ctx)
	if err != nil {
		logger.Warn("Transcription service status unavailable", slog.String("error", err.Error()))
		return
	}

	logger.Info("Transcription service status",
		slog.Bool("gpu_available", status.GPUAvailable),
		slog.Bool("model_loaded", status.ModelLoaded),
		slog.Bool("model_loading", status.ModelLoading),
		slog.String("model_size", status.ModelSize),
	)

	if status.ModelLoaded {
		sess.MarkReady(status.ModelSize)
		notifier.ModelReady(status.ModelSize)
	}
}

// startCapture begins the configured capture, waiting for the model when required
func startCapture(ctx context.Context, cfg *config.Config, sess *session.Session,
	newSource func() (capture.Source, error), logger *slog.Logger) {

	start := func() error {
		if sess.Strategy() == session.NativeContainerCapture {
			blob, err := capture.LoadBlob(cfg.Capture.File)
			if err != nil {
				return err
			}
			return sess.SubmitBlob(ctx, blob)
		}

		source, err := newSource()
		if err != nil {
			return err
		}
		return sess.Start(ctx, source)
	}

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		err := start()
		if err == nil {
			return
		}
		if !errors.Is(err, session.ErrModelNotReady) {
			logger.Error("Failed to start capture", slog.String("error", err.Error()))
			return
		}

		logger.Debug("Waiting for transcription model")
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
