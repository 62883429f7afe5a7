package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/livescribe/internal/mockservice"
)

func main() {
	addr := flag.String("addr", "localhost:5000", "Listen address")
	text := flag.String("text", "test transcription", "Text returned for every chunk")
	language := flag.String("language", "en", "Reported language")
	model := flag.String("model", "base", "Reported model size")
	latency := flag.Duration("latency", 200*time.Millisecond, "Simulated processing time per chunk")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	svc := mockservice.New(mockservice.Config{
		Text:      *text,
		Language:  *language,
		ModelSize: *model,
		Latency:   *latency,
	}, logger)

	srv := &http.Server{
		Addr:        *addr,
		Handler:     svc.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("Mock transcription service starting",
			slog.String("websocket", "ws://"+*addr+"/ws"),
			slog.String("http", "http://"+*addr+"/transcribe"),
			slog.String("status", "http://"+*addr+"/status"),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error", slog.String("error", err.Error()))
	}
}
