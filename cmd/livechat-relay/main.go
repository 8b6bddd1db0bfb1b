// Package main provides the reference chat relay: a WebSocket endpoint that
// streams replies from an LLM provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/livechat/internal/config"
	"github.com/raphaelgruber/livechat/internal/llm"
	"github.com/raphaelgruber/livechat/internal/metrics"
	"github.com/raphaelgruber/livechat/internal/relay"
)

var _ relay.Generator = (*llm.Model)(nil)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "YAML config file")
	addr := flag.String("addr", "", "listen address (overrides LIVECHAT_RELAY_ADDR)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.RelayAddr = *addr
	}

	// Initialize logging
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	slog.Info("starting livechat-relay", "addr", cfg.RelayAddr, "provider", cfg.LLMProvider)

	gen, err := newGenerator(cfg, logger)
	if err != nil {
		slog.Error("failed to create generator", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()

	// Setup routes
	mux := http.NewServeMux()
	mux.Handle("/chat", relay.NewHandler(relay.Options{
		Generator: relay.WithLogging(gen, logger),
		Metrics:   collector,
	}, logger))

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	// Create HTTP server. Write timeouts would cut long-lived sockets.
	httpServer := &http.Server{
		Addr:              cfg.RelayAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("chat endpoint available", "url", fmt.Sprintf("ws://localhost%s/chat", cfg.RelayAddr))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	snap := collector.Snapshot()
	slog.Info("server stopped", "uptime_seconds", snap.UptimeSeconds, "frames_in", snap.FramesIn, "frames_out", snap.FramesOut)
}

func newGenerator(cfg config.Config, logger *slog.Logger) (relay.Generator, error) {
	if cfg.LLMProvider == config.ProviderEcho {
		return relay.Echo{Delay: 30 * time.Millisecond}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return llm.NewModel(ctx, cfg, logger)
}
