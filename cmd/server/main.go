package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/olehkv/voice-notes-service/internal/config"
	"github.com/olehkv/voice-notes-service/internal/metrics"
	"github.com/olehkv/voice-notes-service/internal/notes"
	"github.com/olehkv/voice-notes-service/internal/server"
	"github.com/olehkv/voice-notes-service/internal/session"
	"github.com/olehkv/voice-notes-service/internal/summary"
	"github.com/olehkv/voice-notes-service/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-notes-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_concurrent_sessions", cfg.Server.MaxConcurrentSessions),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Duration("silence_threshold", cfg.Audio.GetSilenceThreshold()),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("summarization_endpoint", cfg.Summarization.Endpoint),
		slog.String("data_dir", cfg.Store.DataDir),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Open the note store and, if enabled, the session archive
	noteStore, err := notes.Open(filepath.Join(cfg.Store.DataDir, "notes.json"))
	if err != nil {
		logger.Error("Failed to open note store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Note store opened",
		slog.String("data_dir", cfg.Store.DataDir),
		slog.Int("existing_notes", noteStore.Count()),
	)

	var archive *notes.Archive
	if cfg.Store.ArchiveEnabled {
		archive, err = notes.OpenArchive(filepath.Join(cfg.Store.DataDir, "archive.db"))
		if err != nil {
			logger.Error("Failed to open session archive", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer archive.Close()
		logger.Info("Session archive opened")
	}

	transcriptionClient, err := transcription.NewClient(transcription.Config{
		Endpoint:         cfg.Transcription.Endpoint,
		Model:            cfg.Transcription.Model,
		Language:         cfg.Transcription.Language,
		EngineSampleRate: cfg.Transcription.EngineSampleRate,
		Timeout:          cfg.Transcription.GetTimeoutDuration(),
		MaxConcurrent:    cfg.Transcription.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	summaryClient, err := summary.NewClient(summary.Config{
		Endpoint:   cfg.Summarization.Endpoint,
		Model:      cfg.Summarization.Model,
		Timeout:    cfg.Summarization.GetTimeoutDuration(),
		MaxRetries: cfg.Summarization.MaxRetries,
	})
	if err != nil {
		logger.Error("Failed to create summarization client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// A dead engine at startup is worth a warning, sessions degrade to
	// transcript-only notes either way
	checkCtx, checkCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := summaryClient.CheckConnection(checkCtx); err != nil {
		logger.Warn("Summarization engine unreachable at startup",
			slog.String("endpoint", cfg.Summarization.Endpoint),
			slog.String("error", err.Error()),
		)
	}
	checkCancel()

	sessionDeps := session.Dependencies{
		Transcriber: transcriptionClient,
		Summarizer:  summaryClient,
		Store:       noteStore,
		Metrics:     appMetrics,
	}
	if archive != nil {
		sessionDeps.Archive = archive
	}

	sessionMgr, err := session.NewManager(logger, session.Config{
		SampleRate:            cfg.Audio.SampleRate,
		SilenceThreshold:      cfg.Audio.GetSilenceThreshold(),
		FlushInterval:         cfg.Audio.GetFlushInterval(),
		FeedTimeout:           cfg.Audio.GetFeedTimeoutDuration(),
		TranscriptionTimeout:  cfg.Transcription.GetTimeoutDuration(),
		SummarizationTimeout:  cfg.Summarization.GetTimeoutDuration(),
		MaxConcurrentSessions: cfg.Server.MaxConcurrentSessions,
	}, sessionDeps)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("feed_timeout", cfg.Audio.GetFeedTimeoutDuration()),
		slog.Duration("silence_threshold", cfg.Audio.GetSilenceThreshold()),
	)

	udpServer := server.NewUDPServer(&cfg.Server, logger, sessionMgr, appMetrics)
	logger.Info("UDP server initialized")

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sessionMgr, udpServer,
			noteStore, transcriptionClient, summaryClient, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.UDPPort)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP first, then the frame feed, then finalize open sessions
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	sessionMgr.Shutdown()

	if err := transcriptionClient.Close(); err != nil {
		logger.Warn("Error closing transcription client", slog.String("error", err.Error()))
	}

	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Int("total_notes", noteStore.Count()),
	)

	logger.Info("Service stopped")
}

// initLogger creates the structured logger based on configuration
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
		// File output goes through a rotating writer
		output = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
