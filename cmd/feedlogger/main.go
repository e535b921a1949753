// feedlogger — records bus traffic into the MongoDB update log.
//
// It subscribes to the same routing keys a bot would and persists every
// book, trade and depth event with a wall clock timestamp. Replay runs
// read this collection back to reproduce the live feed exactly.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futures-bot/internal/config"
	"futures-bot/internal/feed"
	"futures-bot/internal/line"
	"futures-bot/internal/storage"
)

func main() {
	cfg, logger := mustLoad()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Connect(ctx, cfg.Mongo, logger)
	if err != nil {
		logger.Error("failed to connect storage", "error", err)
		os.Exit(1)
	}

	recorder := feed.NewLogger(
		store.UpdateLogs(),
		time.Duration(cfg.Feed.BulkIntervalSec)*time.Second,
		logger,
	)

	client := line.NewClient(cfg.Broker.AmqpURI, cfg.Feed.Symbols, cfg.Feed.Entities, logger)
	client.OnBook(recorder.LogBook)
	client.OnTrade(recorder.LogTrade)
	client.OnDepth(recorder.LogDepth)
	client.OnReset(func() { logger.Warn("feed reset observed") })

	done := make(chan error, 2)
	go func() { done <- client.Run(ctx) }()
	go func() { done <- recorder.Run(ctx) }()

	logger.Info("feed logger started",
		"symbols", cfg.Feed.Symbols,
		"entities", cfg.Feed.Entities,
		"flush_interval_sec", cfg.Feed.BulkIntervalSec,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-done:
		if err != nil && ctx.Err() == nil {
			logger.Error("feed logger stopped", "error", err)
		}
	}
	cancel()
	<-done

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := store.Close(closeCtx); err != nil {
		logger.Error("close storage", "error", err)
	}
}

// mustLoad reads the config and builds the root logger, exiting on error.
func mustLoad() (*config.Config, *slog.Logger) {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BOT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return cfg, slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
