// feed — bridges the venue market websocket onto the AMQP bus.
//
// One feed instance serves every bot consuming the bus: it subscribes to
// the configured symbols and entities, deduplicates unchanged books,
// heartbeats consumers and signals a reset whenever it has to rebuild the
// upstream connection.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"futures-bot/internal/bus"
	"futures-bot/internal/config"
	"futures-bot/internal/exchange"
	"futures-bot/internal/feed"
)

func main() {
	cfg, logger := mustLoad()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := exchange.NewMarketStream(
		exchange.StreamURL(cfg.Exchange),
		cfg.Feed.Symbols,
		cfg.Feed.Entities,
		logger,
	)
	pub := bus.NewPublisher(cfg.Broker.AmqpURI, logger)
	defer pub.Close()

	publisher := feed.NewPublisher(stream, pub, cfg.Feed, logger)

	done := make(chan error, 1)
	go func() { done <- publisher.Run(ctx) }()

	logger.Info("feed publisher started",
		"symbols", cfg.Feed.Symbols,
		"entities", cfg.Feed.Entities,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		<-done
	case err := <-done:
		if err != nil && ctx.Err() == nil {
			logger.Error("publisher stopped", "error", err)
			os.Exit(1)
		}
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
