// futures-bot — an automated crypto futures trading bot.
//
// Architecture:
//
//	cmd/feed           — publishes venue market data onto the AMQP bus
//	cmd/feedlogger     — records bus traffic into MongoDB for replay
//	cmd/bot            — this binary: consumes the bus (or a replay of the
//	                     recorded feed), evaluates strategies and trades
//	engine/engine.go   — orchestrator: wires feed → market state → strategy → venue
//	market/            — per-symbol candles, indicators and order book depth
//	strategy/          — signal evaluation, trailing execution, stop loss,
//	                     take profit and startup reconciliation
//	exchange/          — venue REST clients, websocket streams and the replay fake
//	line/              — bus consumer and update-log replayer
//	storage/           — MongoDB repositories for orders, positions and the update log
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"futures-bot/internal/config"
	"futures-bot/internal/engine"
)

func main() {
	cfg, logger := mustLoad()

	eng := engine.New(*cfg, logger)
	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.Replay.Enabled {
		logger.Warn("REPLAY MODE — trading against recorded data, no real orders")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-eng.Done():
	}

	eng.Stop()
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
