// Package engine wires the trading bot together.
//
// Live mode: market updates arrive from the AMQP bus, account and order
// events from the venue user stream, and orders go to the signed REST
// client. Replay mode swaps the bus for the recorded update log and the
// venue for an in-process fake that fills at the replayed book price, so
// the exact same strategy code runs in both.
//
// Lifecycle: New() → Start() → [runs until SIGINT or replay end] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"futures-bot/internal/config"
	"futures-bot/internal/exchange"
	"futures-bot/internal/line"
	"futures-bot/internal/market"
	"futures-bot/internal/storage"
	"futures-bot/internal/strategy"
	"futures-bot/pkg/types"
)

const (
	// pollInterval drives the unconfirmed-order poll loop.
	pollInterval = time.Second

	// tradeSkewWarn is how far behind wall clock a live trade may run
	// before we complain; tradeSkewFatal shuts the bot down because it
	// is evaluating a market that no longer exists.
	tradeSkewWarn  = 2 * time.Second
	tradeSkewFatal = 10 * time.Second
	skewWarnEvery  = 10 * time.Second
)

// feedSource delivers market updates. Both the live bus client and the
// replayer satisfy it.
type feedSource interface {
	Run(ctx context.Context) error
	OnBook(fn func(types.Symbol, types.BookUpdate))
	OnTrade(fn func(types.Symbol, types.TradeUpdate))
	OnDepth(fn func(types.DepthUpdate))
	OnAlive(fn func())
	OnReset(fn func())
}

// Engine owns the lifecycle of every component and goroutine.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	rest   *exchange.Client
	state  *market.State
	events *exchange.UserEvents

	store      *storage.Client
	strat      *strategy.Strategy
	source     feedSource
	userStream *exchange.UserStream // nil in replay mode

	// lastSkewWarn throttles stale-trade warnings. Only touched from the
	// feed dispatch goroutine.
	lastSkewWarn time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the engine. No I/O happens until Start.
func New(cfg config.Config, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		logger: logger.With("component", "engine"),
		rest:   exchange.NewClient(cfg.Exchange, logger),
		state:  market.NewState(cfg.Feed.Symbols, cfg.Market.CandlesLimit, cfg.Market.DepthLimit, logger),
		events: exchange.NewUserEvents(logger),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Done closes when the engine decides to stop on its own: replay
// completion or a fatal feed skew.
func (e *Engine) Done() <-chan struct{} { return e.ctx.Done() }

// Start connects storage, preloads market state, reconciles the account
// and launches all background goroutines.
func (e *Engine) Start() error {
	store, err := storage.Connect(e.ctx, e.cfg.Mongo, e.logger)
	if err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}
	e.store = store

	if err := e.state.Preload(e.ctx, e.rest); err != nil {
		return fmt.Errorf("preload market state: %w", err)
	}

	venue := e.buildVenue()
	handler := strategy.NewCommandHandler(venue, store.Orders(), store.Positions(), e.logger)
	e.strat = strategy.NewStrategy(
		e.cfg.Strategies, venue, e.state,
		strategy.NewLocalStorage(), handler, store.Positions(), e.logger,
	)
	if err := e.strat.Start(e.ctx); err != nil {
		return fmt.Errorf("start strategy: %w", err)
	}

	e.source = e.buildSource()
	e.source.OnBook(e.handleBook)
	e.source.OnTrade(e.handleTrade)
	e.source.OnDepth(e.handleDepth)
	e.source.OnAlive(func() { e.logger.Debug("feed alive") })
	e.source.OnReset(e.handleReset)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.source.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("feed source stopped", "error", err)
			e.cancel()
		}
	}()

	if e.userStream != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.userStream.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("user stream stopped", "error", err)
				e.cancel()
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchUserEvents()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollWaiting()
	}()

	e.logger.Info("engine started",
		"symbols", e.cfg.Feed.Symbols,
		"strategies", len(e.cfg.Strategies),
		"replay", e.cfg.Replay.Enabled,
	)
	return nil
}

// buildVenue returns the live signed client or the replay fake.
func (e *Engine) buildVenue() strategy.Venue {
	if e.cfg.Replay.Enabled {
		return exchange.NewFakeUserClient(e.state, e.events, e.logger)
	}
	user := exchange.NewUserClient(e.cfg.Exchange, e.logger)
	e.userStream = exchange.NewUserStream(exchange.StreamURL(e.cfg.Exchange), user, e.events, e.logger)
	return user
}

// buildSource returns the bus subscription or the update log replayer.
func (e *Engine) buildSource() feedSource {
	if e.cfg.Replay.Enabled {
		replayer := line.NewReplayer(e.store.UpdateLogs(), e.cfg.Replay, e.logger)
		replayer.OnDone(func() {
			e.logger.Info("replay finished")
			e.cancel()
		})
		return replayer
	}
	return line.NewClient(e.cfg.Broker.AmqpURI, e.cfg.Feed.Symbols, e.cfg.Feed.Entities, e.logger)
}

// Stop shuts everything down and waits for the goroutines.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.wg.Wait()

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.Close(ctx); err != nil {
			e.logger.Error("close storage", "error", err)
		}
	}
	e.logger.Info("shutdown complete")
}

// ————————————————————————————————————————————————————————————————————————
// Feed event handlers
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) handleBook(symbol types.Symbol, book types.BookUpdate) {
	e.state.UpdateBook(symbol, book)
	e.strat.OnBook(e.ctx, symbol, book)
}

func (e *Engine) handleTrade(symbol types.Symbol, trade types.TradeUpdate) {
	if !e.cfg.Replay.Enabled {
		e.checkTradeSkew(trade)
	}
	for _, tick := range e.state.UpdateCandles(symbol, trade) {
		if tick == types.TickNewCandle {
			e.strat.OnCandles(e.ctx, symbol)
			return
		}
	}
}

// checkTradeSkew guards against trading on a lagging feed. A badly stale
// feed stops the bot; durable state survives, the positions do not close.
func (e *Engine) checkTradeSkew(trade types.TradeUpdate) {
	skew := time.Since(time.UnixMilli(int64(trade.Timestamp)))
	if skew < tradeSkewWarn {
		return
	}
	if skew >= tradeSkewFatal {
		e.logger.Error("feed is too far behind, stopping", "skew", skew)
		e.cancel()
		return
	}
	if time.Since(e.lastSkewWarn) >= skewWarnEvery {
		e.lastSkewWarn = time.Now()
		e.logger.Warn("feed is lagging", "skew", skew)
	}
}

func (e *Engine) handleDepth(depth types.DepthUpdate) {
	e.state.UpdateDepth(depth)
	for _, symbol := range e.state.DepthGaps() {
		if e.cfg.Replay.Enabled {
			// the replayed feed repeats the gap the live run saw; the
			// book stays down until the recorded reset arrives
			e.logger.Warn("depth gap during replay", "symbol", symbol)
			continue
		}
		if err := e.state.ReloadDepth(e.ctx, e.rest, symbol); err != nil {
			e.logger.Error("reload depth failed", "symbol", symbol, "error", err)
		}
	}
}

// handleReset re-snapshots market state after the publisher reconnected.
func (e *Engine) handleReset() {
	if e.cfg.Replay.Enabled {
		return
	}
	e.logger.Warn("feed reset, reloading market state")
	if err := e.state.Preload(e.ctx, e.rest); err != nil {
		e.logger.Error("reload market state failed", "error", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Account event pump and order polling
// ————————————————————————————————————————————————————————————————————————

// dispatchUserEvents feeds venue account activity into the strategy. In
// replay mode the fake venue emits on the same channels.
func (e *Engine) dispatchUserEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case acc := <-e.events.Accounts():
			e.strat.Local().ApplyAccount(acc)
		case order := <-e.events.Orders():
			e.strat.Handler().UpdateOrder(e.ctx, order)
		case cfg := <-e.events.Configs():
			e.strat.Local().SetLeverage(cfg.Symbol, cfg.Leverage)
		}
	}
}

// pollWaiting confirms placed orders that the user stream has not
// reported yet.
func (e *Engine) pollWaiting() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.strat.Handler().PollWaiting(e.ctx)
		}
	}
}
