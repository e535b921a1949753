// Package feed hosts the two feed-side services: the publisher, which
// bridges the venue websocket onto the AMQP bus, and the logger, which
// records bus traffic into storage for later replay.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"futures-bot/internal/bus"
	"futures-bot/internal/config"
	"futures-bot/internal/exchange"
	"futures-bot/pkg/types"
)

const (
	// Event-time lag thresholds: warn past the first, force a stream
	// reconnect past the second.
	skewWarn  = 5 * time.Second
	skewReset = 30 * time.Second

	skewWarnEvery = 10 * time.Second
	statsInterval = time.Minute
)

// StreamSource is the venue market stream. *exchange.MarketStream
// satisfies it.
type StreamSource interface {
	Run(ctx context.Context) error
	Reconnect()
	Trades() <-chan exchange.TradeEvent
	Books() <-chan exchange.BookEvent
	Depths() <-chan exchange.DepthEvent
	Resets() <-chan struct{}
}

// BusPublisher publishes envelopes onto the bus. *bus.Publisher
// satisfies it.
type BusPublisher interface {
	Publish(ctx context.Context, key, action string, payload any) error
}

// Publisher forwards stream events onto the bus, deduplicates unchanged
// books, heartbeats consumers and watches its own event-time lag.
type Publisher struct {
	stream        StreamSource
	bus           BusPublisher
	aliveInterval time.Duration
	logger        *slog.Logger

	lastBooks    map[types.Symbol]types.BookUpdate
	published    int
	lastSkewWarn time.Time
}

// NewPublisher wires a market stream to the bus.
func NewPublisher(stream StreamSource, pub BusPublisher, cfg config.FeedConfig, logger *slog.Logger) *Publisher {
	return &Publisher{
		stream:        stream,
		bus:           pub,
		aliveInterval: time.Duration(cfg.AliveIntervalSec) * time.Second,
		logger:        logger.With("component", "feed_publisher"),
		lastBooks:     make(map[types.Symbol]types.BookUpdate),
	}
}

// Run pumps stream events onto the bus until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	streamErr := make(chan error, 1)
	go func() { streamErr <- p.stream.Run(ctx) }()

	alive := time.NewTicker(p.aliveInterval)
	defer alive.Stop()
	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-streamErr:
			return err

		case <-p.stream.Resets():
			// consumers reload their snapshots
			p.publish(ctx, bus.KeyReset, bus.ActionReset, nil)

		case evt := <-p.stream.Trades():
			if p.checkSkew(evt.Trade.Timestamp) {
				continue
			}
			p.publishUpdate(ctx, types.EntityTrade, evt.Symbol, evt.Trade)

		case evt := <-p.stream.Books():
			if last, ok := p.lastBooks[evt.Symbol]; ok && last.Equal(evt.Book) {
				continue
			}
			p.lastBooks[evt.Symbol] = evt.Book
			p.publishUpdate(ctx, types.EntityBook, evt.Symbol, evt.Book)

		case evt := <-p.stream.Depths():
			p.publishUpdate(ctx, types.EntityDepth, evt.Depth.Symbol, evt.Depth)

		case <-alive.C:
			p.publish(ctx, bus.KeyAlive, bus.ActionAlive, nil)

		case <-stats.C:
			p.logger.Info("published items", "count", p.published)
			p.published = 0
		}
	}
}

// checkSkew watches how far the stream lags wall clock. Past the reset
// threshold the stream is forced to reconnect and the event dropped.
func (p *Publisher) checkSkew(ts types.Timestamp) bool {
	skew := time.Since(time.UnixMilli(int64(ts)))
	if skew < skewWarn {
		return false
	}
	if time.Since(p.lastSkewWarn) >= skewWarnEvery {
		p.lastSkewWarn = time.Now()
		p.logger.Warn("stream lagging behind", "skew", skew.Round(time.Millisecond))
	}
	if skew >= skewReset {
		p.logger.Warn("stream skew over limit, forcing reconnect", "skew", skew.Round(time.Second))
		p.stream.Reconnect()
		return true
	}
	return false
}

func (p *Publisher) publishUpdate(ctx context.Context, entity types.StreamEntity, symbol types.Symbol, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		p.logger.Error("marshal update", "entity", entity, "symbol", symbol, "error", err)
		return
	}
	payload := bus.UpdatePayload{Entity: entity, Symbol: symbol, Data: raw}
	p.publish(ctx, bus.UpdateKey(symbol, entity), bus.ActionUpdate, payload)
}

func (p *Publisher) publish(ctx context.Context, key, action string, payload any) {
	if err := p.bus.Publish(ctx, key, action, payload); err != nil {
		p.logger.Error("publish failed", "key", key, "error", err)
		return
	}
	p.published++
}
