// logger.go records bus traffic into the update log collection so replay
// runs can rebuild the exact live feed later.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"futures-bot/pkg/types"
)

// UpdateLogStore appends recorded updates. *storage.UpdateLogs satisfies
// it.
type UpdateLogStore interface {
	BulkInsert(ctx context.Context, logs []types.UpdateLog) error
}

// Logger queues feed events and flushes them to storage in bulk on a
// fixed interval. Record timestamps are wall clock, so replay ordering
// across symbols and entities matches what the bot actually saw.
type Logger struct {
	store    UpdateLogStore
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	queue []types.UpdateLog

	now func() time.Time
}

// NewLogger creates a feed logger flushing every interval.
func NewLogger(store UpdateLogStore, interval time.Duration, logger *slog.Logger) *Logger {
	return &Logger{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "feed_logger"),
		now:      time.Now,
	}
}

// LogBook queues a best bid/ask update.
func (l *Logger) LogBook(symbol types.Symbol, book types.BookUpdate) {
	l.enqueue(symbol, types.EntityBook, book)
}

// LogTrade queues a trade.
func (l *Logger) LogTrade(symbol types.Symbol, trade types.TradeUpdate) {
	l.enqueue(symbol, types.EntityTrade, trade)
}

// LogDepth queues a depth diff.
func (l *Logger) LogDepth(depth types.DepthUpdate) {
	l.enqueue(depth.Symbol, types.EntityDepth, depth)
}

func (l *Logger) enqueue(symbol types.Symbol, entity types.StreamEntity, data any) {
	wire, err := toWireMap(data)
	if err != nil {
		l.logger.Error("encode update", "entity", entity, "symbol", symbol, "error", err)
		return
	}
	record := types.UpdateLog{
		Symbol:    symbol,
		Entity:    entity,
		Timestamp: types.Timestamp(l.now().UnixMilli()),
		Data:      wire,
	}
	l.mu.Lock()
	l.queue = append(l.queue, record)
	l.mu.Unlock()
}

// Run flushes the queue on the configured interval until ctx is
// cancelled, then flushes once more.
func (l *Logger) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			l.flush(ctx)
		}
	}
}

func (l *Logger) flush(ctx context.Context) {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := l.store.BulkInsert(ctx, batch); err != nil {
		l.logger.Error("bulk insert failed", "count", len(batch), "error", err)
		// put the batch back so the next flush retries it
		l.mu.Lock()
		l.queue = append(batch, l.queue...)
		l.mu.Unlock()
		return
	}
	l.logger.Info("wrote updates", "count", len(batch))
}

// toWireMap renders a typed entity into its wire form (decimals as
// strings), the shape the replayer decodes back.
func toWireMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return m, nil
}
