package feed

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"futures-bot/internal/bus"
	"futures-bot/internal/config"
	"futures-bot/internal/exchange"
	"futures-bot/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeStream feeds canned events through the stream channels.
type fakeStream struct {
	trades     chan exchange.TradeEvent
	books      chan exchange.BookEvent
	depths     chan exchange.DepthEvent
	resets     chan struct{}
	reconnects int
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		trades: make(chan exchange.TradeEvent, 16),
		books:  make(chan exchange.BookEvent, 16),
		depths: make(chan exchange.DepthEvent, 16),
		resets: make(chan struct{}, 1),
	}
}

func (f *fakeStream) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
func (f *fakeStream) Reconnect()                         { f.reconnects++ }
func (f *fakeStream) Trades() <-chan exchange.TradeEvent { return f.trades }
func (f *fakeStream) Books() <-chan exchange.BookEvent   { return f.books }
func (f *fakeStream) Depths() <-chan exchange.DepthEvent { return f.depths }
func (f *fakeStream) Resets() <-chan struct{}            { return f.resets }

// recordingBus collects published envelopes.
type recordingBus struct {
	mu       sync.Mutex
	messages []publishedMsg
	notify   chan struct{}
}

type publishedMsg struct {
	key     string
	action  string
	payload any
}

func newRecordingBus() *recordingBus {
	return &recordingBus{notify: make(chan struct{}, 64)}
}

func (r *recordingBus) Publish(_ context.Context, key, action string, payload any) error {
	r.mu.Lock()
	r.messages = append(r.messages, publishedMsg{key: key, action: action, payload: payload})
	r.mu.Unlock()
	r.notify <- struct{}{}
	return nil
}

func (r *recordingBus) wait(t *testing.T, n int) []publishedMsg {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.messages) >= n {
			out := append([]publishedMsg(nil), r.messages...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d published messages", n)
		}
	}
}

func feedConfig() config.FeedConfig {
	return config.FeedConfig{AliveIntervalSec: 3600}
}

func TestPublisherForwardsTradesAndDedupsBooks(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	rec := newRecordingBus()
	p := NewPublisher(stream, rec, feedConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	now := types.Timestamp(time.Now().UnixMilli())
	stream.trades <- exchange.TradeEvent{Symbol: "BTCUSDT", Trade: types.TradeUpdate{Price: dec("100"), Quantity: dec("1"), Timestamp: now}}
	rec.wait(t, 1) // trade published before books are sent, so message order is deterministic

	book := types.BookUpdate{Bid: dec("99"), Ask: dec("101")}
	stream.books <- exchange.BookEvent{Symbol: "BTCUSDT", Book: book}
	stream.books <- exchange.BookEvent{Symbol: "BTCUSDT", Book: book} // unchanged, dropped
	stream.books <- exchange.BookEvent{Symbol: "BTCUSDT", Book: types.BookUpdate{Bid: dec("99.5"), Ask: dec("101")}}

	msgs := rec.wait(t, 3)
	if msgs[0].key != "BTCUSDT.trade" || msgs[0].action != bus.ActionUpdate {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].key != "BTCUSDT.book" || msgs[2].key != "BTCUSDT.book" {
		t.Errorf("book messages = %+v %+v", msgs[1], msgs[2])
	}

	payload, ok := msgs[1].payload.(bus.UpdatePayload)
	if !ok {
		t.Fatalf("payload type %T", msgs[1].payload)
	}
	var got types.BookUpdate
	if err := json.Unmarshal(payload.Data, &got); err != nil {
		t.Fatal(err)
	}
	if !got.Equal(book) {
		t.Errorf("book payload = %+v", got)
	}
}

func TestPublisherForwardsResets(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	rec := newRecordingBus()
	p := NewPublisher(stream, rec, feedConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	stream.resets <- struct{}{}
	msgs := rec.wait(t, 1)
	if msgs[0].key != bus.KeyReset || msgs[0].action != bus.ActionReset {
		t.Errorf("reset message = %+v", msgs[0])
	}
}

func TestPublisherSkewForcesReconnect(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	p := NewPublisher(stream, newRecordingBus(), feedConfig(), testLogger())

	stale := types.Timestamp(time.Now().Add(-time.Minute).UnixMilli())
	if !p.checkSkew(stale) {
		t.Error("stale event must be dropped")
	}
	if stream.reconnects != 1 {
		t.Errorf("reconnects = %d", stream.reconnects)
	}

	fresh := types.Timestamp(time.Now().UnixMilli())
	if p.checkSkew(fresh) {
		t.Error("fresh event must pass")
	}
}

// captureStore records bulk inserts.
type captureStore struct {
	mu      sync.Mutex
	batches [][]types.UpdateLog
	fail    bool
}

func (c *captureStore) BulkInsert(_ context.Context, logs []types.UpdateLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return context.DeadlineExceeded
	}
	c.batches = append(c.batches, logs)
	return nil
}

func TestLoggerFlushesQueue(t *testing.T) {
	t.Parallel()

	store := &captureStore{}
	l := NewLogger(store, time.Hour, testLogger())
	fixed := time.UnixMilli(1_699_999_200_000)
	l.now = func() time.Time { return fixed }

	l.LogBook("BTCUSDT", types.BookUpdate{Bid: dec("100"), Ask: dec("101")})
	l.LogTrade("BTCUSDT", types.TradeUpdate{Price: dec("100.5"), Quantity: dec("2"), Timestamp: 1_699_999_200_123})
	l.flush(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.batches) != 1 || len(store.batches[0]) != 2 {
		t.Fatalf("batches = %+v", store.batches)
	}

	book := store.batches[0][0]
	if book.Entity != types.EntityBook || book.Timestamp != 1_699_999_200_000 {
		t.Errorf("book record = %+v", book)
	}
	// wire form: decimals as strings
	if book.Data["b"] != "100" {
		t.Errorf("book data = %+v", book.Data)
	}
	trade := store.batches[0][1]
	if trade.Data["p"] != "100.5" {
		t.Errorf("trade data = %+v", trade.Data)
	}
}

func TestLoggerRequeuesFailedBatch(t *testing.T) {
	t.Parallel()

	store := &captureStore{fail: true}
	l := NewLogger(store, time.Hour, testLogger())

	l.LogBook("BTCUSDT", types.BookUpdate{Bid: dec("1"), Ask: dec("2")})
	l.flush(context.Background())

	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()

	l.flush(context.Background())
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.batches) != 1 || len(store.batches[0]) != 1 {
		t.Fatalf("failed batch was not requeued: %+v", store.batches)
	}
}

func TestLoggerEmptyFlushWritesNothing(t *testing.T) {
	t.Parallel()

	store := &captureStore{}
	l := NewLogger(store, time.Hour, testLogger())
	l.flush(context.Background())
	if len(store.batches) != 0 {
		t.Errorf("batches = %+v", store.batches)
	}
}
