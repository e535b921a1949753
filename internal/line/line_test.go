package line

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"futures-bot/internal/bus"
	"futures-bot/internal/config"
	"futures-bot/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func envelope(t *testing.T, entity types.StreamEntity, symbol types.Symbol, data any) *bus.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := json.Marshal(bus.UpdatePayload{Entity: entity, Symbol: symbol, Data: raw})
	if err != nil {
		t.Fatal(err)
	}
	return &bus.Message{Action: bus.ActionUpdate, Payload: payload}
}

func TestClientDispatchesBook(t *testing.T) {
	t.Parallel()

	c := NewClient("amqp://test", []types.Symbol{"BTCUSDT"}, []types.StreamEntity{types.EntityBook}, testLogger())

	var gotSymbol types.Symbol
	var gotBook types.BookUpdate
	c.OnBook(func(symbol types.Symbol, book types.BookUpdate) {
		gotSymbol, gotBook = symbol, book
	})

	msg := envelope(t, types.EntityBook, "BTCUSDT", types.BookUpdate{Bid: dec("100"), Ask: dec("101")})
	c.handleMessage(context.Background(), "BTCUSDT.book", msg)

	if gotSymbol != "BTCUSDT" || !gotBook.Bid.Equal(dec("100")) {
		t.Errorf("book callback got %s %+v", gotSymbol, gotBook)
	}
}

func TestClientDispatchesTradeAndDepth(t *testing.T) {
	t.Parallel()

	c := NewClient("amqp://test", nil, nil, testLogger())

	var gotTrade types.TradeUpdate
	var gotDepth types.DepthUpdate
	c.OnTrade(func(_ types.Symbol, trade types.TradeUpdate) { gotTrade = trade })
	c.OnDepth(func(depth types.DepthUpdate) { gotDepth = depth })

	c.handleMessage(context.Background(), "ETHUSDT.trade",
		envelope(t, types.EntityTrade, "ETHUSDT", types.TradeUpdate{Price: dec("2000"), Quantity: dec("1"), Timestamp: 1_699_999_200_000}))
	if !gotTrade.Price.Equal(dec("2000")) {
		t.Errorf("trade = %+v", gotTrade)
	}

	// depth payload without its own symbol inherits the envelope's
	c.handleMessage(context.Background(), "ETHUSDT.depth",
		envelope(t, types.EntityDepth, "ETHUSDT", map[string]any{"U": 5, "u": 6}))
	if gotDepth.Symbol != "ETHUSDT" || gotDepth.FirstID != 5 {
		t.Errorf("depth = %+v", gotDepth)
	}
}

func TestClientAliveAndReset(t *testing.T) {
	t.Parallel()

	c := NewClient("amqp://test", nil, nil, testLogger())

	alive, reset := 0, 0
	c.OnAlive(func() { alive++ })
	c.OnReset(func() { reset++ })

	c.handleMessage(context.Background(), bus.KeyAlive, &bus.Message{Action: bus.ActionAlive})
	c.handleMessage(context.Background(), bus.KeyReset, &bus.Message{Action: bus.ActionReset})

	if alive != 1 || reset != 1 {
		t.Errorf("alive = %d, reset = %d", alive, reset)
	}
}

// memorySource is an in-memory update log.
type memorySource struct {
	logs []types.UpdateLog
}

func (m *memorySource) Count(_ context.Context, from, to types.Timestamp) (int64, error) {
	var n int64
	for _, l := range m.logs {
		if l.Timestamp >= from && l.Timestamp <= to {
			n++
		}
	}
	return n, nil
}

func (m *memorySource) Bounds(context.Context) (types.Timestamp, types.Timestamp, error) {
	if len(m.logs) == 0 {
		return 0, 0, nil
	}
	return m.logs[0].Timestamp, m.logs[len(m.logs)-1].Timestamp, nil
}

func (m *memorySource) Iterate(_ context.Context, from, to types.Timestamp, fn func(types.UpdateLog) error) error {
	for _, l := range m.logs {
		if l.Timestamp < from || l.Timestamp > to {
			continue
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func TestReplayerDispatchesInOrder(t *testing.T) {
	t.Parallel()

	base := types.Timestamp(1_699_999_200_000)
	source := &memorySource{logs: []types.UpdateLog{
		{Symbol: "BTCUSDT", Entity: types.EntityBook, Timestamp: base,
			Data: map[string]any{"b": "100", "a": "101"}},
		{Symbol: "BTCUSDT", Entity: types.EntityTrade, Timestamp: base + 5,
			Data: map[string]any{"p": "100.5", "q": "2", "t": float64(base + 5)}},
	}}

	r := NewReplayer(source, config.ReplayConfig{Speed: 0}, testLogger())

	var order []string
	r.OnBook(func(types.Symbol, types.BookUpdate) { order = append(order, "book") })
	r.OnTrade(func(_ types.Symbol, trade types.TradeUpdate) {
		order = append(order, "trade")
		if !trade.Price.Equal(dec("100.5")) {
			t.Errorf("trade = %+v", trade)
		}
	})
	done := false
	r.OnDone(func() { done = true })

	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "book" || order[1] != "trade" {
		t.Errorf("dispatch order = %v", order)
	}
	if !done {
		t.Error("done callback not fired")
	}
}

func TestReplayerHonorsRange(t *testing.T) {
	t.Parallel()

	base := types.Timestamp(1_699_999_200_000)
	source := &memorySource{logs: []types.UpdateLog{
		{Symbol: "BTCUSDT", Entity: types.EntityBook, Timestamp: base, Data: map[string]any{"b": "1", "a": "2"}},
		{Symbol: "BTCUSDT", Entity: types.EntityBook, Timestamp: base + 100, Data: map[string]any{"b": "3", "a": "4"}},
		{Symbol: "BTCUSDT", Entity: types.EntityBook, Timestamp: base + 200, Data: map[string]any{"b": "5", "a": "6"}},
	}}

	r := NewReplayer(source, config.ReplayConfig{From: base + 50, To: base + 150}, testLogger())
	count := 0
	r.OnBook(func(types.Symbol, types.BookUpdate) { count++ })

	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("dispatched = %d, want 1", count)
	}
}

func TestReplayerEmptyRange(t *testing.T) {
	t.Parallel()

	r := NewReplayer(&memorySource{}, config.ReplayConfig{From: 1, To: 2}, testLogger())
	if err := r.Run(context.Background()); err == nil {
		t.Error("want error for empty range")
	}
}
