package types

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBookUpdateWire(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"b":"30000.1","a":"30000.2"}`)
	var b BookUpdate
	if err := json.Unmarshal(raw, &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !b.Bid.Equal(d("30000.1")) {
		t.Errorf("bid = %s, want 30000.1", b.Bid)
	}
	if !b.Ask.Equal(d("30000.2")) {
		t.Errorf("ask = %s, want 30000.2", b.Ask)
	}

	out, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"b":"30000.1","a":"30000.2"}` {
		t.Errorf("wire form = %s", out)
	}
}

func TestBookUpdatePrice(t *testing.T) {
	t.Parallel()

	b := BookUpdate{Bid: d("100"), Ask: d("101")}
	if !b.Price(BUY).Equal(d("100")) {
		t.Errorf("BUY price = %s, want bid 100", b.Price(BUY))
	}
	if !b.Price(SELL).Equal(d("101")) {
		t.Errorf("SELL price = %s, want ask 101", b.Price(SELL))
	}
}

func TestTradeUpdateWire(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"p":"42.5","q":"0.003","t":1699999200000,"m":true}`)
	var tr TradeUpdate
	if err := json.Unmarshal(raw, &tr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !tr.Price.Equal(d("42.5")) || !tr.Quantity.Equal(d("0.003")) {
		t.Errorf("decoded %s @ %s", tr.Quantity, tr.Price)
	}
	if tr.Timestamp != 1699999200000 {
		t.Errorf("timestamp = %d", tr.Timestamp)
	}
	if !tr.IsBuyerMaker {
		t.Error("IsBuyerMaker = false, want true")
	}
}

func TestDepthUpdateWire(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"s":"BTCUSDT","U":100,"u":105,"b":[["30000.1","1.5"]],"a":[["30000.2","0"]],"t":1699999200000}`)
	var du DepthUpdate
	if err := json.Unmarshal(raw, &du); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if du.Symbol != "BTCUSDT" || du.FirstID != 100 || du.LastID != 105 {
		t.Errorf("header = %s %d..%d", du.Symbol, du.FirstID, du.LastID)
	}
	if len(du.Bids) != 1 || !du.Bids[0].Price().Equal(d("30000.1")) || !du.Bids[0].Quantity().Equal(d("1.5")) {
		t.Errorf("bids = %v", du.Bids)
	}
	if len(du.Asks) != 1 || !du.Asks[0].Quantity().IsZero() {
		t.Errorf("asks = %v", du.Asks)
	}
}

func TestOrderIsProcessed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status    OrderStatus
		processed bool
		filled    bool
	}{
		{StatusNew, false, false},
		{StatusPartiallyFilled, false, false},
		{StatusFilled, true, true},
		{StatusCanceled, true, false},
		{StatusRejected, true, false},
		{StatusExpired, true, false},
	}
	for _, tc := range cases {
		o := &Order{Status: tc.status}
		if o.IsProcessed() != tc.processed {
			t.Errorf("%s: IsProcessed = %v, want %v", tc.status, o.IsProcessed(), tc.processed)
		}
		if o.IsFilled() != tc.filled {
			t.Errorf("%s: IsFilled = %v, want %v", tc.status, o.IsFilled(), tc.filled)
		}
	}
}

func TestOrderMerge(t *testing.T) {
	t.Parallel()

	o := &Order{
		ID:            1,
		ClientOrderID: "abc",
		Symbol:        "BTCUSDT",
		Status:        StatusNew,
		Side:          BUY,
		PositionSide:  PositionLong,
	}
	o.Merge(&Order{
		Status:    StatusFilled,
		Quantity:  d("0.5"),
		Price:     d("30000"),
		Timestamp: 1699999200000,
	})

	if o.Status != StatusFilled {
		t.Errorf("status = %s", o.Status)
	}
	if !o.Quantity.Equal(d("0.5")) || !o.Price.Equal(d("30000")) {
		t.Errorf("merged %s @ %s", o.Quantity, o.Price)
	}
	// empty fields must not clobber existing values
	if o.Side != BUY || o.ClientOrderID != "abc" {
		t.Errorf("merge clobbered identity fields: %+v", o)
	}
}

func TestPositionPnL(t *testing.T) {
	t.Parallel()

	book := BookUpdate{Bid: d("110"), Ask: d("111")}

	long := &Position{Side: PositionLong, EntryPrice: d("100"), Quantity: d("2")}
	if pnl := long.PnL(book); !pnl.Equal(d("20")) {
		t.Errorf("long pnl = %s, want 20", pnl)
	}

	short := &Position{Side: PositionShort, EntryPrice: d("100"), Quantity: d("2")}
	if pnl := short.PnL(book); !pnl.Equal(d("-22")) {
		t.Errorf("short pnl = %s, want -22", pnl)
	}
}

func TestPositionSides(t *testing.T) {
	t.Parallel()

	if PositionLong.EntrySide() != BUY || PositionLong.ExitSide() != SELL {
		t.Error("long entry/exit sides wrong")
	}
	if PositionShort.EntrySide() != SELL || PositionShort.ExitSide() != BUY {
		t.Error("short entry/exit sides wrong")
	}
}

func TestTimeframePeriods(t *testing.T) {
	t.Parallel()

	want := map[Timeframe]int64{
		TF1m: 60_000, TF5m: 300_000, TF15m: 900_000, TF30m: 1_800_000,
		TF1h: 3_600_000, TF4h: 14_400_000, TF6h: 21_600_000, TF1d: 86_400_000,
	}
	for tf, ms := range want {
		if tf.PeriodMs() != ms {
			t.Errorf("%s period = %d, want %d", tf, tf.PeriodMs(), ms)
		}
	}
	if Timeframe("2m").Valid() {
		t.Error("2m should be invalid")
	}
	if Timeframe("2m").PeriodMs() != 0 {
		t.Error("invalid timeframe period should be 0")
	}
}

func TestContractRounding(t *testing.T) {
	t.Parallel()

	c := Contract{
		PricePrecision:    1,
		QuantityPrecision: 3,
		TickSize:          d("0.1"),
		LotSize:           d("0.001"),
	}
	// quantities snap to the nearest lot-size multiple
	if got := c.RoundQuantity(d("0.123456")); !got.Equal(d("0.123")) {
		t.Errorf("RoundQuantity = %s, want 0.123", got)
	}
	if got := c.RoundQuantity(d("0.1239")); !got.Equal(d("0.124")) {
		t.Errorf("RoundQuantity = %s, want 0.124", got)
	}
	if got := c.RoundPrice(d("30000.19")); !got.Equal(d("30000.1")) {
		t.Errorf("RoundPrice = %s, want 30000.1", got)
	}

	coarse := Contract{QuantityPrecision: 0, LotSize: d("1")}
	if got := coarse.RoundQuantity(d("2.6")); !got.Equal(d("3")) {
		t.Errorf("RoundQuantity lot 1 = %s, want 3", got)
	}
}
