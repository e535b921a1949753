package market

import (
	"testing"

	"github.com/shopspring/decimal"

	"futures-bot/pkg/types"
)

// baseTS is an exact half-hour boundary (UTC), so seeded candles land on
// it regardless of timeframe.
const baseTS = types.Timestamp(1_699_999_200_000)

const minuteMs = 60_000

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func trade(price, qty string, ts types.Timestamp) types.TradeUpdate {
	return types.TradeUpdate{Price: dec(price), Quantity: dec(qty), Timestamp: ts}
}

func flatCandle(ts types.Timestamp, price string) types.Candle {
	p := dec(price)
	return types.Candle{Timestamp: ts, Open: p, High: p, Low: p, Close: p, Volume: decimal.Zero}
}

func TestSeriesSeed(t *testing.T) {
	t.Parallel()

	s := NewSeries(types.TF1m, 100)
	if tick := s.Update(trade("100", "2", baseTS+12_345)); tick != types.TickNone {
		t.Errorf("first tick = %s, want none", tick)
	}

	c, ok := s.Last()
	if !ok {
		t.Fatal("no candle after seed")
	}
	if c.Timestamp != baseTS {
		t.Errorf("seed timestamp = %d, want half-hour boundary %d", c.Timestamp, baseTS)
	}
	if !c.Open.Equal(dec("100")) || !c.Close.Equal(dec("100")) {
		t.Errorf("seed candle = %+v", c)
	}
	if !c.Volume.IsZero() {
		t.Errorf("seed volume = %s, want 0 (first quantity discarded)", c.Volume)
	}
}

func TestSeriesSameCandle(t *testing.T) {
	t.Parallel()

	s := NewSeries(types.TF1m, 100)
	s.Update(trade("100", "1", baseTS))

	if tick := s.Update(trade("105", "2", baseTS+10_000)); tick != types.TickSameCandle {
		t.Errorf("tick = %s, want same candle", tick)
	}
	if tick := s.Update(trade("95", "3", baseTS+20_000)); tick != types.TickSameCandle {
		t.Errorf("tick = %s, want same candle", tick)
	}

	c, _ := s.Last()
	if !c.Open.Equal(dec("100")) || !c.High.Equal(dec("105")) ||
		!c.Low.Equal(dec("95")) || !c.Close.Equal(dec("95")) {
		t.Errorf("candle = %+v", c)
	}
	if !c.Volume.Equal(dec("5")) {
		t.Errorf("volume = %s, want 5", c.Volume)
	}
	if s.Len() != 1 {
		t.Errorf("len = %d", s.Len())
	}
}

func TestSeriesNewCandle(t *testing.T) {
	t.Parallel()

	s := NewSeries(types.TF1m, 100)
	s.Update(trade("100", "1", baseTS))

	if tick := s.Update(trade("101", "4", baseTS+minuteMs+5_000)); tick != types.TickNewCandle {
		t.Errorf("tick = %s, want new candle", tick)
	}

	c, _ := s.Last()
	if c.Timestamp != baseTS+minuteMs {
		t.Errorf("new candle timestamp = %d, want %d", c.Timestamp, baseTS+minuteMs)
	}
	if !c.Open.Equal(dec("101")) || !c.Volume.Equal(dec("4")) {
		t.Errorf("new candle = %+v", c)
	}
	if s.Len() != 2 {
		t.Errorf("len = %d", s.Len())
	}
}

func TestSeriesMissingCandles(t *testing.T) {
	t.Parallel()

	s := NewSeries(types.TF1m, 100)
	s.Update(trade("100", "1", baseTS))
	s.Update(trade("110", "1", baseTS+30_000))

	// three full periods of silence
	if tick := s.Update(trade("120", "9", baseTS+3*minuteMs)); tick != types.TickMissingCandle {
		t.Errorf("tick = %s, want missing candle", tick)
	}

	// two flat candles were synthesized from the last close, the trade
	// itself did not open a candle
	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
	for i := 1; i <= 2; i++ {
		c, _ := s.At(i)
		if c.Timestamp != baseTS+types.Timestamp(i*minuteMs) {
			t.Errorf("gap candle %d timestamp = %d", i, c.Timestamp)
		}
		if !c.Open.Equal(dec("110")) || !c.Close.Equal(dec("110")) || !c.Volume.IsZero() {
			t.Errorf("gap candle %d = %+v, want flat at 110", i, c)
		}
	}

	// the same trade now lands one period after the last gap candle
	if tick := s.Update(trade("120", "9", baseTS+3*minuteMs)); tick != types.TickNewCandle {
		t.Errorf("follow-up tick = %s, want new candle", tick)
	}
	c, _ := s.Last()
	if c.Timestamp != baseTS+3*minuteMs || !c.Volume.Equal(dec("9")) {
		t.Errorf("follow-up candle = %+v", c)
	}
}

func TestSeriesLimit(t *testing.T) {
	t.Parallel()

	s := NewSeries(types.TF1m, 3)
	for i := 0; i < 6; i++ {
		s.Update(trade("100", "1", baseTS+types.Timestamp(i*minuteMs)))
	}
	if s.Len() != 3 {
		t.Errorf("len = %d, want limit 3", s.Len())
	}
	oldest, _ := s.At(0)
	if oldest.Timestamp != baseTS+3*minuteMs {
		t.Errorf("oldest = %d, want %d", oldest.Timestamp, baseTS+3*minuteMs)
	}
}

func TestSeriesNegativeIndex(t *testing.T) {
	t.Parallel()

	s := NewSeries(types.TF1m, 100)
	for i := 0; i < 3; i++ {
		s.Update(trade("100", "1", baseTS+types.Timestamp(i*minuteMs)))
	}

	last, ok := s.At(-1)
	if !ok || last.Timestamp != baseTS+2*minuteMs {
		t.Errorf("At(-1) = %+v, %v", last, ok)
	}
	first, ok := s.At(-3)
	if !ok || first.Timestamp != baseTS {
		t.Errorf("At(-3) = %+v, %v", first, ok)
	}
	if _, ok := s.At(-4); ok {
		t.Error("At(-4) must be out of range")
	}
}

func TestSeriesSetSnapshotFillsGaps(t *testing.T) {
	t.Parallel()

	s := NewSeries(types.TF1m, 100)
	s.SetSnapshot([]types.Candle{
		flatCandle(baseTS, "100"),
		{
			Timestamp: baseTS + 3*minuteMs,
			Open:      dec("101"), High: dec("102"), Low: dec("100"), Close: dec("101"),
			Volume: dec("7"),
		},
	})

	if s.Len() != 4 {
		t.Fatalf("len = %d, want 4 (2 snapshot + 2 gap)", s.Len())
	}
	for i := 1; i <= 2; i++ {
		c, _ := s.At(i)
		if !c.Open.Equal(dec("100")) || !c.Close.Equal(dec("100")) || !c.Volume.IsZero() {
			t.Errorf("gap candle %d = %+v", i, c)
		}
	}
	last, _ := s.Last()
	if last.Timestamp != baseTS+3*minuteMs || !last.Volume.Equal(dec("7")) {
		t.Errorf("last = %+v, snapshot tail must survive", last)
	}
}

func TestSeriesSetSnapshotTrimsToLimit(t *testing.T) {
	t.Parallel()

	s := NewSeries(types.TF1m, 2)
	s.SetSnapshot([]types.Candle{
		flatCandle(baseTS, "100"),
		flatCandle(baseTS+minuteMs, "101"),
		flatCandle(baseTS+2*minuteMs, "102"),
	})
	if s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}
	last, _ := s.Last()
	if !last.Close.Equal(dec("102")) {
		t.Errorf("last close = %s", last.Close)
	}
}
