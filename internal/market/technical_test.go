package market

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"futures-bot/pkg/types"
)

// seriesOf builds a series from closes one minute apart, with highs one
// above and lows one below the close.
func seriesOf(closes []float64, volumes []float64) *Series {
	candles := make([]types.Candle, len(closes))
	for i, c := range closes {
		vol := 1.0
		if volumes != nil {
			vol = volumes[i]
		}
		candles[i] = types.Candle{
			Timestamp: baseTS + types.Timestamp(i*minuteMs),
			Open:      decimal.NewFromFloat(c),
			High:      decimal.NewFromFloat(c + 1),
			Low:       decimal.NewFromFloat(c - 1),
			Close:     decimal.NewFromFloat(c),
			Volume:    decimal.NewFromFloat(vol),
		}
	}
	s := NewSeries(types.TF1m, len(closes))
	s.SetSnapshot(candles)
	return s
}

func wantValue(t *testing.T, values map[string]Value, field string, want float64) {
	t.Helper()
	v, ok := values[field]
	if !ok {
		t.Fatalf("field %s missing from %v", field, values)
	}
	if !v.Defined {
		t.Fatalf("field %s undefined", field)
	}
	if got := v.Float(); math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", field, got, want)
	}
}

func wantUndefined(t *testing.T, values map[string]Value, field string) {
	t.Helper()
	if v := values[field]; v.Defined {
		t.Errorf("%s = %v, want undefined", field, v.Float())
	}
}

func TestIndicatorSMA(t *testing.T) {
	t.Parallel()

	s := seriesOf([]float64{10, 20, 30, 40, 50}, nil)
	params := map[string]int{"period": 5}

	first, err := s.Indicator("sma", params, 0)
	if err != nil {
		t.Fatal(err)
	}
	wantValue(t, first, "sma_5", 10) // partial window still yields a mean

	last, _ := s.Indicator("sma", params, -1)
	wantValue(t, last, "sma_5", 30)
}

func TestIndicatorMAStrictWindow(t *testing.T) {
	t.Parallel()

	s := seriesOf([]float64{10, 20, 30, 40, 50}, nil)
	params := map[string]int{"period": 5}

	early, err := s.Indicator("ma", params, 3)
	if err != nil {
		t.Fatal(err)
	}
	wantUndefined(t, early, "ma_5")

	last, _ := s.Indicator("ma", params, -1)
	wantValue(t, last, "ma_5", 30)

	if _, err := s.Indicator("ma", map[string]int{"period": 4}, -1); err == nil {
		t.Error("want error for period below 5")
	}
}

func TestIndicatorEMA(t *testing.T) {
	t.Parallel()

	s := seriesOf([]float64{10, 20, 30}, nil)
	params := map[string]int{"period": 5} // alpha = 1/3

	values, err := s.Indicator("ema", params, -1)
	if err != nil {
		t.Fatal(err)
	}
	// 10 -> 13.333... -> 18.888...
	wantValue(t, values, "ema_5", (2.0/3)*((2.0/3)*10+(1.0/3)*20)+(1.0/3)*30)
}

func TestIndicatorRSI(t *testing.T) {
	t.Parallel()

	closes := make([]float64, 16)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	s := seriesOf(closes, nil)

	early, err := s.Indicator("rsi", nil, 13)
	if err != nil {
		t.Fatal(err)
	}
	wantUndefined(t, early, "rsi") // 14 deltas not yet observed

	last, _ := s.Indicator("rsi", nil, -1)
	wantValue(t, last, "rsi", 100) // only gains, no losses
}

func TestIndicatorStochastic(t *testing.T) {
	t.Parallel()

	closes := make([]float64, 14)
	for i := range closes {
		closes[i] = 10 + float64(i)
	}
	s := seriesOf(closes, nil)

	values, err := s.Indicator("stochastic", nil, -1)
	if err != nil {
		t.Fatal(err)
	}
	// highest high 24, lowest low 9: (23-9)*100/15
	wantValue(t, values, "%K", 1400.0/15)
	wantUndefined(t, values, "%D") // needs three %K observations
}

func TestIndicatorROC(t *testing.T) {
	t.Parallel()

	s := seriesOf([]float64{100, 101, 102, 110}, nil)
	values, err := s.Indicator("roc", map[string]int{"period": 3}, -1)
	if err != nil {
		t.Fatal(err)
	}
	wantValue(t, values, "roc", 10)
}

func TestIndicatorOBV(t *testing.T) {
	t.Parallel()

	s := seriesOf([]float64{10, 12, 11, 11}, []float64{5, 3, 2, 4})

	// terms 5, +3, -2, 0 (flat close contributes nothing)
	last, err := s.Indicator("obv", nil, -1)
	if err != nil {
		t.Fatal(err)
	}
	wantValue(t, last, "obv", 6)
	wantValue(t, last, "obv_pc", 0)

	second, _ := s.Indicator("obv", nil, 1)
	wantValue(t, second, "obv", 8)
	wantValue(t, second, "obv_pc", 0.6)
}

func TestIndicatorEMASignals(t *testing.T) {
	t.Parallel()

	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	s := seriesOf(closes, nil)

	values, err := s.Indicator("ema_signals", nil, -1)
	if err != nil {
		t.Fatal(err)
	}
	wantValue(t, values, "ema_golden_cross", 1)
	wantValue(t, values, "ema_death_cross", 0)
	// the trend started long before the last bar
	wantValue(t, values, "ema_golden_cross_co", 0)
}

func TestIndicatorMACD(t *testing.T) {
	t.Parallel()

	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	s := seriesOf(closes, nil)

	values, err := s.Indicator("macd", nil, -1)
	if err != nil {
		t.Fatal(err)
	}
	wantValue(t, values, "macd_gt_signal", 1)
	wantValue(t, values, "macd_lt_signal", 0)
}

func TestIndicatorBollingerFlat(t *testing.T) {
	t.Parallel()

	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 50
	}
	s := seriesOf(closes, nil)

	values, err := s.Indicator("bollinger", nil, -1)
	if err != nil {
		t.Fatal(err)
	}
	// zero variance collapses the bands onto the typical price
	wantValue(t, values, "bb_ma", 50)
	wantValue(t, values, "bb_upper", 50)
	wantValue(t, values, "bb_lower", 50)

	early, _ := s.Indicator("bollinger", nil, 18)
	wantUndefined(t, early, "bb_ma")
}

func TestIndicatorPatternsHammer(t *testing.T) {
	t.Parallel()

	candles := []types.Candle{{
		Timestamp: baseTS,
		Open:      dec("10"), High: dec("10.6"), Low: dec("8"), Close: dec("10.5"),
		Volume: dec("1"),
	}}
	s := NewSeries(types.TF1m, 10)
	s.SetSnapshot(candles)

	values, err := s.Indicator("patterns", nil, -1)
	if err != nil {
		t.Fatal(err)
	}
	wantValue(t, values, "hammer", 1)
	wantValue(t, values, "shooting_star", 0) // needs a prior candle
}

func TestIndicatorUnknown(t *testing.T) {
	t.Parallel()

	s := seriesOf([]float64{10, 11}, nil)
	if _, err := s.Indicator("vwap", nil, -1); err == nil {
		t.Error("want error for unknown indicator")
	}
}

func TestIndicatorIndexOutOfRange(t *testing.T) {
	t.Parallel()

	s := seriesOf([]float64{10, 11}, nil)
	values, err := s.Indicator("sma", map[string]int{"period": 5}, -3)
	if err != nil {
		t.Fatal(err)
	}
	wantUndefined(t, values, "sma_5")
}

func TestLevelColumn(t *testing.T) {
	t.Parallel()

	roc := []float64{nan, 5, 7, 21, 35, -10}

	pump := levelColumn(roc, 1, false)
	wantPump := []float64{0, 0, 1, 4, 5, 0}
	for i := range wantPump {
		if pump[i] != wantPump[i] {
			t.Errorf("pump[%d] = %v, want %v", i, pump[i], wantPump[i])
		}
	}

	dump := levelColumn(roc, 1, true)
	wantDump := []float64{0, 0, 0, 0, 0, 2}
	for i := range wantDump {
		if dump[i] != wantDump[i] {
			t.Errorf("dump[%d] = %v, want %v", i, dump[i], wantDump[i])
		}
	}
}

func TestCrossover(t *testing.T) {
	t.Parallel()

	cond := []bool{true, true, false, true, true}
	want := []bool{true, false, false, true, false}
	got := crossover(cond)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("crossover[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
