// technical.go computes indicator columns over a candle series. Columns
// are float64 vectors cached per frame; boolean signal columns are encoded
// as 0/1 and are always defined, numeric columns are undefined (NaN) until
// their lookback window fills.
package market

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"futures-bot/pkg/types"
)

// Value is one indicator field at one candle. Comparing against an
// undefined value never matches.
type Value struct {
	V       decimal.Decimal
	Defined bool
}

// Float returns the value as float64, NaN when undefined.
func (v Value) Float() float64 {
	if !v.Defined {
		return nan
	}
	return v.V.InexactFloat64()
}

// Frame holds the OHLCV vectors for a candle ring plus computed columns.
type Frame struct {
	open, high, low, close, volume []float64
	cols                           map[string][]float64
}

func newFrame(candles []types.Candle) *Frame {
	f := &Frame{
		open:   make([]float64, len(candles)),
		high:   make([]float64, len(candles)),
		low:    make([]float64, len(candles)),
		close:  make([]float64, len(candles)),
		volume: make([]float64, len(candles)),
		cols:   make(map[string][]float64),
	}
	for i, c := range candles {
		f.open[i] = c.Open.InexactFloat64()
		f.high[i] = c.High.InexactFloat64()
		f.low[i] = c.Low.InexactFloat64()
		f.close[i] = c.Close.InexactFloat64()
		f.volume[i] = c.Volume.InexactFloat64()
	}
	return f
}

func (f *Frame) len() int { return len(f.close) }

// column returns a cached column, computing it on first use.
func (f *Frame) column(name string, build func() []float64) []float64 {
	if col, ok := f.cols[name]; ok {
		return col
	}
	col := build()
	f.cols[name] = col
	return col
}

func param(params map[string]int, key string, def int) int {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

// Indicator evaluates the named indicator with the given parameters and
// returns its fields at the given candle index (negative indexes count
// from the live candle back).
func (s *Series) Indicator(name string, params map[string]int, index int) (map[string]Value, error) {
	f := s.getFrame()
	names, cols, err := f.indicator(name, params)
	if err != nil {
		return nil, err
	}

	n := f.len()
	i := index
	if i < 0 {
		i += n
	}
	inRange := i >= 0 && i < n

	out := make(map[string]Value, len(names))
	for _, field := range names {
		col := cols[field]
		v := Value{}
		if inRange && !math.IsNaN(col[i]) {
			v = Value{V: decimal.NewFromFloat(col[i]), Defined: true}
		}
		out[field] = v
	}
	return out, nil
}

// indicator computes (or fetches) the columns of one indicator.
func (f *Frame) indicator(name string, params map[string]int) ([]string, map[string][]float64, error) {
	var names []string

	switch name {
	case "rsi":
		period := param(params, "period", 14)
		key := fmt.Sprintf("rsi_%d", period)
		f.column(key, func() []float64 { return f.rsi(period) })
		return []string{"rsi"}, map[string][]float64{"rsi": f.cols[key]}, nil

	case "stochastic":
		k := param(params, "k_period", 14)
		d := param(params, "d_period", 3)
		kKey := fmt.Sprintf("stoch_k_%d", k)
		dKey := fmt.Sprintf("stoch_d_%d_%d", k, d)
		kCol := f.column(kKey, func() []float64 { return f.stochasticK(k) })
		dCol := f.column(dKey, func() []float64 { return rollingMean(kCol, d) })
		return []string{"%K", "%D"}, map[string][]float64{"%K": kCol, "%D": dCol}, nil

	case "roc":
		period := param(params, "period", 18)
		col := f.rocColumn(period)
		return []string{"roc"}, map[string][]float64{"roc": col}, nil

	case "ma":
		period := param(params, "period", 12)
		if err := checkMAPeriod(period); err != nil {
			return nil, nil, err
		}
		key := fmt.Sprintf("ma_%d", period)
		col := f.column(key, func() []float64 { return rollingMean(f.close, period) })
		return []string{key}, map[string][]float64{key: col}, nil

	case "ema":
		period := param(params, "period", 12)
		if err := checkMAPeriod(period); err != nil {
			return nil, nil, err
		}
		key := fmt.Sprintf("ema_%d", period)
		col := f.emaColumn(period)
		return []string{key}, map[string][]float64{key: col}, nil

	case "sma":
		period := param(params, "period", 12)
		if err := checkMAPeriod(period); err != nil {
			return nil, nil, err
		}
		key := fmt.Sprintf("sma_%d", period)
		col := f.smaColumn(period)
		return []string{key}, map[string][]float64{key: col}, nil

	case "macd":
		fast := param(params, "fast_period", 12)
		slow := param(params, "slow_period", 26)
		signal := param(params, "signal_period", 9)
		names = []string{"macd_gt_signal", "macd_gt_signal_co", "macd_lt_signal", "macd_lt_signal_co"}
		cols := f.macdSignals(fast, slow, signal)
		return names, cols, nil

	case "ema_signals":
		fast := param(params, "fast_period", 12)
		slow := param(params, "slow_period", 26)
		names = []string{"ema_golden_cross", "ema_golden_cross_co", "ema_death_cross", "ema_death_cross_co"}
		cols := f.crossSignals("ema", f.emaColumn(fast), f.emaColumn(slow))
		return names, cols, nil

	case "sma_signals":
		fast := param(params, "fast_period", 50)
		slow := param(params, "slow_period", 200)
		names = []string{"sma_golden_cross", "sma_golden_cross_co", "sma_death_cross", "sma_death_cross_co"}
		cols := f.crossSignals("sma", f.smaColumn(fast), f.smaColumn(slow))
		return names, cols, nil

	case "obv":
		obv := f.column("obv", f.obv)
		pc := f.column("obv_pc", func() []float64 {
			out := pctChange(obv)
			for i, v := range out {
				if math.IsNaN(v) {
					out[i] = 0
				} else {
					out[i] = roundTo(v, 2)
				}
			}
			return out
		})
		return []string{"obv", "obv_pc"}, map[string][]float64{"obv": obv, "obv_pc": pc}, nil

	case "eri":
		names = []string{"eri_buy", "eri_sell"}
		return names, f.eri(), nil

	case "ichimoku":
		names = []string{"ichimoku_golden_cross", "ichimoku_death_cross", "price_below_cloud", "price_above_cloud"}
		return names, f.ichimoku(), nil

	case "bollinger":
		length := param(params, "length", 20)
		width := param(params, "width", 2)
		upper, ma, lower := f.bollinger(length, width)
		names = []string{"bb_upper", "bb_ma", "bb_lower"}
		return names, map[string][]float64{"bb_upper": upper, "bb_ma": ma, "bb_lower": lower}, nil

	case "bollinger_signals":
		length := param(params, "length", 20)
		width := param(params, "width", 2)
		upper, _, lower := f.bollinger(length, width)
		buy := boolsToFloats(ltSeries(f.close, lower))
		sell := boolsToFloats(gtSeries(f.close, upper))
		return []string{"bb_buy", "bb_sell"}, map[string][]float64{"bb_buy": buy, "bb_sell": sell}, nil

	case "patterns":
		return f.patterns()

	case "pump":
		period := param(params, "period", 18)
		factor := param(params, "sensitivity_factor", 1)
		col := f.column(fmt.Sprintf("pump_%d_%d", period, factor), func() []float64 {
			return levelColumn(f.rocColumn(period), factor, false)
		})
		return []string{"level"}, map[string][]float64{"level": col}, nil

	case "dump":
		period := param(params, "period", 18)
		factor := param(params, "sensitivity_factor", 1)
		col := f.column(fmt.Sprintf("dump_%d_%d", period, factor), func() []float64 {
			return levelColumn(f.rocColumn(period), factor, true)
		})
		return []string{"level"}, map[string][]float64{"level": col}, nil

	default:
		return nil, nil, fmt.Errorf("unknown indicator %q", name)
	}
}

func checkMAPeriod(period int) error {
	if period < 5 || period > 200 {
		return fmt.Errorf("moving average period %d out of range [5, 200]", period)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Column builders
// ————————————————————————————————————————————————————————————————————————

func (f *Frame) emaColumn(period int) []float64 {
	return f.column(fmt.Sprintf("ema_%d", period), func() []float64 {
		return ewmMean(f.close, ewmSpan(period), 0, false)
	})
}

func (f *Frame) smaColumn(period int) []float64 {
	return f.column(fmt.Sprintf("sma_%d", period), func() []float64 {
		return rollingMeanMin1(f.close, period)
	})
}

func (f *Frame) rocColumn(period int) []float64 {
	return f.column(fmt.Sprintf("roc_%d", period), func() []float64 {
		d := diff(f.close, period)
		base := shift(f.close, period)
		out := nanSlice(f.len())
		for i := range out {
			if !math.IsNaN(d[i]) && base[i] != 0 {
				out[i] = d[i] / base[i] * 100
			}
		}
		return out
	})
}

// rsi is Wilder's relative strength index over exponentially weighted
// average gains and losses.
func (f *Frame) rsi(period int) []float64 {
	delta := diff(f.close, 1)
	gains := nanSlice(f.len())
	losses := nanSlice(f.len())
	for i, d := range delta {
		if math.IsNaN(d) {
			continue
		}
		gains[i] = math.Max(d, 0)
		losses[i] = math.Max(-d, 0)
	}
	avgGain := ewmMean(gains, ewmCom(float64(period-1)), period, true)
	avgLoss := ewmMean(losses, ewmCom(float64(period-1)), period, true)

	out := nanSlice(f.len())
	for i := range out {
		if math.IsNaN(avgGain[i]) || math.IsNaN(avgLoss[i]) {
			continue
		}
		if avgLoss[i] == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

func (f *Frame) stochasticK(period int) []float64 {
	hh := rollingMax(f.high, period)
	ll := rollingMin(f.low, period)
	out := nanSlice(f.len())
	for i := range out {
		spread := hh[i] - ll[i]
		if math.IsNaN(spread) || spread == 0 {
			continue
		}
		out[i] = (f.close[i] - ll[i]) * 100 / spread
	}
	return out
}

func (f *Frame) macdSignals(fast, slow, signal int) map[string][]float64 {
	macdKey := fmt.Sprintf("macd_%d_%d", fast, slow)
	macd := f.column(macdKey, func() []float64 {
		fastEMA := f.emaColumn(fast)
		slowEMA := f.emaColumn(slow)
		out := make([]float64, f.len())
		for i := range out {
			out[i] = fastEMA[i] - slowEMA[i]
		}
		return out
	})
	signalLine := f.column(fmt.Sprintf("%s_signal_%d", macdKey, signal), func() []float64 {
		return ewmMean(macd, ewmSpan(signal), 0, true)
	})

	gt := gtSeries(macd, signalLine)
	lt := ltSeries(macd, signalLine)
	return map[string][]float64{
		"macd_gt_signal":    boolsToFloats(gt),
		"macd_gt_signal_co": boolsToFloats(crossover(gt)),
		"macd_lt_signal":    boolsToFloats(lt),
		"macd_lt_signal_co": boolsToFloats(crossover(lt)),
	}
}

// crossSignals builds golden/death cross columns for a fast/slow average
// pair.
func (f *Frame) crossSignals(prefix string, fast, slow []float64) map[string][]float64 {
	golden := gtSeries(fast, slow)
	death := ltSeries(fast, slow)
	return map[string][]float64{
		prefix + "_golden_cross":    boolsToFloats(golden),
		prefix + "_golden_cross_co": boolsToFloats(crossover(golden)),
		prefix + "_death_cross":     boolsToFloats(death),
		prefix + "_death_cross_co":  boolsToFloats(crossover(death)),
	}
}

// obv is the on-balance volume: volume added on up closes, subtracted on
// down closes, unchanged on flat closes. The first row contributes its own
// volume.
func (f *Frame) obv() []float64 {
	terms := make([]float64, f.len())
	for i := range terms {
		if i == 0 {
			terms[i] = f.volume[0]
			continue
		}
		switch {
		case f.close[i] == f.close[i-1]:
			terms[i] = 0
		case f.close[i] > f.close[i-1]:
			terms[i] = f.volume[i]
		default:
			terms[i] = -f.volume[i]
		}
	}
	out := make([]float64, len(terms))
	sum := 0.0
	for i, v := range terms {
		sum += v
		out[i] = sum
	}
	return out
}

// eri is the Elder-Ray index: bull/bear power around a 13-period EMA.
func (f *Frame) eri() map[string][]float64 {
	ema13 := f.emaColumn(13)
	bull := make([]float64, f.len())
	bear := make([]float64, f.len())
	for i := range bull {
		bull[i] = f.high[i] - ema13[i]
		bear[i] = f.low[i] - ema13[i]
	}
	prevBull := shift(bull, 1)
	prevBear := shift(bear, 1)

	buy := make([]bool, f.len())
	sell := make([]bool, f.len())
	for i := range buy {
		buy[i] = (bear[i] < 0 && bear[i] > prevBear[i]) || bull[i] > prevBull[i]
		sell[i] = (bull[i] > 0 && bull[i] < prevBull[i]) || bear[i] < prevBear[i]
	}
	return map[string][]float64{
		"eri_buy":  boolsToFloats(buy),
		"eri_sell": boolsToFloats(sell),
	}
}

func (f *Frame) ichimoku() map[string][]float64 {
	mid := func(window int) []float64 {
		hh := rollingMax(f.high, window)
		ll := rollingMin(f.low, window)
		out := make([]float64, f.len())
		for i := range out {
			out[i] = (hh[i] + ll[i]) / 2
		}
		return out
	}

	tenkan := mid(9)
	kijun := mid(26)

	spanA := make([]float64, f.len())
	for i := range spanA {
		spanA[i] = (tenkan[i] + kijun[i]) / 2
	}
	spanA = shift(spanA, 26)
	spanB := shift(mid(52), 26)

	cloudTop := maxSeries(spanA, spanB)
	cloudBottom := minSeries(spanA, spanB)

	return map[string][]float64{
		"ichimoku_golden_cross": boolsToFloats(gtSeries(tenkan, kijun)),
		"ichimoku_death_cross":  boolsToFloats(ltSeries(tenkan, kijun)),
		"price_below_cloud":     boolsToFloats(ltSeries(f.close, cloudBottom)),
		"price_above_cloud":     boolsToFloats(gtSeries(f.close, cloudTop)),
	}
}

// bollinger builds the bands over the typical price (h+l+c)/3.
func (f *Frame) bollinger(length, width int) (upper, ma, lower []float64) {
	tp := f.column("bb_tp", func() []float64 {
		out := make([]float64, f.len())
		for i := range out {
			out[i] = (f.high[i] + f.low[i] + f.close[i]) / 3
		}
		return out
	})
	maKey := fmt.Sprintf("bb_ma_%d", length)
	ma = f.column(maKey, func() []float64 { return rollingMean(tp, length) })
	sigma := f.column(fmt.Sprintf("bb_sigma_%d", length), func() []float64 {
		return rollingStd(tp, length)
	})

	w := float64(width)
	upper = make([]float64, f.len())
	lower = make([]float64, f.len())
	for i := range upper {
		upper[i] = ma[i] + w*sigma[i]
		lower[i] = ma[i] - w*sigma[i]
	}
	return upper, ma, lower
}

// patterns evaluates the candlestick pattern predicates on each bar.
func (f *Frame) patterns() ([]string, map[string][]float64, error) {
	o, h, l, c := f.open, f.high, f.low, f.close
	o1, c1 := shift(o, 1), shift(c, 1)
	o2, c2 := shift(o, 2), shift(c, 2)
	h1, h2 := shift(h, 1), shift(h, 2)
	l2 := shift(l, 2)

	n := f.len()
	shootingStar := make([]bool, n)
	hangingMan := make([]bool, n)
	eveningStar := make([]bool, n)
	hammer := make([]bool, n)
	invertedHammer := make([]bool, n)
	morningStar := make([]bool, n)
	abandonedBaby := make([]bool, n)

	for i := 0; i < n; i++ {
		body := math.Abs(o[i] - c[i])
		spread := h[i] - l[i]

		shootingStar[i] = o1[i] < c1[i] && c1[i] < o[i] &&
			h[i]-math.Max(o[i], c[i]) >= body*3 &&
			math.Min(c[i], o[i])-l[i] <= body

		hangingMan[i] = spread > 4*(o[i]-c[i]) &&
			(c[i]-l[i])/(0.001+spread) >= 0.75 &&
			(o[i]-l[i])/(0.001+spread) >= 0.75 &&
			h1[i] < o[i] && h2[i] < o[i]

		eveningStar[i] = math.Min(o1[i], c1[i]) > c2[i] && c2[i] > o2[i] &&
			c[i] < o[i] && o[i] < math.Min(o1[i], c1[i])

		hammer[i] = spread > 3*(o[i]-c[i]) &&
			(c[i]-l[i])/(0.001+spread) > 0.6 &&
			(o[i]-l[i])/(0.001+spread) > 0.6

		invertedHammer[i] = spread > 3*(o[i]-c[i]) &&
			(h[i]-c[i])/(0.001+spread) > 0.6 &&
			(h[i]-o[i])/(0.001+spread) > 0.6

		morningStar[i] = math.Max(o1[i], c1[i]) < c2[i] && c2[i] < o2[i] &&
			c[i] > o[i] && o[i] > math.Max(o1[i], c1[i])

		abandonedBaby[i] = o[i] < c[i] && h1[i] < l[i] &&
			o2[i] > c2[i] && h1[i] < l2[i]
	}

	names := []string{
		"shooting_star", "hanging_man", "evening_star", "hammer",
		"inverted_hammer", "morning_star", "abandoned_baby",
	}
	cols := map[string][]float64{
		"shooting_star":   boolsToFloats(shootingStar),
		"hanging_man":     boolsToFloats(hangingMan),
		"evening_star":    boolsToFloats(eveningStar),
		"hammer":          boolsToFloats(hammer),
		"inverted_hammer": boolsToFloats(invertedHammer),
		"morning_star":    boolsToFloats(morningStar),
		"abandoned_baby":  boolsToFloats(abandonedBaby),
	}
	return names, cols, nil
}

// Rate-of-change bands for pump/dump levels, scaled by the sensitivity
// factor.
var levelThresholds = []float64{6, 9, 12, 20, 30}

// levelColumn maps a rate-of-change column to a 0..5 intensity level.
func levelColumn(roc []float64, factor int, dump bool) []float64 {
	out := make([]float64, len(roc))
	for i, v := range roc {
		if math.IsNaN(v) {
			continue
		}
		if dump {
			v = -v
		}
		level := 0
		for n := len(levelThresholds) - 1; n >= 0; n-- {
			if v >= levelThresholds[n]*float64(factor) {
				level = n + 1
				break
			}
		}
		out[i] = float64(level)
	}
	return out
}
