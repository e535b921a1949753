// math.go holds the NaN-aware series arithmetic the indicator frame is
// built on. NaN marks an undefined value (lookback window not yet filled);
// comparisons against NaN are false, matching how signals treat unfilled
// windows.
package market

import "math"

var nan = math.NaN()

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = nan
	}
	return out
}

// diff returns x[i] − x[i−n], undefined for the first n values.
func diff(x []float64, n int) []float64 {
	out := nanSlice(len(x))
	for i := n; i < len(x); i++ {
		out[i] = x[i] - x[i-n]
	}
	return out
}

// shift moves the series n positions forward (n > 0) or backward (n < 0),
// filling vacated positions with NaN.
func shift(x []float64, n int) []float64 {
	out := nanSlice(len(x))
	for i := range x {
		j := i + n
		if j >= 0 && j < len(x) {
			out[j] = x[i]
		}
	}
	return out
}

// rollingApply computes fn over each trailing window of w values. Undefined
// until the window is filled or when the window contains an undefined value.
func rollingApply(x []float64, w int, fn func(window []float64) float64) []float64 {
	out := nanSlice(len(x))
	if w <= 0 {
		return out
	}
	for i := w - 1; i < len(x); i++ {
		window := x[i-w+1 : i+1]
		ok := true
		for _, v := range window {
			if math.IsNaN(v) {
				ok = false
				break
			}
		}
		if ok {
			out[i] = fn(window)
		}
	}
	return out
}

func rollingMean(x []float64, w int) []float64 {
	return rollingApply(x, w, func(win []float64) float64 {
		sum := 0.0
		for _, v := range win {
			sum += v
		}
		return sum / float64(len(win))
	})
}

func rollingMax(x []float64, w int) []float64 {
	return rollingApply(x, w, func(win []float64) float64 {
		best := win[0]
		for _, v := range win[1:] {
			if v > best {
				best = v
			}
		}
		return best
	})
}

func rollingMin(x []float64, w int) []float64 {
	return rollingApply(x, w, func(win []float64) float64 {
		best := win[0]
		for _, v := range win[1:] {
			if v < best {
				best = v
			}
		}
		return best
	})
}

// rollingStd is the sample standard deviation (n−1 denominator).
func rollingStd(x []float64, w int) []float64 {
	return rollingApply(x, w, func(win []float64) float64 {
		if len(win) < 2 {
			return nan
		}
		mean := 0.0
		for _, v := range win {
			mean += v
		}
		mean /= float64(len(win))
		ss := 0.0
		for _, v := range win {
			d := v - mean
			ss += d * d
		}
		return math.Sqrt(ss / float64(len(win)-1))
	})
}

// rollingMeanMin1 is a rolling mean that yields the mean of however many
// values are available before the window fills.
func rollingMeanMin1(x []float64, w int) []float64 {
	out := nanSlice(len(x))
	for i := range x {
		lo := i - w + 1
		if lo < 0 {
			lo = 0
		}
		sum, count := 0.0, 0
		for _, v := range x[lo : i+1] {
			if !math.IsNaN(v) {
				sum += v
				count++
			}
		}
		if count > 0 {
			out[i] = sum / float64(count)
		}
	}
	return out
}

// ewmMean is the exponentially weighted mean with smoothing factor alpha.
// Undefined values are skipped; the result stays undefined until minPeriods
// observations have been seen. With adjust the weights are normalized over
// the observed history, without it the mean is the plain recursive form.
func ewmMean(x []float64, alpha float64, minPeriods int, adjust bool) []float64 {
	out := nanSlice(len(x))
	var (
		num, den float64
		acc      float64
		count    int
		started  bool
	)
	for i, v := range x {
		if math.IsNaN(v) {
			if started && count >= minPeriods {
				out[i] = out[i-1]
			}
			continue
		}
		count++
		if adjust {
			num = num*(1-alpha) + v
			den = den*(1-alpha) + 1
			acc = num / den
		} else {
			if !started {
				acc = v
			} else {
				acc = (1-alpha)*acc + alpha*v
			}
		}
		started = true
		if count >= minPeriods {
			out[i] = acc
		}
	}
	return out
}

// ewmSpan converts a span to alpha: 2 / (span + 1).
func ewmSpan(span int) float64 {
	return 2 / (float64(span) + 1)
}

// ewmCom converts a center of mass to alpha: 1 / (com + 1).
func ewmCom(com float64) float64 {
	return 1 / (com + 1)
}

// pctChange returns the fractional change from the previous value.
func pctChange(x []float64) []float64 {
	out := nanSlice(len(x))
	for i := 1; i < len(x); i++ {
		if x[i-1] != 0 {
			out[i] = (x[i] - x[i-1]) / x[i-1]
		}
	}
	return out
}

func roundTo(v float64, places int) float64 {
	if math.IsNaN(v) {
		return v
	}
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

// boolsToFloats encodes a bool column as 0/1 values.
func boolsToFloats(b []bool) []float64 {
	out := make([]float64, len(b))
	for i, v := range b {
		if v {
			out[i] = 1
		}
	}
	return out
}

// gtSeries compares two series elementwise; NaN on either side is false.
func gtSeries(a, b []float64) []bool {
	out := make([]bool, len(a))
	for i := range a {
		out[i] = a[i] > b[i]
	}
	return out
}

func ltSeries(a, b []float64) []bool {
	out := make([]bool, len(a))
	for i := range a {
		out[i] = a[i] < b[i]
	}
	return out
}

// crossover marks positions where the condition is true and differs from
// the previous position, i.e. the bar on which the state flipped.
func crossover(cond []bool) []bool {
	out := make([]bool, len(cond))
	for i := range cond {
		changed := i == 0 || cond[i] != cond[i-1]
		out[i] = cond[i] && changed
	}
	return out
}

func maxSeries(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = math.Max(a[i], b[i])
	}
	return out
}

func minSeries(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = math.Min(a[i], b[i])
	}
	return out
}
