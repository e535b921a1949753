// Package market keeps the per-symbol in-memory state the strategies read:
// best book prices, candle series per timeframe with technical indicators,
// and (optionally) bounded depth books.
package market

import (
	"github.com/shopspring/decimal"

	"futures-bot/pkg/types"
)

// seedAlignMs aligns the synthetic first candle of an empty series to a
// half-hour boundary, which every supported timeframe period divides.
const seedAlignMs = 30 * 60 * 1000

// Series is a bounded candle history for one timeframe, updated trade by
// trade. The indicator frame over it is rebuilt lazily after each tick.
type Series struct {
	timeframe types.Timeframe
	period    int64 // candle period, ms
	limit     int

	candles []types.Candle
	frame   *Frame
}

// NewSeries creates an empty series. The timeframe must be a known one.
func NewSeries(timeframe types.Timeframe, limit int) *Series {
	return &Series{
		timeframe: timeframe,
		period:    timeframe.PeriodMs(),
		limit:     limit,
	}
}

// Timeframe returns the series timeframe.
func (s *Series) Timeframe() types.Timeframe { return s.timeframe }

// Len returns the number of candles held.
func (s *Series) Len() int { return len(s.candles) }

// At returns the candle at index; negative indexes count from the end
// (−1 is the live candle).
func (s *Series) At(index int) (types.Candle, bool) {
	if index < 0 {
		index += len(s.candles)
	}
	if index < 0 || index >= len(s.candles) {
		return types.Candle{}, false
	}
	return s.candles[index], true
}

// Last returns the live candle.
func (s *Series) Last() (types.Candle, bool) {
	return s.At(-1)
}

// Candles returns a copy of the held candles, oldest first.
func (s *Series) Candles() []types.Candle {
	out := make([]types.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// SetSnapshot replaces the history with a venue snapshot, oldest first.
// Gaps between consecutive snapshot candles are filled with flat
// zero-volume candles at the previous close, then the tail is trimmed to
// the limit.
func (s *Series) SetSnapshot(candles []types.Candle) {
	s.candles = s.candles[:0]
	s.frame = nil

	for i := 0; i < len(candles)-1; i++ {
		s.candles = append(s.candles, candles[i])
		s.appendGapCandles(candles[i+1].Timestamp)
	}
	if len(candles) > 0 {
		s.candles = append(s.candles, candles[len(candles)-1])
	}
	s.trim()
}

// Update folds a trade into the series and reports what happened to the
// candle ring.
func (s *Series) Update(trade types.TradeUpdate) types.TickType {
	s.frame = nil

	if len(s.candles) == 0 {
		ts := int64(trade.Timestamp)
		s.candles = append(s.candles, types.Candle{
			Timestamp: types.Timestamp(ts - ts%seedAlignMs),
			Open:      trade.Price,
			High:      trade.Price,
			Low:       trade.Price,
			Close:     trade.Price,
			Volume:    decimal.Zero,
		})
		return types.TickNone
	}

	last := &s.candles[len(s.candles)-1]
	elapsed := int64(trade.Timestamp) - int64(last.Timestamp)

	switch {
	case elapsed < s.period:
		last.Close = trade.Price
		if trade.Price.GreaterThan(last.High) {
			last.High = trade.Price
		}
		if trade.Price.LessThan(last.Low) {
			last.Low = trade.Price
		}
		last.Volume = last.Volume.Add(trade.Quantity)
		return types.TickSameCandle

	case elapsed >= 2*s.period:
		// Quiet market: fill the gap with flat candles, the trade itself
		// lands on the next tick.
		missing := elapsed/s.period - 1
		prevClose := last.Close
		ts := int64(last.Timestamp)
		for i := int64(1); i <= missing; i++ {
			s.candles = append(s.candles, types.Candle{
				Timestamp: types.Timestamp(ts + i*s.period),
				Open:      prevClose,
				High:      prevClose,
				Low:       prevClose,
				Close:     prevClose,
				Volume:    decimal.Zero,
			})
		}
		s.trim()
		return types.TickMissingCandle

	default:
		s.candles = append(s.candles, types.Candle{
			Timestamp: last.Timestamp + types.Timestamp(s.period),
			Open:      trade.Price,
			High:      trade.Price,
			Low:       trade.Price,
			Close:     trade.Price,
			Volume:    trade.Quantity,
		})
		s.trim()
		// New candle closes the previous one; rebuild the frame now so
		// signal checks on the tick do not pay for it one by one.
		s.buildFrame()
		return types.TickNewCandle
	}
}

// appendGapCandles extends the ring with flat candles up to (excluding)
// the given timestamp.
func (s *Series) appendGapCandles(until types.Timestamp) {
	last := s.candles[len(s.candles)-1]
	for ts := int64(last.Timestamp) + s.period; ts < int64(until); ts += s.period {
		s.candles = append(s.candles, types.Candle{
			Timestamp: types.Timestamp(ts),
			Open:      last.Close,
			High:      last.Close,
			Low:       last.Close,
			Close:     last.Close,
			Volume:    decimal.Zero,
		})
	}
}

func (s *Series) trim() {
	if s.limit > 0 && len(s.candles) > s.limit {
		s.candles = append(s.candles[:0], s.candles[len(s.candles)-s.limit:]...)
	}
}

func (s *Series) buildFrame() {
	s.frame = newFrame(s.candles)
}

// getFrame returns the indicator frame, rebuilding it if the last tick
// invalidated it.
func (s *Series) getFrame() *Frame {
	if s.frame == nil {
		s.buildFrame()
	}
	return s.frame
}
