// signal.go evaluates signal conditions against the candle series.
package strategy

import (
	"github.com/shopspring/decimal"

	"futures-bot/internal/config"
	"futures-bot/internal/market"
	"futures-bot/pkg/types"
)

// conditionMet reports whether the indicator satisfies any field
// condition on at least one of the last SaveSignalCandles candles.
// Undefined indicator values never match.
func (s *Strategy) conditionMet(symbol types.Symbol, cond config.SignalCondition) bool {
	series, ok := s.market.Series(symbol, cond.Timeframe)
	if !ok {
		return false
	}

	lookback := cond.SaveSignalCandles
	if lookback < 1 {
		lookback = 1
	}
	for i := 1; i <= lookback; i++ {
		values, err := series.Indicator(cond.Indicator, cond.Parameters, -i)
		if err != nil {
			s.logger.Error("indicator failed",
				"symbol", symbol,
				"indicator", cond.Indicator,
				"error", err,
			)
			return false
		}
		if fieldsMatch(values, cond.Conditions) {
			return true
		}
	}
	return false
}

// fieldsMatch reports whether at least one field condition holds at the
// candle. The list is a disjunction; the first hit wins.
func fieldsMatch(values map[string]market.Value, conditions []config.FieldCondition) bool {
	for _, fc := range conditions {
		if compareValue(values[fc.Field], fc.Operator, fc.Value) {
			return true
		}
	}
	return false
}

func compareValue(v market.Value, op string, want decimal.Decimal) bool {
	if !v.Defined {
		return false
	}
	switch op {
	case "eq":
		return v.V.Equal(want)
	case "lt":
		return v.V.LessThan(want)
	case "lte":
		return v.V.LessThanOrEqual(want)
	case "gt":
		return v.V.GreaterThan(want)
	case "gte":
		return v.V.GreaterThanOrEqual(want)
	}
	return false
}
