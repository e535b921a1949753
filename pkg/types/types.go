// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the platform — order and position
// enums, per-symbol trading rules, market feed payloads, and the persisted
// order/position records. It has no dependencies on internal packages, so it
// can be imported by any layer.
package types

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// PositionSide distinguishes hedge-mode positions. BOTH is the one-way-mode
// value and is never used by the strategies here (hedge mode is enforced on
// startup).
type PositionSide string

const (
	PositionBoth  PositionSide = "BOTH"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// EntrySide returns the order side that increases a position of this side.
func (p PositionSide) EntrySide() Side {
	if p == PositionLong {
		return BUY
	}
	return SELL
}

// ExitSide returns the order side that reduces a position of this side.
func (p PositionSide) ExitSide() Side {
	if p == PositionLong {
		return SELL
	}
	return BUY
}

// OrderType enumerates the venue's order types. Strategies only ever place
// MARKET orders; the rest appear in user-stream updates.
type OrderType string

const (
	OrderLimit              OrderType = "LIMIT"
	OrderMarket             OrderType = "MARKET"
	OrderStop               OrderType = "STOP"
	OrderStopMarket         OrderType = "STOP_MARKET"
	OrderTakeProfit         OrderType = "TAKE_PROFIT"
	OrderTakeProfitMarket   OrderType = "TAKE_PROFIT_MARKET"
	OrderTrailingStopMarket OrderType = "TRAILING_STOP_MARKET"
	OrderLiquidation        OrderType = "LIQUIDATION"
)

// OrderStatus is the venue-reported order lifecycle state.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// PositionStatus tracks the internal position lifecycle.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// MarginType is the account margin mode per symbol.
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

// TimeInForce for LIMIT orders.
type TimeInForce string

const (
	TifGTC TimeInForce = "GTC" // Good Till Cancel
	TifIOC TimeInForce = "IOC" // Immediate or Cancel
	TifFOK TimeInForce = "FOK" // Fill or Kill
	TifGTX TimeInForce = "GTX" // Good Till Crossing (post only)
)

// StreamEntity names the three public market feed entities. The values are
// used verbatim in bus routing keys ({symbol}.{entity}).
type StreamEntity string

const (
	EntityBook  StreamEntity = "book"
	EntityTrade StreamEntity = "trade"
	EntityDepth StreamEntity = "depth"
)

// UserStreamEntity names the user data stream event kinds.
type UserStreamEntity string

const (
	EntityAccountUpdate       UserStreamEntity = "ACCOUNT_UPDATE"
	EntityAccountConfigUpdate UserStreamEntity = "ACCOUNT_CONFIG_UPDATE"
	EntityOrderTradeUpdate    UserStreamEntity = "ORDER_TRADE_UPDATE"
)

// TickType classifies the effect of a trade on a candle series.
type TickType int

const (
	TickNone TickType = iota // seeded the first candle, nothing to react to
	TickSameCandle
	TickNewCandle
	TickMissingCandle
)

func (t TickType) String() string {
	switch t {
	case TickSameCandle:
		return "same_candle"
	case TickNewCandle:
		return "new_candle"
	case TickMissingCandle:
		return "missing_candle"
	default:
		return "none"
	}
}

// ————————————————————————————————————————————————————————————————————————
// Identifiers and time
// ————————————————————————————————————————————————————————————————————————

// Symbol is a venue trading pair, e.g. "BTCUSDT".
type Symbol string

// Asset is a single currency, e.g. "USDT".
type Asset string

// OrderID is the venue-assigned numeric order identifier.
type OrderID int64

// ClientOrderID is the locally generated 128-bit order identifier
// (uuid hex, no dashes).
type ClientOrderID string

// PositionID identifies an internal Position record (uuid hex).
type PositionID string

// StrategyID identifies a configured strategy instance.
type StrategyID string

// Timestamp is integer milliseconds since the Unix epoch, UTC.
type Timestamp int64

// ————————————————————————————————————————————————————————————————————————
// Timeframes
// ————————————————————————————————————————————————————————————————————————

// Timeframe is a candle aggregation interval, e.g. "5m".
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF6h  Timeframe = "6h"
	TF1d  Timeframe = "1d"
)

// Timeframes lists every supported timeframe in ascending period order.
var Timeframes = []Timeframe{TF1m, TF5m, TF15m, TF30m, TF1h, TF4h, TF6h, TF1d}

var timeframeSeconds = map[Timeframe]int64{
	TF1m:  60,
	TF5m:  300,
	TF15m: 900,
	TF30m: 1800,
	TF1h:  3600,
	TF4h:  14400,
	TF6h:  21600,
	TF1d:  86400,
}

// PeriodMs returns the timeframe period in milliseconds, or 0 for an
// unknown timeframe.
func (t Timeframe) PeriodMs() int64 {
	return timeframeSeconds[t] * 1000
}

// Valid reports whether the timeframe is one of the supported set.
func (t Timeframe) Valid() bool {
	_, ok := timeframeSeconds[t]
	return ok
}
