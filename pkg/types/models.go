package types

import (
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Feed entities (bus wire form uses the short keys)
// ————————————————————————————————————————————————————————————————————————

// BookUpdate is a best-bid/ask snapshot. Decimals travel as JSON strings.
type BookUpdate struct {
	Bid decimal.Decimal `json:"b"`
	Ask decimal.Decimal `json:"a"`
}

// Price returns the book side a strategy references for the given order
// side: bid for BUY, ask for SELL.
func (b BookUpdate) Price(side Side) decimal.Decimal {
	if side == BUY {
		return b.Bid
	}
	return b.Ask
}

// Equal reports whether both sides of the book are unchanged.
func (b BookUpdate) Equal(other BookUpdate) bool {
	return b.Bid.Equal(other.Bid) && b.Ask.Equal(other.Ask)
}

// TradeUpdate is a single aggregated trade.
type TradeUpdate struct {
	Price        decimal.Decimal `json:"p"`
	Quantity     decimal.Decimal `json:"q"`
	Timestamp    Timestamp       `json:"t"`
	IsBuyerMaker bool            `json:"m"`
}

// PriceLevel is one order book level: [price, quantity].
type PriceLevel [2]decimal.Decimal

// Price returns the level's price.
func (l PriceLevel) Price() decimal.Decimal { return l[0] }

// Quantity returns the level's quantity.
func (l PriceLevel) Quantity() decimal.Decimal { return l[1] }

// DepthUpdate is an incremental order book diff covering the sequence
// range [FirstID, LastID].
type DepthUpdate struct {
	Symbol    Symbol       `json:"s"`
	FirstID   int64        `json:"U"`
	LastID    int64        `json:"u"`
	Bids      []PriceLevel `json:"b"`
	Asks      []PriceLevel `json:"a"`
	Timestamp Timestamp    `json:"t"`
}

// DepthSnapshot is a full order book snapshot from the venue REST API.
type DepthSnapshot struct {
	LastUpdateID int64        `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// UpdateLog is one persisted feed event. Data holds the entity payload in
// its wire form (decimals as strings) so replay decodes it exactly as the
// live bus would deliver it.
type UpdateLog struct {
	Symbol    Symbol         `json:"s" bson:"s"`
	Entity    StreamEntity   `json:"e" bson:"e"`
	Timestamp Timestamp      `json:"t" bson:"t"`
	Data      map[string]any `json:"d" bson:"d"`
}

// ————————————————————————————————————————————————————————————————————————
// Venue market structure
// ————————————————————————————————————————————————————————————————————————

// Contract carries a symbol's trading rules.
type Contract struct {
	Symbol            Symbol          `json:"symbol"`
	BaseAsset         Asset           `json:"base_asset"`
	QuoteAsset        Asset           `json:"quote_asset"`
	PricePrecision    int             `json:"price_precision"`
	QuantityPrecision int             `json:"quantity_precision"`
	TickSize          decimal.Decimal `json:"tick_size"`
	LotSize           decimal.Decimal `json:"lot_size"`
	MinNotional       decimal.Decimal `json:"min_notional"`
}

// RoundQuantity rounds a raw quantity to the nearest lot-size multiple.
func (c Contract) RoundQuantity(q decimal.Decimal) decimal.Decimal {
	if !c.LotSize.IsPositive() {
		return q.RoundDown(int32(c.QuantityPrecision))
	}
	return q.Div(c.LotSize).Round(0).Mul(c.LotSize)
}

// RoundPrice rounds a raw price down to the contract's tick size.
func (c Contract) RoundPrice(p decimal.Decimal) decimal.Decimal {
	return p.RoundDown(int32(c.PricePrecision))
}

// Candle is one OHLCV bar. Timestamp is the bar open time.
type Candle struct {
	Timestamp Timestamp       `json:"t"`
	Open      decimal.Decimal `json:"o"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Close     decimal.Decimal `json:"c"`
	Volume    decimal.Decimal `json:"v"`
}

// FundingRate is the current funding state of a perpetual contract.
type FundingRate struct {
	Symbol          Symbol          `json:"symbol"`
	Rate            decimal.Decimal `json:"rate"` // percent
	NextFundingTime Timestamp       `json:"next_funding_time"`
}

// ————————————————————————————————————————————————————————————————————————
// Account state
// ————————————————————————————————————————————————————————————————————————

// AccountBalance is the cross wallet balance of one asset.
type AccountBalance struct {
	Asset   Asset           `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// AccountPosition is the venue's view of one hedge-mode position.
// Quantity is always non-negative; Side carries the direction.
type AccountPosition struct {
	Symbol         Symbol          `json:"symbol"`
	Side           PositionSide    `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	Isolated       bool            `json:"isolated"`
	IsolatedWallet decimal.Decimal `json:"isolated_wallet"`
}

// Account is the venue account snapshot used at startup and kept fresh by
// ACCOUNT_UPDATE events.
type Account struct {
	Assets    []AccountBalance  `json:"assets"`
	Positions []AccountPosition `json:"positions"`
}

// AccountConfig is a leverage change notification for one symbol.
type AccountConfig struct {
	Symbol   Symbol `json:"symbol"`
	Leverage int    `json:"leverage"`
}

// ————————————————————————————————————————————————————————————————————————
// Orders and positions
// ————————————————————————————————————————————————————————————————————————

// Order is the persisted order record. Price is the average fill price.
type Order struct {
	ID            OrderID           `json:"id" bson:"id"`
	ClientOrderID ClientOrderID     `json:"client_order_id" bson:"client_order_id"`
	Symbol        Symbol            `json:"symbol" bson:"symbol"`
	Status        OrderStatus       `json:"status" bson:"status"`
	Type          OrderType         `json:"type" bson:"type"`
	Side          Side              `json:"side" bson:"side"`
	PositionSide  PositionSide      `json:"position_side" bson:"position_side"`
	Quantity      decimal.Decimal   `json:"quantity" bson:"quantity"`
	Price         decimal.Decimal   `json:"price" bson:"price"`
	Timestamp     Timestamp         `json:"timestamp" bson:"timestamp"`
	PositionID    PositionID        `json:"position_id,omitempty" bson:"position_id,omitempty"`
	Context       map[string]string `json:"context,omitempty" bson:"context,omitempty"`
}

// IsFilled reports whether the order fully filled.
func (o *Order) IsFilled() bool {
	return o.Status == StatusFilled
}

// IsProcessed reports whether the order reached a terminal status.
func (o *Order) IsProcessed() bool {
	switch o.Status {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Merge overlays the non-empty fields of upd onto o. Used when a fresher
// venue report arrives for an order already on record.
func (o *Order) Merge(upd *Order) {
	if upd.Status != "" {
		o.Status = upd.Status
	}
	if upd.Type != "" {
		o.Type = upd.Type
	}
	if !upd.Quantity.IsZero() {
		o.Quantity = upd.Quantity
	}
	if !upd.Price.IsZero() {
		o.Price = upd.Price
	}
	if upd.Timestamp != 0 {
		o.Timestamp = upd.Timestamp
	}
	if upd.PositionID != "" {
		o.PositionID = upd.PositionID
	}
	if upd.Context != nil {
		o.Context = upd.Context
	}
}

// Position is the persisted internal position record. TotalQuantity is the
// cumulative entered quantity; Quantity is what remains open.
type Position struct {
	ID              PositionID      `json:"id" bson:"id"`
	Symbol          Symbol          `json:"symbol" bson:"symbol"`
	StrategyID      StrategyID      `json:"strategy_id" bson:"strategy_id"`
	Side            PositionSide    `json:"side" bson:"side"`
	Status          PositionStatus  `json:"status" bson:"status"`
	Quantity        decimal.Decimal `json:"quantity" bson:"quantity"`
	TotalQuantity   decimal.Decimal `json:"total_quantity" bson:"total_quantity"`
	EntryPrice      decimal.Decimal `json:"entry_price" bson:"entry_price"`
	ExitPrice       decimal.Decimal `json:"exit_price" bson:"exit_price"`
	Orders          []OrderID       `json:"orders" bson:"orders"`
	Timestamp       Timestamp       `json:"timestamp" bson:"timestamp"`
	UpdateTimestamp Timestamp       `json:"update_timestamp" bson:"update_timestamp"`
}

// PnL returns the unrealized profit of the open quantity against the book:
// (bid − entry) × qty for longs, (entry − ask) × qty for shorts.
func (p *Position) PnL(book BookUpdate) decimal.Decimal {
	if p.Side == PositionLong {
		return book.Bid.Sub(p.EntryPrice).Mul(p.Quantity)
	}
	return p.EntryPrice.Sub(book.Ask).Mul(p.Quantity)
}

// HasOrder reports whether the order id is already attached to the position.
func (p *Position) HasOrder(id OrderID) bool {
	for _, oid := range p.Orders {
		if oid == id {
			return true
		}
	}
	return false
}
