// decode.go maps the venue's REST payloads onto the internal models.
// Quantities are stored non-negative; direction lives in the side fields.
package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"

	"futures-bot/pkg/types"
)

// ————————————————————————————————————————————————————————————————————————
// Exchange info
// ————————————————————————————————————————————————————————————————————————

type exchangeInfoResponse struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol            types.Symbol   `json:"symbol"`
	Status            string         `json:"status"`
	BaseAsset         types.Asset    `json:"baseAsset"`
	QuoteAsset        types.Asset    `json:"quoteAsset"`
	PricePrecision    int            `json:"pricePrecision"`
	QuantityPrecision int            `json:"quantityPrecision"`
	Filters           []symbolFilter `json:"filters"`
}

type symbolFilter struct {
	FilterType string `json:"filterType"`
	// Both generations of the MIN_NOTIONAL filter schema exist in the wild.
	Notional    decimal.Decimal `json:"notional"`
	MinNotional decimal.Decimal `json:"minNotional"`
}

func (s symbolInfo) contract() types.Contract {
	c := types.Contract{
		Symbol:            s.Symbol,
		BaseAsset:         s.BaseAsset,
		QuoteAsset:        s.QuoteAsset,
		PricePrecision:    s.PricePrecision,
		QuantityPrecision: s.QuantityPrecision,
		TickSize:          decimal.New(1, -int32(s.PricePrecision)),
		LotSize:           decimal.New(1, -int32(s.QuantityPrecision)),
	}
	for _, f := range s.Filters {
		if f.FilterType == "MIN_NOTIONAL" {
			if !f.Notional.IsZero() {
				c.MinNotional = f.Notional
			} else {
				c.MinNotional = f.MinNotional
			}
		}
	}
	return c
}

// ————————————————————————————————————————————————————————————————————————
// Klines
// ————————————————————————————————————————————————————————————————————————

// rawKline is the venue's positional kline row:
// [openTime, open, high, low, close, volume, ...].
type rawKline []any

func (k rawKline) candle() (types.Candle, error) {
	if len(k) < 6 {
		return types.Candle{}, fmt.Errorf("kline row too short: %d fields", len(k))
	}
	ts, ok := k[0].(float64)
	if !ok {
		return types.Candle{}, fmt.Errorf("kline open time is %T", k[0])
	}
	vals := make([]decimal.Decimal, 5)
	for i := 1; i <= 5; i++ {
		s, ok := k[i].(string)
		if !ok {
			return types.Candle{}, fmt.Errorf("kline field %d is %T", i, k[i])
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return types.Candle{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		vals[i-1] = d
	}
	return types.Candle{
		Timestamp: types.Timestamp(int64(ts)),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Account
// ————————————————————————————————————————————————————————————————————————

type accountResponse struct {
	Assets []struct {
		Asset              types.Asset     `json:"asset"`
		CrossWalletBalance decimal.Decimal `json:"crossWalletBalance"`
	} `json:"assets"`
	Positions []struct {
		Symbol         types.Symbol       `json:"symbol"`
		PositionSide   types.PositionSide `json:"positionSide"`
		PositionAmt    decimal.Decimal    `json:"positionAmt"`
		EntryPrice     decimal.Decimal    `json:"entryPrice"`
		Isolated       bool               `json:"isolated"`
		IsolatedWallet decimal.Decimal    `json:"isolatedWallet"`
	} `json:"positions"`
}

func (r accountResponse) account() *types.Account {
	acc := &types.Account{}
	for _, a := range r.Assets {
		acc.Assets = append(acc.Assets, types.AccountBalance{
			Asset:   a.Asset,
			Balance: a.CrossWalletBalance,
		})
	}
	for _, p := range r.Positions {
		acc.Positions = append(acc.Positions, types.AccountPosition{
			Symbol:         p.Symbol,
			Side:           p.PositionSide,
			Quantity:       p.PositionAmt.Abs(),
			EntryPrice:     p.EntryPrice,
			Isolated:       p.Isolated,
			IsolatedWallet: p.IsolatedWallet,
		})
	}
	return acc
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

type orderResponse struct {
	OrderID       types.OrderID       `json:"orderId"`
	ClientOrderID types.ClientOrderID `json:"clientOrderId"`
	Symbol        types.Symbol        `json:"symbol"`
	Status        types.OrderStatus   `json:"status"`
	Type          types.OrderType     `json:"type"`
	Side          types.Side          `json:"side"`
	PositionSide  types.PositionSide  `json:"positionSide"`
	OrigQty       decimal.Decimal     `json:"origQty"`
	AvgPrice      decimal.Decimal     `json:"avgPrice"`
	UpdateTime    types.Timestamp     `json:"updateTime"`
}

func (r orderResponse) order() *types.Order {
	return &types.Order{
		ID:            r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Status:        r.Status,
		Type:          r.Type,
		Side:          r.Side,
		PositionSide:  r.PositionSide,
		Quantity:      r.OrigQty.Abs(),
		Price:         r.AvgPrice,
		Timestamp:     r.UpdateTime,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Misc
// ————————————————————————————————————————————————————————————————————————

type premiumIndexResponse struct {
	Symbol          types.Symbol    `json:"symbol"`
	LastFundingRate decimal.Decimal `json:"lastFundingRate"`
	NextFundingTime types.Timestamp `json:"nextFundingTime"`
}

var hundred = decimal.NewFromInt(100)

func (r premiumIndexResponse) fundingRate() *types.FundingRate {
	return &types.FundingRate{
		Symbol:          r.Symbol,
		Rate:            r.LastFundingRate.Mul(hundred),
		NextFundingTime: r.NextFundingTime,
	}
}

type bookTickerResponse struct {
	Symbol   types.Symbol    `json:"symbol"`
	BidPrice decimal.Decimal `json:"bidPrice"`
	AskPrice decimal.Decimal `json:"askPrice"`
}

// ————————————————————————————————————————————————————————————————————————
// Stream payload helpers
// ————————————————————————————————————————————————————————————————————————

func parseDecimal(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func decodeTrade(price, quantity string, ts types.Timestamp, isBuyerMaker bool) (types.TradeUpdate, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return types.TradeUpdate{}, fmt.Errorf("trade price: %w", err)
	}
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return types.TradeUpdate{}, fmt.Errorf("trade quantity: %w", err)
	}
	return types.TradeUpdate{Price: p, Quantity: q, Timestamp: ts, IsBuyerMaker: isBuyerMaker}, nil
}

func decodeBook(bid, ask string) (types.BookUpdate, error) {
	b, err := decimal.NewFromString(bid)
	if err != nil {
		return types.BookUpdate{}, fmt.Errorf("book bid: %w", err)
	}
	a, err := decimal.NewFromString(ask)
	if err != nil {
		return types.BookUpdate{}, fmt.Errorf("book ask: %w", err)
	}
	return types.BookUpdate{Bid: b, Ask: a}, nil
}
