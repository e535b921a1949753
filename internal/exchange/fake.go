// fake.go implements a simulated venue account for replay runs.
//
// MARKET orders fill instantly at the current replayed book price (ask for
// BUY, bid for SELL) with the taker fee applied, balances mutate
// accordingly, and the same ACCOUNT_UPDATE / ORDER_TRADE_UPDATE events a
// real venue would send are emitted through UserEvents, so the downstream
// order pipeline is identical in live and replay modes.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"futures-bot/pkg/types"
)

// Simulated commission rates.
var (
	makerFee = decimal.RequireFromString("0.0002")
	takerFee = decimal.RequireFromString("0.0004")
)

// PriceSource provides the current (replayed) book and the trading rules
// for a symbol.
type PriceSource interface {
	Book(symbol types.Symbol) (types.BookUpdate, bool)
	Contract(symbol types.Symbol) (types.Contract, bool)
}

// FakeUserClient is a drop-in replacement for UserClient backed by an
// in-memory account.
type FakeUserClient struct {
	events *UserEvents
	prices PriceSource
	logger *slog.Logger

	mu        sync.Mutex
	assets    map[types.Asset]decimal.Decimal
	positions map[types.Symbol]map[types.PositionSide]*types.AccountPosition
	orders    map[types.ClientOrderID]*types.Order
	leverage  map[types.Symbol]int
	nextID    types.OrderID
}

// NewFakeUserClient creates a simulated account with the default seed
// balances.
func NewFakeUserClient(prices PriceSource, events *UserEvents, logger *slog.Logger) *FakeUserClient {
	return &FakeUserClient{
		events: events,
		prices: prices,
		logger: logger.With("component", "fake_exchange"),
		assets: map[types.Asset]decimal.Decimal{
			"BTC":  decimal.RequireFromString("0.1"),
			"ETH":  decimal.NewFromInt(1),
			"DOT":  decimal.NewFromInt(100),
			"USDT": decimal.NewFromInt(1000),
		},
		positions: make(map[types.Symbol]map[types.PositionSide]*types.AccountPosition),
		orders:    make(map[types.ClientOrderID]*types.Order),
		leverage:  make(map[types.Symbol]int),
		nextID:    1,
	}
}

// GetAccountInfo returns the simulated balances and positions.
func (c *FakeUserClient) GetAccountInfo(ctx context.Context) (*types.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(), nil
}

func (c *FakeUserClient) snapshotLocked() *types.Account {
	acc := &types.Account{}
	for asset, balance := range c.assets {
		acc.Assets = append(acc.Assets, types.AccountBalance{Asset: asset, Balance: balance})
	}
	for _, sides := range c.positions {
		for _, pos := range sides {
			acc.Positions = append(acc.Positions, *pos)
		}
	}
	return acc
}

// ChangeLeverage records the leverage and emits the config event.
func (c *FakeUserClient) ChangeLeverage(ctx context.Context, symbol types.Symbol, leverage int) error {
	c.mu.Lock()
	c.leverage[symbol] = leverage
	c.mu.Unlock()
	c.events.EmitConfig(types.AccountConfig{Symbol: symbol, Leverage: leverage})
	return nil
}

// IsHedgeMode always reports hedge mode.
func (c *FakeUserClient) IsHedgeMode(ctx context.Context) (bool, error) {
	return true, nil
}

// ChangePositionMode is a no-op; the simulated account is always hedged.
func (c *FakeUserClient) ChangePositionMode(ctx context.Context, hedge bool) error {
	return nil
}

// ChangeMarginType is a no-op.
func (c *FakeUserClient) ChangeMarginType(ctx context.Context, symbol types.Symbol, margin types.MarginType) error {
	return nil
}

// PlaceOrder fills a MARKET order at the current book price and emits the
// account and order events a real venue would send.
func (c *FakeUserClient) PlaceOrder(
	ctx context.Context,
	clientOrderID types.ClientOrderID,
	symbol types.Symbol,
	quantity decimal.Decimal,
	side types.Side,
	positionSide types.PositionSide,
) (*types.Order, error) {
	book, ok := c.prices.Book(symbol)
	if !ok {
		return nil, fmt.Errorf("place order %s: no book price: %w", symbol, ErrOperationFailed)
	}
	contract, ok := c.prices.Contract(symbol)
	if !ok {
		return nil, fmt.Errorf("place order %s: unknown contract: %w", symbol, ErrOperationFailed)
	}
	price := book.Ask
	if side == types.SELL {
		price = book.Bid
	}

	base, quote := contract.BaseAsset, contract.QuoteAsset
	amount := quantity.Mul(price)
	commission := amount.Mul(takerFee)

	c.mu.Lock()
	if side == types.BUY {
		c.assets[quote] = c.assets[quote].Sub(amount).Sub(commission)
		c.assets[base] = c.assets[base].Add(quantity)
	} else {
		c.assets[base] = c.assets[base].Sub(quantity)
		c.assets[quote] = c.assets[quote].Add(amount).Sub(commission)
	}
	c.applyPositionLocked(symbol, positionSide, side, quantity, price)

	order := &types.Order{
		ID:            c.nextID,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Status:        types.StatusFilled,
		Type:          types.OrderMarket,
		Side:          side,
		PositionSide:  positionSide,
		Quantity:      quantity,
		Price:         price,
	}
	c.nextID++
	c.orders[clientOrderID] = order
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("filled order",
		"symbol", symbol,
		"side", side,
		"quantity", quantity,
		"price", price,
		"commission", commission,
	)

	c.events.EmitAccount(*snapshot)
	clone := *order
	c.events.EmitOrder(&clone)
	return order, nil
}

// applyPositionLocked nets the fill into the hedge-mode position.
func (c *FakeUserClient) applyPositionLocked(
	symbol types.Symbol,
	positionSide types.PositionSide,
	side types.Side,
	quantity, price decimal.Decimal,
) {
	sides, ok := c.positions[symbol]
	if !ok {
		sides = make(map[types.PositionSide]*types.AccountPosition)
		c.positions[symbol] = sides
	}
	pos, ok := sides[positionSide]
	if !ok {
		pos = &types.AccountPosition{Symbol: symbol, Side: positionSide}
		sides[positionSide] = pos
	}

	if side == positionSide.EntrySide() {
		total := pos.Quantity.Add(quantity)
		if total.IsPositive() {
			weighted := pos.EntryPrice.Mul(pos.Quantity).Add(price.Mul(quantity))
			pos.EntryPrice = weighted.Div(total)
		}
		pos.Quantity = total
	} else {
		pos.Quantity = pos.Quantity.Sub(quantity)
		if !pos.Quantity.IsPositive() {
			pos.Quantity = decimal.Zero
			pos.EntryPrice = decimal.Zero
		}
	}
}

// GetOrder returns the filled order by client order id.
func (c *FakeUserClient) GetOrder(ctx context.Context, symbol types.Symbol, clientOrderID types.ClientOrderID) (*types.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[clientOrderID]
	if !ok {
		return nil, fmt.Errorf("get order %s: unknown client order id", clientOrderID)
	}
	clone := *order
	return &clone, nil
}

// CancelOrder is a no-op; simulated MARKET orders fill instantly.
func (c *FakeUserClient) CancelOrder(ctx context.Context, symbol types.Symbol, clientOrderID types.ClientOrderID) (*types.Order, error) {
	return c.GetOrder(ctx, symbol, clientOrderID)
}
