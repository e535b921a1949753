// Package strategy turns market state into orders: signal evaluation,
// trailing command execution, stop loss and take profit, plus the startup
// reconciliation between stored positions and the venue account.
package strategy

import (
	"sync"

	"github.com/shopspring/decimal"

	"futures-bot/pkg/types"
)

// LocalStorage is the in-memory mirror of the venue account, kept fresh
// by ACCOUNT_UPDATE events. Balances and venue positions overlay; absent
// entries keep their previous value.
type LocalStorage struct {
	mu        sync.RWMutex
	balances  map[types.Asset]decimal.Decimal
	positions map[types.Symbol]map[types.PositionSide]types.AccountPosition
	leverage  map[types.Symbol]int
}

// NewLocalStorage creates an empty account mirror.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{
		balances:  make(map[types.Asset]decimal.Decimal),
		positions: make(map[types.Symbol]map[types.PositionSide]types.AccountPosition),
		leverage:  make(map[types.Symbol]int),
	}
}

// ApplyAccount overlays an account snapshot or delta.
func (l *LocalStorage) ApplyAccount(acc types.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, b := range acc.Assets {
		l.balances[b.Asset] = b.Balance
	}
	for _, p := range acc.Positions {
		sides, ok := l.positions[p.Symbol]
		if !ok {
			sides = make(map[types.PositionSide]types.AccountPosition)
			l.positions[p.Symbol] = sides
		}
		sides[p.Side] = p
	}
}

// Balance returns the cross wallet balance of an asset.
func (l *LocalStorage) Balance(asset types.Asset) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[asset]
}

// VenuePosition returns the venue's view of one hedge-mode position.
func (l *LocalStorage) VenuePosition(symbol types.Symbol, side types.PositionSide) (types.AccountPosition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sides, ok := l.positions[symbol]
	if !ok {
		return types.AccountPosition{}, false
	}
	pos, ok := sides[side]
	return pos, ok
}

// VenuePositions returns every venue position held on a symbol.
func (l *LocalStorage) VenuePositions(symbol types.Symbol) []types.AccountPosition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sides, ok := l.positions[symbol]
	if !ok {
		return nil
	}
	out := make([]types.AccountPosition, 0, len(sides))
	for _, pos := range sides {
		out = append(out, pos)
	}
	return out
}

// SetLeverage records a leverage change notification.
func (l *LocalStorage) SetLeverage(symbol types.Symbol, leverage int) {
	l.mu.Lock()
	l.leverage[symbol] = leverage
	l.mu.Unlock()
}

// Leverage returns the last known leverage for a symbol, zero when
// unknown.
func (l *LocalStorage) Leverage(symbol types.Symbol) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.leverage[symbol]
}
