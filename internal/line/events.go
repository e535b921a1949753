package line

import (
	"fmt"

	"github.com/goccy/go-json"

	"futures-bot/pkg/types"
)

// events holds the typed callbacks and decodes entity payloads into them.
// Shared by the live client and the replayer.
type events struct {
	onBook  func(types.Symbol, types.BookUpdate)
	onTrade func(types.Symbol, types.TradeUpdate)
	onDepth func(types.DepthUpdate)
	onAlive func()
	onReset func()
}

// OnBook sets the best bid/ask callback.
func (e *events) OnBook(fn func(types.Symbol, types.BookUpdate)) { e.onBook = fn }

// OnTrade sets the trade callback.
func (e *events) OnTrade(fn func(types.Symbol, types.TradeUpdate)) { e.onTrade = fn }

// OnDepth sets the depth diff callback.
func (e *events) OnDepth(fn func(types.DepthUpdate)) { e.onDepth = fn }

// OnAlive sets the publisher heartbeat callback.
func (e *events) OnAlive(fn func()) { e.onAlive = fn }

// OnReset sets the callback fired when upstream state must be reloaded.
func (e *events) OnReset(fn func()) { e.onReset = fn }

// dispatch decodes one entity payload (wire JSON form) and invokes its
// callback.
func (e *events) dispatch(entity types.StreamEntity, symbol types.Symbol, data json.RawMessage) error {
	switch entity {
	case types.EntityBook:
		var book types.BookUpdate
		if err := json.Unmarshal(data, &book); err != nil {
			return fmt.Errorf("unmarshal book: %w", err)
		}
		if e.onBook != nil {
			e.onBook(symbol, book)
		}
	case types.EntityTrade:
		var trade types.TradeUpdate
		if err := json.Unmarshal(data, &trade); err != nil {
			return fmt.Errorf("unmarshal trade: %w", err)
		}
		if e.onTrade != nil {
			e.onTrade(symbol, trade)
		}
	case types.EntityDepth:
		var depth types.DepthUpdate
		if err := json.Unmarshal(data, &depth); err != nil {
			return fmt.Errorf("unmarshal depth: %w", err)
		}
		if depth.Symbol == "" {
			depth.Symbol = symbol
		}
		if e.onDepth != nil {
			e.onDepth(depth)
		}
	default:
		return fmt.Errorf("unknown entity %q", entity)
	}
	return nil
}
