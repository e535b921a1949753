// handler.go executes pending commands against the venue and folds order
// results into positions. Fills arrive twice, from the polling loop and
// from the user stream; UpdateOrder is idempotent so the order of arrival
// does not matter.
package strategy

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"futures-bot/pkg/types"
)

// waitingTTL bounds how long an unconfirmed order is polled before it is
// abandoned to manual inspection.
const waitingTTL = 30 * time.Second

// Placement pacing: a burst across many symbols must not overrun the
// venue rate budget, so at most placeBurst orders go out per placeWindow.
const (
	placeBurst  = 10
	placeWindow = 500 * time.Millisecond
)

// placeGate is the pacing window. Callers past the burst limit sleep
// until the next window opens.
type placeGate struct {
	mu     sync.Mutex
	opened time.Time
	count  int
}

func (g *placeGate) wait() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if now.Sub(g.opened) >= placeWindow {
		g.opened = now
		g.count = 0
	}
	if g.count >= placeBurst {
		time.Sleep(g.opened.Add(placeWindow).Sub(now))
		g.opened = time.Now()
		g.count = 0
	}
	g.count++
}

// Venue is the trading surface. Both the signed REST client and the
// replay fake satisfy it.
type Venue interface {
	GetAccountInfo(ctx context.Context) (*types.Account, error)
	ChangeLeverage(ctx context.Context, symbol types.Symbol, leverage int) error
	IsHedgeMode(ctx context.Context) (bool, error)
	ChangePositionMode(ctx context.Context, hedge bool) error
	ChangeMarginType(ctx context.Context, symbol types.Symbol, margin types.MarginType) error
	PlaceOrder(ctx context.Context, clientOrderID types.ClientOrderID, symbol types.Symbol,
		quantity decimal.Decimal, side types.Side, positionSide types.PositionSide) (*types.Order, error)
	GetOrder(ctx context.Context, symbol types.Symbol, clientOrderID types.ClientOrderID) (*types.Order, error)
	CancelOrder(ctx context.Context, symbol types.Symbol, clientOrderID types.ClientOrderID) (*types.Order, error)
}

// OrderStore persists order records. *storage.Orders satisfies it.
type OrderStore interface {
	Create(ctx context.Context, order *types.Order) error
	Update(ctx context.Context, order *types.Order) error
	GetByClientID(ctx context.Context, id types.ClientOrderID) (*types.Order, error)
}

// PositionStore persists position records. *storage.Positions satisfies
// it.
type PositionStore interface {
	Create(ctx context.Context, pos *types.Position) error
	Update(ctx context.Context, pos *types.Position) error
	FindOpen(ctx context.Context, symbol types.Symbol, strategyID types.StrategyID) ([]*types.Position, error)
}

// posKey identifies one logical position.
type posKey struct {
	symbol     types.Symbol
	strategyID types.StrategyID
	side       types.PositionSide
}

// waitingOrder is an order placed but not yet confirmed terminal.
type waitingOrder struct {
	cmd      *Command
	clientID types.ClientOrderID
	symbol   types.Symbol
	placedAt time.Time
}

// CommandHandler owns the pending command queues, order placement and
// position accounting.
type CommandHandler struct {
	venue     Venue
	orders    OrderStore
	positions PositionStore
	logger    *slog.Logger

	mu      sync.Mutex
	queues  map[types.Symbol]*commandSet
	waiting map[types.ClientOrderID]*waitingOrder
	open    map[posKey]*types.Position

	gate placeGate
}

// NewCommandHandler creates a handler over the venue and stores.
func NewCommandHandler(venue Venue, orders OrderStore, positions PositionStore, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{
		venue:     venue,
		orders:    orders,
		positions: positions,
		logger:    logger.With("component", "command_handler"),
		queues:    make(map[types.Symbol]*commandSet),
		waiting:   make(map[types.ClientOrderID]*waitingOrder),
		open:      make(map[posKey]*types.Position),
	}
}

// Enqueue queues a command, anchoring its trailing stop at the current
// book. Structural duplicates are dropped.
func (h *CommandHandler) Enqueue(cmd *Command, book types.BookUpdate) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.queues[cmd.Symbol]
	if !ok {
		set = newCommandSet()
		h.queues[cmd.Symbol] = set
	}
	st := newCommandState(cmd, book)
	if !set.add(st) {
		h.logger.Warn("duplicate command dropped",
			"symbol", cmd.Symbol,
			"side", cmd.Side,
			"reason", cmd.Reason,
		)
		return false
	}
	h.logger.Info("command queued",
		"symbol", cmd.Symbol,
		"side", cmd.Side,
		"position_side", cmd.PositionSide,
		"quantity", cmd.Quantity,
		"trailing", cmd.Trailing,
		"reason", cmd.Reason,
	)
	return true
}

// HasCommands reports whether the symbol has pending commands.
func (h *CommandHandler) HasCommands(symbol types.Symbol) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.queues[symbol]
	return ok && set.len() > 0
}

// HasCommandsFor reports whether a strategy has pending commands on one
// position side of a symbol.
func (h *CommandHandler) HasCommandsFor(symbol types.Symbol, strategyID types.StrategyID, side types.PositionSide) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.queues[symbol]
	if !ok {
		return false
	}
	for _, st := range set.items {
		if st.cmd.StrategyID == strategyID && st.cmd.PositionSide == side {
			return true
		}
	}
	return false
}

// OnBook advances the symbol's pending commands against a fresh book:
// trailing stops re-anchor, hit commands execute.
func (h *CommandHandler) OnBook(ctx context.Context, symbol types.Symbol, book types.BookUpdate) {
	h.mu.Lock()
	set, ok := h.queues[symbol]
	if !ok || set.len() == 0 {
		h.mu.Unlock()
		return
	}
	pending := set.snapshot()
	h.mu.Unlock()

	for _, st := range pending {
		if !st.update(book) {
			continue
		}
		h.execute(ctx, st)
	}
}

// execute places the market order for a triggered command. Placement
// failure keeps the command queued for the next book tick.
func (h *CommandHandler) execute(ctx context.Context, st *commandState) {
	cmd := st.cmd
	clientID := newClientOrderID()

	h.gate.wait()
	order, err := h.venue.PlaceOrder(ctx, clientID, cmd.Symbol, cmd.Quantity, cmd.Side, cmd.PositionSide)
	if err != nil {
		h.logger.Error("place order failed, command kept",
			"symbol", cmd.Symbol,
			"side", cmd.Side,
			"reason", cmd.Reason,
			"error", err,
		)
		return
	}

	order.ClientOrderID = clientID
	order.PositionID = cmd.PositionID
	order.Context = map[string]string{
		"strategy_id": string(cmd.StrategyID),
		"reason":      cmd.Reason,
	}
	if err := h.orders.Create(ctx, order); err != nil {
		h.logger.Error("persist order failed", "id", order.ID, "error", err)
	}

	h.mu.Lock()
	if set, ok := h.queues[cmd.Symbol]; ok {
		set.remove(st)
	}
	h.waiting[clientID] = &waitingOrder{
		cmd:      cmd,
		clientID: clientID,
		symbol:   cmd.Symbol,
		placedAt: time.Now(),
	}
	h.mu.Unlock()

	h.logger.Info("order placed",
		"symbol", cmd.Symbol,
		"side", cmd.Side,
		"quantity", cmd.Quantity,
		"client_order_id", clientID,
		"reason", cmd.Reason,
	)

	if order.IsProcessed() {
		h.UpdateOrder(ctx, order)
	}
}

// PollWaiting queries the venue for every unconfirmed order. Orders past
// the TTL are dropped from tracking with an error.
func (h *CommandHandler) PollWaiting(ctx context.Context) {
	h.mu.Lock()
	pending := make([]*waitingOrder, 0, len(h.waiting))
	for _, w := range h.waiting {
		pending = append(pending, w)
	}
	h.mu.Unlock()

	for _, w := range pending {
		if time.Since(w.placedAt) > waitingTTL {
			h.logger.Error("order unconfirmed past deadline, dropping from tracking",
				"symbol", w.symbol,
				"client_order_id", w.clientID,
			)
			h.mu.Lock()
			delete(h.waiting, w.clientID)
			h.mu.Unlock()
			continue
		}

		order, err := h.venue.GetOrder(ctx, w.symbol, w.clientID)
		if err != nil {
			h.logger.Warn("order status query failed", "client_order_id", w.clientID, "error", err)
			continue
		}
		if order.IsProcessed() {
			h.UpdateOrder(ctx, order)
		}
	}
}

// Waiting reports how many orders await confirmation.
func (h *CommandHandler) Waiting() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiting)
}

// UpdateOrder folds a terminal order report into storage and the owning
// position. Safe to call more than once per order.
func (h *CommandHandler) UpdateOrder(ctx context.Context, upd *types.Order) {
	if !upd.IsProcessed() {
		return
	}

	h.mu.Lock()
	w, tracked := h.waiting[upd.ClientOrderID]
	if tracked {
		delete(h.waiting, upd.ClientOrderID)
	}
	h.mu.Unlock()

	// The waiting set is the at-most-once guard: an order we are not
	// waiting on (expired, already applied, or not ours) is ignored.
	if !tracked {
		h.logger.Debug("ignoring order outside waiting set", "client_order_id", upd.ClientOrderID)
		return
	}

	stored, err := h.orders.GetByClientID(ctx, upd.ClientOrderID)
	if err != nil {
		// keep the order tracked so the poll loop retries the fill
		h.mu.Lock()
		h.waiting[upd.ClientOrderID] = w
		h.mu.Unlock()
		h.logger.Error("load order failed", "client_order_id", upd.ClientOrderID, "error", err)
		return
	}
	isNew := stored == nil
	if isNew {
		// the user stream beat the placement response to the store
		stored = upd
		stored.Context = map[string]string{
			"strategy_id": string(w.cmd.StrategyID),
			"reason":      w.cmd.Reason,
		}
	} else {
		stored.Merge(upd)
	}

	if stored.IsFilled() {
		h.applyFill(ctx, w.cmd, stored)
	} else {
		h.logger.Warn("order did not fill",
			"client_order_id", stored.ClientOrderID,
			"status", stored.Status,
		)
	}

	if isNew {
		err = h.orders.Create(ctx, stored)
	} else {
		err = h.orders.Update(ctx, stored)
	}
	if err != nil {
		h.logger.Error("persist order failed", "id", stored.ID, "error", err)
	}
}

// applyFill nets the fill into the strategy's position, creating it on
// entry and closing it when the open quantity reaches zero.
func (h *CommandHandler) applyFill(ctx context.Context, cmd *Command, order *types.Order) {
	key := posKey{symbol: order.Symbol, strategyID: cmd.StrategyID, side: order.PositionSide}

	h.mu.Lock()
	pos := h.open[key]
	h.mu.Unlock()

	now := types.Timestamp(time.Now().UnixMilli())
	if order.Timestamp != 0 {
		now = order.Timestamp
	}

	if order.Side == order.PositionSide.EntrySide() {
		created := false
		if pos == nil {
			pos = &types.Position{
				ID:         types.PositionID(newClientOrderID()),
				Symbol:     order.Symbol,
				StrategyID: cmd.StrategyID,
				Side:       order.PositionSide,
				Status:     types.PositionOpen,
				Timestamp:  now,
			}
			created = true
		}
		if pos.HasOrder(order.ID) {
			return
		}
		total := pos.Quantity.Add(order.Quantity)
		weighted := pos.EntryPrice.Mul(pos.Quantity).Add(order.Price.Mul(order.Quantity))
		pos.EntryPrice = weighted.Div(total)
		pos.Quantity = total
		pos.TotalQuantity = pos.TotalQuantity.Add(order.Quantity)
		pos.Orders = append(pos.Orders, order.ID)
		pos.UpdateTimestamp = now
		order.PositionID = pos.ID

		h.mu.Lock()
		h.open[key] = pos
		h.mu.Unlock()

		var err error
		if created {
			err = h.positions.Create(ctx, pos)
		} else {
			err = h.positions.Update(ctx, pos)
		}
		if err != nil {
			h.logger.Error("persist position failed", "id", pos.ID, "error", err)
		}
		h.logger.Info("position entered",
			"symbol", pos.Symbol,
			"side", pos.Side,
			"quantity", pos.Quantity,
			"entry_price", pos.EntryPrice,
		)
		return
	}

	// exit fill
	if pos == nil {
		h.logger.Error("exit fill without an open position",
			"symbol", order.Symbol,
			"strategy_id", cmd.StrategyID,
			"id", order.ID,
		)
		return
	}
	if pos.HasOrder(order.ID) {
		return
	}
	// exit price is the quantity-weighted mean over all exit fills
	exited := pos.TotalQuantity.Sub(pos.Quantity)
	weighted := pos.ExitPrice.Mul(exited).Add(order.Price.Mul(order.Quantity))
	pos.ExitPrice = weighted.Div(exited.Add(order.Quantity))
	pos.Quantity = pos.Quantity.Sub(order.Quantity)
	pos.Orders = append(pos.Orders, order.ID)
	pos.UpdateTimestamp = now
	order.PositionID = pos.ID

	if !pos.Quantity.IsPositive() {
		pos.Quantity = decimal.Zero
		pos.Status = types.PositionClosed
		h.mu.Lock()
		delete(h.open, key)
		h.mu.Unlock()
		h.logger.Info("position closed",
			"symbol", pos.Symbol,
			"side", pos.Side,
			"entry_price", pos.EntryPrice,
			"exit_price", pos.ExitPrice,
		)
	} else {
		h.mu.Lock()
		h.open[key] = pos
		h.mu.Unlock()
		h.logger.Info("position reduced",
			"symbol", pos.Symbol,
			"side", pos.Side,
			"remaining", pos.Quantity,
		)
	}

	if err := h.positions.Update(ctx, pos); err != nil {
		h.logger.Error("persist position failed", "id", pos.ID, "error", err)
	}
}

// TrackPosition registers a reconciled open position.
func (h *CommandHandler) TrackPosition(pos *types.Position) {
	h.mu.Lock()
	h.open[posKey{symbol: pos.Symbol, strategyID: pos.StrategyID, side: pos.Side}] = pos
	h.mu.Unlock()
}

// OpenPosition returns the tracked open position for a strategy side.
func (h *CommandHandler) OpenPosition(symbol types.Symbol, strategyID types.StrategyID, side types.PositionSide) (*types.Position, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pos, ok := h.open[posKey{symbol: symbol, strategyID: strategyID, side: side}]
	return pos, ok
}

// newClientOrderID returns a fresh hex client order id.
func newClientOrderID() types.ClientOrderID {
	u := uuid.New()
	return types.ClientOrderID(hex.EncodeToString(u[:]))
}
