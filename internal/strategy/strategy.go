package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"futures-bot/internal/config"
	"futures-bot/internal/market"
	"futures-bot/pkg/types"
)

// MarketView is the read side of the market state. *market.State
// satisfies it.
type MarketView interface {
	Book(symbol types.Symbol) (types.BookUpdate, bool)
	Series(symbol types.Symbol, tf types.Timeframe) (*market.Series, bool)
	Contract(symbol types.Symbol) (types.Contract, bool)
}

// Strategy evaluates the configured rules against market state and
// drives the command handler.
type Strategy struct {
	rules     []config.StrategyRules
	venue     Venue
	market    MarketView
	local     *LocalStorage
	handler   *CommandHandler
	positions PositionStore
	logger    *slog.Logger

	mu   sync.Mutex
	busy map[types.Symbol]bool
}

// NewStrategy creates the strategy engine over the given rules.
func NewStrategy(
	rules []config.StrategyRules,
	venue Venue,
	view MarketView,
	local *LocalStorage,
	handler *CommandHandler,
	positions PositionStore,
	logger *slog.Logger,
) *Strategy {
	return &Strategy{
		rules:     rules,
		venue:     venue,
		market:    view,
		local:     local,
		handler:   handler,
		positions: positions,
		logger:    logger.With("component", "strategy"),
		busy:      make(map[types.Symbol]bool),
	}
}

// Handler exposes the command handler for event wiring.
func (s *Strategy) Handler() *CommandHandler { return s.handler }

// Local exposes the account mirror for event wiring.
func (s *Strategy) Local() *LocalStorage { return s.local }

// Start pulls the account, reconciles stored positions against it and
// configures the venue (hedge mode, leverage, margin type) for every
// traded symbol.
func (s *Strategy) Start(ctx context.Context) error {
	acc, err := s.venue.GetAccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("account info: %w", err)
	}
	s.local.ApplyAccount(*acc)

	hedge, err := s.venue.IsHedgeMode(ctx)
	if err != nil {
		return fmt.Errorf("position mode: %w", err)
	}
	if !hedge {
		if err := s.venue.ChangePositionMode(ctx, true); err != nil {
			return fmt.Errorf("enable hedge mode: %w", err)
		}
		s.logger.Info("hedge mode enabled")
	}

	for _, rule := range s.rules {
		for _, symbol := range rule.Symbols {
			if err := s.venue.ChangeLeverage(ctx, symbol, rule.Leverage); err != nil {
				return fmt.Errorf("set leverage %s: %w", symbol, err)
			}
			s.local.SetLeverage(symbol, rule.Leverage)
			// the venue rejects a no-op margin change, which is fine
			if err := s.venue.ChangeMarginType(ctx, symbol, types.MarginCrossed); err != nil {
				s.logger.Debug("margin type unchanged", "symbol", symbol, "error", err)
			}
		}
	}

	return s.reconcile(ctx)
}

// reconcile matches stored open positions against the venue account. The
// symbol is healthy only when every venue position with quantity is
// backed by a matching stored record; anything else, a stored record the
// venue does not corroborate or a venue position the store never saw,
// marks the symbol busy and the bot will not trade it until a human
// sorts it out.
func (s *Strategy) reconcile(ctx context.Context) error {
	for _, rule := range s.rules {
		for _, symbol := range rule.Symbols {
			stored, err := s.positions.FindOpen(ctx, symbol, rule.ID)
			if err != nil {
				return fmt.Errorf("load open positions %s: %w", symbol, err)
			}

			reconciled := 0
			for _, pos := range stored {
				if s.matchesVenue(pos) {
					s.handler.TrackPosition(pos)
					reconciled++
					s.logger.Info("position reconciled",
						"symbol", pos.Symbol,
						"side", pos.Side,
						"quantity", pos.Quantity,
					)
					continue
				}
				s.logger.Error("stored position does not match venue",
					"symbol", pos.Symbol,
					"side", pos.Side,
					"quantity", pos.Quantity,
					"entry_price", pos.EntryPrice,
				)
			}

			held := 0
			for _, venuePos := range s.local.VenuePositions(symbol) {
				if venuePos.Quantity.IsPositive() {
					held++
				}
			}
			if reconciled != held {
				s.setBusy(symbol)
				s.logger.Error("position mismatch, symbol disabled",
					"symbol", symbol,
					"reconciled", reconciled,
					"venue_positions", held,
				)
			}
		}
	}
	return nil
}

// matchesVenue checks quantity and entry price (rounded to the contract
// tick) against the venue's view.
func (s *Strategy) matchesVenue(pos *types.Position) bool {
	venuePos, ok := s.local.VenuePosition(pos.Symbol, pos.Side)
	if !ok || !venuePos.Quantity.Equal(pos.Quantity) {
		return false
	}
	precision := int32(2)
	if contract, ok := s.market.Contract(pos.Symbol); ok {
		precision = int32(contract.PricePrecision)
	}
	return venuePos.EntryPrice.Round(precision).Equal(pos.EntryPrice.Round(precision))
}

func (s *Strategy) setBusy(symbol types.Symbol) {
	s.mu.Lock()
	s.busy[symbol] = true
	s.mu.Unlock()
}

// IsBusy reports whether the symbol is disabled by reconciliation.
func (s *Strategy) IsBusy(symbol types.Symbol) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[symbol]
}

// OnBook reacts to one best bid/ask update: pending commands run first;
// only a quiet symbol looks for new exits, and anything they queue
// executes against the same book.
func (s *Strategy) OnBook(ctx context.Context, symbol types.Symbol, book types.BookUpdate) {
	if s.IsBusy(symbol) {
		return
	}
	if s.handler.HasCommands(symbol) {
		s.handler.OnBook(ctx, symbol, book)
		return
	}
	s.checkStopLoss(symbol, book)
	s.checkTakeProfit(symbol, book)
	if s.handler.HasCommands(symbol) {
		s.handler.OnBook(ctx, symbol, book)
	}
}

// OnCandles runs entry signal evaluation once a new candle opens. Keeping
// signals off the book hot path bounds the indicator work per symbol to
// one pass per bar.
func (s *Strategy) OnCandles(ctx context.Context, symbol types.Symbol) {
	if s.IsBusy(symbol) {
		return
	}
	book, ok := s.market.Book(symbol)
	if !ok {
		return
	}
	if s.handler.HasCommands(symbol) {
		s.handler.OnBook(ctx, symbol, book)
		return
	}
	s.checkSignals(symbol, book)
	if s.handler.HasCommands(symbol) {
		s.handler.OnBook(ctx, symbol, book)
	}
}

// checkStopLoss closes the full position once the adverse move from the
// entry exceeds the configured rate.
func (s *Strategy) checkStopLoss(symbol types.Symbol, book types.BookUpdate) {
	for i := range s.rules {
		rule := &s.rules[i]
		if rule.StopLoss == nil || !ruleTrades(rule, symbol) {
			continue
		}
		for _, side := range []types.PositionSide{types.PositionLong, types.PositionShort} {
			pos, ok := s.handler.OpenPosition(symbol, rule.ID, side)
			if !ok {
				continue
			}
			if !stopLossHit(pos, book, rule.StopLoss.Rate) {
				continue
			}
			s.logger.Warn("stop loss triggered",
				"symbol", symbol,
				"side", side,
				"entry_price", pos.EntryPrice,
				"bid", book.Bid,
				"ask", book.Ask,
			)
			s.handler.Enqueue(&Command{
				Symbol:       symbol,
				Side:         side.ExitSide(),
				PositionSide: side,
				Quantity:     pos.Quantity,
				Trailing:     rule.Trailing,
				CallbackRate: rule.TrailingCallbackRate,
				StrategyID:   rule.ID,
				PositionID:   pos.ID,
				Reason:       ReasonStopLoss,
			}, book)
		}
	}
}

// stopLossHit: longs measure the bid against entry*(1-rate), shorts the
// ask against entry*(1+rate).
func stopLossHit(pos *types.Position, book types.BookUpdate, rate decimal.Decimal) bool {
	if pos.Side == types.PositionLong {
		return book.Bid.LessThanOrEqual(pos.EntryPrice.Mul(decimal.NewFromInt(1).Sub(rate)))
	}
	return book.Ask.GreaterThanOrEqual(pos.EntryPrice.Mul(decimal.NewFromInt(1).Add(rate)))
}

// checkTakeProfit fires the next ladder step once its price level is
// reached. The step quantity is bumped to the minimum notional, and the
// final step (or a step that would leave dust) closes the remainder.
func (s *Strategy) checkTakeProfit(symbol types.Symbol, book types.BookUpdate) {
	for i := range s.rules {
		rule := &s.rules[i]
		if rule.TakeProfit == nil || !ruleTrades(rule, symbol) {
			continue
		}
		for _, side := range []types.PositionSide{types.PositionLong, types.PositionShort} {
			pos, ok := s.handler.OpenPosition(symbol, rule.ID, side)
			if !ok {
				continue
			}

			// Orders[0] is the entry; each later order is a fired step.
			nextStep := len(pos.Orders)
			if nextStep < 1 || nextStep > len(rule.TakeProfit.Steps) {
				continue
			}
			step := rule.TakeProfit.Steps[nextStep-1]
			if !takeProfitHit(pos, book, step.Level) {
				continue
			}

			qty := s.takeProfitQuantity(symbol, pos, step, book.Price(side.ExitSide()))
			if qty.IsZero() {
				continue
			}
			s.logger.Info("take profit step triggered",
				"symbol", symbol,
				"side", side,
				"step", nextStep,
				"quantity", qty,
			)
			s.handler.Enqueue(&Command{
				Symbol:       symbol,
				Side:         side.ExitSide(),
				PositionSide: side,
				Quantity:     qty,
				Trailing:     rule.Trailing,
				CallbackRate: rule.TrailingCallbackRate,
				StrategyID:   rule.ID,
				PositionID:   pos.ID,
				Reason:       ReasonTakeProfit,
			}, book)
		}
	}
}

func takeProfitHit(pos *types.Position, book types.BookUpdate, level decimal.Decimal) bool {
	if pos.Side == types.PositionLong {
		return book.Bid.GreaterThanOrEqual(pos.EntryPrice.Mul(decimal.NewFromInt(1).Add(level)))
	}
	return book.Ask.LessThanOrEqual(pos.EntryPrice.Mul(decimal.NewFromInt(1).Sub(level)))
}

// takeProfitQuantity sizes one ladder step against the contract rules.
func (s *Strategy) takeProfitQuantity(symbol types.Symbol, pos *types.Position, step config.TakeProfitStep, price decimal.Decimal) decimal.Decimal {
	contract, ok := s.market.Contract(symbol)
	if !ok {
		return decimal.Zero
	}
	qty := contract.RoundQuantity(pos.TotalQuantity.Mul(step.Stake))

	// bump below-minimum steps up to the smallest sellable quantity
	if qty.Mul(price).LessThan(contract.MinNotional) && price.IsPositive() {
		qty = contract.RoundQuantity(contract.MinNotional.Div(price).Add(contract.LotSize))
	}
	// never leave dust behind
	if qty.GreaterThanOrEqual(pos.Quantity) || pos.Quantity.Sub(qty).Mul(price).LessThan(contract.MinNotional) {
		qty = pos.Quantity
	}
	return qty
}

// checkSignals evaluates every rule's entry conditions for the symbol.
func (s *Strategy) checkSignals(symbol types.Symbol, book types.BookUpdate) {
	for i := range s.rules {
		rule := &s.rules[i]
		if !ruleTrades(rule, symbol) || len(rule.Conditions) == 0 {
			continue
		}

		for _, group := range groupConditions(rule.Conditions) {
			// one vote per indicator/timeframe pair; a later duplicate
			// overwrites, it does not add a second vote
			results := make(map[indicatorKey]bool, len(group.conditions))
			for _, cond := range group.conditions {
				results[indicatorKey{cond.Indicator, cond.Timeframe}] = s.conditionMet(symbol, cond)
			}
			satisfied := 0
			for _, hit := range results {
				if hit {
					satisfied++
				}
			}
			if satisfied < rule.ConditionsTriggerCount {
				continue
			}
			if _, open := s.handler.OpenPosition(symbol, rule.ID, group.positionSide); open {
				continue
			}
			if s.handler.HasCommandsFor(symbol, rule.ID, group.positionSide) {
				continue
			}

			qty := s.calcTradeQuantity(rule, symbol, book.Price(group.orderSide))
			if qty.IsZero() {
				continue
			}
			s.logger.Info("signal triggered",
				"strategy", rule.ID,
				"symbol", symbol,
				"position_side", group.positionSide,
				"order_side", group.orderSide,
				"satisfied", satisfied,
			)
			s.handler.Enqueue(&Command{
				Symbol:       symbol,
				Side:         group.orderSide,
				PositionSide: group.positionSide,
				Quantity:     qty,
				Trailing:     rule.Trailing,
				CallbackRate: rule.TrailingCallbackRate,
				StrategyID:   rule.ID,
				Reason:       ReasonSignal,
			}, book)
		}
	}
}

// calcTradeQuantity sizes an entry from the quote balance, stake and
// leverage, refusing trades under the contract's minimum notional.
func (s *Strategy) calcTradeQuantity(rule *config.StrategyRules, symbol types.Symbol, price decimal.Decimal) decimal.Decimal {
	contract, ok := s.market.Contract(symbol)
	if !ok || !price.IsPositive() {
		return decimal.Zero
	}

	balance := s.local.Balance(contract.QuoteAsset)
	leverage := decimal.NewFromInt(int64(rule.Leverage))
	qty := contract.RoundQuantity(balance.Mul(rule.BalanceStake).Mul(leverage).Div(price))

	if qty.Mul(price).LessThan(contract.MinNotional) {
		s.logger.Warn("trade below minimum notional, skipped",
			"symbol", symbol,
			"quantity", qty,
			"price", price,
			"min_notional", contract.MinNotional,
		)
		return decimal.Zero
	}
	return qty
}

func ruleTrades(rule *config.StrategyRules, symbol types.Symbol) bool {
	for _, s := range rule.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// indicatorKey identifies one vote inside a condition group.
type indicatorKey struct {
	indicator string
	timeframe types.Timeframe
}

// conditionGroup is the conditions sharing one (position side, order
// side) pair.
type conditionGroup struct {
	positionSide types.PositionSide
	orderSide    types.Side
	conditions   []config.SignalCondition
}

func groupConditions(conditions []config.SignalCondition) []conditionGroup {
	var groups []conditionGroup
	for _, cond := range conditions {
		found := false
		for i := range groups {
			if groups[i].positionSide == cond.PositionSide && groups[i].orderSide == cond.OrderSide {
				groups[i].conditions = append(groups[i].conditions, cond)
				found = true
				break
			}
		}
		if !found {
			groups = append(groups, conditionGroup{
				positionSide: cond.PositionSide,
				orderSide:    cond.OrderSide,
				conditions:   []config.SignalCondition{cond},
			})
		}
	}
	return groups
}
