// command.go defines the order commands a strategy emits and the
// per-symbol pending set they wait in. A command is structural: two
// commands asking for the same action hash equal, so re-evaluating a
// signal on every book tick cannot enqueue duplicates.
package strategy

import (
	"hash/fnv"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"futures-bot/pkg/types"
)

// Command reasons.
const (
	ReasonSignal     = "signal"
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
)

// Command is one pending order request.
type Command struct {
	Symbol       types.Symbol
	Side         types.Side
	PositionSide types.PositionSide
	Quantity     decimal.Decimal
	Trailing     bool
	CallbackRate decimal.Decimal
	StrategyID   types.StrategyID
	PositionID   types.PositionID // set on close commands
	Reason       string
	Context      map[string]string
}

// Hash returns the structural identity of the command. Context is
// deliberately excluded; it annotates, it does not distinguish.
func (c *Command) Hash() uint64 {
	h := fnv.New64a()
	for _, part := range []string{
		string(c.Symbol),
		string(c.Side),
		string(c.PositionSide),
		c.Quantity.String(),
		strconv.FormatBool(c.Trailing),
		c.CallbackRate.String(),
		string(c.StrategyID),
		string(c.PositionID),
		c.Reason,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// commandState is a queued command plus its trailing anchor.
type commandState struct {
	cmd      *Command
	created  time.Time
	stopSize decimal.Decimal
	stopLoss decimal.Decimal
}

// newCommandState anchors the trailing stop at the reference book price.
// For BUY commands the stop sits above the bid and trails it down; for
// SELL it sits below the ask and trails it up.
func newCommandState(cmd *Command, ref types.BookUpdate) *commandState {
	st := &commandState{cmd: cmd, created: time.Now()}
	if !cmd.Trailing {
		return st
	}
	price := ref.Price(cmd.Side)
	st.stopSize = price.Mul(cmd.CallbackRate)
	if cmd.Side == types.BUY {
		st.stopLoss = price.Add(st.stopSize)
	} else {
		st.stopLoss = price.Sub(st.stopSize)
	}
	return st
}

// update re-anchors the trailing stop toward a better price and reports
// whether the stop was hit. Re-anchoring recomputes the stop distance
// from the new reference, so the stop always sits callback_rate away
// from the best price seen.
func (st *commandState) update(book types.BookUpdate) bool {
	if !st.cmd.Trailing {
		return true
	}
	price := book.Price(st.cmd.Side)
	if !price.IsPositive() {
		// abnormal book, ignore
		return false
	}
	if st.cmd.Side == types.BUY {
		if price.Add(st.stopSize).LessThan(st.stopLoss) {
			st.stopSize = price.Mul(st.cmd.CallbackRate)
			st.stopLoss = price.Add(st.stopSize)
		}
		return price.GreaterThanOrEqual(st.stopLoss)
	}
	if price.Sub(st.stopSize).GreaterThan(st.stopLoss) {
		st.stopSize = price.Mul(st.cmd.CallbackRate)
		st.stopLoss = price.Sub(st.stopSize)
	}
	return price.LessThanOrEqual(st.stopLoss)
}

// commandSet is an insertion-ordered pending set with structural dedup.
type commandSet struct {
	items  []*commandState
	hashes map[uint64]struct{}
}

func newCommandSet() *commandSet {
	return &commandSet{hashes: make(map[uint64]struct{})}
}

// add queues a command unless an equal one is already pending.
func (s *commandSet) add(st *commandState) bool {
	h := st.cmd.Hash()
	if _, dup := s.hashes[h]; dup {
		return false
	}
	s.hashes[h] = struct{}{}
	s.items = append(s.items, st)
	return true
}

func (s *commandSet) remove(st *commandState) {
	delete(s.hashes, st.cmd.Hash())
	for i, item := range s.items {
		if item == st {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

func (s *commandSet) len() int { return len(s.items) }

// snapshot returns the pending commands in insertion order.
func (s *commandSet) snapshot() []*commandState {
	out := make([]*commandState, len(s.items))
	copy(out, s.items)
	return out
}
