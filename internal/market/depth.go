// depth.go maintains a bounded order book from a REST snapshot plus the
// sequenced diff stream. Updates arriving before the snapshot are queued
// and replayed once it lands; a sequence gap resets the book and asks the
// owner for a fresh snapshot.
package market

import (
	"sort"

	"github.com/shopspring/decimal"

	"futures-bot/pkg/types"
)

// Depth is one symbol's bounded order book. Not safe for concurrent use;
// the owning state serializes access.
type Depth struct {
	limit int
	onGap func()

	bids map[string]types.PriceLevel
	asks map[string]types.PriceLevel

	lastID  int64
	synced  bool
	primed  bool // snapshot applied
	pending []types.DepthUpdate
}

// NewDepth creates a book keeping at most limit price levels per side.
// onGap is called when a sequence gap forces a reset; it may be nil.
func NewDepth(limit int, onGap func()) *Depth {
	return &Depth{
		limit: limit,
		onGap: onGap,
		bids:  make(map[string]types.PriceLevel),
		asks:  make(map[string]types.PriceLevel),
	}
}

// SetSnapshot seeds the book and replays any updates queued while the
// snapshot was in flight.
func (d *Depth) SetSnapshot(snapshot types.DepthSnapshot) {
	d.bids = make(map[string]types.PriceLevel)
	d.asks = make(map[string]types.PriceLevel)
	d.lastID = snapshot.LastUpdateID
	d.synced = false
	d.primed = true

	for _, lvl := range snapshot.Bids {
		d.applyLevel(d.bids, lvl)
	}
	for _, lvl := range snapshot.Asks {
		d.applyLevel(d.asks, lvl)
	}
	d.truncate()

	pending := d.pending
	d.pending = nil
	for _, upd := range pending {
		if !d.primed {
			break
		}
		d.Update(upd)
	}
}

// Update applies one diff. Before the snapshot arrives updates are
// queued; after it, the first accepted diff must straddle the snapshot id
// and every following diff must extend the sequence exactly.
func (d *Depth) Update(update types.DepthUpdate) {
	if !d.primed {
		d.pending = append(d.pending, update)
		return
	}

	if !d.synced {
		// Diffs wholly before the snapshot are stale.
		if d.lastID != 0 && update.LastID <= d.lastID {
			return
		}
		if d.lastID != 0 && (update.FirstID > d.lastID+1 || update.LastID < d.lastID+1) {
			d.reset()
			return
		}
		d.synced = true
	} else if update.FirstID != d.lastID+1 {
		d.reset()
		return
	}

	for _, lvl := range update.Bids {
		d.applyLevel(d.bids, lvl)
	}
	for _, lvl := range update.Asks {
		d.applyLevel(d.asks, lvl)
	}
	d.lastID = update.LastID
	d.truncate()
}

func (d *Depth) applyLevel(side map[string]types.PriceLevel, lvl types.PriceLevel) {
	key := lvl.Price().String()
	if lvl.Quantity().IsZero() {
		delete(side, key)
		return
	}
	side[key] = lvl
}

// reset drops all state so the owner can fetch a fresh snapshot.
func (d *Depth) reset() {
	d.bids = make(map[string]types.PriceLevel)
	d.asks = make(map[string]types.PriceLevel)
	d.lastID = 0
	d.synced = false
	d.primed = false
	d.pending = nil
	if d.onGap != nil {
		d.onGap()
	}
}

// truncate keeps the best limit levels per side: highest bids, lowest
// asks.
func (d *Depth) truncate() {
	if d.limit <= 0 {
		return
	}
	trimLowest := func(side map[string]types.PriceLevel, keepHighest bool) {
		if len(side) <= d.limit {
			return
		}
		levels := make([]types.PriceLevel, 0, len(side))
		for _, lvl := range side {
			levels = append(levels, lvl)
		}
		sort.Slice(levels, func(i, j int) bool {
			if keepHighest {
				return levels[i].Price().GreaterThan(levels[j].Price())
			}
			return levels[i].Price().LessThan(levels[j].Price())
		})
		for _, lvl := range levels[d.limit:] {
			delete(side, lvl.Price().String())
		}
	}
	trimLowest(d.bids, true)
	trimLowest(d.asks, false)
}

// Ready reports whether a snapshot has been applied and not invalidated.
func (d *Depth) Ready() bool { return d.primed }

// Bids returns bid levels, best (highest) first.
func (d *Depth) Bids() []types.PriceLevel {
	return sortedLevels(d.bids, true)
}

// Asks returns ask levels, best (lowest) first.
func (d *Depth) Asks() []types.PriceLevel {
	return sortedLevels(d.asks, false)
}

// BestBid returns the highest bid price, zero when the book is empty.
func (d *Depth) BestBid() decimal.Decimal {
	return bestPrice(d.bids, true)
}

// BestAsk returns the lowest ask price, zero when the book is empty.
func (d *Depth) BestAsk() decimal.Decimal {
	return bestPrice(d.asks, false)
}

func sortedLevels(side map[string]types.PriceLevel, descending bool) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(side))
	for _, lvl := range side {
		levels = append(levels, lvl)
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price().GreaterThan(levels[j].Price())
		}
		return levels[i].Price().LessThan(levels[j].Price())
	})
	return levels
}

func bestPrice(side map[string]types.PriceLevel, highest bool) decimal.Decimal {
	best := decimal.Zero
	first := true
	for _, lvl := range side {
		p := lvl.Price()
		if first || (highest && p.GreaterThan(best)) || (!highest && p.LessThan(best)) {
			best = p
			first = false
		}
	}
	return best
}
