package market

import (
	"testing"

	"futures-bot/pkg/types"
)

func level(price, qty string) types.PriceLevel {
	return types.PriceLevel{dec(price), dec(qty)}
}

func snapshot(lastID int64, bids, asks []types.PriceLevel) types.DepthSnapshot {
	return types.DepthSnapshot{LastUpdateID: lastID, Bids: bids, Asks: asks}
}

func diffUpdate(first, last int64, bids, asks []types.PriceLevel) types.DepthUpdate {
	return types.DepthUpdate{Symbol: "BTCUSDT", FirstID: first, LastID: last, Bids: bids, Asks: asks}
}

func TestDepthQueuesUpdatesUntilSnapshot(t *testing.T) {
	t.Parallel()

	d := NewDepth(10, nil)
	d.Update(diffUpdate(101, 102, []types.PriceLevel{level("99", "5")}, nil))
	if d.Ready() {
		t.Fatal("book must not be ready before snapshot")
	}

	d.SetSnapshot(snapshot(100, []types.PriceLevel{level("100", "1")}, []types.PriceLevel{level("101", "1")}))

	bids := d.Bids()
	if len(bids) != 2 {
		t.Fatalf("bids = %v, queued diff must be replayed", bids)
	}
	if !d.BestBid().Equal(dec("100")) || !d.BestAsk().Equal(dec("101")) {
		t.Errorf("best = %s / %s", d.BestBid(), d.BestAsk())
	}
}

func TestDepthSkipsStaleFirstDiff(t *testing.T) {
	t.Parallel()

	d := NewDepth(10, nil)
	d.SetSnapshot(snapshot(100, []types.PriceLevel{level("100", "1")}, nil))

	// wholly before the snapshot: ignore
	d.Update(diffUpdate(90, 95, []types.PriceLevel{level("50", "1")}, nil))
	if len(d.Bids()) != 1 {
		t.Errorf("stale diff applied: %v", d.Bids())
	}

	// straddles the snapshot id: accept
	d.Update(diffUpdate(99, 101, []types.PriceLevel{level("99.5", "2")}, nil))
	if len(d.Bids()) != 2 {
		t.Errorf("straddling diff dropped: %v", d.Bids())
	}

	// now the sequence must be exact
	d.Update(diffUpdate(102, 103, []types.PriceLevel{level("99", "1")}, nil))
	if len(d.Bids()) != 3 {
		t.Errorf("sequenced diff dropped: %v", d.Bids())
	}
}

func TestDepthSequenceGapResets(t *testing.T) {
	t.Parallel()

	gaps := 0
	d := NewDepth(10, func() { gaps++ })
	d.SetSnapshot(snapshot(100, []types.PriceLevel{level("100", "1")}, nil))
	d.Update(diffUpdate(101, 101, nil, nil))

	d.Update(diffUpdate(105, 106, []types.PriceLevel{level("99", "1")}, nil))
	if gaps != 1 {
		t.Errorf("gap callbacks = %d, want 1", gaps)
	}
	if d.Ready() {
		t.Error("book must require a fresh snapshot after a gap")
	}
	if len(d.Bids()) != 0 {
		t.Errorf("bids = %v, want cleared", d.Bids())
	}
}

func TestDepthZeroQuantityRemovesLevel(t *testing.T) {
	t.Parallel()

	d := NewDepth(10, nil)
	d.SetSnapshot(snapshot(100,
		[]types.PriceLevel{level("100", "1"), level("99", "2")},
		nil,
	))
	d.Update(diffUpdate(101, 101, []types.PriceLevel{level("100", "0")}, nil))

	bids := d.Bids()
	if len(bids) != 1 || !bids[0].Price().Equal(dec("99")) {
		t.Errorf("bids = %v", bids)
	}
}

func TestDepthKeepsBestLevels(t *testing.T) {
	t.Parallel()

	d := NewDepth(2, nil)
	d.SetSnapshot(snapshot(100,
		[]types.PriceLevel{level("100", "1"), level("99", "1"), level("98", "1")},
		[]types.PriceLevel{level("101", "1"), level("102", "1"), level("103", "1")},
	))

	bids := d.Bids()
	if len(bids) != 2 || !bids[0].Price().Equal(dec("100")) || !bids[1].Price().Equal(dec("99")) {
		t.Errorf("bids = %v, want two highest", bids)
	}
	asks := d.Asks()
	if len(asks) != 2 || !asks[0].Price().Equal(dec("101")) || !asks[1].Price().Equal(dec("102")) {
		t.Errorf("asks = %v, want two lowest", asks)
	}
}
