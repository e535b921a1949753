// state.go assembles the per-symbol market state: contracts, best book
// prices, candle series for every timeframe and optional depth books.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"futures-bot/pkg/types"
)

// SnapshotClient fetches the REST snapshots the state is preloaded from.
// *exchange.Client satisfies it.
type SnapshotClient interface {
	GetContracts(ctx context.Context) (map[types.Symbol]types.Contract, error)
	GetCandles(ctx context.Context, symbol types.Symbol, tf types.Timeframe, limit int) ([]types.Candle, error)
	GetBook(ctx context.Context, symbol types.Symbol) (types.BookUpdate, error)
	GetDepth(ctx context.Context, symbol types.Symbol, limit int) (*types.DepthSnapshot, error)
}

// State is the shared market state for a set of symbols. Reads and writes
// are serialized with a RW mutex; the feed consumer writes, strategies
// read.
type State struct {
	symbols      []types.Symbol
	candlesLimit int
	depthLimit   int
	logger       *slog.Logger

	mu        sync.RWMutex
	contracts map[types.Symbol]types.Contract
	books     map[types.Symbol]types.BookUpdate
	series    map[types.Symbol]map[types.Timeframe]*Series
	depths    map[types.Symbol]*Depth
	depthGaps map[types.Symbol]bool
}

// NewState creates state for the given symbols. A depthLimit of zero
// disables depth tracking.
func NewState(symbols []types.Symbol, candlesLimit, depthLimit int, logger *slog.Logger) *State {
	s := &State{
		symbols:      symbols,
		candlesLimit: candlesLimit,
		depthLimit:   depthLimit,
		logger:       logger.With("component", "market_state"),
		contracts:    make(map[types.Symbol]types.Contract),
		books:        make(map[types.Symbol]types.BookUpdate),
		series:       make(map[types.Symbol]map[types.Timeframe]*Series),
		depths:       make(map[types.Symbol]*Depth),
		depthGaps:    make(map[types.Symbol]bool),
	}
	for _, symbol := range symbols {
		byTF := make(map[types.Timeframe]*Series, len(types.Timeframes))
		for _, tf := range types.Timeframes {
			byTF[tf] = NewSeries(tf, candlesLimit)
		}
		s.series[symbol] = byTF
		if depthLimit > 0 {
			sym := symbol
			s.depths[symbol] = NewDepth(depthLimit, func() { s.markDepthGap(sym) })
		}
	}
	return s
}

// Symbols returns the tracked symbols.
func (s *State) Symbols() []types.Symbol { return s.symbols }

// Preload fetches contracts, candle history for every timeframe, current
// books and (when enabled) depth snapshots.
func (s *State) Preload(ctx context.Context, client SnapshotClient) error {
	contracts, err := client.GetContracts(ctx)
	if err != nil {
		return fmt.Errorf("preload contracts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, symbol := range s.symbols {
		contract, ok := contracts[symbol]
		if !ok {
			return fmt.Errorf("preload: unknown symbol %s", symbol)
		}
		s.contracts[symbol] = contract

		for _, tf := range types.Timeframes {
			candles, err := client.GetCandles(ctx, symbol, tf, s.candlesLimit)
			if err != nil {
				return fmt.Errorf("preload candles %s %s: %w", symbol, tf, err)
			}
			s.series[symbol][tf].SetSnapshot(candles)
		}

		book, err := client.GetBook(ctx, symbol)
		if err != nil {
			return fmt.Errorf("preload book %s: %w", symbol, err)
		}
		s.books[symbol] = book

		if depth, ok := s.depths[symbol]; ok {
			snapshot, err := client.GetDepth(ctx, symbol, s.depthLimit)
			if err != nil {
				return fmt.Errorf("preload depth %s: %w", symbol, err)
			}
			depth.SetSnapshot(*snapshot)
			s.depthGaps[symbol] = false
		}

		s.logger.Info("preloaded symbol",
			"symbol", symbol,
			"timeframes", len(types.Timeframes),
			"candles_limit", s.candlesLimit,
		)
	}
	return nil
}

// Contract returns the trading rules for a symbol.
func (s *State) Contract(symbol types.Symbol) (types.Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[symbol]
	return c, ok
}

// Book returns the last best bid/ask for a symbol.
func (s *State) Book(symbol types.Symbol) (types.BookUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[symbol]
	return b, ok
}

// UpdateBook stores a best bid/ask update.
func (s *State) UpdateBook(symbol types.Symbol, book types.BookUpdate) {
	s.mu.Lock()
	s.books[symbol] = book
	s.mu.Unlock()
}

// UpdateCandles folds a trade into every timeframe series of the symbol
// and returns what each series did with it.
func (s *State) UpdateCandles(symbol types.Symbol, trade types.TradeUpdate) map[types.Timeframe]types.TickType {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTF, ok := s.series[symbol]
	if !ok {
		return nil
	}
	ticks := make(map[types.Timeframe]types.TickType, len(byTF))
	for tf, series := range byTF {
		ticks[tf] = series.Update(trade)
	}
	return ticks
}

// Series returns the candle series for one symbol and timeframe.
func (s *State) Series(symbol types.Symbol, tf types.Timeframe) (*Series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byTF, ok := s.series[symbol]
	if !ok {
		return nil, false
	}
	series, ok := byTF[tf]
	return series, ok
}

// UpdateDepth applies a depth diff. No-op when depth tracking is off.
func (s *State) UpdateDepth(update types.DepthUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if depth, ok := s.depths[update.Symbol]; ok {
		depth.Update(update)
	}
}

// Depth returns a symbol's depth book, when tracking is enabled.
func (s *State) Depth(symbol types.Symbol) (*Depth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.depths[symbol]
	return d, ok
}

// DepthGaps returns the symbols whose depth books hit a sequence gap
// since the last call and clears the flags. The caller refetches their
// snapshots.
func (s *State) DepthGaps() []types.Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Symbol
	for symbol, gap := range s.depthGaps {
		if gap {
			out = append(out, symbol)
			s.depthGaps[symbol] = false
		}
	}
	return out
}

// ReloadDepth refetches and applies one symbol's depth snapshot.
func (s *State) ReloadDepth(ctx context.Context, client SnapshotClient, symbol types.Symbol) error {
	snapshot, err := client.GetDepth(ctx, symbol, s.depthLimit)
	if err != nil {
		return fmt.Errorf("reload depth %s: %w", symbol, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if depth, ok := s.depths[symbol]; ok {
		depth.SetSnapshot(*snapshot)
	}
	return nil
}

func (s *State) markDepthGap(symbol types.Symbol) {
	// called under s.mu via Update/SetSnapshot paths
	s.depthGaps[symbol] = true
	s.logger.Warn("depth sequence gap, book reset", "symbol", symbol)
}
