package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"futures-bot/pkg/types"
)

// Positions is the position repository.
type Positions struct {
	c    *Client
	coll *mongo.Collection
}

// Create inserts a new position record.
func (p *Positions) Create(ctx context.Context, pos *types.Position) error {
	return p.c.withRetry(ctx, "positions.create", func(ctx context.Context) error {
		_, err := p.coll.InsertOne(ctx, pos)
		if err != nil {
			return fmt.Errorf("insert position %s: %w", pos.ID, err)
		}
		return nil
	})
}

// Update replaces the stored record by position id.
func (p *Positions) Update(ctx context.Context, pos *types.Position) error {
	return p.c.withRetry(ctx, "positions.update", func(ctx context.Context) error {
		res, err := p.coll.ReplaceOne(ctx, bson.M{"id": pos.ID}, pos)
		if err != nil {
			return fmt.Errorf("update position %s: %w", pos.ID, err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("update position %s: no such position", pos.ID)
		}
		return nil
	})
}

// Get fetches a position by id. Returns nil, nil when absent.
func (p *Positions) Get(ctx context.Context, id types.PositionID) (*types.Position, error) {
	var pos types.Position
	err := p.c.withRetry(ctx, "positions.get", func(ctx context.Context) error {
		return p.coll.FindOne(ctx, bson.M{"id": id}).Decode(&pos)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find position %s: %w", id, err)
	}
	return &pos, nil
}

// FindOpen returns the symbol's open positions for one strategy, newest
// first.
func (p *Positions) FindOpen(ctx context.Context, symbol types.Symbol, strategyID types.StrategyID) ([]*types.Position, error) {
	return p.find(ctx, bson.M{
		"symbol":      symbol,
		"strategy_id": strategyID,
		"status":      types.PositionOpen,
	})
}

// FindOpenBySymbol returns all open positions on a symbol regardless of
// strategy, newest first. Used by startup reconciliation.
func (p *Positions) FindOpenBySymbol(ctx context.Context, symbol types.Symbol) ([]*types.Position, error) {
	return p.find(ctx, bson.M{"symbol": symbol, "status": types.PositionOpen})
}

func (p *Positions) find(ctx context.Context, filter bson.M) ([]*types.Position, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})

	var positions []*types.Position
	err := p.c.withRetry(ctx, "positions.find", func(ctx context.Context) error {
		cursor, err := p.coll.Find(ctx, filter, opts)
		if err != nil {
			return err
		}
		positions = positions[:0]
		return cursor.All(ctx, &positions)
	})
	if err != nil {
		return nil, fmt.Errorf("find positions: %w", err)
	}
	return positions, nil
}
