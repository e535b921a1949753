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

// Orders is the order repository.
type Orders struct {
	c    *Client
	coll *mongo.Collection
}

// Create inserts a new order record.
func (o *Orders) Create(ctx context.Context, order *types.Order) error {
	return o.c.withRetry(ctx, "orders.create", func(ctx context.Context) error {
		_, err := o.coll.InsertOne(ctx, order)
		if err != nil {
			return fmt.Errorf("insert order %d: %w", order.ID, err)
		}
		return nil
	})
}

// Update replaces the stored record by venue order id.
func (o *Orders) Update(ctx context.Context, order *types.Order) error {
	return o.c.withRetry(ctx, "orders.update", func(ctx context.Context) error {
		res, err := o.coll.ReplaceOne(ctx, bson.M{"id": order.ID}, order)
		if err != nil {
			return fmt.Errorf("update order %d: %w", order.ID, err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("update order %d: no such order", order.ID)
		}
		return nil
	})
}

// GetByID fetches an order by venue id. Returns nil, nil when absent.
func (o *Orders) GetByID(ctx context.Context, id types.OrderID) (*types.Order, error) {
	return o.findOne(ctx, bson.M{"id": id})
}

// GetByClientID fetches an order by client order id. Returns nil, nil when
// absent.
func (o *Orders) GetByClientID(ctx context.Context, id types.ClientOrderID) (*types.Order, error) {
	return o.findOne(ctx, bson.M{"client_order_id": id})
}

func (o *Orders) findOne(ctx context.Context, filter bson.M) (*types.Order, error) {
	var order types.Order
	err := o.c.withRetry(ctx, "orders.get", func(ctx context.Context) error {
		return o.coll.FindOne(ctx, filter).Decode(&order)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return &order, nil
}

// FindBySymbol returns the symbol's orders since the given time, newest
// first.
func (o *Orders) FindBySymbol(ctx context.Context, symbol types.Symbol, since types.Timestamp) ([]*types.Order, error) {
	filter := bson.M{"symbol": symbol}
	if since > 0 {
		filter["timestamp"] = bson.M{"$gte": since}
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})

	var orders []*types.Order
	err := o.c.withRetry(ctx, "orders.find", func(ctx context.Context) error {
		cursor, err := o.coll.Find(ctx, filter, opts)
		if err != nil {
			return err
		}
		orders = orders[:0]
		return cursor.All(ctx, &orders)
	})
	if err != nil {
		return nil, fmt.Errorf("find orders %s: %w", symbol, err)
	}
	return orders, nil
}
