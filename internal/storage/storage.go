// Package storage persists orders, positions and the feed update log in
// MongoDB. Decimals are stored as strings via a custom codec so amounts
// survive the roundtrip exactly. Transient server errors (elections,
// timeouts) are retried with backoff; everything else surfaces to the
// caller.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"futures-bot/internal/config"
)

const (
	collOrders    = "orders"
	collPositions = "positions"
	collUpdateLog = "update_log"

	connectTimeout = 10 * time.Second
)

// Client wraps one database handle plus the typed collections.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// Connect dials the server, verifies it answers and creates the indexes.
func Connect(ctx context.Context, cfg config.MongoConfig, logger *slog.Logger) (*Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetRegistry(newRegistry()).
		SetServerSelectionTimeout(connectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	c := &Client{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger.With("component", "storage"),
	}
	if err := c.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	c.logger.Info("storage connected", "database", cfg.Database)
	return c, nil
}

// Close disconnects from the server.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Orders returns the order repository.
func (c *Client) Orders() *Orders {
	return &Orders{c: c, coll: c.db.Collection(collOrders)}
}

// Positions returns the position repository.
func (c *Client) Positions() *Positions {
	return &Positions{c: c, coll: c.db.Collection(collPositions)}
}

// UpdateLogs returns the feed update log repository.
func (c *Client) UpdateLogs() *UpdateLogs {
	return &UpdateLogs{c: c, coll: c.db.Collection(collUpdateLog)}
}

func (c *Client) ensureIndexes(ctx context.Context) error {
	for coll, models := range indexModels() {
		if _, err := c.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
	}
	return nil
}

// indexModels declares the index set per collection.
func indexModels() map[string][]mongo.IndexModel {
	unique := options.Index().SetUnique(true)
	return map[string][]mongo.IndexModel{
		collUpdateLog: {
			{Keys: bson.D{{Key: "s", Value: 1}, {Key: "t", Value: 1}}},
		},
		collOrders: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "side", Value: 1}, {Key: "timestamp", Value: 1}}},
		},
		collPositions: {
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique},
			{Keys: bson.D{
				{Key: "symbol", Value: 1},
				{Key: "strategy_id", Value: 1},
				{Key: "status", Value: 1},
				{Key: "timestamp", Value: 1},
			}},
		},
	}
}
