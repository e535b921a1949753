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

// UpdateLogs is the feed update log repository. The feed logger appends,
// the replayer reads back in time order.
type UpdateLogs struct {
	c    *Client
	coll *mongo.Collection
}

// BulkInsert appends a batch of updates in one unordered bulk write.
func (u *UpdateLogs) BulkInsert(ctx context.Context, logs []types.UpdateLog) error {
	if len(logs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, len(logs))
	for i := range logs {
		models[i] = mongo.NewInsertOneModel().SetDocument(logs[i])
	}
	opts := options.BulkWrite().SetOrdered(false)

	return u.c.withRetry(ctx, "update_log.bulk_insert", func(ctx context.Context) error {
		_, err := u.coll.BulkWrite(ctx, models, opts)
		if err != nil {
			return fmt.Errorf("bulk insert %d updates: %w", len(logs), err)
		}
		return nil
	})
}

// timeFilter builds the [from, to] range filter; zero bounds are open.
func timeFilter(from, to types.Timestamp) bson.M {
	rng := bson.M{}
	if from > 0 {
		rng["$gte"] = from
	}
	if to > 0 {
		rng["$lte"] = to
	}
	if len(rng) == 0 {
		return bson.M{}
	}
	return bson.M{"t": rng}
}

// Count returns the number of updates in the time range.
func (u *UpdateLogs) Count(ctx context.Context, from, to types.Timestamp) (int64, error) {
	var n int64
	err := u.c.withRetry(ctx, "update_log.count", func(ctx context.Context) error {
		var err error
		n, err = u.coll.CountDocuments(ctx, timeFilter(from, to))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("count updates: %w", err)
	}
	return n, nil
}

// Bounds returns the first and last update timestamps on record. Both are
// zero when the log is empty.
func (u *UpdateLogs) Bounds(ctx context.Context) (first, last types.Timestamp, err error) {
	edge := func(sort int) (types.Timestamp, error) {
		var log types.UpdateLog
		opts := options.FindOne().SetSort(bson.D{{Key: "t", Value: sort}})
		err := u.coll.FindOne(ctx, bson.M{}, opts).Decode(&log)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return log.Timestamp, nil
	}

	if first, err = edge(1); err != nil {
		return 0, 0, fmt.Errorf("update log bounds: %w", err)
	}
	if last, err = edge(-1); err != nil {
		return 0, 0, fmt.Errorf("update log bounds: %w", err)
	}
	return first, last, nil
}

// Iterate streams updates in the time range in ascending time order. The
// callback returning an error stops the iteration.
func (u *UpdateLogs) Iterate(ctx context.Context, from, to types.Timestamp, fn func(types.UpdateLog) error) error {
	opts := options.Find().SetSort(bson.D{{Key: "t", Value: 1}})
	cursor, err := u.coll.Find(ctx, timeFilter(from, to), opts)
	if err != nil {
		return fmt.Errorf("iterate updates: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var log types.UpdateLog
		if err := cursor.Decode(&log); err != nil {
			return fmt.Errorf("decode update: %w", err)
		}
		if err := fn(log); err != nil {
			return err
		}
	}
	return cursor.Err()
}
