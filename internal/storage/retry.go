package storage

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
)

const maxStorageRetries = 4

// withRetry runs fn, retrying transient server errors with exponential
// backoff. Permanent errors return immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxStorageRetries),
		ctx,
	)
	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("transient storage error, retrying", "op", op, "error", err)
		return err
	}, bo)
}

// Server error codes worth retrying: primary stepped down, shutdown in
// progress, interrupted at shutdown / due to replica state change.
var transientCodes = map[int32]bool{
	91:    true,
	189:   true,
	10107: true,
	11600: true,
	11602: true,
	13435: true,
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return transientCodes[cmdErr.Code] || cmdErr.HasErrorLabel("RetryableWriteError")
	}
	return false
}
