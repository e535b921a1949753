// Package line delivers feed events to the bot, either live from the
// AMQP bus or replayed from the stored update log. Both paths invoke the
// same typed callbacks, so the orchestrator does not care which one is
// driving it.
package line

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"futures-bot/internal/bus"
	"futures-bot/pkg/types"
)

// Client consumes feed updates from the bus and dispatches them to typed
// callbacks.
type Client struct {
	events

	logger *slog.Logger
	sub    *bus.Subscriber
}

// NewClient creates a consumer bound to the alive key, the reset key and
// every {symbol}.{entity} combination.
func NewClient(uri string, symbols []types.Symbol, entities []types.StreamEntity, logger *slog.Logger) *Client {
	keys := []string{bus.KeyAlive, bus.KeyReset}
	for _, symbol := range symbols {
		for _, entity := range entities {
			keys = append(keys, bus.UpdateKey(symbol, entity))
		}
	}

	c := &Client{logger: logger.With("component", "line_client")}
	c.sub = bus.NewSubscriber(uri, keys, c.handleMessage, logger)
	return c
}

// Run consumes until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	return c.sub.Run(ctx)
}

func (c *Client) handleMessage(_ context.Context, key string, msg *bus.Message) {
	switch msg.Action {
	case bus.ActionAlive:
		if c.onAlive != nil {
			c.onAlive()
		}
	case bus.ActionReset:
		c.logger.Warn("feed publisher reset")
		if c.onReset != nil {
			c.onReset()
		}
	case bus.ActionUpdate:
		if err := c.dispatchUpdate(msg.Payload); err != nil {
			c.logger.Error("bad update message", "key", key, "error", err)
		}
	default:
		c.logger.Warn("unknown action", "action", msg.Action, "key", key)
	}
}

func (c *Client) dispatchUpdate(raw json.RawMessage) error {
	var payload bus.UpdatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("unmarshal update payload: %w", err)
	}
	return c.dispatch(payload.Entity, payload.Symbol, payload.Data)
}
