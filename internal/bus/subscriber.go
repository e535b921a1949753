package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// receiveTimeout forces a reconnect when the broker goes quiet. The feed
// publisher heartbeats, so a silent session is dead even if TCP has not
// noticed.
const receiveTimeout = 30 * time.Second

// Handler receives every decoded envelope with its routing key.
type Handler func(ctx context.Context, key string, msg *Message)

// Subscriber consumes from an exclusive auto-delete queue bound to the
// topic exchange. Run blocks until the context is canceled, reconnecting
// with exponential backoff on any session failure.
type Subscriber struct {
	uri     string
	keys    []string
	handler Handler
	logger  *slog.Logger

	// onConnect fires after each successful (re)bind, before consuming.
	onConnect func()
}

// NewSubscriber creates a subscriber bound to the given routing keys.
func NewSubscriber(uri string, keys []string, handler Handler, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		uri:     uri,
		keys:    keys,
		handler: handler,
		logger:  logger.With("component", "bus_subscriber"),
	}
}

// OnConnect registers a hook invoked after every successful session setup.
// Consumers use it to resynchronize state missed while disconnected.
func (s *Subscriber) OnConnect(fn func()) {
	s.onConnect = fn
}

// Run consumes until ctx is canceled. Session failures are retried with
// exponential backoff; the backoff resets after each healthy session.
func (s *Subscriber) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	for {
		start := time.Now()
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > receiveTimeout {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		s.logger.Warn("session ended, reconnecting", "error", err, "wait", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// consume runs one full session: connect, bind, drain deliveries.
func (s *Subscriber) consume(ctx context.Context) error {
	conn, err := amqp.Dial(s.uri)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(Exchange, "topic", false, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Server-named exclusive queue, deleted when this consumer goes away.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range s.keys {
		if err := ch.QueueBind(q.Name, key, Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	s.logger.Info("consuming", "queue", q.Name, "keys", len(s.keys))
	if s.onConnect != nil {
		s.onConnect()
	}

	idle := time.NewTimer(receiveTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return errors.New("receive timeout")
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(receiveTimeout)

			msg, err := Decode(d.Body)
			if err != nil {
				s.logger.Warn("dropping malformed message", "key", d.RoutingKey, "error", err)
			} else {
				s.handler(ctx, d.RoutingKey, msg)
			}
			if err := d.Ack(false); err != nil {
				return fmt.Errorf("ack: %w", err)
			}
		}
	}
}
