// replayer.go streams the stored update log through the same callbacks
// the live client uses, paced by the recorded event times.
package line

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"futures-bot/internal/config"
	"futures-bot/pkg/types"
)

// minSleep is the smallest pacing delay worth paying for; shorter gaps
// replay back to back.
const minSleep = 10 * time.Millisecond

// periodMs groups progress logs into half-hour buckets of event time.
const periodMs = 30 * 60 * 1000

// UpdateSource reads the recorded feed. *storage.UpdateLogs satisfies it.
type UpdateSource interface {
	Count(ctx context.Context, from, to types.Timestamp) (int64, error)
	Bounds(ctx context.Context) (first, last types.Timestamp, err error)
	Iterate(ctx context.Context, from, to types.Timestamp, fn func(types.UpdateLog) error) error
}

// Replayer feeds recorded updates through the event callbacks at a
// configurable multiple of recorded time. Speed 0 replays as fast as the
// consumer keeps up.
type Replayer struct {
	events

	source UpdateSource
	speed  int
	from   types.Timestamp
	to     types.Timestamp
	logger *slog.Logger
	onDone func()
}

// NewReplayer creates a replayer over the stored update log.
func NewReplayer(source UpdateSource, cfg config.ReplayConfig, logger *slog.Logger) *Replayer {
	return &Replayer{
		source: source,
		speed:  cfg.Speed,
		from:   cfg.From,
		to:     cfg.To,
		logger: logger.With("component", "replayer"),
	}
}

// OnDone sets the callback fired after the last event.
func (r *Replayer) OnDone(fn func()) { r.onDone = fn }

// Run replays the configured time range. Blocks until the log is
// exhausted or ctx is cancelled.
func (r *Replayer) Run(ctx context.Context) error {
	from, to := r.from, r.to
	if from == 0 || to == 0 {
		first, last, err := r.source.Bounds(ctx)
		if err != nil {
			return err
		}
		if from == 0 {
			from = first
		}
		if to == 0 {
			to = last
		}
	}

	total, err := r.source.Count(ctx, from, to)
	if err != nil {
		return err
	}
	if total == 0 {
		return fmt.Errorf("no recorded updates in [%d, %d]", from, to)
	}
	r.logger.Info("replay started",
		"from", msTime(from),
		"to", msTime(to),
		"events", total,
		"speed", r.speed,
	)

	progressStep := total / 100
	if progressStep == 0 {
		progressStep = 1
	}

	var (
		processed int64
		prev      types.Timestamp
		period    int64 = -1
		started         = time.Now()
	)

	err = r.source.Iterate(ctx, from, to, func(log types.UpdateLog) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if r.speed > 0 && prev != 0 && log.Timestamp > prev {
			delay := time.Duration(int64(log.Timestamp-prev)) * time.Millisecond / time.Duration(r.speed)
			if delay >= minSleep {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
		}
		prev = log.Timestamp

		if p := int64(log.Timestamp) / periodMs; p != period {
			period = p
			r.logger.Info("replaying period", "time", msTime(log.Timestamp))
		}

		processed++
		if processed%progressStep == 0 {
			r.logger.Info("replay progress",
				"percent", processed*100/total,
				"processed", processed,
				"elapsed", time.Since(started).Round(time.Second),
			)
		}

		data, err := json.Marshal(log.Data)
		if err != nil {
			return fmt.Errorf("marshal recorded update: %w", err)
		}
		return r.dispatch(log.Entity, log.Symbol, data)
	})
	if err != nil {
		return err
	}

	r.logger.Info("replay finished", "events", processed, "elapsed", time.Since(started).Round(time.Second))
	if r.onDone != nil {
		r.onDone()
	}
	return nil
}

func msTime(ts types.Timestamp) string {
	return time.UnixMilli(int64(ts)).UTC().Format(time.RFC3339)
}
