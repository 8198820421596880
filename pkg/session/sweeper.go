package session

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/nanoclaw/pkg/logger"
)

// Sweeper drops sessions that have been idle longer than maxIdle, on a
// cron schedule. Conversations reported busy by the dispatcher are skipped
// and picked up on a later sweep.
type Sweeper struct {
	store    *Store
	schedule string
	maxIdle  time.Duration
	busy     func(id string) bool
	done     chan struct{}
}

func NewSweeper(store *Store, schedule string, maxIdle time.Duration, busy func(id string) bool) (*Sweeper, error) {
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid sweep schedule %q", schedule)
	}
	if maxIdle <= 0 {
		return nil, fmt.Errorf("max idle must be positive, got %s", maxIdle)
	}
	return &Sweeper{
		store:    store,
		schedule: schedule,
		maxIdle:  maxIdle,
		busy:     busy,
		done:     make(chan struct{}),
	}, nil
}

// Start runs the sweep loop in a goroutine until ctx is canceled or Stop
// is called.
func (sw *Sweeper) Start(ctx context.Context) {
	go sw.run(ctx)
}

func (sw *Sweeper) Stop() {
	select {
	case <-sw.done:
	default:
		close(sw.done)
	}
}

func (sw *Sweeper) run(ctx context.Context) {
	for {
		next, err := gronx.NextTick(sw.schedule, false)
		if err != nil {
			logger.ErrorCF("session", "Sweep schedule error", map[string]any{"error": err.Error()})
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-sw.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		sw.Sweep()
	}
}

// Sweep removes idle sessions once. Exposed for the schedule loop and tests.
func (sw *Sweeper) Sweep() {
	removed := sw.store.Expire(time.Now().Add(-sw.maxIdle), sw.busy)
	if len(removed) > 0 {
		logger.InfoCF("session", "Expired idle sessions", map[string]any{
			"count": len(removed),
		})
	}
}
