package kernel

import (
	"context"
	"time"

	"github.com/kos-sentry/kos/pkg/kctx"
)

// Reaper periodically scans the process table for orphaned zombies and
// releases them. It sleeps between ticks using a timed wait on ctx so
// it terminates promptly on shutdown instead of blocking a full
// interval.
type Reaper struct {
	table    *Table
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewReaper constructs a reaper over table, scanning every interval.
func NewReaper(table *Table, interval time.Duration) *Reaper {
	return &Reaper{
		table:    table,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name implements Service.
func (r *Reaper) Name() string { return "reaper" }

// Start implements Service: launches the background scan loop.
func (r *Reaper) Start(ctx context.Context) error {
	log := kctx.Log(ctx)
	go r.loop(ctx, log)
	return nil
}

// Stop implements Service: signals the loop to exit and waits for it.
func (r *Reaper) Stop(ctx context.Context) error {
	close(r.stop)
	select {
	case <-r.done:
	case <-ctx.Done():
	}
	return nil
}

func (r *Reaper) loop(ctx context.Context, log interface {
	Debugf(string, ...any)
}) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.table.ReapOrphans(); n > 0 {
				log.Debugf("reaper: released %d orphaned zombies", n)
			}
		}
	}
}
