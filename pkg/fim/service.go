package fim

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/kos-sentry/kos/pkg/kctx"
)

// ServiceConfig controls the background monitor loop's pacing.
type ServiceConfig struct {
	Interval  time.Duration
	TickBurst int
}

// loopState is held separately from Monitor's own fields so a Monitor
// built purely for one-shot Check calls (as in tests) never pays for a
// limiter or stop channel it doesn't use.
type loopState struct {
	limiter *rate.Limiter
	stop    chan struct{}
	done    chan struct{}
}

// Name implements kernel.Service.
func (m *Monitor) Name() string { return "fim" }

// Start implements kernel.Service, launching the background check loop
// with the monitor's configured interval.
func (m *Monitor) Start(ctx context.Context) error {
	m.StartLoop(ctx, m.serviceCfg)
	return nil
}

// Stop implements kernel.Service.
func (m *Monitor) Stop(ctx context.Context) error {
	m.StopLoop(ctx)
	return nil
}

// StartLoop launches the periodic check loop: on every cfg.Interval
// tick, every monitored file is checked if a token-bucket limiter (one
// token per interval, burst cfg.TickBurst) admits the pass; a tick the
// limiter refuses is skipped. Manual CheckAll calls do not go through
// the limiter.
func (m *Monitor) StartLoop(ctx context.Context, cfg ServiceConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	burst := cfg.TickBurst
	if burst <= 0 {
		burst = 1
	}
	m.loop = &loopState{
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), burst),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.runLoop(ctx, cfg.Interval)
}

// StopLoop signals the background loop to exit at its next wake-up and
// waits for it to finish.
func (m *Monitor) StopLoop(ctx context.Context) {
	if m.loop == nil {
		return
	}
	close(m.loop.stop)
	select {
	case <-m.loop.done:
	case <-ctx.Done():
	}
}

func (m *Monitor) runLoop(ctx context.Context, interval time.Duration) {
	defer close(m.loop.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := kctx.Log(ctx)
	for {
		select {
		case <-m.loop.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.loop.limiter.Allow() {
				continue
			}
			if _, err := m.CheckAll(ctx); err != nil {
				log.WithFields(map[string]any{"error": err}).Warn("fim: check pass failed")
			}
		}
	}
}
