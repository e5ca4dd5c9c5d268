// Package boot wires the VFS, process table, scheduler, audit chain,
// and file-integrity monitor into one running System via the kernel
// package's two-phase, dependency-ordered service graph: each
// subsystem is an owned service constructed explicitly at startup
// rather than a singleton global.
package boot

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/kos-sentry/kos/pkg/audit"
	"github.com/kos-sentry/kos/pkg/config"
	"github.com/kos-sentry/kos/pkg/fim"
	"github.com/kos-sentry/kos/pkg/kctx"
	"github.com/kos-sentry/kos/pkg/kernel"
	"github.com/kos-sentry/kos/pkg/sched"
	"github.com/kos-sentry/kos/pkg/vfs"
)

// System is the fully wired runtime: every subsystem plus the service
// graph that starts and stops them in dependency order.
type System struct {
	Config    *config.Config
	VFS       *vfs.VFS
	Processes *kernel.Table
	Scheduler *sched.Scheduler
	Audit     *audit.Log
	FIM       *fim.Monitor
	Reaper    *kernel.Reaper

	graph *kernel.ServiceGraph
}

// New constructs every subsystem from cfg and assembles the service
// graph, but does not start anything. The PID/process layer comes up
// before the scheduler observes it, and the audit chain comes up
// before FIM can forward alerts into it.
func New(cfg *config.Config) (*System, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	v := vfs.New()
	table := kernel.NewTable(v, cfg.Process.MaxPID, cfg.Process.MaxProcs)
	reaper := kernel.NewReaper(table, cfg.Process.ReapInterval)

	schedCfg := sched.Tunables{
		TargetLatency:     cfg.Scheduler.TargetLatency,
		MinGranularity:    cfg.Scheduler.MinGranularity,
		WakeupGranularity: cfg.Scheduler.WakeupGranularity,
		TickInterval:      cfg.Scheduler.TickInterval,
		BalanceInterval:   cfg.Scheduler.BalanceInterval,
	}
	scheduler := sched.New(cfg.Scheduler.NumCPU, schedCfg)

	auditLog, err := audit.New(audit.Config{
		LogPath:          cfg.Audit.LogPath,
		StructuredPath:   cfg.Audit.StructuredPath,
		MaxLogBytes:      cfg.Audit.MaxLogBytes,
		MaxRotatedLogs:   cfg.Audit.MaxRotatedLogs,
		SynchronousFlush: cfg.Audit.SynchronousFlush,
	})
	if err != nil {
		return nil, err
	}

	monitor, err := fim.New(fim.Config{
		Algorithm:       cfg.FIM.HashAlgorithm,
		IgnorePatterns:  cfg.FIM.IgnorePatterns,
		MaxAlertHistory: cfg.FIM.MaxAlertHistory,
	}, auditLog)
	if err != nil {
		return nil, err
	}
	monitor.SetServiceConfig(fim.ServiceConfig{Interval: 5 * time.Second})

	graph := kernel.NewServiceGraph()
	graph.Add(reaper)
	graph.Add(scheduler)
	graph.Add(monitor, "reaper")

	return &System{
		Config:    cfg,
		VFS:       v,
		Processes: table,
		Scheduler: scheduler,
		Audit:     auditLog,
		FIM:       monitor,
		Reaper:    reaper,
		graph:     graph,
	}, nil
}

// Start brings up every service in dependency order and, once complete,
// notifies systemd (a no-op outside of it, per go-systemd's own guard)
// that the system is ready.
func (s *System) Start(ctx context.Context) error {
	if err := s.graph.Start(ctx); err != nil {
		return err
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		kctx.Log(ctx).WithFields(map[string]any{"error": err}).Debug("boot: SdNotify unavailable")
	}
	return nil
}

// Stop tears down every service in reverse dependency order.
func (s *System) Stop(ctx context.Context) error {
	return s.graph.Stop(ctx)
}
