package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"github.com/kos-sentry/kos/pkg/boot"
	"github.com/kos-sentry/kos/pkg/config"
	"github.com/kos-sentry/kos/pkg/kctx"
	"github.com/kos-sentry/kos/pkg/kernel"
)

// bootCommand implements subcommands.Command for "boot".
type bootCommand struct {
	configPath string
	runFor     time.Duration
}

func (*bootCommand) Name() string     { return "boot" }
func (*bootCommand) Synopsis() string { return "wire and start the VFS, process, scheduler, and FIM/audit subsystems" }
func (*bootCommand) Usage() string {
	return "boot [-config path] [-for duration] - start the system and run an init process until shutdown\n"
}

func (c *bootCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to a TOML config file (defaults compiled in)")
	f.DurationVar(&c.runFor, "for", 0, "exit automatically after this long (0 = wait for SIGINT/SIGTERM)")
}

func (c *bootCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot: loading config: %v\n", err)
		return subcommands.ExitFailure
	}

	sys, err := boot.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot: assembling system: %v\n", err)
		return subcommands.ExitFailure
	}

	if err := sys.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "boot: starting services: %v\n", err)
		return subcommands.ExitFailure
	}
	defer sys.Stop(ctx)

	init, err := sys.Processes.Create(kernel.CreateParams{Name: "init", Executable: "/sbin/init"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot: creating init process: %v\n", err)
		return subcommands.ExitFailure
	}
	sys.Scheduler.AddProcess(init.PID, 0, 0)
	kctx.Log(ctx).WithFields(map[string]any{"pid": init.PID}).Info("boot: init process scheduled")

	if c.runFor > 0 {
		time.Sleep(c.runFor)
		return subcommands.ExitSuccess
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	return subcommands.ExitSuccess
}
