package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/kos-sentry/kos/pkg/boot"
	"github.com/kos-sentry/kos/pkg/config"
	"github.com/kos-sentry/kos/pkg/kernel"
)

// psCommand implements subcommands.Command for "ps". It boots a
// transient system, seeds it with a handful of demo processes, and
// prints a process table snapshot — a manual-exercise tool, not a
// client of some long-running daemon (the core has no IPC surface;
// that is out of scope).
type psCommand struct {
	configPath string
	seed       int
}

func (*psCommand) Name() string     { return "ps" }
func (*psCommand) Synopsis() string { return "list processes in a freshly-seeded demo process table" }
func (*psCommand) Usage() string    { return "ps [-config path] [-seed n] - print a process table snapshot\n" }

func (c *psCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to a TOML config file (defaults compiled in)")
	f.IntVar(&c.seed, "seed", 3, "number of demo processes to create under init")
}

func (c *psCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ps: loading config: %v\n", err)
		return subcommands.ExitFailure
	}
	sys, err := boot.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ps: assembling system: %v\n", err)
		return subcommands.ExitFailure
	}

	init, err := sys.Processes.Create(kernel.CreateParams{Name: "init", Executable: "/sbin/init"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ps: creating init process: %v\n", err)
		return subcommands.ExitFailure
	}
	for i := 0; i < c.seed; i++ {
		if _, err := sys.Processes.Create(kernel.CreateParams{Name: fmt.Sprintf("worker-%d", i), ParentPID: init.PID}); err != nil {
			fmt.Fprintf(os.Stderr, "ps: creating worker %d: %v\n", i, err)
			return subcommands.ExitFailure
		}
	}

	fmt.Printf("%-8s %-8s %-10s %-8s %s\n", "PID", "PPID", "STATE", "PGID", "NAME")
	for _, p := range sys.Processes.List() {
		fmt.Printf("%-8d %-8d %-10s %-8d %s\n", p.PID, p.ParentPID, p.State, p.PGID, p.Name)
	}
	return subcommands.ExitSuccess
}
