package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/kos-sentry/kos/pkg/audit"
)

// fsckAuditCommand implements subcommands.Command for "fsck-audit": a
// read-only inspection of the persisted audit files, distinct from
// verify-audit's hash-chain recomputation.
type fsckAuditCommand struct {
	logPath        string
	structuredPath string
}

func (*fsckAuditCommand) Name() string     { return "fsck-audit" }
func (*fsckAuditCommand) Synopsis() string { return "report basic stats about the persisted audit files" }
func (*fsckAuditCommand) Usage() string {
	return "fsck-audit [-log path] [-structured path] - print event counts and file sizes\n"
}

func (c *fsckAuditCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.logPath, "log", "audit.log", "path to the text audit log")
	f.StringVar(&c.structuredPath, "structured", "audit.json", "path to the structured (JSON) audit file")
}

func (c *fsckAuditCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	l, err := audit.New(audit.Config{LogPath: c.logPath, StructuredPath: c.structuredPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fsck-audit: loading audit files: %v\n", err)
		return subcommands.ExitFailure
	}
	events := l.Events()
	fmt.Printf("structured file: %s\n", c.structuredPath)
	fmt.Printf("events: %d\n", len(events))
	if info, err := os.Stat(c.logPath); err == nil {
		fmt.Printf("text log: %s (%d bytes)\n", c.logPath, info.Size())
	}
	if len(events) > 0 {
		last := events[len(events)-1]
		fmt.Printf("last event: %s %s/%s severity=%d outcome=%s\n",
			last.Timestamp.Format("2006-01-02T15:04:05Z"), last.Category, last.EventType, last.Severity, last.Outcome)
	}
	return subcommands.ExitSuccess
}
