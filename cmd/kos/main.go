// Command kos is a thin subcommand dispatcher over the kos-sentry
// runtime: boot the system, list processes, and exercise the audit
// chain's integrity check, for manual exercising of the four
// subsystems. It is glue, not a shell front-end — there is no
// command-language parser here.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/kos-sentry/kos/pkg/kctx"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&bootCommand{}, "")
	subcommands.Register(&psCommand{}, "")
	subcommands.Register(&fsckAuditCommand{}, "")
	subcommands.Register(&verifyAuditCommand{}, "")

	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	ctx := kctx.WithLogger(context.Background(), logrus.NewEntry(logrus.StandardLogger()))

	os.Exit(int(subcommands.Execute(ctx)))
}
