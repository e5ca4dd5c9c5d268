// Package kctx provides a context type that carries, alongside the
// standard deadline/cancellation machinery of context.Context, a
// structured logger that subsystems attach fields to as they descend
// into a call (pid, cpu, path). Modeled on gvisor's pkg/context, which
// wraps context.Context the same way for its sentry subsystems.
package kctx

import (
	"context"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

// WithLogger returns a context carrying log as its structured logger.
func WithLogger(ctx context.Context, log *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, log)
}

// Log returns the logger attached to ctx, or the standard logger's entry
// if none was attached.
func Log(ctx context.Context) *logrus.Entry {
	if log, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// WithFields returns a context whose logger has the given fields added.
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return WithLogger(ctx, Log(ctx).WithFields(fields))
}

// Background returns a root context with a logger that emits at info
// level using the standard logrus formatter.
func Background() context.Context {
	return WithLogger(context.Background(), logrus.NewEntry(logrus.StandardLogger()))
}
