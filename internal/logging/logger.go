// Package logging is the structured logger used by the agent and the
// reconciler server. SlogLogger is the log/slog backed implementation.
package logging

import "context"

// Logger logs messages with alternating key/value attributes:
//
//	log.Info(ctx, "sync pass finished", "synced", n, "failed", f)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a logger that adds args to every record,
	// e.g. With("module", "syncer").
	With(args ...any) Logger
}
