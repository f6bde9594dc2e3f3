// Package logging carries the zerolog logger through contexts and renders log events for
// the console.
package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type logKey struct{}

// From returns the logger attached to ctx. It panics if the caller forgot to attach one.
func From(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logKey{})
	if logger == nil {
		panic("Logger is missing in context!")
	}

	return logger.(*zerolog.Logger)
}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

// Nop returns a context carrying a disabled logger. Mostly useful in tests.
func Nop(ctx context.Context) context.Context {
	logger := zerolog.Nop()
	return WithLogger(ctx, &logger)
}
