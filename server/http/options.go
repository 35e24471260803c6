package http

import (
	"context"
	"net/http"
	"time"

	"github.com/w-h-a/workmem/server"
)

type middlewareKey struct{}

type hookTimeoutKey struct{}

func WithMiddleware(ms ...func(h http.Handler) http.Handler) server.Option {
	return func(o *server.Options) {
		o.Context = context.WithValue(o.Context, middlewareKey{}, ms)
	}
}

func MiddlewareFrom(ctx context.Context) ([]func(h http.Handler) http.Handler, bool) {
	ms, ok := ctx.Value(middlewareKey{}).([]func(h http.Handler) http.Handler)
	return ms, ok
}

// WithHookTimeout bounds each capture or recall request so a slow
// embedding or generation backend cannot stall the host's turn.
func WithHookTimeout(d time.Duration) server.Option {
	return func(o *server.Options) {
		o.Context = context.WithValue(o.Context, hookTimeoutKey{}, d)
	}
}

func HookTimeoutFrom(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(hookTimeoutKey{}).(time.Duration)
	return d, ok && d > 0
}

func withTimeout(d time.Duration) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.TimeoutHandler(h, d, `{"error":"hook timed out"}`)
	}
}
