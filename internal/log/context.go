package log

import "context"

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request-scoped Logger, or Nop when ctx carries none.
func FromContext(ctx context.Context) Logger {
	return FromContextOr(ctx, nil)
}

// FromContextOr prefers the Logger carried by ctx and falls back to base, so a
// component with its own logger still picks up request fields when they exist.
func FromContextOr(ctx context.Context, base Logger) Logger {
	if ctx != nil {
		if l, _ := ctx.Value(ctxKey{}).(Logger); l != nil {
			return l
		}
	}
	if base != nil {
		return base
	}
	return Nop()
}
