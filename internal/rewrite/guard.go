package rewrite

import (
	"context"
	"sync/atomic"
)

type guardKey struct{}

// Guard records that a request already had its rewrite pass.
// It lives in the request context, so re-entrant dispatches of the same
// request share it and unrelated requests never do.
type Guard struct {
	done atomic.Bool
}

// WithGuard returns ctx carrying a Guard, reusing one that is already present.
func WithGuard(ctx context.Context) (context.Context, *Guard) {
	if g, ok := GuardFromContext(ctx); ok {
		return ctx, g
	}
	g := &Guard{}
	return context.WithValue(ctx, guardKey{}, g), g
}

// GuardFromContext returns the Guard stored in ctx, if any.
func GuardFromContext(ctx context.Context) (*Guard, bool) {
	g, ok := ctx.Value(guardKey{}).(*Guard)
	return g, ok && g != nil
}

// Mark claims the rewrite pass. Only the first call returns true.
func (g *Guard) Mark() bool { return g.done.CompareAndSwap(false, true) }

// Done reports whether the pass was already claimed.
func (g *Guard) Done() bool { return g.done.Load() }
