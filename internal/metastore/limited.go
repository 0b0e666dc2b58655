package metastore

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

// Limited caps the lookup rate against a backend. A lookup waits for a token
// up to maxWait (or the context deadline), then fails.
type Limited struct {
	next    Store
	limiter *rate.Limiter
	maxWait time.Duration
}

// NewLimited allows perSecond lookups with the given burst. maxWait <= 0
// waits only as long as ctx allows.
func NewLimited(next Store, perSecond float64, burst int, maxWait time.Duration) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst), maxWait: maxWait}
}

func (l *Limited) Lookup(ctx context.Context, key string) (Record, bool, error) {
	wctx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}
	if err := l.limiter.Wait(wctx); err != nil {
		return nil, false, xerrors.Wrap(err, "metadata lookup budget exhausted")
	}
	return l.next.Lookup(ctx, key)
}
