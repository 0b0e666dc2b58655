package rewrite

import (
	"context"
	"strings"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
)

// Stats summarizes one rewrite pass.
type Stats struct {
	Candidates int
	Replaced   int
}

// Rewriter walks a Value tree and swaps asset references for delivery URLs in place.
type Rewriter struct {
	resolver *Resolver
	prefix   string
}

// NewRewriter returns a Rewriter that treats strings starting with prefix as
// references. An empty prefix uses DefaultReferencePrefix.
func NewRewriter(resolver *Resolver, prefix string) *Rewriter {
	if prefix == "" {
		prefix = DefaultReferencePrefix
	}
	return &Rewriter{resolver: resolver, prefix: prefix}
}

// Prefix returns the reference prefix this rewriter matches.
func (rw *Rewriter) Prefix() string { return rw.prefix }

// Rewrite visits v depth-first in document order. Lookups happen serially,
// once per candidate, in traversal order.
func (rw *Rewriter) Rewrite(ctx context.Context, v *Value) Stats {
	var st Stats
	rw.walk(ctx, v, &st)
	return st
}

func (rw *Rewriter) walk(ctx context.Context, v *Value, st *Stats) {
	if v == nil {
		return
	}
	switch v.Kind {
	case KindObject:
		for i := range v.Members {
			m := &v.Members[i]
			if repl, ok := rw.replace(ctx, m.Value, st); ok {
				m.Value = String(repl)
				continue
			}
			rw.walk(ctx, m.Value, st)
		}
	case KindArray:
		for i, item := range v.Items {
			if repl, ok := rw.replace(ctx, item, st); ok {
				v.Items[i] = String(repl)
				continue
			}
			rw.walk(ctx, item, st)
		}
	case KindString, KindNumber, KindBool, KindNull:
		// leaves
	}
}

// replace resolves v when it is a reference string. ok reports a replacement.
func (rw *Rewriter) replace(ctx context.Context, v *Value, st *Stats) (string, bool) {
	if v == nil || v.Kind != KindString || !strings.HasPrefix(v.Str, rw.prefix) {
		return "", false
	}
	st.Candidates++

	res := rw.resolver.Resolve(ctx, v.Str)
	repl, ok := res.Value()
	if !ok {
		return "", false
	}
	log.FromContext(ctx).Debug(ctx, "replacing asset reference",
		"reference", v.Str,
		"replacement", repl,
	)
	st.Replaced++
	return repl, true
}
