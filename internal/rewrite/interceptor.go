package rewrite

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

// DefaultPathSuffix limits interception to component model JSON requests.
const DefaultPathSuffix = ".model.json"

// Outcome is the terminal state of one intercepted request.
type Outcome string

const (
	OutcomeSkipped             Outcome = "skipped"              // path not eligible
	OutcomeDuplicate           Outcome = "duplicate"            // guard already claimed
	OutcomeEmpty               Outcome = "empty"                // nothing rendered
	OutcomeRewritten           Outcome = "rewritten"            // parsed, rewritten, re-encoded
	OutcomePassthroughOriginal Outcome = "passthrough_original" // body is not a JSON object
	OutcomePassthroughOnError  Outcome = "passthrough_error"    // rewrite or encode failed
)

// Rules reports whether a request path is eligible for rewriting.
type Rules interface {
	Matches(path string) bool
}

// Options configures an Interceptor.
type Options struct {
	Logger   log.Logger
	Rules    Rules
	Rewriter *Rewriter

	// PathSuffix additionally requires eligible paths to end with it.
	// Nil uses DefaultPathSuffix, a pointer to "" disables the check.
	PathSuffix *string

	// OnOutcome is called once per request that reaches the interceptor.
	OnOutcome func(Outcome)
	// OnRewrite is called after every completed rewrite pass.
	OnRewrite func(Stats, time.Duration)
}

// Interceptor is the middleware that captures eligible JSON responses and
// rewrites asset references before they reach the client.
type Interceptor struct {
	logger    log.Logger
	rules     Rules
	rewriter  *Rewriter
	suffix    string
	onOutcome func(Outcome)
	onRewrite func(Stats, time.Duration)
}

// NewInterceptor validates opts and returns an Interceptor.
func NewInterceptor(opts Options) (*Interceptor, error) {
	if opts.Rules == nil {
		return nil, xerrors.New("rewrite: Rules is required")
	}
	if opts.Rewriter == nil {
		return nil, xerrors.New("rewrite: Rewriter is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	suffix := DefaultPathSuffix
	if opts.PathSuffix != nil {
		suffix = *opts.PathSuffix
	}
	return &Interceptor{
		logger:    opts.Logger,
		rules:     opts.Rules,
		rewriter:  opts.Rewriter,
		suffix:    suffix,
		onOutcome: opts.OnOutcome,
		onRewrite: opts.OnRewrite,
	}, nil
}

// Eligible reports whether path would be captured.
func (ic *Interceptor) Eligible(path string) bool {
	if ic.suffix != "" && !strings.HasSuffix(path, ic.suffix) {
		return false
	}
	return ic.rules.Matches(path)
}

// Middleware wraps next, the renderer, with capture and rewrite.
func (ic *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ic.Eligible(r.URL.Path) {
			ic.record(OutcomeSkipped)
			next.ServeHTTP(w, r)
			return
		}

		ctx, guard := WithGuard(r.Context())
		r = r.WithContext(ctx)
		if !guard.Mark() {
			log.FromContextOr(ctx, ic.logger).Debug(ctx, "rewrite already applied for request, passing through")
			ic.record(OutcomeDuplicate)
			next.ServeHTTP(w, r)
			return
		}

		cw := NewCaptureWriter(w)
		next.ServeHTTP(cw, r)

		ic.emit(ctx, w, cw)
	})
}

// emit decides what to send for a captured response and writes it exactly once.
func (ic *Interceptor) emit(ctx context.Context, w http.ResponseWriter, cw *CaptureWriter) {
	L := log.FromContextOr(ctx, ic.logger)

	status := cw.Status()
	raw := cw.Bytes()
	if len(raw) == 0 {
		// nothing rendered, nothing to rewrite; keep an explicit status (204, 304, ...)
		if status != 0 {
			w.WriteHeader(status)
		}
		ic.record(OutcomeEmpty)
		return
	}
	if status == 0 {
		status = http.StatusOK
	}

	out, outcome, err := ic.transform(ctx, cw.Header().Get("Content-Encoding"), raw)
	ic.record(outcome)

	if outcome != OutcomeRewritten {
		switch {
		case outcome == OutcomePassthroughOnError:
			L.Error(ctx, err, "rewrite failed, serving original response body", "bytes", len(raw))
		case err != nil:
			L.Debug(ctx, "response body not rewritable, serving original",
				"reason", err.Error(),
				"bytes", len(raw),
			)
		}
		ic.write(ctx, w, status, raw)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Del("Content-Length")
	h.Del("Content-Encoding")
	// validators describe the renderer's bytes, not ours
	h.Del("ETag")
	ic.write(ctx, w, status, out)
}

// transform decodes, parses, rewrites and re-encodes a captured body.
// Any failure reports a passthrough outcome and the caller sends raw.
func (ic *Interceptor) transform(ctx context.Context, contentEncoding string, raw []byte) (out []byte, outcome Outcome, err error) {
	ctx, span := otel.Tracer("linnemanlabs/rewrite").Start(ctx, "rewrite.json",
		trace.WithAttributes(attribute.Int("rewrite.body.size", len(raw))),
	)
	defer func() {
		span.SetAttributes(attribute.String("rewrite.outcome", string(outcome)))
		if outcome == OutcomePassthroughOnError && err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	defer func() {
		if p := recover(); p != nil {
			out, outcome, err = nil, OutcomePassthroughOnError, xerrors.Newf("panic during rewrite: %v", p)
		}
	}()

	body, err := decodeBody(contentEncoding, raw)
	if err != nil {
		return nil, OutcomePassthroughOriginal, err
	}

	root, err := ParseObject(body)
	if err != nil {
		return nil, OutcomePassthroughOriginal, err
	}

	start := time.Now()
	st := ic.rewriter.Rewrite(ctx, root)
	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int("rewrite.candidates", st.Candidates),
		attribute.Int("rewrite.replaced", st.Replaced),
	)
	if ic.onRewrite != nil {
		ic.onRewrite(st, elapsed)
	}

	out, err = root.MarshalJSON()
	if err != nil {
		return nil, OutcomePassthroughOnError, xerrors.Wrap(err, "encode rewritten body")
	}

	log.FromContextOr(ctx, ic.logger).Debug(ctx, "rewrote response body",
		"candidates", st.Candidates,
		"replaced", st.Replaced,
		"duration", elapsed.String(),
	)
	return out, OutcomeRewritten, nil
}

// write sends status and body to the real response. A failure here means the
// client connection is unusable; it is logged and left to net/http.
func (ic *Interceptor) write(ctx context.Context, w http.ResponseWriter, status int, body []byte) {
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.FromContextOr(ctx, ic.logger).Error(ctx, fmt.Errorf("write response: %w", err), "failed to write response body",
			"bytes", len(body),
		)
	}
}

func (ic *Interceptor) record(o Outcome) {
	if ic.onOutcome != nil {
		ic.onOutcome(o)
	}
}
