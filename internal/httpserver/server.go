package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/health"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

const DefaultPort = 8080

// compressibleTypes are re-encoded for clients that accept it. Rewritten model
// JSON leaves the interceptor uncompressed, so this is where it gets squeezed again.
var compressibleTypes = []string{
	"application/json",
	"text/html",
	"text/css",
	"application/javascript",
	"image/svg+xml",
}

// NewHandler builds the public handler: health routes plus the rewriting proxy.
func NewHandler(opts *Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	var recoverMW func(http.Handler) http.Handler
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(opts.Logger, opts.OnPanic)
	}

	// outermost first; SecurityHeaders also covers 500s written by Recover
	return httpmw.Chain(router(opts),
		httpmw.SecurityHeaders,
		recoverMW,
		httpmw.RequestID("X-Request-Id"),
		tracing,
		httpmw.TraceResponse("X-Trace-Id"),
		opts.MetricsMW,
		httpmw.WithLogger(opts.Logger),
	)
}

func router(opts *Options) chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.Compress(5, compressibleTypes...),
		httpmw.AnnotateHTTPRoute,
		httpmw.AccessLog(),
	)

	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}

	if opts.Upstream == nil {
		return r
	}
	var proxy http.Handler = opts.Upstream
	if opts.Interceptor != nil {
		proxy = opts.Interceptor.Middleware(proxy)
	}
	r.With(httpmw.MaxBody(opts.MaxRequestBody)).Handle("/*", proxy)
	return r
}

// tracing starts the server span. Probe traffic is not traced.
func tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute renames the span once chi has matched
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 90 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Serve listens on srv.Addr and serves in the background. The returned stop
// shuts the server down within grace and is safe to call more than once.
func Serve(ctx context.Context, L log.Logger, name string, srv *http.Server, grace time.Duration) (func(context.Context) error, error) {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "%s: listen on %s", name, srv.Addr)
	}

	go func() {
		L.Info(ctx, name+" listening", "addr", srv.Addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, name+" stopped serving")
		}
	}()

	var (
		once    sync.Once
		stopErr error
	)
	return func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, name+" shutting down", "grace", grace.String())
			c, cancel := context.WithTimeout(sctx, grace)
			defer cancel()
			stopErr = srv.Shutdown(c)
		})
		return stopErr
	}, nil
}

// Start serves the public handler on opts.Port and returns stop(ctx).
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	h := NewHandler(opts)
	return Serve(ctx, opts.Logger, "http server", NewServer(fmt.Sprintf(":%d", port), h), 10*time.Second)
}
