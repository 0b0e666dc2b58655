// Package upstream proxies requests to the page renderer whose JSON responses
// the rewrite interceptor post-processes.
package upstream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

const (
	DefaultDialTimeout           = 5 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
)

type Options struct {
	Logger log.Logger
	// Target is the renderer base URL, e.g. http://publish:4503.
	Target string
	// Transport overrides the outbound round tripper. It is still wrapped by otelhttp.
	Transport             http.RoundTripper
	ResponseHeaderTimeout time.Duration
	// OnError is called for every failed upstream round trip.
	OnError func(error)
}

// New returns a reverse proxy to opts.Target.
func New(opts Options) (*httputil.ReverseProxy, error) {
	if opts.Target == "" {
		return nil, xerrors.New("upstream: target URL is required")
	}
	target, err := url.Parse(opts.Target)
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse upstream URL %q", opts.Target)
	}
	if target.Scheme != "http" && target.Scheme != "https" || target.Host == "" {
		return nil, xerrors.Newf("upstream URL %q must be absolute http(s)", opts.Target)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	base := opts.Transport
	if base == nil {
		base = newTransport(opts.ResponseHeaderTimeout)
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		Transport: otelhttp.NewTransport(base,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "upstream " + r.Method
			}),
		),
		ErrorHandler: errorHandler(opts.Logger, opts.OnError),
	}
	return rp, nil
}

func newTransport(headerTimeout time.Duration) *http.Transport {
	if headerTimeout <= 0 {
		headerTimeout = DefaultResponseHeaderTimeout
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: DefaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext
	t.ResponseHeaderTimeout = headerTimeout
	t.MaxIdleConnsPerHost = 64
	return t
}

func errorHandler(logger log.Logger, onError func(error)) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		ctx := r.Context()
		if errors.Is(err, context.Canceled) {
			// client went away; nobody is left to answer
			return
		}
		if onError != nil {
			onError(err)
		}
		log.FromContextOr(ctx, logger).Error(ctx, xerrors.Wrap(err, "upstream round trip"), "upstream request failed")

		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		w.Write([]byte(`{"error":"upstream unavailable"}`))
	}
}
