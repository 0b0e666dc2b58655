package httpserver

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/health"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/rewrite"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	Health       health.Probe
	Readiness    health.Probe

	// Upstream renders pages. Every route other than health goes to it.
	Upstream http.Handler
	// Interceptor rewrites eligible upstream responses. Nil proxies verbatim.
	Interceptor *rewrite.Interceptor

	// MaxRequestBody caps request bodies forwarded upstream. 0 disables.
	MaxRequestBody int64
}
