// Package metrics owns the Prometheus registry of the proxy and the typed
// recording methods the other packages call through small interfaces.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	upstreamErrors prometheus.Counter

	// rewrite
	rewriteOutcomes   *prometheus.CounterVec
	rewriteDuration   prometheus.Histogram
	rewriteCandidates prometheus.Counter
	rewriteReplaced   prometheus.Counter
	resolutions       *prometheus.CounterVec

	// metadata store
	lookupTotal    *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec

	// eligibility
	eligibilityReloads  *prometheus.CounterVec
	eligibilityPrefixes prometheus.Gauge
	eligibilitySource   *prometheus.GaugeVec

	// eligibility watcher
	watcherPollsTotal    prometheus.Counter
	watcherErrorsTotal   *prometheus.CounterVec
	watcherLastSuccessTs prometheus.Gauge
	watcherStale         prometheus.Gauge

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

// New returns a fresh registry with Go/process collectors and the proxy
// metrics. Labels stay low cardinality: method, route, status, outcome.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 9),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx responses by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		upstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Failed round trips to the renderer",
		}),
		rewriteOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewrite_requests_total",
			Help: "Requests seen by the rewrite interceptor by outcome",
		}, []string{"outcome"}),
		rewriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rewrite_duration_seconds",
			Help:    "Time spent walking and resolving one response tree",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
		rewriteCandidates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewrite_references_total",
			Help: "Asset references found in rewritten responses",
		}),
		rewriteReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewrite_references_replaced_total",
			Help: "Asset references replaced with delivery URLs",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewrite_resolutions_total",
			Help: "Reference resolutions by result",
		}, []string{"result"}),
		lookupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metastore_lookups_total",
			Help: "Metadata lookups by store and result",
		}, []string{"store", "result"}),
		lookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metastore_lookup_duration_seconds",
			Help:    "Metadata lookup latency by store",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"store"}),
		eligibilityReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_reloads_total",
			Help: "Eligibility rule reloads by source and result",
		}, []string{"source", "result"}),
		eligibilityPrefixes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eligibility_prefixes",
			Help: "Number of path prefixes in the active eligibility rule",
		}),
		eligibilitySource: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eligibility_source_info",
			Help: "Source of the active eligibility rule (label carries value, gauge is always 1)",
		}, []string{"source"}),
		watcherPollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eligibility_watcher_polls_total",
			Help: "Total number of eligibility watcher poll cycles",
		}),
		watcherErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_watcher_errors_total",
			Help: "Eligibility watcher errors by type",
		}, []string{"type"}),
		watcherLastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eligibility_watcher_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful eligibility fetch",
		}),
		watcherStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eligibility_watcher_stale",
			Help: "Whether the eligibility rule is stale (1) or fresh (0)",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "version", "commit", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.upstreamErrors,
		m.rewriteOutcomes,
		m.rewriteDuration,
		m.rewriteCandidates,
		m.rewriteReplaced,
		m.resolutions,
		m.lookupTotal,
		m.lookupDuration,
		m.eligibilityReloads,
		m.eligibilityPrefixes,
		m.eligibilitySource,
		m.watcherPollsTotal,
		m.watcherErrorsTotal,
		m.watcherLastSuccessTs,
		m.watcherStale,
		m.buildInfo,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry exposes the registry for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

// SetBuildInfo is called once at startup.
func (m *ServerMetrics) SetBuildInfo(vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        vi.App,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_date": vi.BuildDate,
		"vcs_dirty":  dirty,
		"go_version": vi.GoVersion,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic()     { m.httpPanicTotal.Inc() }
func (m *ServerMetrics) IncUpstreamError() { m.upstreamErrors.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) { m.profilingActive.Set(boolGauge(active)) }

// rewrite

func (m *ServerMetrics) IncRewriteOutcome(outcome string) {
	m.rewriteOutcomes.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) ObserveRewrite(candidates, replaced int, seconds float64) {
	m.rewriteDuration.Observe(seconds)
	m.rewriteCandidates.Add(float64(candidates))
	m.rewriteReplaced.Add(float64(replaced))
}

func (m *ServerMetrics) IncResolution(result string) {
	m.resolutions.WithLabelValues(result).Inc()
}

// metastore.LookupMetrics

func (m *ServerMetrics) ObserveLookup(store, result string, seconds float64) {
	m.lookupTotal.WithLabelValues(store, result).Inc()
	m.lookupDuration.WithLabelValues(store).Observe(seconds)
}

// eligibility

// SetEligibilityRule records a successfully installed rule.
func (m *ServerMetrics) SetEligibilityRule(source string, prefixes int) {
	m.eligibilityReloads.WithLabelValues(source, "ok").Inc()
	m.eligibilityPrefixes.Set(float64(prefixes))
	m.eligibilitySource.Reset()
	m.eligibilitySource.WithLabelValues(source).Set(1)
}

func (m *ServerMetrics) IncEligibilityReloadError(source string) {
	m.eligibilityReloads.WithLabelValues(source, "error").Inc()
}

// eligibility.WatcherMetrics

func (m *ServerMetrics) IncWatcherPolls() { m.watcherPollsTotal.Inc() }

func (m *ServerMetrics) IncWatcherError(errType string) {
	m.watcherErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	m.watcherLastSuccessTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetWatcherStale(stale bool) { m.watcherStale.Set(boolGauge(stale)) }

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
