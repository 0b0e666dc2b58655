package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/httpmw"
)

// Middleware records inflight, totals, latency, size and 5xx per route.
//
// It runs outside the chi router, so it seeds a RouteContext that chi then
// fills in; reading it after next returns yields the matched pattern.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rctx := chi.RouteContext(r.Context())
		if rctx == nil {
			rctx = chi.NewRouteContext()
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
		}

		m.inflight.Inc()
		defer m.inflight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := httpmw.StatusOf(ww)
		route := rctx.RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		method := r.Method

		m.reqTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
		if code >= 500 {
			m.errorsTotal.WithLabelValues(method, route).Inc()
		}

		observe(r.Context(), m.reqDur.WithLabelValues(method, route), time.Since(start).Seconds())
		m.respBytes.WithLabelValues(method, route).Observe(float64(ww.BytesWritten()))
	})
}

// observe records v, attaching the trace id as an exemplar when the span is sampled.
func observe(ctx context.Context, obs prometheus.Observer, v float64) {
	if ex := traceExemplar(ctx); ex != nil {
		if eo, ok := obs.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(v, ex)
			return
		}
	}
	obs.Observe(v)
}

// traceExemplar returns the trace_id of a sampled span as exemplar labels.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
