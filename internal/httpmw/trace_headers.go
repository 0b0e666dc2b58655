package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// TraceResponseHeader is the W3C Trace Context response header.
const TraceResponseHeader = "Traceresponse"

// TraceResponse sets idHeader to the trace id of the request's span and, for
// sampled spans, the traceresponse header so a client can find the exact span.
// Requests without a valid span context get neither.
func TraceResponse(idHeader string) func(http.Handler) http.Handler {
	if idHeader == "" {
		idHeader = "X-Trace-Id"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := trace.SpanContextFromContext(r.Context())
			if !sc.IsValid() {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set(idHeader, sc.TraceID().String())
			if sc.IsSampled() {
				h.Set(TraceResponseHeader, "00-"+sc.TraceID().String()+"-"+sc.SpanID().String()+"-"+sc.TraceFlags().String())
			}
			next.ServeHTTP(w, r)
		})
	}
}
