package httpserver_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/eligibility"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/health"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/metastore"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/rewrite"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/upstream"
)

const componentJSON = `{"heroImage":"/content/dam/test-image.jpg","title":"Home","items":[{"src":"/content/dam/draft.jpg"}]}`

// renderer stands in for the publish tier. It gzips when the client allows it.
func renderer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := componentJSON
		if !strings.HasSuffix(r.URL.Path, ".model.json") {
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, "<html>"+r.URL.Path+"</html>")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"v1"`)
		if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			w.Header().Set("Content-Encoding", "gzip")
			zw := gzip.NewWriter(w)
			io.WriteString(zw, body)
			zw.Close()
			return
		}
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type stack struct {
	handler http.Handler
	rules   *eligibility.Manager
	metrics *metrics.ServerMetrics
}

func newStack(t *testing.T, backendURL string) stack {
	t.Helper()
	m := metrics.New()

	store := metastore.NewInstrumented(metastore.NewMap(map[string]metastore.Record{
		"/content/dam/test-image.jpg/jcr:content/metadata": {
			"dam:scene7FileStatus": "PublishComplete",
			"dam:scene7Domain":     "https://img.example.com/",
			"dam:scene7File":       "test-image",
		},
		"/content/dam/draft.jpg/jcr:content/metadata": {
			"dam:scene7FileStatus": "NotPublished",
		},
	}), "map", m)

	rules := eligibility.NewManager()
	ic, err := rewrite.NewInterceptor(rewrite.Options{
		Logger:   log.Nop(),
		Rules:    rules,
		Rewriter: rewrite.NewRewriter(rewrite.NewResolver(store, func(r rewrite.Resolution) { m.IncResolution(string(r)) }), ""),
		OnOutcome: func(o rewrite.Outcome) {
			m.IncRewriteOutcome(string(o))
		},
		OnRewrite: func(st rewrite.Stats, d time.Duration) {
			m.ObserveRewrite(st.Candidates, st.Replaced, d.Seconds())
		},
	})
	if err != nil {
		t.Fatalf("NewInterceptor: %v", err)
	}

	proxy, err := upstream.New(upstream.Options{Logger: log.Nop(), Target: backendURL, OnError: func(error) { m.IncUpstreamError() }})
	if err != nil {
		t.Fatalf("upstream.New: %v", err)
	}

	h := httpserver.NewHandler(&httpserver.Options{
		Logger:       log.Nop(),
		UseRecoverMW: true,
		MetricsMW:    m.Middleware,
		Health:       health.Fixed(true, ""),
		Readiness: health.CheckFunc(func(context.Context) error {
			return rules.ReadyErr()
		}),
		Upstream:    proxy,
		Interceptor: ic,
	})
	return stack{handler: h, rules: rules, metrics: m}
}

func get(h http.Handler, path string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func counter(t *testing.T, m *metrics.ServerMetrics, name, label, value string) float64 {
	t.Helper()
	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label == "" {
				return metric.GetCounter().GetValue()
			}
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

const wantRewritten = `{"heroImage":"https://img.example.com/is/image/test-image","title":"Home","items":[{"src":"/content/dam/draft.jpg"}]}`

func TestIntegration_RewritesEligibleModelJSON(t *testing.T) {
	s := newStack(t, renderer(t).URL)
	s.rules.Set(eligibility.NewRule([]string{"/content/site/"}), eligibility.SourceStatic)

	rec := get(s.handler, "/content/site/en/home.model.json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != wantRewritten {
		t.Fatalf("body = %s", got)
	}
	if rec.Header().Get("ETag") != "" {
		t.Fatal("ETag of the original body leaked through")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("X-Request-Id missing")
	}

	if got := counter(t, s.metrics, "rewrite_requests_total", "outcome", "rewritten"); got != 1 {
		t.Fatalf("rewritten outcomes = %v", got)
	}
	if got := counter(t, s.metrics, "rewrite_resolutions_total", "result", "not_published"); got != 1 {
		t.Fatalf("not_published resolutions = %v", got)
	}
}

func TestIntegration_GzipRoundTrip(t *testing.T) {
	s := newStack(t, renderer(t).URL)
	s.rules.Set(eligibility.NewRule([]string{"/content/site/"}), eligibility.SourceStatic)

	rec := get(s.handler, "/content/site/en/home.model.json", "Accept-Encoding", "gzip")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ce := rec.Header().Get("Content-Encoding"); ce != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", ce)
	}
	zr, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip body: %v", err)
	}
	if string(plain) != wantRewritten {
		t.Fatalf("body = %s", plain)
	}
}

func TestIntegration_IneligiblePassesThrough(t *testing.T) {
	s := newStack(t, renderer(t).URL)
	s.rules.Set(eligibility.NewRule([]string{"/content/site/"}), eligibility.SourceStatic)

	if rec := get(s.handler, "/content/other/en/home.model.json"); rec.Body.String() != componentJSON {
		t.Fatalf("other prefix rewritten: %s", rec.Body.String())
	}
	if rec := get(s.handler, "/content/site/en/home.html"); rec.Body.String() != "<html>/content/site/en/home.html</html>" {
		t.Fatalf("html page changed: %s", rec.Body.String())
	}
	if got := counter(t, s.metrics, "rewrite_requests_total", "outcome", "skipped"); got != 2 {
		t.Fatalf("skipped outcomes = %v", got)
	}
}

func TestIntegration_NoRuleLoaded(t *testing.T) {
	s := newStack(t, renderer(t).URL)

	if rec := get(s.handler, "/-/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503 before a rule loads", rec.Code)
	}
	if rec := get(s.handler, "/content/site/en/home.model.json"); rec.Body.String() != componentJSON {
		t.Fatalf("rewritten without a rule: %s", rec.Body.String())
	}

	s.rules.Set(eligibility.NewRule([]string{"/content/site/"}), eligibility.SourceStatic)
	if rec := get(s.handler, "/-/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d after load", rec.Code)
	}
}

func TestIntegration_UpstreamDown(t *testing.T) {
	backend := renderer(t)
	url := backend.URL
	backend.Close()

	s := newStack(t, url)
	s.rules.Set(eligibility.NewRule([]string{"/content/site/"}), eligibility.SourceStatic)

	rec := get(s.handler, "/content/site/en/home.model.json")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "upstream unavailable") {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if got := counter(t, s.metrics, "upstream_errors_total", "", ""); got != 1 {
		t.Fatalf("upstream errors = %v", got)
	}
}
