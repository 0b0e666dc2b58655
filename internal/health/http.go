package health

import "net/http"

// HealthzHandler answers 200 "ok" when p passes and 503 with the reason otherwise.
func HealthzHandler(p Probe) http.HandlerFunc { return handler(p, "ok") }

// ReadyzHandler answers 200 "ready" when p passes and 503 with the reason otherwise.
func ReadyzHandler(p Probe) http.HandlerFunc { return handler(p, "ready") }

func handler(p Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(okBody + "\n"))
	}
}
