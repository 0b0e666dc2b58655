package httpmw

import "net/http"

// SecurityHeaders sets response headers for a JSON-only API surface. Headers
// already set by the upstream renderer are left alone.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		setDefault(h, "X-Content-Type-Options", "nosniff")
		setDefault(h, "X-Frame-Options", "DENY")
		setDefault(h, "Referrer-Policy", "no-referrer")
		setDefault(h, "Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		setDefault(h, "Cross-Origin-Resource-Policy", "same-site")
		next.ServeHTTP(w, r)
	})
}

func setDefault(h http.Header, key, value string) {
	if h.Get(key) == "" {
		h.Set(key, value)
	}
}
