package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// AllowPublic serves requests from public source addresses too.
	AllowPublic bool
	OnPanic     func()
}
