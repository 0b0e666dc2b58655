package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/eligibility"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/health"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/prof"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/rewrite"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/upstream"
	v "github.com/keithlinneman/linnemanlabs-damproxy/internal/version"
)

const envPrefix = "DAMPROXY_"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.App, vi.Version, vi.Commit, vi.CommitDate, vi.BuildID, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, envPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging, levels were validated above
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildID,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"upstream_url", conf.UpstreamURL,
		"store", conf.Store,
		"path_suffix", conf.PathSuffix,
		"reference_prefix", conf.ReferencePrefix,
		"eligibility_file", conf.EligibilityFile,
		"eligibility_ssm_param", conf.EligibilitySSM,
		"lookup_rate", conf.LookupRate,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
	)

	m := metrics.New()
	m.SetBuildInfo(vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)
	defer stopProf()

	// Insecure is true because spans go to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	awsCfg := newAWSConfig()

	// metadata store
	store, closeStore, err := buildStore(ctx, conf, awsCfg, m)
	if err != nil {
		L.Error(ctx, err, "failed to open metadata store", "store", conf.Store)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			L.Error(context.Background(), err, "metadata store close")
		}
	}()

	// eligibility rule
	rules := eligibility.NewManager()
	eligibilityLoop, err := startEligibility(ctx, L, conf, rules, awsCfg, m)
	if err != nil {
		L.Error(ctx, err, "failed to load eligibility rule")
		os.Exit(1)
	}

	// rewrite interceptor
	resolver := rewrite.NewResolver(store, func(r rewrite.Resolution) { m.IncResolution(string(r)) })
	suffix := conf.PathSuffix
	interceptor, err := rewrite.NewInterceptor(rewrite.Options{
		Logger:     L,
		Rules:      rules,
		Rewriter:   rewrite.NewRewriter(resolver, conf.ReferencePrefix),
		PathSuffix: &suffix,
		OnOutcome:  func(o rewrite.Outcome) { m.IncRewriteOutcome(string(o)) },
		OnRewrite: func(st rewrite.Stats, d time.Duration) {
			m.ObserveRewrite(st.Candidates, st.Replaced, d.Seconds())
		},
	})
	if err != nil {
		L.Error(ctx, err, "failed to create rewrite interceptor")
		os.Exit(1)
	}

	proxy, err := upstream.New(upstream.Options{
		Logger:                L,
		Target:                conf.UpstreamURL,
		ResponseHeaderTimeout: conf.UpstreamTimeout,
		OnError:               func(error) { m.IncUpstreamError() },
	})
	if err != nil {
		L.Error(ctx, err, "failed to create upstream proxy")
		os.Exit(1)
	}

	// readiness fails while draining or before any eligibility rule is loaded
	var gate health.ShutdownGate
	readiness := health.Timeout(2*time.Second, health.All(
		health.Named("shutdown", gate.Probe()),
		health.CheckFunc(func(context.Context) error { return rules.ReadyErr() }),
	))

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:         L,
		Port:           conf.HTTPPort,
		UseRecoverMW:   true,
		OnPanic:        m.IncHttpPanic,
		MetricsMW:      m.Middleware,
		Health:         health.Fixed(true, ""),
		Readiness:      readiness,
		Upstream:       proxy,
		Interceptor:    interceptor,
		MaxRequestBody: conf.MaxRequestBody,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// admin listener: metrics, health and pprof, non-public peers only unless told otherwise
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		AllowPublic: conf.AdminPublic,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if eligibilityLoop != nil {
		go func() {
			if err := eligibilityLoop(ctx); err != nil && ctx.Err() == nil {
				L.Error(ctx, err, "eligibility watcher stopped")
			}
		}()
	}

	if err := notifySystemd(); err != nil {
		// systemd kills us after its start timeout if this really mattered
		L.Debug(ctx, "systemd readiness notification skipped", "reason", err.Error())
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops routing before listeners close
	gate.Set("draining")
	if conf.DrainPeriod > 0 {
		L.Info(context.Background(), "draining", "period", conf.DrainPeriod.String())
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-time.After(conf.DrainPeriod):
			L.Info(context.Background(), "drain period complete")
		case <-forceCh:
			L.Warn(context.Background(), "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return conn.Close()
}
