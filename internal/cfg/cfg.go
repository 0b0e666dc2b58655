package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
)

// Metadata store backends.
const (
	StoreMap    = "map"
	StoreFile   = "file"
	StoreS3     = "s3"
	StoreSQLite = "sqlite"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	AdminPublic bool
	DrainPeriod time.Duration

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	UpstreamURL     string
	UpstreamTimeout time.Duration
	MaxRequestBody  int64

	EligiblePrefixes string
	EligibilityFile  string
	EligibilitySSM   string
	EligibilityPoll  time.Duration
	EligibilityStale time.Duration
	PathSuffix       string
	ReferencePrefix  string

	Store       string
	StoreFile   string
	StoreS3     string
	StoreS3Pfx  string
	StoreSQLite string
	LookupRate  float64
	LookupBurst int
	LookupWait  time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.AdminPublic, "admin-public", false, "Serve admin endpoints to public source addresses")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 15*time.Second, "time between failing readiness and closing listeners on shutdown")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.UpstreamURL, "upstream-url", "http://127.0.0.1:4503", "renderer base URL that produces component JSON")
	fs.DurationVar(&c.UpstreamTimeout, "upstream-timeout", 10*time.Second, "max wait for upstream response headers")
	fs.Int64Var(&c.MaxRequestBody, "max-request-body", 1<<20, "max request body bytes forwarded upstream (0 disables)")

	fs.StringVar(&c.EligiblePrefixes, "eligible-prefixes", "", "comma separated path prefixes whose responses are rewritten")
	fs.StringVar(&c.EligibilityFile, "eligibility-file", "", "YAML file with prefixes, watched for changes")
	fs.StringVar(&c.EligibilitySSM, "eligibility-ssm-param", "", "ssm parameter holding the prefix list")
	fs.DurationVar(&c.EligibilityPoll, "eligibility-poll", 30*time.Second, "ssm poll interval")
	fs.DurationVar(&c.EligibilityStale, "eligibility-stale", 10*time.Minute, "report the prefix list stale after this long without a successful poll")
	fs.StringVar(&c.PathSuffix, "path-suffix", ".model.json", "eligible paths must also end with this; a matching prefix alone does not trigger a rewrite (empty disables)")
	fs.StringVar(&c.ReferencePrefix, "reference-prefix", "/content/dam", "string values starting with this are asset references")

	fs.StringVar(&c.Store, "store", StoreFile, "metadata store: map|file|s3|sqlite")
	fs.StringVar(&c.StoreFile, "store-file", "metadata.yaml", "YAML metadata document for -store=file")
	fs.StringVar(&c.StoreS3, "store-s3-bucket", "", "s3 bucket for -store=s3")
	fs.StringVar(&c.StoreS3Pfx, "store-s3-prefix", "metadata", "s3 key prefix for -store=s3")
	fs.StringVar(&c.StoreSQLite, "store-sqlite", "damproxy.db", "sqlite database path for -store=sqlite")
	fs.Float64Var(&c.LookupRate, "lookup-rate", 0, "metadata lookups per second (0 disables limiting)")
	fs.IntVar(&c.LookupBurst, "lookup-burst", 50, "metadata lookup burst")
	fs.DurationVar(&c.LookupWait, "lookup-max-wait", 250*time.Millisecond, "max wait for a lookup token before the reference is left unchanged")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// EnvKey maps a flag name onto its environment variable.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// EligibilitySources counts how many prefix sources are configured.
func (c App) EligibilitySources() int {
	n := 0
	for _, s := range []string{c.EligiblePrefixes, c.EligibilityFile, c.EligibilitySSM} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if c.DrainPeriod < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_PERIOD must be >= 0 (got %s)", c.DrainPeriod))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	// Observability
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, errors.New("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, errors.New("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, errors.New("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if err := checkHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Upstream
	if u, err := url.Parse(c.UpstreamURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("UPSTREAM_URL must be an http(s) URL (got %q)", c.UpstreamURL))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("UPSTREAM_TIMEOUT must be positive (got %s)", c.UpstreamTimeout))
	}
	if c.MaxRequestBody < 0 {
		errs = append(errs, fmt.Errorf("MAX_REQUEST_BODY must be >= 0 (got %d)", c.MaxRequestBody))
	}

	// Eligibility
	switch n := c.EligibilitySources(); {
	case n == 0:
		errs = append(errs, errors.New("one of ELIGIBLE_PREFIXES, ELIGIBILITY_FILE or ELIGIBILITY_SSM_PARAM is required"))
	case n > 1:
		errs = append(errs, errors.New("ELIGIBLE_PREFIXES, ELIGIBILITY_FILE and ELIGIBILITY_SSM_PARAM are mutually exclusive"))
	}
	if c.EligibilitySSM != "" {
		if c.EligibilityPoll < time.Second {
			errs = append(errs, fmt.Errorf("ELIGIBILITY_POLL must be >= 1s (got %s)", c.EligibilityPoll))
		}
		if c.EligibilityStale < c.EligibilityPoll {
			errs = append(errs, fmt.Errorf("ELIGIBILITY_STALE (%s) must be >= ELIGIBILITY_POLL (%s)", c.EligibilityStale, c.EligibilityPoll))
		}
	}
	if !strings.HasPrefix(c.ReferencePrefix, "/") {
		errs = append(errs, fmt.Errorf("REFERENCE_PREFIX must start with / (got %q)", c.ReferencePrefix))
	}

	// Metadata store
	switch c.Store {
	case StoreMap:
	case StoreFile:
		if c.StoreFile == "" {
			errs = append(errs, errors.New("STORE_FILE required when STORE=file"))
		}
	case StoreS3:
		if c.StoreS3 == "" {
			errs = append(errs, errors.New("STORE_S3_BUCKET required when STORE=s3"))
		}
	case StoreSQLite:
		if c.StoreSQLite == "" {
			errs = append(errs, errors.New("STORE_SQLITE required when STORE=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE %q (must be map|file|s3|sqlite)", c.Store))
	}
	if c.LookupRate < 0 {
		errs = append(errs, fmt.Errorf("LOOKUP_RATE must be >= 0 (got %v)", c.LookupRate))
	}
	if c.LookupRate > 0 {
		if c.LookupBurst < 1 {
			errs = append(errs, fmt.Errorf("LOOKUP_BURST must be >= 1 (got %d)", c.LookupBurst))
		}
		if c.LookupWait <= 0 {
			errs = append(errs, fmt.Errorf("LOOKUP_MAX_WAIT must be positive (got %s)", c.LookupWait))
		}
	}

	return errors.Join(errs...)
}

// checkHostPort accepts "host:port" with a non-empty host and a numeric port.
// SplitHostPort alone lets "http://x" through as host "http", port "//x".
func checkHostPort(s string) error {
	if strings.Contains(s, "://") {
		return errors.New("scheme not allowed")
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("empty host")
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
