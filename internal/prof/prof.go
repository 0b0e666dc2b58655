// Package prof starts continuous profiling with Pyroscope.
package prof

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

type Options struct {
	Enabled              bool
	AppName              string
	ServerAddress        string
	AuthToken            string
	TenantID             string
	Tags                 map[string]string
	ProfileMutexFraction int
	BlockProfileRate     int
	// ProfileTypes restricts what is collected. Empty collects everything.
	ProfileTypes []string
}

var allProfileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

// profileTypes maps configured names onto pyroscope profile types.
func profileTypes(names []string) ([]pyroscope.ProfileType, error) {
	if len(names) == 0 {
		return allProfileTypes, nil
	}
	known := make(map[string]pyroscope.ProfileType, len(allProfileTypes))
	for _, pt := range allProfileTypes {
		known[string(pt)] = pt
	}
	seen := make(map[pyroscope.ProfileType]bool, len(names))
	out := make([]pyroscope.ProfileType, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		pt, ok := known[n]
		if !ok {
			valid := make([]string, 0, len(known))
			for k := range known {
				valid = append(valid, k)
			}
			sort.Strings(valid)
			return nil, xerrors.Newf("unknown profile type %q (valid: %s)", n, strings.Join(valid, ", "))
		}
		if !seen[pt] {
			seen[pt] = true
			out = append(out, pt)
		}
	}
	if len(out) == 0 {
		return allProfileTypes, nil
	}
	return out, nil
}

// pyroLogger routes profiler chatter into our logger at debug level, errors at warn.
type pyroLogger struct {
	ctx context.Context
	L   log.Logger
}

func (p pyroLogger) Infof(format string, args ...any)  { p.L.Debug(p.ctx, fmt.Sprintf(format, args...)) }
func (p pyroLogger) Debugf(format string, args ...any) { p.L.Debug(p.ctx, fmt.Sprintf(format, args...)) }
func (p pyroLogger) Errorf(format string, args ...any) { p.L.Warn(p.ctx, fmt.Sprintf(format, args...)) }

func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return func() {}, nil
	}

	if opts.ServerAddress == "" {
		return func() {}, xerrors.Newf("invalid server address (%q)", opts.ServerAddress)
	}
	types, err := profileTypes(opts.ProfileTypes)
	if err != nil {
		return func() {}, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		AuthToken:       opts.AuthToken,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		ProfileTypes:    types,
		Logger:          pyroLogger{ctx: context.WithoutCancel(ctx), L: L},
	})
	if err != nil {
		return func() {}, xerrors.Wrapf(err, "start pyroscope for %s", opts.AppName)
	}

	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
		"profile_types", len(types),
	)

	return func() {
		if err := profiler.Stop(); err != nil {
			L.Warn(context.Background(), "pyroscope stop failed", "error", err.Error())
			return
		}
		L.Info(context.Background(), "pyroscope stopped", "app_name", opts.AppName)
	}, nil
}
