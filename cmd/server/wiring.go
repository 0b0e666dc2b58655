package main

import (
	"context"
	"database/sql"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/eligibility"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/metastore"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

// awsConfig loads the shared AWS config once, only for backends that need it.
type awsConfig struct {
	cfg    *aws.Config
	loader func(context.Context) (aws.Config, error)
}

func newAWSConfig() *awsConfig {
	return &awsConfig{loader: func(ctx context.Context) (aws.Config, error) {
		return config.LoadDefaultConfig(ctx)
	}}
}

func (a *awsConfig) get(ctx context.Context) (aws.Config, error) {
	if a.cfg != nil {
		return *a.cfg, nil
	}
	c, err := a.loader(ctx)
	if err != nil {
		return aws.Config{}, xerrors.Wrap(err, "load AWS config")
	}
	a.cfg = &c
	return c, nil
}

// buildStore constructs the configured metadata backend wrapped with the
// lookup budget and instrumentation. The returned closer releases backend
// resources and is never nil.
func buildStore(ctx context.Context, conf cfg.App, awsCfg *awsConfig, m *metrics.ServerMetrics) (metastore.Store, func() error, error) {
	noop := func() error { return nil }

	var (
		base   metastore.Store
		closer = noop
	)
	switch conf.Store {
	case cfg.StoreMap:
		base = metastore.NewMap(nil)
	case cfg.StoreFile:
		mp, err := metastore.LoadFile(conf.StoreFile)
		if err != nil {
			return nil, noop, err
		}
		base = mp
	case cfg.StoreS3:
		ac, err := awsCfg.get(ctx)
		if err != nil {
			return nil, noop, err
		}
		st, err := metastore.NewS3Store(s3.NewFromConfig(ac), conf.StoreS3, conf.StoreS3Pfx)
		if err != nil {
			return nil, noop, err
		}
		base = st
	case cfg.StoreSQLite:
		db, err := metastore.OpenSQLite(ctx, conf.StoreSQLite)
		if err != nil {
			return nil, noop, err
		}
		base = metastore.NewSQLStore(db)
		closer = closeDB(db)
	default:
		return nil, noop, xerrors.Newf("unknown metadata store %q", conf.Store)
	}

	var st metastore.Store = base
	if conf.LookupRate > 0 {
		st = metastore.NewLimited(st, conf.LookupRate, conf.LookupBurst, conf.LookupWait)
	}
	var lm metastore.LookupMetrics
	if m != nil {
		lm = m
	}
	return metastore.NewInstrumented(st, conf.Store, lm), closer, nil
}

func closeDB(db *sql.DB) func() error {
	return func() error { return db.Close() }
}

// runner is a background loop started after the servers are up.
type runner func(context.Context) error

// startEligibility installs the initial rule from the configured source and
// returns the loop that keeps it current, or nil for static prefixes.
func startEligibility(ctx context.Context, L log.Logger, conf cfg.App, mgr *eligibility.Manager, awsCfg *awsConfig, m *metrics.ServerMetrics) (runner, error) {
	onSwap := func(src eligibility.Source) func(*eligibility.Rule) {
		return func(r *eligibility.Rule) {
			if m != nil {
				m.SetEligibilityRule(string(src), r.Len())
			}
		}
	}

	switch {
	case strings.TrimSpace(conf.EligiblePrefixes) != "":
		rule := eligibility.NewRule(eligibility.ParseList(conf.EligiblePrefixes))
		if rule.Len() == 0 {
			return nil, xerrors.New("eligible prefixes list is empty")
		}
		mgr.Set(rule, eligibility.SourceStatic)
		onSwap(eligibility.SourceStatic)(rule)
		L.Info(ctx, "eligibility rule loaded", "source", "static", "prefixes", rule.Prefixes())
		return nil, nil

	case conf.EligibilityFile != "":
		fw, err := eligibility.NewFileWatcher(eligibility.FileWatcherOptions{
			Logger:  L,
			Path:    conf.EligibilityFile,
			Manager: mgr,
			OnSwap:  onSwap(eligibility.SourceFile),
			OnError: func(error) {
				if m != nil {
					m.IncEligibilityReloadError(string(eligibility.SourceFile))
				}
			},
		})
		if err != nil {
			return nil, err
		}
		if snap, ok := mgr.Get(); ok {
			onSwap(eligibility.SourceFile)(snap.Rule)
		}
		return fw.Run, nil

	case conf.EligibilitySSM != "":
		ac, err := awsCfg.get(ctx)
		if err != nil {
			return nil, err
		}
		var wm eligibility.WatcherMetrics
		if m != nil {
			wm = m
		}
		w := eligibility.NewWatcher(eligibility.WatcherOptions{
			Logger:         L,
			Fetcher:        &eligibility.SSMSource{Client: ssm.NewFromConfig(ac), Param: conf.EligibilitySSM},
			Manager:        mgr,
			Source:         eligibility.SourceSSM,
			PollInterval:   conf.EligibilityPoll,
			StaleThreshold: conf.EligibilityStale,
			Metrics:        wm,
			OnSwap:         onSwap(eligibility.SourceSSM),
		})
		if err := w.Load(ctx); err != nil {
			// keep polling; readiness stays failed until a rule arrives
			L.Error(ctx, err, "initial eligibility load failed", "ssm_param", conf.EligibilitySSM)
		} else if snap, ok := mgr.Get(); ok {
			onSwap(eligibility.SourceSSM)(snap.Rule)
		}
		return w.Run, nil
	}
	return nil, xerrors.New("no eligibility source configured")
}
