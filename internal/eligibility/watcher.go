package eligibility

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
)

const (
	// DefaultPollInterval is how often the watcher re-reads the source.
	DefaultPollInterval = 30 * time.Second

	// DefaultStaleThreshold is how long without a successful fetch before the
	// active rule is reported stale.
	DefaultStaleThreshold = 30 * time.Minute

	maxBackoff = 5 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollSwapped
	pollFetchError
)

// Fetcher loads the current rule from a remote source.
type Fetcher interface {
	Fetch(ctx context.Context) (*Rule, error)
}

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherError(errType string)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

type WatcherOptions struct {
	Logger         log.Logger
	Fetcher        Fetcher
	Manager        *Manager
	Source         Source
	PollInterval   time.Duration
	StaleThreshold time.Duration
	Metrics        WatcherMetrics

	// OnSwap runs on the poll goroutine after a new rule is installed.
	OnSwap func(*Rule)
}

// Watcher polls a Fetcher and swaps changed rules into the Manager.
type Watcher struct {
	fetcher  Fetcher
	manager  *Manager
	source   Source
	logger   log.Logger
	interval time.Duration
	metrics  WatcherMetrics
	onSwap   func(*Rule)

	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	stale          bool

	polls int64
	swaps int64
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = DefaultStaleThreshold
	}
	if opts.Source == SourceUnknown {
		opts.Source = SourceSSM
	}
	return &Watcher{
		fetcher:        opts.Fetcher,
		manager:        opts.Manager,
		source:         opts.Source,
		logger:         opts.Logger,
		interval:       opts.PollInterval,
		metrics:        opts.Metrics,
		onSwap:         opts.OnSwap,
		staleThreshold: opts.StaleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Load performs one fetch and installs the result. Used at startup so the
// server does not accept traffic without a rule.
func (w *Watcher) Load(ctx context.Context) error {
	rule, err := w.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}
	w.manager.Set(rule, w.source)
	w.lastSuccessAt = time.Now()
	w.logger.Info(ctx, "eligibility rule loaded",
		"source", string(w.source),
		"prefixes", rule.Len(),
		"hash", truncHash(rule.Hash()),
	)
	return nil
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "eligibility watcher starting",
		"source", string(w.source),
		"poll_interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "eligibility watcher stopping",
				"reason", ctx.Err(),
				"polls", w.polls,
				"swaps", w.swaps,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)
			w.adjust(ctx, ticker, result)
		}
	}
}

// adjust applies backoff and staleness bookkeeping after a poll.
func (w *Watcher) adjust(ctx context.Context, ticker *time.Ticker, result pollResult) {
	if result == pollFetchError {
		w.consecutiveErrs++
		backoff := w.backoffDuration()
		w.logger.Warn(ctx, "eligibility watcher: backing off",
			"consecutive_errors", w.consecutiveErrs,
			"next_poll_in", backoff.String(),
		)
		ticker.Reset(backoff)

		if !w.stale && time.Since(w.lastSuccessAt) > w.staleThreshold {
			w.stale = true
			w.logger.Error(ctx, fmt.Errorf("last successful fetch was %s ago", time.Since(w.lastSuccessAt).Truncate(time.Second)),
				"eligibility watcher: rule is stale, serving last known prefixes",
			)
			if w.metrics != nil {
				w.metrics.SetWatcherStale(true)
			}
		}
		return
	}

	if w.consecutiveErrs > 0 {
		w.logger.Info(ctx, "eligibility watcher: recovered",
			"had_consecutive_errors", w.consecutiveErrs,
		)
		w.consecutiveErrs = 0
		ticker.Reset(w.interval)
	}
	if w.stale {
		w.stale = false
		w.logger.Info(ctx, "eligibility watcher: staleness recovered")
		if w.metrics != nil {
			w.metrics.SetWatcherStale(false)
		}
	}
}

func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.polls++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	rule, err := w.fetcher.Fetch(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "eligibility watcher: fetch failed")
		if w.metrics != nil {
			w.metrics.IncWatcherError("fetch")
		}
		return pollFetchError
	}

	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	old := w.manager.Hash()
	if rule.Hash() == old {
		return pollNoChange
	}

	w.manager.Set(rule, w.source)
	w.swaps++
	w.logger.Info(ctx, "eligibility watcher: rule swapped",
		"old_hash", truncHash(old),
		"new_hash", truncHash(rule.Hash()),
		"prefixes", rule.Len(),
	)
	w.notify(ctx, rule)
	return pollSwapped
}

func (w *Watcher) notify(ctx context.Context, rule *Rule) {
	if w.onSwap == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r),
				"eligibility watcher: OnSwap callback panicked, continuing",
			)
		}
	}()
	w.onSwap(rule)
}

// backoffDuration doubles the interval per consecutive error, capped at maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	d := time.Duration(float64(w.interval) * math.Pow(2, float64(w.consecutiveErrs)))
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
