// Package refresh decides when the cached event list of a category can be
// trusted and when it has to be fetched again.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	appLog "kpopcal/internal/log"
	"kpopcal/internal/metrics"
	"kpopcal/internal/model"
	"kpopcal/internal/source"
	"kpopcal/internal/store"
)

// Options configures a Policy.
type Options struct {
	// Category names the pipeline in logs and metrics.
	Category string
	// Namespace is the store namespace owned by this policy.
	Namespace string
	// MaxAge is the freshness window.
	MaxAge time.Duration

	Store   store.Store
	Fetcher source.Fetcher

	// Clock defaults to the real clock.
	Clock   clockwork.Clock
	Metrics *metrics.Metrics

	// ServeStaleOnError returns the stale list when the refresh fails
	// instead of the fetch error.
	ServeStaleOnError bool
}

// Policy serves a category's events from the store, refetching when the
// earliest cached event has aged past MaxAge.
type Policy struct {
	opts Options

	// mu serializes cache access within one category so concurrent callers
	// do not trigger duplicate fetches.
	mu sync.Mutex
}

// New validates opts and returns a Policy.
func New(opts Options) (*Policy, error) {
	if opts.Store == nil {
		return nil, errors.New("refresh: store is nil")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("refresh: fetcher is nil")
	}
	if opts.Namespace == "" {
		return nil, errors.New("refresh: namespace is empty")
	}
	if opts.MaxAge <= 0 {
		return nil, errors.New("refresh: max age must be positive")
	}
	if opts.Category == "" {
		opts.Category = opts.Namespace
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Policy{opts: opts}, nil
}

// Category returns the category name.
func (p *Policy) Category() string { return p.opts.Category }

// IsStale reports whether a list whose earliest event is at earliestMs is
// older than maxAge at now. The comparison is strict: a list exactly maxAge
// old is still fresh.
func IsStale(now time.Time, maxAge time.Duration, earliestMs int64) bool {
	return now.UnixMilli()-maxAge.Milliseconds() > earliestMs
}

// Earliest returns the smallest timestamp in events.
func Earliest(events []model.Event) (int64, bool) {
	if len(events) == 0 {
		return 0, false
	}
	earliest := events[0].Timestamp
	for _, ev := range events[1:] {
		if ev.Timestamp < earliest {
			earliest = ev.Timestamp
		}
	}
	return earliest, true
}

func (p *Policy) stale(events []model.Event) bool {
	earliest, ok := Earliest(events)
	if !ok {
		// Nothing cached to judge by; treat as stale.
		return true
	}
	return IsStale(p.opts.Clock.Now(), p.opts.MaxAge, earliest)
}

// Events returns the cached list, refreshing it first when it is missing or
// stale. At most one upstream fetch happens per call: a list fetched during
// this call is returned even if it already looks stale, which only happens
// when the upstream itself serves past events first.
//
// The result is the full list; limiting is left to the caller.
func (p *Policy) Events(ctx context.Context) ([]model.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ns := p.opts.Namespace
	refreshed := false

	exists, err := p.opts.Store.Exists(ctx, ns)
	if err != nil {
		return nil, err
	}
	if !exists {
		if _, err := p.refreshLocked(ctx, metrics.ReasonMiss); err != nil {
			return nil, err
		}
		refreshed = true
	}

	for {
		events, err := p.opts.Store.Read(ctx, ns)
		if err != nil {
			var perr *store.ParseError
			if errors.As(err, &perr) {
				appLog.Error("cache unreadable; clear it to recover", err, "category", p.opts.Category)
			}
			return nil, err
		}
		p.opts.Metrics.SetCacheEvents(p.opts.Category, len(events))

		if refreshed || !p.stale(events) {
			return events, nil
		}

		earliest, _ := Earliest(events)
		appLog.Info("cache stale; refreshing",
			"category", p.opts.Category,
			"earliest", earliest,
			"max_age", p.opts.MaxAge.String(),
		)

		if _, err := p.refreshLocked(ctx, metrics.ReasonStale); err != nil {
			if p.opts.ServeStaleOnError {
				appLog.Warn("refresh failed; serving stale cache", "category", p.opts.Category, "err", err)
				p.opts.Metrics.IncStaleServed(p.opts.Category)
				return events, nil
			}
			return nil, err
		}
		refreshed = true
	}
}

// Refresh fetches the upstream list and overwrites the cache regardless of
// freshness.
func (p *Policy) Refresh(ctx context.Context) ([]model.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshLocked(ctx, metrics.ReasonForced)
}

// Reset drops the cached list; the next Events call fetches again.
func (p *Policy) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.opts.Store.Clear(ctx, p.opts.Namespace); err != nil {
		return err
	}
	appLog.Info("cache cleared", "category", p.opts.Category, "namespace", p.opts.Namespace)
	return nil
}

func (p *Policy) refreshLocked(ctx context.Context, reason string) ([]model.Event, error) {
	p.opts.Metrics.IncRefresh(p.opts.Category, reason)

	start := p.opts.Clock.Now()
	events, err := p.opts.Fetcher.Fetch(ctx)
	p.opts.Metrics.ObserveFetch(p.opts.Category, p.opts.Clock.Since(start).Seconds(), err)
	if err != nil {
		appLog.Error("refresh fetch failed", err, "category", p.opts.Category, "reason", reason)
		return nil, err
	}

	if err := p.opts.Store.Write(ctx, p.opts.Namespace, events); err != nil {
		appLog.Error("cache write failed", err, "category", p.opts.Category)
		return nil, err
	}

	appLog.Info("cache refreshed", "category", p.opts.Category, "reason", reason, "event_count", len(events))
	return events, nil
}
