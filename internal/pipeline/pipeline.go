// Package pipeline wires the refresh policy and the grouping step into the
// one call presentation code uses: GetEvents(limit).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"kpopcal/internal/config"
	"kpopcal/internal/group"
	appLog "kpopcal/internal/log"
	"kpopcal/internal/metrics"
	"kpopcal/internal/model"
	"kpopcal/internal/refresh"
	"kpopcal/internal/source"
	"kpopcal/internal/store"
)

// ErrUnknownCategory is returned for category names missing from config.
var ErrUnknownCategory = errors.New("unknown category")

// Pipeline serves the grouped events of one category.
type Pipeline struct {
	Config config.CategoryConfig
	policy *refresh.Policy
}

// New wraps an existing policy.
func New(cc config.CategoryConfig, policy *refresh.Policy) *Pipeline {
	return &Pipeline{Config: cc, policy: policy}
}

// Name returns the category name.
func (p *Pipeline) Name() string { return p.Config.Name }

// GetEvents returns the category's events grouped by timestamp, keeping only
// the first limit events (limit <= 0 keeps all).
func (p *Pipeline) GetEvents(ctx context.Context, limit int) (model.Grouped, error) {
	events, err := p.policy.Events(ctx)
	if err != nil {
		return nil, err
	}
	return group.Group(events, limit), nil
}

// Events returns the raw sorted list.
func (p *Pipeline) Events(ctx context.Context) ([]model.Event, error) {
	return p.policy.Events(ctx)
}

// Refresh forces an upstream fetch.
func (p *Pipeline) Refresh(ctx context.Context) error {
	_, err := p.policy.Refresh(ctx)
	return err
}

// Reset clears the category cache.
func (p *Pipeline) Reset(ctx context.Context) error {
	return p.policy.Reset(ctx)
}

// Registry holds one pipeline per configured category.
type Registry struct {
	order     []string
	pipelines map[string]*Pipeline
}

// Deps are the shared collaborators used to build every pipeline.
type Deps struct {
	Store   store.Store
	Metrics *metrics.Metrics
	Clock   clockwork.Clock
}

// NewRegistry builds a pipeline for every category in cfg. Categories share
// the store and HTTP client but no state: each owns its own namespace.
func NewRegistry(cfg *config.Config, deps Deps) (*Registry, error) {
	if deps.Store == nil {
		return nil, errors.New("pipeline: store is nil")
	}
	client := source.NewHTTPClient(cfg.HTTP.Timeout)

	r := &Registry{pipelines: make(map[string]*Pipeline, len(cfg.Categories))}
	for _, cc := range cfg.Categories {
		fetcher, err := source.NewFromConfig(cc, client, cfg.HTTP.UserAgent)
		if err != nil {
			return nil, fmt.Errorf("build source %q: %w", cc.Name, err)
		}
		fetcher = source.Throttle(fetcher, cfg.HTTP.MinInterval)
		policy, err := refresh.New(refresh.Options{
			Category:          cc.Name,
			Namespace:         cc.Namespace,
			MaxAge:            cc.Freshness,
			Store:             deps.Store,
			Fetcher:           fetcher,
			Clock:             deps.Clock,
			Metrics:           deps.Metrics,
			ServeStaleOnError: cfg.ServeStaleOnError,
		})
		if err != nil {
			return nil, fmt.Errorf("build policy %q: %w", cc.Name, err)
		}
		r.Add(New(cc, policy))
	}
	return r, nil
}

// Add registers p, replacing any pipeline with the same name.
func (r *Registry) Add(p *Pipeline) {
	if r.pipelines == nil {
		r.pipelines = make(map[string]*Pipeline)
	}
	if _, ok := r.pipelines[p.Name()]; !ok {
		r.order = append(r.order, p.Name())
	}
	r.pipelines[p.Name()] = p
}

// Get returns the pipeline for name.
func (r *Registry) Get(name string) (*Pipeline, error) {
	p, ok := r.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, name)
	}
	return p, nil
}

// Names returns category names in config order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Prewarm runs Events on every category concurrently so caches are fresh
// before the next request. It returns the joined errors of failed
// categories; one failing category does not stop the others.
func (r *Registry) Prewarm(ctx context.Context) error {
	start := time.Now()
	errs := make([]error, len(r.order))

	var g errgroup.Group
	for i, name := range r.order {
		p := r.pipelines[name]
		g.Go(func() error {
			if _, err := p.Events(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		appLog.Error("prewarm finished with errors", err, "elapsed", time.Since(start).Truncate(time.Millisecond))
	} else {
		appLog.Info("prewarm finished", "categories", len(r.order), "elapsed", time.Since(start).Truncate(time.Millisecond))
	}
	return err
}

// Widget sizes.
const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

// LimitFor picks how many events a widget shows. A positive param (the
// user's widget parameter) wins over the size default.
func LimitFor(w config.WidgetConfig, size string, param int) int {
	if param > 0 {
		return param
	}
	switch size {
	case SizeSmall:
		return w.Small
	case SizeMedium:
		return w.Medium
	default:
		return w.Large
	}
}
