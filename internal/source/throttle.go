package source

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"kpopcal/internal/model"
)

// Throttled spaces out calls to the wrapped Fetcher.
type Throttled struct {
	next    Fetcher
	limiter *rate.Limiter
}

// Throttle returns f unchanged when minInterval <= 0.
func Throttle(f Fetcher, minInterval time.Duration) Fetcher {
	if minInterval <= 0 {
		return f
	}
	return &Throttled{next: f, limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

func (t *Throttled) Name() string { return t.next.Name() }

// Fetch waits for the limiter, then delegates. A canceled wait is reported
// as a FetchError like any other failed fetch.
func (t *Throttled) Fetch(ctx context.Context) ([]model.Event, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Source: t.next.Name(), Err: err}
	}
	return t.next.Fetch(ctx)
}
