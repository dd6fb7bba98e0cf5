// Package source fetches upcoming events from the upstream endpoints and
// normalizes them into model.Event lists sorted by timestamp.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"kpopcal/internal/config"
	appLog "kpopcal/internal/log"
	"kpopcal/internal/model"
)

// ErrFetch marks every error produced by a Fetcher.
var ErrFetch = errors.New("fetch failed")

// FetchError wraps a transport, status or payload failure for one source.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrFetch) match any FetchError.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Fetcher retrieves one upstream list.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]model.Event, error)
}

// NewFromConfig builds the fetcher matching cc.Kind.
func NewFromConfig(cc config.CategoryConfig, client *http.Client, userAgent string) (Fetcher, error) {
	h := httpGetter{client: client, userAgent: userAgent}
	switch cc.Kind {
	case config.KindComebacks:
		return &ComebacksFetcher{name: cc.Name, url: cc.Endpoint, http: h}, nil
	case config.KindReleases:
		return &ReleasesFetcher{name: cc.Name, url: cc.Endpoint, label: cc.Label, http: h}, nil
	default:
		return nil, fmt.Errorf("unknown source kind: %s", cc.Kind)
	}
}

// NewHTTPClient returns the client shared by all fetchers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// maxBody bounds how much of an upstream response is read.
const maxBody = 8 << 20

type httpGetter struct {
	client    *http.Client
	userAgent string
}

func (h httpGetter) get(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("source URL is empty")
	}
	client := h.client
	if client == nil {
		client = NewHTTPClient(0)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	appLog.Debug("upstream fetch start", "url", redactURL(url))

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// SortEvents orders events by timestamp, breaking ties by title. Titles are
// sorted first and the timestamp pass is stable, so equal timestamps keep
// lexical title order.
func SortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Title < events[j].Title })
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp < events[j].Timestamp })
}

// keepValid drops events violating the model invariants.
func keepValid(source string, events []model.Event) []model.Event {
	out := events[:0]
	dropped := 0
	for _, ev := range events {
		if !ev.Valid() {
			dropped++
			continue
		}
		out = append(out, ev)
	}
	if dropped > 0 {
		appLog.Warn("dropped invalid upstream entries", "source", source, "dropped", dropped)
	}
	return out
}

// redactURL hides paths and query strings of upstream URLs in logs.
//
//	https://example.com/path?token=abcd -> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "url://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
