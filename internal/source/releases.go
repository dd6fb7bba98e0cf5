package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	appLog "kpopcal/internal/log"
	"kpopcal/internal/model"
)

// ErrWidgetNotFound is returned when no widget in the releases payload
// carries the configured label, which usually means the upstream changed
// shape.
var ErrWidgetNotFound = errors.New("widget not found")

const titleSeparator = " - "

// releasesPayload covers only the path down to the widget collection. Items
// is keyed by widget ids that change between deployments.
type releasesPayload struct {
	StructuredStyles struct {
		Data struct {
			Content struct {
				Widgets struct {
					Items map[string]Widget `json:"items"`
				} `json:"widgets"`
			} `json:"content"`
		} `json:"data"`
	} `json:"structuredStyles"`
}

// Widget is one entry of the upstream widget collection. Widgets of
// different kinds share no schema, so fields stay raw until one is picked.
type Widget map[string]json.RawMessage

// HasLabel reports whether any top-level string field equals label.
func (w Widget) HasLabel(label string) bool {
	for _, raw := range w {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if s == label {
			return true
		}
	}
	return false
}

type releaseEntry struct {
	Title     string      `json:"title"`
	StartTime json.Number `json:"startTime"`
}

// FindByLabel returns the key of the widget labelled label. Keys are scanned
// in sorted order so the result is deterministic if several widgets match.
func FindByLabel(items map[string]Widget, label string) (string, error) {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if items[k].HasLabel(label) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrWidgetNotFound, label)
}

// CleanTitle removes blank and repeated segments around " - " separators,
// e.g. "Group - Group - Song" becomes "Group - Song".
func CleanTitle(title string) string {
	parts := strings.Split(title, titleSeparator)
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n := len(kept); n > 0 && kept[n-1] == p {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, titleSeparator)
}

// ReleasesFetcher reads the community calendar widget listing upcoming
// releases.
type ReleasesFetcher struct {
	name  string
	url   string
	label string
	http  httpGetter
}

func (f *ReleasesFetcher) Name() string { return f.name }

func (f *ReleasesFetcher) Fetch(ctx context.Context) ([]model.Event, error) {
	body, err := f.http.get(ctx, f.url)
	if err != nil {
		return nil, &FetchError{Source: f.name, Err: err}
	}

	events, err := parseReleases(body, f.label)
	if err != nil {
		return nil, &FetchError{Source: f.name, Err: err}
	}
	events = keepValid(f.name, events)
	SortEvents(events)

	appLog.Info("releases fetched", "source", f.name, "url", redactURL(f.url), "event_count", len(events))
	return events, nil
}

func parseReleases(body []byte, label string) ([]model.Event, error) {
	var payload releasesPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode releases: %w", err)
	}

	items := payload.StructuredStyles.Data.Content.Widgets.Items
	key, err := FindByLabel(items, label)
	if err != nil {
		return nil, err
	}

	raw, ok := items[key]["data"]
	if !ok {
		return nil, fmt.Errorf("widget %s has no data", key)
	}
	var entries []releaseEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode widget %s data: %w", key, err)
	}

	events := make([]model.Event, 0, len(entries))
	for _, e := range entries {
		sec, err := seconds(e.StartTime)
		if err != nil {
			appLog.Warn("skipping release with bad startTime", "title", e.Title, "start_time", e.StartTime.String())
			continue
		}
		events = append(events, model.Event{
			Title:     CleanTitle(e.Title),
			Timestamp: sec * 1000,
		})
	}
	return events, nil
}

func seconds(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
