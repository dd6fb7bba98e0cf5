package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	appLog "kpopcal/internal/log"
	"kpopcal/internal/model"
)

// comebackEntry is one element of the comebacks API array. date is already
// epoch milliseconds.
type comebackEntry struct {
	Title string `json:"title"`
	Date  int64  `json:"date"`
}

// ComebacksFetcher reads the comebacks API, whose payload is already
// event-shaped.
type ComebacksFetcher struct {
	name string
	url  string
	http httpGetter
}

func (f *ComebacksFetcher) Name() string { return f.name }

func (f *ComebacksFetcher) Fetch(ctx context.Context) ([]model.Event, error) {
	body, err := f.http.get(ctx, f.url)
	if err != nil {
		return nil, &FetchError{Source: f.name, Err: err}
	}

	events, err := parseComebacks(body)
	if err != nil {
		return nil, &FetchError{Source: f.name, Err: err}
	}
	events = keepValid(f.name, events)
	SortEvents(events)

	appLog.Info("comebacks fetched", "source", f.name, "url", redactURL(f.url), "event_count", len(events))
	return events, nil
}

func parseComebacks(body []byte) ([]model.Event, error) {
	var entries []comebackEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode comebacks: %w", err)
	}
	if entries == nil {
		return nil, fmt.Errorf("decode comebacks: payload is not an array")
	}

	events := make([]model.Event, 0, len(entries))
	for _, e := range entries {
		events = append(events, model.Event{
			Title:     strings.TrimSpace(e.Title),
			Timestamp: e.Date,
		})
	}
	return events, nil
}
