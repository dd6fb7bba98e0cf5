package model

import "time"

// Event is a single upcoming comeback or release.
//
// Timestamp is epoch milliseconds. On disk and on the comebacks upstream it
// is carried in the "date" field, so the JSON name is kept for compatibility
// with existing cache files.
type Event struct {
	Title     string `json:"title"`
	Timestamp int64  `json:"date"`
}

// Time returns the event moment as a time.Time in UTC.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Valid reports whether the event satisfies the model invariants: a
// non-empty title and a non-negative timestamp.
func (e Event) Valid() bool {
	return e.Title != "" && e.Timestamp >= 0
}

// Group is the set of titles sharing one exact timestamp.
type Group struct {
	Timestamp int64    `json:"timestamp"`
	Titles    []string `json:"titles"`
}

// Grouped is the pipeline output handed to presentation code. Groups are in
// first-occurrence (chronological) order; Go maps do not keep insertion
// order, so an ordered slice is used instead.
type Grouped []Group

// Len returns the number of distinct timestamps.
func (g Grouped) Len() int { return len(g) }

// Keys returns the grouping keys in order.
func (g Grouped) Keys() []int64 {
	keys := make([]int64, 0, len(g))
	for _, grp := range g {
		keys = append(keys, grp.Timestamp)
	}
	return keys
}

// Lookup returns the titles stored under ts.
func (g Grouped) Lookup(ts int64) ([]string, bool) {
	for _, grp := range g {
		if grp.Timestamp == ts {
			return grp.Titles, true
		}
	}
	return nil, false
}

// Flatten expands the groups back into events, preserving order.
func (g Grouped) Flatten() []Event {
	out := make([]Event, 0)
	for _, grp := range g {
		for _, title := range grp.Titles {
			out = append(out, Event{Title: title, Timestamp: grp.Timestamp})
		}
	}
	return out
}
