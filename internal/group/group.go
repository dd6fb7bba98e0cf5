// Package group turns a chronologically sorted event list into the
// timestamp-keyed structure consumed by the renderers.
package group

import "kpopcal/internal/model"

// NoLimit disables truncation.
const NoLimit = 0

// Group keeps the first limit events (limit <= 0 keeps all of them) and
// buckets them by exact timestamp. Titles keep their input order, and groups
// appear in the order their timestamp first occurs.
//
// The input is expected to be sorted already; Group never reorders it.
func Group(events []model.Event, limit int) model.Grouped {
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}

	out := make(model.Grouped, 0)
	index := make(map[int64]int, len(events))
	for _, ev := range events {
		i, ok := index[ev.Timestamp]
		if !ok {
			i = len(out)
			index[ev.Timestamp] = i
			out = append(out, model.Group{Timestamp: ev.Timestamp})
		}
		out[i].Titles = append(out[i].Titles, ev.Title)
	}
	return out
}
