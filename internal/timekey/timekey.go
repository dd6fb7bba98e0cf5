// Package timekey turns event timestamps into the labels shown next to each
// group: a "DD.MM" date and a 12-hour "HH:MMAM" clock.
package timekey

import (
	"fmt"
	"time"
)

// DisplayParts formats an epoch-millisecond timestamp in loc. A nil loc
// means time.Local.
func DisplayParts(ms int64, loc *time.Location) (date, clock string) {
	t := inLocation(ms, loc)
	return Date(t), AMPM(t)
}

// Date returns the zero-padded day and month, e.g. "05.03".
func Date(t time.Time) string {
	return fmt.Sprintf("%02d.%02d", t.Day(), int(t.Month()))
}

// AMPM returns a zero-padded 12-hour clock. Midnight and noon both use 12.
func AMPM(t time.Time) string {
	hours := t.Hour()
	marker := "AM"
	if hours >= 12 {
		marker = "PM"
	}
	hours %= 12
	if hours == 0 {
		hours = 12
	}
	return fmt.Sprintf("%02d:%02d%s", hours, t.Minute(), marker)
}

// Clock24 returns "HH:MM" in 24-hour form.
func Clock24(ms int64, loc *time.Location) string {
	t := inLocation(ms, loc)
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func inLocation(ms int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc)
}
