package render

import (
	"io"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"kpopcal/internal/model"
)

var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://kpopcal.local/events"))

// EventUID derives a stable UID, so calendar clients update entries in place
// across refreshes instead of duplicating them.
func EventUID(category string, ts int64, title string) string {
	name := category + "\x00" + strconv.FormatInt(ts, 10) + "\x00" + title
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + "@kpopcal"
}

// ICS writes the grouped events as an iCalendar feed. Events are instants,
// so only DTSTART is set.
func ICS(w io.Writer, category, title string, g model.Grouped, now time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//kpopcal//" + category + "//EN")
	cal.SetXWRCalName(title)

	for _, grp := range g {
		start := time.UnixMilli(grp.Timestamp).UTC()
		for _, t := range grp.Titles {
			ev := cal.AddEvent(EventUID(category, grp.Timestamp, t))
			ev.SetDtStampTime(now.UTC())
			ev.SetStartAt(start)
			ev.SetSummary(t)
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}
