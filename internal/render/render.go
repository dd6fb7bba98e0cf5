// Package render holds the thin presentation adapters that consume grouped
// events: compact widget text, the HTML preview page and an iCalendar feed.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"kpopcal/internal/model"
	"kpopcal/internal/timekey"
)

//go:embed templates/*.html
var templateFS embed.FS

var previewTmpl = template.Must(template.ParseFS(templateFS, "templates/preview.html"))

// DayView is one group with its display labels resolved.
type DayView struct {
	Timestamp int64    `json:"timestamp"`
	Date      string   `json:"date"`
	Time      string   `json:"time"`
	Titles    []string `json:"titles"`
}

// Options control label formatting.
type Options struct {
	Location *time.Location
	Clock24  bool
}

// Views resolves display labels for every group.
func Views(g model.Grouped, opts Options) []DayView {
	out := make([]DayView, 0, len(g))
	for _, grp := range g {
		date, clock := timekey.DisplayParts(grp.Timestamp, opts.Location)
		if opts.Clock24 {
			clock = timekey.Clock24(grp.Timestamp, opts.Location)
		}
		out = append(out, DayView{
			Timestamp: grp.Timestamp,
			Date:      date,
			Time:      clock,
			Titles:    grp.Titles,
		})
	}
	return out
}

// Widget writes the compact text view:
//
//	🫰 KPOP COMEBACKS
//	05.03 06:00PM
//	  Group - Song
func Widget(w io.Writer, heading string, g model.Grouped, opts Options) error {
	var b strings.Builder
	b.WriteString("🫰 ")
	b.WriteString(strings.ToUpper(heading))
	b.WriteString("\n")
	if g.Len() == 0 {
		b.WriteString("  (no upcoming events)\n")
	}
	for _, v := range Views(g, opts) {
		fmt.Fprintf(&b, "%s %s\n", v.Date, v.Time)
		for _, title := range v.Titles {
			b.WriteString("  ")
			b.WriteString(title)
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// PageData feeds the preview template.
type PageData struct {
	Title string
	Days  []DayView
}

// HTML writes the full preview page. Titles are escaped by html/template.
func HTML(w io.Writer, title string, g model.Grouped, opts Options) error {
	return previewTmpl.Execute(w, PageData{Title: title, Days: Views(g, opts)})
}
