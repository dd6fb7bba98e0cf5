package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpopcal/internal/model"
)

var kst = time.FixedZone("KST", 9*60*60)

func sample() model.Grouped {
	return model.Grouped{
		{Timestamp: 1700000000000, Titles: []string{"IVE - Baddie", "NMIXX - Love Me Like This"}},
		{Timestamp: 1700086400000, Titles: []string{"<script>alert(1)</script>"}},
	}
}

func TestWidget(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Widget(&buf, "Kpop Comebacks", sample(), Options{Location: kst}))

	want := "🫰 KPOP COMEBACKS\n" +
		"15.11 07:13AM\n" +
		"  IVE - Baddie\n" +
		"  NMIXX - Love Me Like This\n" +
		"16.11 07:13AM\n" +
		"  <script>alert(1)</script>\n"
	assert.Equal(t, want, buf.String())
}

func TestWidgetEmptyAndClock24(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Widget(&buf, "releases", nil, Options{Location: kst}))
	assert.Equal(t, "🫰 RELEASES\n  (no upcoming events)\n", buf.String())

	views := Views(sample(), Options{Location: kst, Clock24: true})
	require.Len(t, views, 2)
	assert.Equal(t, "07:13", views[0].Time)
	assert.Equal(t, "15.11", views[0].Date)
}

func TestHTMLEscapesTitles(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, "Kpop Comebacks", sample(), Options{Location: kst}))
	out := buf.String()

	assert.Contains(t, out, `data-ready="true"`)
	assert.Contains(t, out, "🫰 Kpop Comebacks")
	assert.Contains(t, out, "<strong>15.11</strong><i>07:13AM</i>")
	assert.Contains(t, out, "<li>IVE - Baddie</li>")
	assert.NotContains(t, out, "<script>alert(1)</script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestHTMLEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, "Releases", model.Grouped{}, Options{}))
	assert.Contains(t, buf.String(), "No upcoming events.")
}

func TestICSRoundTrip(t *testing.T) {
	now := time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, ICS(&buf, "comebacks", "Kpop Comebacks", sample(), now))

	cal, err := ical.ParseCalendar(strings.NewReader(buf.String()))
	require.NoError(t, err)

	events := cal.Events()
	require.Len(t, events, 3)

	first := events[0]
	assert.Equal(t, EventUID("comebacks", 1700000000000, "IVE - Baddie"), first.Id())
	assert.Equal(t, "IVE - Baddie", first.GetProperty(ical.ComponentPropertySummary).Value)
	start, err := first.GetStartAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(time.UnixMilli(1700000000000)))
}

func TestEventUIDStable(t *testing.T) {
	a := EventUID("comebacks", 1, "x")
	assert.Equal(t, a, EventUID("comebacks", 1, "x"))
	assert.NotEqual(t, a, EventUID("releases", 1, "x"))
	assert.NotEqual(t, a, EventUID("comebacks", 2, "x"))
	assert.True(t, strings.HasSuffix(a, "@kpopcal"))
}
