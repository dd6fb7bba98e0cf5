package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSONUsesDateField(t *testing.T) {
	data, err := json.Marshal(Event{Title: "IVE - Rebel Heart", Timestamp: 1700000000000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"IVE - Rebel Heart","date":1700000000000}`, string(data))
}

func TestEventValid(t *testing.T) {
	assert.True(t, Event{Title: "A", Timestamp: 0}.Valid())
	assert.False(t, Event{Title: "", Timestamp: 10}.Valid())
	assert.False(t, Event{Title: "A", Timestamp: -1}.Valid())
}

func TestGroupedHelpers(t *testing.T) {
	g := Grouped{
		{Timestamp: 100, Titles: []string{"A", "B"}},
		{Timestamp: 200, Titles: []string{"C"}},
	}

	assert.Equal(t, 2, g.Len())
	assert.Equal(t, []int64{100, 200}, g.Keys())

	titles, ok := g.Lookup(100)
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, titles)

	_, ok = g.Lookup(300)
	assert.False(t, ok)

	assert.Equal(t, []Event{
		{Title: "A", Timestamp: 100},
		{Title: "B", Timestamp: 100},
		{Title: "C", Timestamp: 200},
	}, g.Flatten())
}
