package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Info("hidden", "k", "v")
	Warn("shown", "category", "releases")
	Error("failed", errors.New("boom"), "status", 502)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown category=releases")
	assert.Contains(t, out, "[ERROR] failed err=boom status=502")
}

func TestFormatKVsQuotesAndDropsOddValue(t *testing.T) {
	assert.Equal(t, ` title="Group - Song" n=3`, formatKVs("title", "Group - Song", "n", 3, "dangling"))
	assert.Equal(t, ` empty=""`, formatKVs("empty", ""))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
