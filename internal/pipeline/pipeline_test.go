package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpopcal/internal/config"
	"kpopcal/internal/metrics"
	"kpopcal/internal/model"
	"kpopcal/internal/source"
	"kpopcal/internal/store"
)

type upstream struct {
	srv   *httptest.Server
	hits  atomic.Int32
	body  atomic.Value
	fails atomic.Bool
}

func newUpstream(t *testing.T, body string) *upstream {
	t.Helper()
	u := &upstream{}
	u.body.Store(body)
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		if u.fails.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(u.body.Load().(string)))
	}))
	t.Cleanup(u.srv.Close)
	return u
}

const releasesTemplate = `{"structuredStyles":{"data":{"content":{"widgets":{"items":{
	"widget_x": {"shortName": "Upcoming Releases", "data": [
		{"title": "Group - Group - Song", "startTime": 1700000000}
	]}}}}}}}`

func testConfig(t *testing.T, comebacksURL, releasesURL string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CacheRoot = t.TempDir()
	cfg.HTTP.Timeout = 2 * time.Second
	cfg.Categories[0].Endpoint = comebacksURL
	cfg.Categories[1].Endpoint = releasesURL
	cfg.Normalize()
	require.NoError(t, cfg.Validate())
	return cfg
}

func newRegistry(t *testing.T, cfg *config.Config, clock clockwork.Clock) *Registry {
	t.Helper()
	r, err := NewRegistry(cfg, Deps{
		Store:   store.NewFileStore(cfg.CacheRoot),
		Metrics: metrics.New(prometheus.NewRegistry()),
		Clock:   clock,
	})
	require.NoError(t, err)
	return r
}

func TestGetEventsFetchesStoresAndLimits(t *testing.T) {
	comebacks := newUpstream(t, `[{"title":"A","date":100},{"title":"B","date":100},{"title":"C","date":200}]`)
	releases := newUpstream(t, releasesTemplate)
	cfg := testConfig(t, comebacks.srv.URL, releases.srv.URL)
	clock := clockwork.NewFakeClockAt(time.UnixMilli(150))
	r := newRegistry(t, cfg, clock)

	p, err := r.Get("comebacks")
	require.NoError(t, err)

	got, err := p.GetEvents(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, model.Grouped{{Timestamp: 100, Titles: []string{"A", "B"}}}, got)
	assert.EqualValues(t, 1, comebacks.hits.Load())

	// Served from cache on the second call.
	all, err := p.GetEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 200}, all.Keys())
	assert.EqualValues(t, 1, comebacks.hits.Load())
	assert.Zero(t, releases.hits.Load())
}

func TestCategoriesAreIndependent(t *testing.T) {
	comebacks := newUpstream(t, `[{"title":"A","date":1700000000000}]`)
	releases := newUpstream(t, releasesTemplate)
	cfg := testConfig(t, comebacks.srv.URL, releases.srv.URL)
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1700000000000))
	r := newRegistry(t, cfg, clock)

	require.NoError(t, r.Prewarm(context.Background()))

	rel, err := r.Get("releases")
	require.NoError(t, err)
	got, err := rel.GetEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, model.Grouped{{Timestamp: 1700000000000, Titles: []string{"Group - Song"}}}, got)

	// Clearing one category leaves the other cached.
	require.NoError(t, rel.Reset(context.Background()))
	cb, err := r.Get("comebacks")
	require.NoError(t, err)
	_, err = cb.GetEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, comebacks.hits.Load())
}

func TestPrewarmReportsFailuresPerCategory(t *testing.T) {
	comebacks := newUpstream(t, `[{"title":"A","date":1700000000000}]`)
	releases := newUpstream(t, releasesTemplate)
	releases.fails.Store(true)
	cfg := testConfig(t, comebacks.srv.URL, releases.srv.URL)
	r := newRegistry(t, cfg, clockwork.NewFakeClockAt(time.UnixMilli(1700000000000)))

	err := r.Prewarm(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrFetch)
	assert.Contains(t, err.Error(), "releases")
	assert.NotContains(t, err.Error(), "comebacks")

	cb, err := r.Get("comebacks")
	require.NoError(t, err)
	events, err := cb.Events(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestGetUnknownCategory(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/a", "http://127.0.0.1:1/b")
	r := newRegistry(t, cfg, nil)

	_, err := r.Get("concerts")
	assert.ErrorIs(t, err, ErrUnknownCategory)
	assert.Equal(t, []string{"comebacks", "releases"}, r.Names())
}

func TestForcedRefresh(t *testing.T) {
	comebacks := newUpstream(t, `[{"title":"A","date":1700000000000}]`)
	cfg := testConfig(t, comebacks.srv.URL, "http://127.0.0.1:1/unused")
	r := newRegistry(t, cfg, clockwork.NewFakeClockAt(time.UnixMilli(1700000000000)))
	p, err := r.Get("comebacks")
	require.NoError(t, err)

	require.NoError(t, p.Refresh(context.Background()))
	comebacks.body.Store(`[{"title":"B","date":1700000000000}]`)
	require.NoError(t, p.Refresh(context.Background()))

	got, err := p.GetEvents(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, model.Grouped{{Timestamp: 1700000000000, Titles: []string{"B"}}}, got)
	assert.EqualValues(t, 2, comebacks.hits.Load())
}

func TestLimitFor(t *testing.T) {
	w := config.WidgetConfig{Small: 2, Medium: 3, Large: 10}

	assert.Equal(t, 2, LimitFor(w, SizeSmall, 0))
	assert.Equal(t, 3, LimitFor(w, SizeMedium, 0))
	assert.Equal(t, 10, LimitFor(w, SizeLarge, 0))
	assert.Equal(t, 10, LimitFor(w, "", 0))
	assert.Equal(t, 5, LimitFor(w, SizeSmall, 5))
	assert.Equal(t, 2, LimitFor(w, SizeSmall, -1))
}
