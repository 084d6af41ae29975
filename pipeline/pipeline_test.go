package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloomberg-lite/config"
	"bloomberg-lite/connector"
	"bloomberg-lite/fetch"
	"bloomberg-lite/model"
	"bloomberg-lite/storage"
)

// --- Fakes ---

type fakeStore struct {
	calls     []string
	pingErr   error
	upsertErr map[string]error
	obs       map[string][]model.Observation
	stories   []model.Story
	runs      []model.Run
	pruned    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{upsertErr: map[string]error{}, obs: map[string][]model.Observation{}}
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeStore) UpsertObservations(ctx context.Context, info storage.MetricInfo, obs []model.Observation) (int, error) {
	s.calls = append(s.calls, "observations:"+info.ID)
	if err := s.upsertErr[info.ID]; err != nil {
		return 0, err
	}
	s.obs[info.ID] = append(s.obs[info.ID], obs...)
	return len(obs), nil
}

func (s *fakeStore) UpsertStories(ctx context.Context, stories []model.Story) (int, error) {
	s.calls = append(s.calls, "stories")
	s.stories = append(s.stories, stories...)
	return len(stories), nil
}

func (s *fakeStore) PruneStories(ctx context.Context, cutoff time.Time) (int64, error) {
	s.calls = append(s.calls, "prune")
	return s.pruned, nil
}

func (s *fakeStore) RecordRun(ctx context.Context, r model.Run) error {
	s.runs = append(s.runs, r)
	return nil
}

type fakeMetric struct {
	source   string
	fetchErr error
	normErr  error
	panics   bool
	result   connector.MetricResult
}

func (f *fakeMetric) Source() string { return f.source }

func (f *fakeMetric) Fetch(ctx context.Context, m config.Metric) (*connector.Payload, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &connector.Payload{Source: f.source}, nil
}

func (f *fakeMetric) Normalize(m config.Metric, p *connector.Payload) (connector.MetricResult, error) {
	if f.panics {
		panic("index out of range")
	}
	if f.normErr != nil {
		return connector.MetricResult{}, f.normErr
	}
	res := f.result
	for i := range res.Observations {
		res.Observations[i].MetricID = m.ID
	}
	return res, nil
}

type fakeFeed struct {
	source   string
	fetchErr error
	panics   bool
	stories  []model.Story
}

func (f *fakeFeed) Source() string { return f.source }

func (f *fakeFeed) Fetch(ctx context.Context, feed config.Feed) (*connector.Payload, error) {
	if f.panics {
		panic("nil map")
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &connector.Payload{Source: f.source}, nil
}

func (f *fakeFeed) Normalize(feed config.Feed, p *connector.Payload) (connector.FeedResult, error) {
	return connector.FeedResult{Stories: f.stories, Skipped: 1}, nil
}

type fakeConnectors struct {
	metrics map[string]connector.MetricConnector
	feeds   map[string]connector.FeedConnector
}

func (c *fakeConnectors) Metric(source string) (connector.MetricConnector, error) {
	if m, ok := c.metrics[source]; ok {
		return m, nil
	}
	return nil, &connector.ConfigError{Source: source, Reason: "no metric connector registered"}
}

func (c *fakeConnectors) Feed(source string) (connector.FeedConnector, error) {
	if f, ok := c.feeds[source]; ok {
		return f, nil
	}
	return nil, &connector.ConfigError{Source: source, Reason: "no feed connector registered"}
}

type fakeGenerator struct {
	calls int
	err   error
}

func (g *fakeGenerator) Generate(ctx context.Context) error {
	g.calls++
	return g.err
}

type fakeNotifier struct {
	got []Summary
}

func (n *fakeNotifier) Notify(ctx context.Context, s Summary) error {
	n.got = append(n.got, s)
	return nil
}

func okMetric(source string, values ...float64) *fakeMetric {
	var obs []model.Observation
	for i, v := range values {
		obs = append(obs, model.Observation{Date: model.Date(2024, time.Month(i+1), 1), Value: v, Source: source})
	}
	return &fakeMetric{source: source, result: connector.MetricResult{Observations: obs, Dropped: 2}}
}

// --- Tests ---

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeFull, "full": ModeFull, "fetch-only": ModeFetchOnly, "gen-only": ModeGenOnly} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("both")
	assert.Error(t, err)
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	store := newFakeStore()
	conns := &fakeConnectors{
		metrics: map[string]connector.MetricConnector{
			"good": okMetric("good", 1, 2, 3),
			"down": &fakeMetric{source: "down", fetchErr: &connector.FetchError{Source: "down", Status: 503, Err: errors.New("status 503")}},
			"junk": &fakeMetric{source: "junk", normErr: fmt.Errorf("%w: junk", connector.ErrMalformedPayload)},
		},
		feeds: map[string]connector.FeedConnector{
			"hn": &fakeFeed{source: "hn", stories: []model.Story{{ID: 1, Title: "a", FeedID: "top"}}},
		},
	}
	catalog := config.Catalog{
		Metrics: []config.Metric{
			{ID: "m.down", Source: "down"},
			{ID: "m.good", Source: "good", Name: "Good", Decimals: 1},
			{ID: "m.nocreds", Source: "fred"},
			{ID: "m.junk", Source: "junk"},
		},
		Feeds: []config.Feed{{ID: "top", Source: "hn"}},
	}
	gen := &fakeGenerator{}
	notifier := &fakeNotifier{}
	r := NewRunner(catalog, conns, store, gen, notifier, Config{})

	sum, err := r.Run(context.Background(), ModeFull)
	require.NoError(t, err)

	assert.Equal(t, PhaseStats{Attempted: 4, Succeeded: 1, Skipped: 1, Failed: 2}, sum.Metrics)
	assert.Equal(t, PhaseStats{Attempted: 1, Succeeded: 1}, sum.Feeds)
	assert.Equal(t, 3, sum.ObservationsStored)
	assert.Equal(t, 2, sum.PointsDropped)
	assert.Equal(t, 1, sum.StoriesStored)
	assert.Equal(t, 1, sum.RecordsSkipped)
	assert.Equal(t, StateDone, sum.State)
	assert.True(t, sum.Generated)
	assert.True(t, sum.Usable())
	assert.Equal(t, 1, gen.calls)
	assert.Len(t, store.obs["m.good"], 3)

	require.Len(t, sum.Failures, 3)
	assert.Equal(t, "m.down", sum.Failures[0].Item)
	assert.False(t, sum.Failures[0].Skipped)
	assert.Equal(t, "m.nocreds", sum.Failures[1].Item)
	assert.True(t, sum.Failures[1].Skipped)
	assert.Equal(t, "m.junk", sum.Failures[2].Item)

	require.Len(t, store.runs, 1)
	assert.Equal(t, sum.RunID, store.runs[0].ID)
	assert.True(t, store.runs[0].Usable)
	assert.Contains(t, string(store.runs[0].Summary), `"observations_stored":3`)
	require.Len(t, notifier.got, 1)
	assert.Equal(t, sum.RunID, notifier.got[0].RunID)
}

func TestRun_PanickingConnectorFailsOnlyItsItem(t *testing.T) {
	store := newFakeStore()
	conns := &fakeConnectors{
		metrics: map[string]connector.MetricConnector{
			"bad":  &fakeMetric{source: "bad", panics: true},
			"good": okMetric("good", 1, 2),
		},
		feeds: map[string]connector.FeedConnector{
			"bad": &fakeFeed{source: "bad", panics: true},
			"hn":  &fakeFeed{source: "hn", stories: []model.Story{{ID: 1, Title: "a", FeedID: "top"}}},
		},
	}
	catalog := config.Catalog{
		Metrics: []config.Metric{{ID: "m.bad", Source: "bad"}, {ID: "m.good", Source: "good"}},
		Feeds:   []config.Feed{{ID: "broken", Source: "bad"}, {ID: "top", Source: "hn"}},
	}
	gen := &fakeGenerator{}
	r := NewRunner(catalog, conns, store, gen, nil, Config{})

	sum, err := r.Run(context.Background(), ModeFull)
	require.NoError(t, err)
	assert.Equal(t, PhaseStats{Attempted: 2, Succeeded: 1, Failed: 1}, sum.Metrics)
	assert.Equal(t, PhaseStats{Attempted: 2, Succeeded: 1, Failed: 1}, sum.Feeds)
	assert.Len(t, store.obs["m.good"], 2)
	assert.Equal(t, 1, sum.StoriesStored)
	assert.Equal(t, StateDone, sum.State)
	assert.Equal(t, 1, gen.calls)

	require.Len(t, sum.Failures, 2)
	assert.Equal(t, "m.bad", sum.Failures[0].Item)
	assert.Contains(t, sum.Failures[0].Reason, "index out of range")
	assert.Equal(t, "broken", sum.Failures[1].Item)
	assert.Contains(t, sum.Failures[1].Reason, "nil map")
}

func TestRun_PersistenceFailureContinues(t *testing.T) {
	store := newFakeStore()
	store.upsertErr["m.a"] = errors.New("disk full")
	conns := &fakeConnectors{metrics: map[string]connector.MetricConnector{"s": okMetric("s", 1)}}
	catalog := config.Catalog{Metrics: []config.Metric{{ID: "m.a", Source: "s"}, {ID: "m.b", Source: "s"}}}
	r := NewRunner(catalog, conns, store, &fakeGenerator{}, nil, Config{})

	sum, err := r.Run(context.Background(), ModeFull)
	require.NoError(t, err)
	assert.Equal(t, PhaseStats{Attempted: 2, Succeeded: 1, Failed: 1}, sum.Metrics)
	assert.Equal(t, []string{"observations:m.a", "observations:m.b", "prune"}, store.calls)
}

func TestRun_PrunesBeforeStoringStories(t *testing.T) {
	store := newFakeStore()
	store.pruned = 4
	conns := &fakeConnectors{feeds: map[string]connector.FeedConnector{
		"hn": &fakeFeed{source: "hn", stories: []model.Story{{ID: 9}}},
	}}
	catalog := config.Catalog{Feeds: []config.Feed{{ID: "a", Source: "hn"}, {ID: "b", Source: "hn"}}}
	r := NewRunner(catalog, conns, store, &fakeGenerator{}, nil, Config{Retention: 48 * time.Hour})

	sum, err := r.Run(context.Background(), ModeFull)
	require.NoError(t, err)
	assert.Equal(t, []string{"prune", "stories", "stories"}, store.calls)
	assert.Equal(t, int64(4), sum.StoriesPruned)
}

func TestRun_Modes(t *testing.T) {
	catalog := config.Catalog{
		Metrics: []config.Metric{{ID: "m", Source: "s"}},
		Feeds:   []config.Feed{{ID: "f", Source: "hn"}},
	}
	newConns := func() *fakeConnectors {
		return &fakeConnectors{
			metrics: map[string]connector.MetricConnector{"s": okMetric("s", 1)},
			feeds:   map[string]connector.FeedConnector{"hn": &fakeFeed{source: "hn"}},
		}
	}

	t.Run("fetch-only skips generate", func(t *testing.T) {
		store, gen := newFakeStore(), &fakeGenerator{}
		sum, err := NewRunner(catalog, newConns(), store, gen, nil, Config{}).Run(context.Background(), ModeFetchOnly)
		require.NoError(t, err)
		assert.Equal(t, 0, gen.calls)
		assert.False(t, sum.Generated)
		assert.True(t, sum.Usable())
		assert.Equal(t, 1, sum.Metrics.Succeeded)
	})

	t.Run("gen-only skips fetch", func(t *testing.T) {
		store, gen := newFakeStore(), &fakeGenerator{}
		sum, err := NewRunner(catalog, newConns(), store, gen, nil, Config{}).Run(context.Background(), ModeGenOnly)
		require.NoError(t, err)
		assert.Equal(t, 1, gen.calls)
		assert.Empty(t, store.calls)
		assert.Equal(t, 0, sum.Metrics.Attempted)
		assert.True(t, sum.Usable())
	})

	t.Run("generate failure is fatal", func(t *testing.T) {
		store, gen := newFakeStore(), &fakeGenerator{err: errors.New("template broken")}
		sum, err := NewRunner(catalog, newConns(), store, gen, nil, Config{}).Run(context.Background(), ModeFull)
		require.Error(t, err)
		assert.False(t, sum.Usable())
		assert.Equal(t, StateGenerate, sum.State)
		assert.Equal(t, "template broken", sum.GenerateErr)
		// Fetched data is kept.
		assert.Len(t, store.obs["m"], 1)
		require.Len(t, store.runs, 1)
		assert.False(t, store.runs[0].Usable)
	})

	t.Run("missing generator", func(t *testing.T) {
		_, err := NewRunner(catalog, newConns(), newFakeStore(), nil, nil, Config{}).Run(context.Background(), ModeGenOnly)
		assert.Error(t, err)
	})
}

func TestRun_FetchOnlyNothingSucceeded(t *testing.T) {
	conns := &fakeConnectors{metrics: map[string]connector.MetricConnector{
		"s": &fakeMetric{source: "s", fetchErr: errors.New("dns")},
	}}
	catalog := config.Catalog{Metrics: []config.Metric{{ID: "a", Source: "s"}, {ID: "b", Source: "s"}}}

	sum, err := NewRunner(catalog, conns, newFakeStore(), nil, nil, Config{}).Run(context.Background(), ModeFetchOnly)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Metrics.Failed)
	assert.False(t, sum.Usable())
}

func TestRun_FetchOnlyAllSkippedIsUsable(t *testing.T) {
	catalog := config.Catalog{Metrics: []config.Metric{{ID: "a", Source: "fred"}}}
	sum, err := NewRunner(catalog, &fakeConnectors{}, newFakeStore(), nil, nil, Config{}).Run(context.Background(), ModeFetchOnly)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Metrics.Skipped)
	assert.True(t, sum.Usable())
}

func TestRun_StoreUnavailable(t *testing.T) {
	store := newFakeStore()
	store.pingErr = errors.New("locked")
	gen := &fakeGenerator{}

	sum, err := NewRunner(config.Catalog{}, &fakeConnectors{}, store, gen, nil, Config{}).Run(context.Background(), ModeFull)
	require.Error(t, err)
	assert.Equal(t, StateInit, sum.State)
	assert.Equal(t, 0, gen.calls)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conns := &fakeConnectors{metrics: map[string]connector.MetricConnector{"s": okMetric("s", 1)}}
	catalog := config.Catalog{Metrics: []config.Metric{{ID: "a", Source: "s"}}}
	store := newFakeStore()

	_, err := NewRunner(catalog, conns, store, &fakeGenerator{}, nil, Config{}).Run(ctx, ModeFull)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.obs)
	assert.Len(t, store.runs, 1, "run is still recorded")
}

// TestRun_EndToEnd wires the real FRED connector and SQLite store against a
// fake provider serving a flat policy rate and a CPI index.
func TestRun_EndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("series_id") {
		case "DFF":
			fmt.Fprint(w, `{"observations":[{"date":"2024-05-01","value":"4.25"},{"date":"2024-06-01","value":"4.5"}]}`)
		case "CPIAUCSL":
			var obs []string
			for i := 0; i < 12; i++ {
				obs = append(obs, fmt.Sprintf(`{"date":"2023-%02d-01","value":"300"}`, i+1))
			}
			obs = append(obs, `{"date":"2024-01-01","value":"306"}`)
			fmt.Fprintf(w, `{"observations":[%s]}`, strings.Join(obs, ","))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(server.Close)

	store, err := storage.New(filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := connector.NewRegistry(connector.Options{
		HTTP:        fetch.NewWithHTTPClient(server.Client(), fetch.Config{}),
		Credentials: config.Credentials{FREDAPIKey: "test"},
		FREDURL:     server.URL,
	})
	catalog := config.Catalog{Metrics: []config.Metric{
		{ID: "us.rate", Name: "Policy Rate", Source: "fred", SeriesID: "DFF", Frequency: "daily", Unit: "%", Decimals: 2},
		{ID: "us.cpi_yoy", Name: "CPI YoY", Source: "fred", SeriesID: "CPIAUCSL", Frequency: "monthly", Unit: "%", Decimals: 1, Transform: "yoy"},
	}}
	gen := &fakeGenerator{}

	sum, err := NewRunner(catalog, registry, store, gen, nil, Config{}).Run(context.Background(), ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Metrics.Succeeded)
	assert.Equal(t, 12, sum.PointsDropped)

	ctx := context.Background()
	rate, err := store.MetricMeta(ctx, "us.rate")
	require.NoError(t, err)
	require.NotNil(t, rate)
	require.NotNil(t, rate.LastValue)
	assert.Equal(t, 4.5, *rate.LastValue)
	require.NotNil(t, rate.Change)
	assert.InDelta(t, 0.25, *rate.Change, 1e-9)

	cpi, err := store.MetricMeta(ctx, "us.cpi_yoy")
	require.NoError(t, err)
	require.NotNil(t, cpi)
	require.NotNil(t, cpi.LastValue)
	assert.InDelta(t, 2.0, *cpi.LastValue, 1e-9)
	assert.Equal(t, model.Date(2024, time.January, 1), cpi.LastUpdated)
	assert.Nil(t, cpi.PreviousValue)

	obs, err := store.LatestObservations(ctx, "us.cpi_yoy", 10)
	require.NoError(t, err)
	assert.Len(t, obs, 1)

	last, err := store.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, sum.RunID, last.ID)
	assert.True(t, last.Usable)
}
