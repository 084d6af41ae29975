package connector

import (
	"fmt"
	"sync"
	"time"

	"bloomberg-lite/config"
	"bloomberg-lite/fetch"
	"bloomberg-lite/hn"
)

// Options carries the shared dependencies handed to every connector.
type Options struct {
	HTTP        *fetch.Client
	HN          hn.Client
	Credentials config.Credentials
	ItemWorkers int
	Now         func() time.Time

	// Base URLs, overridable for tests.
	FREDURL      string
	ECBURL       string
	WorldBankURL string
}

func (o *Options) defaults() {
	if o.HTTP == nil {
		o.HTTP = fetch.New(fetch.Config{})
	}
	if o.HN == nil {
		o.HN = hn.NewClient(o.HTTP)
	}
	if o.ItemWorkers <= 0 {
		o.ItemWorkers = 10
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.FREDURL == "" {
		o.FREDURL = FREDURL
	}
	if o.ECBURL == "" {
		o.ECBURL = ECBURL
	}
	if o.WorldBankURL == "" {
		o.WorldBankURL = WorldBankURL
	}
}

// MetricBuilder constructs a metric connector from shared options.
type MetricBuilder func(Options) (MetricConnector, error)

// FeedBuilder constructs a feed connector from shared options.
type FeedBuilder func(Options) (FeedConnector, error)

type metricEntry struct {
	conn MetricConnector
	err  error
}

type feedEntry struct {
	conn FeedConnector
	err  error
}

// Registry maps source tags to connectors. Connectors are built on first
// use and cached together with any construction error, so a missing
// credential is reported once per run rather than failing startup.
type Registry struct {
	mu            sync.Mutex
	opts          Options
	metricBuilder map[string]MetricBuilder
	feedBuilder   map[string]FeedBuilder
	metrics       map[string]metricEntry
	feeds         map[string]feedEntry
}

// NewRegistry returns a Registry with the built-in providers registered.
func NewRegistry(opts Options) *Registry {
	opts.defaults()
	r := &Registry{
		opts:          opts,
		metricBuilder: make(map[string]MetricBuilder),
		feedBuilder:   make(map[string]FeedBuilder),
		metrics:       make(map[string]metricEntry),
		feeds:         make(map[string]feedEntry),
	}
	r.RegisterMetric(SourceFRED, func(o Options) (MetricConnector, error) {
		c, err := NewFRED(o.HTTP, o.Credentials.FREDAPIKey, o.FREDURL, o.Now)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	r.RegisterMetric(SourceECB, func(o Options) (MetricConnector, error) {
		return NewECB(o.HTTP, o.ECBURL, o.Now), nil
	})
	r.RegisterMetric(SourceWorldBank, func(o Options) (MetricConnector, error) {
		return NewWorldBank(o.HTTP, o.WorldBankURL, o.Now), nil
	})
	r.RegisterFeed(SourceHNFirebase, func(o Options) (FeedConnector, error) {
		return NewFirebase(o.HN, o.ItemWorkers, o.Now), nil
	})
	r.RegisterFeed(SourceHNAlgolia, func(o Options) (FeedConnector, error) {
		return NewAlgolia(o.HN, o.Now), nil
	})
	return r
}

// RegisterMetric adds or replaces the builder for a metric source tag.
func (r *Registry) RegisterMetric(source string, b MetricBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metricBuilder[source] = b
	delete(r.metrics, source)
}

// RegisterFeed adds or replaces the builder for a feed source tag.
func (r *Registry) RegisterFeed(source string, b FeedBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedBuilder[source] = b
	delete(r.feeds, source)
}

// Metric returns the connector for source. Unknown tags and construction
// failures are returned as *ConfigError.
func (r *Registry) Metric(source string) (MetricConnector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.metrics[source]; ok {
		return e.conn, e.err
	}
	b, ok := r.metricBuilder[source]
	if !ok {
		return nil, &ConfigError{Source: source, Reason: "no metric connector registered"}
	}
	conn, err := b(r.opts)
	err = asConfigError(source, err)
	r.metrics[source] = metricEntry{conn: conn, err: err}
	return conn, err
}

// Feed returns the connector for source. Unknown tags and construction
// failures are returned as *ConfigError.
func (r *Registry) Feed(source string) (FeedConnector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.feeds[source]; ok {
		return e.conn, e.err
	}
	b, ok := r.feedBuilder[source]
	if !ok {
		return nil, &ConfigError{Source: source, Reason: "no feed connector registered"}
	}
	conn, err := b(r.opts)
	err = asConfigError(source, err)
	r.feeds[source] = feedEntry{conn: conn, err: err}
	return conn, err
}

func asConfigError(source string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*ConfigError); ok {
		return err
	}
	return &ConfigError{Source: source, Reason: fmt.Sprintf("construct: %v", err)}
}
