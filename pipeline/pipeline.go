// Package pipeline runs one fetch, normalize, persist and render cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"bloomberg-lite/config"
	"bloomberg-lite/connector"
	"bloomberg-lite/model"
	"bloomberg-lite/storage"
)

// State is a step of the run state machine.
type State string

const (
	StateInit         State = "INIT"
	StateFetchMetrics State = "FETCH_METRICS"
	StateFetchFeeds   State = "FETCH_FEEDS"
	StateGenerate     State = "GENERATE"
	StateDone         State = "DONE"
)

// Mode selects which phases run.
type Mode string

const (
	ModeFull      Mode = "full"
	ModeFetchOnly Mode = "fetch-only"
	ModeGenOnly   Mode = "gen-only"
)

// ParseMode validates a mode string. An empty string is ModeFull.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeFetchOnly, ModeGenOnly:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

func (m Mode) fetches() bool   { return m != ModeGenOnly }
func (m Mode) generates() bool { return m != ModeFetchOnly }

// Store persists normalized records.
type Store interface {
	Ping(ctx context.Context) error
	UpsertObservations(ctx context.Context, info storage.MetricInfo, obs []model.Observation) (int, error)
	UpsertStories(ctx context.Context, stories []model.Story) (int, error)
	PruneStories(ctx context.Context, cutoff time.Time) (int64, error)
	RecordRun(ctx context.Context, r model.Run) error
}

// Connectors resolves source tags to connectors.
type Connectors interface {
	Metric(source string) (connector.MetricConnector, error)
	Feed(source string) (connector.FeedConnector, error)
}

// Generator renders the dashboard from the store.
type Generator interface {
	Generate(ctx context.Context) error
}

// Notifier delivers the run summary somewhere a human will see it.
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// Config holds run settings.
type Config struct {
	Retention time.Duration // stories retrieved before now-Retention are pruned
}

// Runner orchestrates a run.
type Runner struct {
	catalog    config.Catalog
	connectors Connectors
	store      Store
	generator  Generator
	notifier   Notifier
	config     Config
	now        func() time.Time
}

// NewRunner creates a Runner. generator and notifier may be nil; a nil
// generator makes every generating run fail.
func NewRunner(catalog config.Catalog, connectors Connectors, store Store, generator Generator, notifier Notifier, cfg Config) *Runner {
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &Runner{
		catalog:    catalog,
		connectors: connectors,
		store:      store,
		generator:  generator,
		notifier:   notifier,
		config:     cfg,
		now:        time.Now,
	}
}

// Run executes one cycle in the given mode. Item level failures are
// recorded in the summary and never abort the run. The returned error is
// non-nil only for fatal conditions: an unreachable store, a cancelled
// context or a failed dashboard generation.
func (r *Runner) Run(ctx context.Context, mode Mode) (Summary, error) {
	sum := Summary{
		RunID:     uuid.NewString(),
		Mode:      mode,
		State:     StateInit,
		StartedAt: r.now().UTC(),
	}
	log := slog.With("run_id", sum.RunID, "mode", string(mode))
	log.Info("run starting", "metrics", len(r.catalog.Metrics), "feeds", len(r.catalog.Feeds))

	err := r.run(ctx, log, &sum)
	sum.FinishedAt = r.now().UTC()
	if err == nil {
		sum.State = StateDone
	}
	r.finish(ctx, log, sum, err)
	return sum, err
}

func (r *Runner) run(ctx context.Context, log *slog.Logger, sum *Summary) error {
	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("pipeline: store unavailable: %w", err)
	}

	if sum.Mode.fetches() {
		sum.State = StateFetchMetrics
		for _, m := range r.catalog.Metrics {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.fetchMetric(ctx, log, m, sum)
		}

		sum.State = StateFetchFeeds
		r.prune(ctx, log, sum)
		for _, f := range r.catalog.Feeds {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.fetchFeed(ctx, log, f, sum)
		}
	}

	if sum.Mode.generates() {
		sum.State = StateGenerate
		if r.generator == nil {
			sum.GenerateErr = "no generator configured"
			return errors.New("pipeline: generate: no generator configured")
		}
		if err := r.generator.Generate(ctx); err != nil {
			sum.GenerateErr = err.Error()
			return fmt.Errorf("pipeline: generate: %w", err)
		}
		sum.Generated = true
	}
	return nil
}

// fetchMetric runs fetch, normalize and persist for one metric.
func (r *Runner) fetchMetric(ctx context.Context, log *slog.Logger, m config.Metric, sum *Summary) {
	const phase = StateFetchMetrics
	log = log.With("metric", m.ID, "source", m.Source)
	sum.Metrics.Attempted++
	defer recoverItem(log, "metric panicked", func(err error) {
		sum.Metrics.Failed++
		sum.fail(phase, m.ID, m.Source, err)
	})

	conn, err := r.connectors.Metric(m.Source)
	if err == nil {
		var p *connector.Payload
		p, err = conn.Fetch(ctx, m)
		if err == nil {
			var res connector.MetricResult
			res, err = conn.Normalize(m, p)
			if err == nil {
				r.storeMetric(ctx, log, m, res, sum)
				return
			}
		}
	}

	var ce *connector.ConfigError
	if errors.As(err, &ce) {
		log.Warn("metric skipped", "reason", ce.Reason)
		sum.Metrics.Skipped++
		sum.skip(phase, m.ID, m.Source, err)
		return
	}
	logFetchFailure(log, "metric failed", err)
	sum.Metrics.Failed++
	sum.fail(phase, m.ID, m.Source, err)
}

func (r *Runner) storeMetric(ctx context.Context, log *slog.Logger, m config.Metric, res connector.MetricResult, sum *Summary) {
	if res.Skipped > 0 {
		log.Warn("records skipped", "count", res.Skipped)
	}
	if res.Dropped > 0 {
		log.Info("points without transform anchor dropped", "count", res.Dropped)
	}
	sum.RecordsSkipped += res.Skipped
	sum.PointsDropped += res.Dropped

	info := storage.MetricInfo{
		ID:        m.ID,
		Name:      m.Name,
		Source:    m.Source,
		Frequency: m.Frequency,
		Unit:      m.Unit,
		Decimals:  m.Decimals,
	}
	n, err := r.store.UpsertObservations(ctx, info, res.Observations)
	if err != nil {
		log.Error("persist observations failed", "error", err)
		sum.Metrics.Failed++
		sum.fail(StateFetchMetrics, m.ID, m.Source, err)
		return
	}
	sum.ObservationsStored += n
	sum.Metrics.Succeeded++
	log.Info("metric stored", "observations", n)
}

// prune drops stories outside the retention window before new ones are
// written, so a run never deletes what it just fetched.
func (r *Runner) prune(ctx context.Context, log *slog.Logger, sum *Summary) {
	cutoff := r.now().Add(-r.config.Retention)
	n, err := r.store.PruneStories(ctx, cutoff)
	if err != nil {
		log.Error("prune stories failed", "error", err)
		sum.fail(StateFetchFeeds, "prune", "", err)
		return
	}
	sum.StoriesPruned = n
	if n > 0 {
		log.Info("stories pruned", "count", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
}

// fetchFeed runs fetch, normalize and persist for one feed.
func (r *Runner) fetchFeed(ctx context.Context, log *slog.Logger, f config.Feed, sum *Summary) {
	const phase = StateFetchFeeds
	log = log.With("feed", f.ID, "source", f.Source)
	sum.Feeds.Attempted++
	defer recoverItem(log, "feed panicked", func(err error) {
		sum.Feeds.Failed++
		sum.fail(phase, f.ID, f.Source, err)
	})

	conn, err := r.connectors.Feed(f.Source)
	if err == nil {
		var p *connector.Payload
		p, err = conn.Fetch(ctx, f)
		if err == nil {
			var res connector.FeedResult
			res, err = conn.Normalize(f, p)
			if err == nil {
				r.storeFeed(ctx, log, f, res, sum)
				return
			}
		}
	}

	var ce *connector.ConfigError
	if errors.As(err, &ce) {
		log.Warn("feed skipped", "reason", ce.Reason)
		sum.Feeds.Skipped++
		sum.skip(phase, f.ID, f.Source, err)
		return
	}
	logFetchFailure(log, "feed failed", err)
	sum.Feeds.Failed++
	sum.fail(phase, f.ID, f.Source, err)
}

func (r *Runner) storeFeed(ctx context.Context, log *slog.Logger, f config.Feed, res connector.FeedResult, sum *Summary) {
	if res.Skipped > 0 {
		log.Warn("records skipped", "count", res.Skipped)
	}
	sum.RecordsSkipped += res.Skipped

	n, err := r.store.UpsertStories(ctx, res.Stories)
	if err != nil {
		log.Error("persist stories failed", "error", err)
		sum.Feeds.Failed++
		sum.fail(StateFetchFeeds, f.ID, f.Source, err)
		return
	}
	sum.StoriesStored += n
	sum.Feeds.Succeeded++
	log.Info("feed stored", "stories", n)
}

// recoverItem turns a panic in one item into a failure of that item only.
// It must be deferred directly.
func recoverItem(log *slog.Logger, msg string, failed func(error)) {
	v := recover()
	if v == nil {
		return
	}
	err := fmt.Errorf("pipeline: panic: %v", v)
	log.Error(msg, "error", err, "stack", string(debug.Stack()))
	failed(err)
}

func logFetchFailure(log *slog.Logger, msg string, err error) {
	var fe *connector.FetchError
	if errors.As(err, &fe) {
		log.Error(msg, "error", err, "status", fe.Status, "transient", fe.Transient(), "auth", fe.Auth())
		return
	}
	log.Error(msg, "error", err)
}

// finish logs the summary, records the run and sends the notification.
// Failures here are logged and never change the outcome of the run.
func (r *Runner) finish(ctx context.Context, log *slog.Logger, sum Summary, runErr error) {
	attrs := []any{
		"state", string(sum.State),
		"usable", sum.Usable() && runErr == nil,
		"duration", sum.Duration().String(),
		"metrics_ok", sum.Metrics.Succeeded,
		"metrics_skipped", sum.Metrics.Skipped,
		"metrics_failed", sum.Metrics.Failed,
		"feeds_ok", sum.Feeds.Succeeded,
		"feeds_skipped", sum.Feeds.Skipped,
		"feeds_failed", sum.Feeds.Failed,
		"observations", sum.ObservationsStored,
		"stories", sum.StoriesStored,
		"pruned", sum.StoriesPruned,
	}
	if runErr != nil {
		log.Error("run failed", append(attrs, "error", runErr)...)
	} else {
		log.Info("run complete", attrs...)
	}

	// The run context may already be cancelled; bookkeeping still happens.
	bg := context.WithoutCancel(ctx)
	if err := r.store.RecordRun(bg, model.Run{
		ID:         sum.RunID,
		Mode:       string(sum.Mode),
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		Usable:     sum.Usable() && runErr == nil,
		Summary:    sum.JSON(),
	}); err != nil {
		log.Error("record run failed", "error", err)
	}

	if r.notifier != nil {
		if err := r.notifier.Notify(bg, sum); err != nil {
			log.Warn("notify failed", "error", err)
		}
	}
}
