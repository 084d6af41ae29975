package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"bloomberg-lite/model"
	"bloomberg-lite/transform"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Story sort orders for StoriesByFeed.
const (
	SortScore = "score"
	SortDate  = "date"
)

// MetricInfo is the catalog side of a MetricMeta row: everything that does
// not derive from observations.
type MetricInfo struct {
	ID        string
	Name      string
	Source    string
	Frequency string
	Unit      string
	Decimals  int
}

// Stats counts stored rows.
type Stats struct {
	Observations int
	Metrics      int
	Stories      int
	Runs         int
}

// Store provides SQLite-backed persistence for observations, stories,
// metric metadata and run history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the SQLite database at dbPath, applies pending migrations and
// returns a Store.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	// One writer; the pipeline never writes concurrently.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(context.Background())
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("storage: ping: %w", err)
	}
	return nil
}

// UpsertObservations writes a batch of observations for one metric and
// refreshes its MetricMeta row in the same transaction. Re-ingesting an
// existing (metric, date, source) overwrites value, unit and retrieved_at.
// Either the whole batch and the meta row are written or nothing is.
func (s *Store) UpsertObservations(ctx context.Context, info MetricInfo, obs []model.Observation) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage: begin observations %s: %w", info.ID, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO observations (metric_id, obs_date, value, unit, source, retrieved_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (metric_id, obs_date, source) DO UPDATE SET
		   value = excluded.value,
		   unit = excluded.unit,
		   retrieved_at = excluded.retrieved_at`,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: prepare observations %s: %w", info.ID, err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if o.MetricID != info.ID {
			return 0, fmt.Errorf("storage: observation for %q in batch for %q", o.MetricID, info.ID)
		}
		if _, err := stmt.ExecContext(ctx, o.MetricID, o.DateString(), o.Value, o.Unit, o.Source, o.RetrievedAt.Unix()); err != nil {
			return 0, fmt.Errorf("storage: upsert observation %s %s: %w", o.MetricID, o.DateString(), err)
		}
	}

	if err := s.refreshMeta(ctx, tx, info); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage: commit observations %s: %w", info.ID, err)
	}
	return len(obs), nil
}

// UpsertObservation writes a single observation.
func (s *Store) UpsertObservation(ctx context.Context, info MetricInfo, o model.Observation) error {
	_, err := s.UpsertObservations(ctx, info, []model.Observation{o})
	return err
}

// refreshMeta derives the MetricMeta row from the two most recent
// observations by date.
func (s *Store) refreshMeta(ctx context.Context, tx *sql.Tx, info MetricInfo) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT obs_date, value FROM observations WHERE metric_id = ?
		 ORDER BY obs_date DESC, retrieved_at DESC LIMIT 2`, info.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: query latest %s: %w", info.ID, err)
	}
	var (
		dates  []string
		values []float64
	)
	for rows.Next() {
		var d string
		var v float64
		if err := rows.Scan(&d, &v); err != nil {
			rows.Close()
			return fmt.Errorf("storage: scan latest %s: %w", info.ID, err)
		}
		dates = append(dates, d)
		values = append(values, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage: iterate latest %s: %w", info.ID, err)
	}

	var last, prev *float64
	var lastUpdated sql.NullString
	if len(values) > 0 {
		last = &values[0]
		lastUpdated = sql.NullString{String: dates[0], Valid: true}
	}
	if len(values) > 1 {
		prev = &values[1]
	}
	change, pct := transform.Change(last, prev)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO metrics (id, name, source, frequency, unit, decimals, last_value, last_updated,
		   previous_value, change, change_percent, refreshed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   source = excluded.source,
		   frequency = excluded.frequency,
		   unit = excluded.unit,
		   decimals = excluded.decimals,
		   last_value = excluded.last_value,
		   last_updated = excluded.last_updated,
		   previous_value = excluded.previous_value,
		   change = excluded.change,
		   change_percent = excluded.change_percent,
		   refreshed_at = excluded.refreshed_at`,
		info.ID, info.Name, info.Source, info.Frequency, info.Unit, info.Decimals,
		nullFloat(last), lastUpdated, nullFloat(prev), nullFloat(change), nullFloat(pct),
		s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert meta %s: %w", info.ID, err)
	}
	return nil
}

// UpsertStories inserts or replaces stories by id in one transaction. A
// story seen again is re-associated with the feed that returned it last.
func (s *Store) UpsertStories(ctx context.Context, stories []model.Story) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage: begin stories: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO stories (id, title, url, score, comments, author, posted_at, source, feed_id, excerpt, retrieved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title,
		   url = excluded.url,
		   score = excluded.score,
		   comments = excluded.comments,
		   author = excluded.author,
		   posted_at = excluded.posted_at,
		   source = excluded.source,
		   feed_id = excluded.feed_id,
		   excerpt = excluded.excerpt,
		   retrieved_at = excluded.retrieved_at`,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: prepare stories: %w", err)
	}
	defer stmt.Close()

	for _, st := range stories {
		var posted sql.NullInt64
		if !st.PostedAt.IsZero() {
			posted = sql.NullInt64{Int64: st.PostedAt.Unix(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			st.ID, st.Title, nullString(st.URL), st.Score, st.Comments, nullString(st.Author),
			posted, st.Source, st.FeedID, nullString(st.Excerpt), st.RetrievedAt.Unix(),
		); err != nil {
			return 0, fmt.Errorf("storage: upsert story %d: %w", st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage: commit stories: %w", err)
	}
	return len(stories), nil
}

// UpsertStory writes a single story.
func (s *Store) UpsertStory(ctx context.Context, st model.Story) error {
	_, err := s.UpsertStories(ctx, []model.Story{st})
	return err
}

// PruneStories deletes stories retrieved before cutoff and returns how many
// were removed.
func (s *Store) PruneStories(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stories WHERE retrieved_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("storage: prune stories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: prune stories: %w", err)
	}
	return n, nil
}

// LatestObservations returns up to n observations of a metric, newest first.
func (s *Store) LatestObservations(ctx context.Context, metricID string, n int) ([]model.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric_id, obs_date, value, unit, source, retrieved_at FROM observations
		 WHERE metric_id = ? ORDER BY obs_date DESC, retrieved_at DESC LIMIT ?`, metricID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: latest observations %s: %w", metricID, err)
	}
	defer rows.Close()

	var obs []model.Observation
	for rows.Next() {
		var (
			o         model.Observation
			date      string
			retrieved int64
		)
		if err := rows.Scan(&o.MetricID, &date, &o.Value, &o.Unit, &o.Source, &retrieved); err != nil {
			return nil, fmt.Errorf("storage: scan observation: %w", err)
		}
		o.Date, err = time.Parse(model.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("storage: observation %s has bad date %q: %w", o.MetricID, date, err)
		}
		o.RetrievedAt = time.Unix(retrieved, 0).UTC()
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate observations: %w", err)
	}
	return obs, nil
}

const metaColumns = `id, name, source, frequency, unit, decimals, last_value, last_updated,
	previous_value, change, change_percent, refreshed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeta(r rowScanner) (model.MetricMeta, error) {
	var (
		m                       model.MetricMeta
		last, prev, change, pct sql.NullFloat64
		lastUpdated             sql.NullString
		refreshed               int64
	)
	if err := r.Scan(&m.ID, &m.Name, &m.Source, &m.Frequency, &m.Unit, &m.Decimals,
		&last, &lastUpdated, &prev, &change, &pct, &refreshed); err != nil {
		return m, err
	}
	m.LastValue = floatPtr(last)
	m.PreviousValue = floatPtr(prev)
	m.Change = floatPtr(change)
	m.ChangePercent = floatPtr(pct)
	if lastUpdated.Valid {
		if t, err := time.Parse(model.DateLayout, lastUpdated.String); err == nil {
			m.LastUpdated = t
		}
	}
	m.RefreshedAt = time.Unix(refreshed, 0).UTC()
	return m, nil
}

// MetricMetas returns every metric meta row ordered by id.
func (s *Store) MetricMetas(ctx context.Context) ([]model.MetricMeta, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+metaColumns+` FROM metrics ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: metric metas: %w", err)
	}
	defer rows.Close()

	var metas []model.MetricMeta
	for rows.Next() {
		m, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan metric meta: %w", err)
		}
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate metric metas: %w", err)
	}
	return metas, nil
}

// MetricMeta returns the meta row for id. Returns nil if the metric has
// never been stored.
func (s *Store) MetricMeta(ctx context.Context, id string) (*model.MetricMeta, error) {
	m, err := scanMeta(s.db.QueryRowContext(ctx, `SELECT `+metaColumns+` FROM metrics WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: metric meta %s: %w", id, err)
	}
	return &m, nil
}

// StoriesByFeed returns up to limit stories last associated with feedID,
// ordered by score or by posting date.
func (s *Store) StoriesByFeed(ctx context.Context, feedID, sortBy string, limit int) ([]model.Story, error) {
	order := "score DESC, id DESC"
	switch sortBy {
	case SortScore, "":
	case SortDate:
		order = "COALESCE(posted_at, retrieved_at) DESC, id DESC"
	default:
		return nil, fmt.Errorf("storage: unknown story sort %q", sortBy)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, url, score, comments, author, posted_at, source, feed_id, excerpt, retrieved_at
		 FROM stories WHERE feed_id = ? ORDER BY `+order+` LIMIT ?`, feedID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: stories for feed %s: %w", feedID, err)
	}
	defer rows.Close()

	var stories []model.Story
	for rows.Next() {
		var (
			st                   model.Story
			url, author, excerpt sql.NullString
			posted               sql.NullInt64
			retrieved            int64
		)
		if err := rows.Scan(&st.ID, &st.Title, &url, &st.Score, &st.Comments, &author,
			&posted, &st.Source, &st.FeedID, &excerpt, &retrieved); err != nil {
			return nil, fmt.Errorf("storage: scan story: %w", err)
		}
		st.URL = url.String
		st.Author = author.String
		st.Excerpt = excerpt.String
		if posted.Valid {
			st.PostedAt = time.Unix(posted.Int64, 0).UTC()
		}
		st.RetrievedAt = time.Unix(retrieved, 0).UTC()
		stories = append(stories, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate stories: %w", err)
	}
	return stories, nil
}

// Stats returns row counts for every table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM observations),
		   (SELECT COUNT(*) FROM metrics),
		   (SELECT COUNT(*) FROM stories),
		   (SELECT COUNT(*) FROM runs)`,
	).Scan(&st.Observations, &st.Metrics, &st.Stories, &st.Runs)
	if err != nil {
		return Stats{}, fmt.Errorf("storage: stats: %w", err)
	}
	return st, nil
}

// RecordRun stores the outcome of one pipeline run.
func (s *Store) RecordRun(ctx context.Context, r model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, mode, started_at, finished_at, usable, summary)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Mode, r.StartedAt.Unix(), r.FinishedAt.Unix(), r.Usable, string(r.Summary),
	)
	if err != nil {
		return fmt.Errorf("storage: record run %s: %w", r.ID, err)
	}
	return nil
}

// LastRun returns the most recently started run, or nil if none exists.
func (s *Store) LastRun(ctx context.Context) (*model.Run, error) {
	var (
		r                 model.Run
		started, finished int64
		summary           sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, mode, started_at, finished_at, usable, summary FROM runs
		 ORDER BY started_at DESC, rowid DESC LIMIT 1`,
	).Scan(&r.ID, &r.Mode, &started, &finished, &r.Usable, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: last run: %w", err)
	}
	r.StartedAt = time.Unix(started, 0).UTC()
	r.FinishedAt = time.Unix(finished, 0).UTC()
	if summary.Valid {
		r.Summary = []byte(summary.String)
	}
	return &r, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
