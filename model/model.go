// Package model defines the record shapes shared by connectors, storage and
// the dashboard generator.
package model

import "time"

// DateLayout is the canonical on-disk form of an observation date.
const DateLayout = "2006-01-02"

// Observation is one scalar measurement of one metric at one point in time.
// (MetricID, Date, Source) identifies it.
type Observation struct {
	MetricID    string
	Date        time.Time // calendar date, UTC midnight
	Value       float64
	Unit        string
	Source      string
	RetrievedAt time.Time
}

// DateString returns the observation date in DateLayout.
func (o Observation) DateString() string {
	return o.Date.Format(DateLayout)
}

// Story is one news item surfaced by a feed. ID is the provider item id.
type Story struct {
	ID          int64
	Title       string
	URL         string // empty for self posts
	Score       int
	Comments    int
	Author      string
	PostedAt    time.Time // zero when unknown
	Source      string
	FeedID      string
	Excerpt     string
	RetrievedAt time.Time
}

// MetricMeta caches the latest/previous values of a metric so the dashboard
// needs no aggregation query. It is always derived from stored observations.
type MetricMeta struct {
	ID            string
	Name          string
	Source        string
	Frequency     string
	Unit          string
	Decimals      int
	LastValue     *float64
	LastUpdated   time.Time // obs date of LastValue
	PreviousValue *float64
	Change        *float64
	ChangePercent *float64
	RefreshedAt   time.Time
}

// Run records one orchestrator invocation.
type Run struct {
	ID         string
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Usable     bool
	Summary    []byte // JSON encoded pipeline summary
}

// Date returns UTC midnight of the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
