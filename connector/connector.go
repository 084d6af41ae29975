// Package connector adapts external data providers to the two canonical
// record shapes. Each provider is split into a network Fetch and a pure
// Normalize so that decoding can be tested against fixtures.
package connector

import (
	"context"
	"math"
	"time"

	"bloomberg-lite/config"
	"bloomberg-lite/model"
	"bloomberg-lite/transform"
)

// Source tags.
const (
	SourceFRED       = "fred"
	SourceECB        = "ecb"
	SourceWorldBank  = "worldbank"
	SourceHNFirebase = "hn_firebase"
	SourceHNAlgolia  = "hn_algolia"
)

// Payload is the raw provider response. Body holds a single document; Items
// holds one document per element when the provider needs several requests.
type Payload struct {
	Source    string
	Body      []byte
	Items     [][]byte
	FetchedAt time.Time
}

// MetricResult is the outcome of normalizing a metric payload.
type MetricResult struct {
	Observations []model.Observation
	Skipped      int // records that could not be parsed
	Dropped      int // points without a transform anchor
}

// FeedResult is the outcome of normalizing a feed payload.
type FeedResult struct {
	Stories []model.Story
	Skipped int
}

// MetricConnector fetches and normalizes time series.
type MetricConnector interface {
	Source() string
	Fetch(ctx context.Context, m config.Metric) (*Payload, error)
	Normalize(m config.Metric, p *Payload) (MetricResult, error)
}

// FeedConnector fetches and normalizes story feeds.
type FeedConnector interface {
	Source() string
	Fetch(ctx context.Context, f config.Feed) (*Payload, error)
	Normalize(f config.Feed, p *Payload) (FeedResult, error)
}

// finish applies the configured transform and multiplier to parsed points
// and builds the observations. Points with a NaN or infinite value count as
// skipped records.
func finish(m config.Metric, p *Payload, points []transform.Point, skipped int) MetricResult {
	valid := make([]transform.Point, 0, len(points))
	for _, pt := range points {
		if math.IsNaN(pt.Value) || math.IsInf(pt.Value, 0) {
			skipped++
			continue
		}
		valid = append(valid, pt)
	}
	points = valid

	res := transform.Apply(m.TransformKind(), points)
	scaled := transform.Multiply(res.Points, m.Multiplier)

	obs := make([]model.Observation, 0, len(scaled))
	for _, pt := range scaled {
		obs = append(obs, model.Observation{
			MetricID:    m.ID,
			Date:        pt.Date,
			Value:       pt.Value,
			Unit:        m.Unit,
			Source:      m.Source,
			RetrievedAt: p.FetchedAt,
		})
	}
	return MetricResult{Observations: obs, Skipped: skipped, Dropped: res.Dropped}
}

// startDate is the first date requested for m. A year is added for
// transforms so that the oldest kept point still has an anchor.
func startDate(m config.Metric, now time.Time) time.Time {
	years := m.LookbackYears
	if years <= 0 {
		years = 5
	}
	if m.TransformKind() != transform.None {
		years++
	}
	d := now.UTC().AddDate(-years, 0, 0)
	return model.Date(d.Year(), d.Month(), d.Day())
}
