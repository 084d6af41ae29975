package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"bloomberg-lite/config"
	"bloomberg-lite/excerpt"
	"bloomberg-lite/hn"
	"bloomberg-lite/model"
)

// timeRanges maps a feed recency window to its length.
var timeRanges = map[string]time.Duration{
	"day":   24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
	"year":  365 * 24 * time.Hour,
}

// Algolia runs a single HN Algolia search per feed.
type Algolia struct {
	client hn.Client
	now    func() time.Time
}

// NewAlgolia returns an hn_algolia connector.
func NewAlgolia(client hn.Client, now func() time.Time) *Algolia {
	if now == nil {
		now = time.Now
	}
	return &Algolia{client: client, now: now}
}

func (c *Algolia) Source() string { return SourceHNAlgolia }

// Query builds the search for f relative to now.
func (c *Algolia) Query(f config.Feed, now time.Time) (hn.SearchQuery, error) {
	if f.Query == "" && f.Tags == "" {
		return hn.SearchQuery{}, &ConfigError{Source: SourceHNAlgolia, Reason: "feed " + f.ID + " needs query or tags"}
	}
	q := hn.SearchQuery{
		Query:       f.Query,
		Tags:        f.Tags,
		HitsPerPage: f.Limit,
		ByDate:      f.SortBy == config.SortDate,
	}
	if f.TimeRange != "" {
		window, ok := timeRanges[f.TimeRange]
		if !ok {
			return hn.SearchQuery{}, &ConfigError{Source: SourceHNAlgolia, Reason: fmt.Sprintf("feed %s: unknown time_range %q", f.ID, f.TimeRange)}
		}
		q.NumericFilters = append(q.NumericFilters, fmt.Sprintf("created_at_i>%d", now.Add(-window).Unix()))
	}
	if f.MinScore > 0 {
		q.NumericFilters = append(q.NumericFilters, fmt.Sprintf("points>=%d", f.MinScore))
	}
	return q, nil
}

func (c *Algolia) Fetch(ctx context.Context, f config.Feed) (*Payload, error) {
	now := c.now()
	q, err := c.Query(f, now)
	if err != nil {
		return nil, err
	}
	body, err := c.client.Search(ctx, q)
	if err != nil {
		return nil, fetchErr(SourceHNAlgolia, err)
	}
	return &Payload{Source: SourceHNAlgolia, Body: body, FetchedAt: now.UTC()}, nil
}

// Normalize converts search hits. Hits without a numeric id or a title are
// comments or polls and are skipped.
func (c *Algolia) Normalize(f config.Feed, p *Payload) (FeedResult, error) {
	var resp hn.SearchResponse
	if err := json.Unmarshal(p.Body, &resp); err != nil {
		return FeedResult{}, malformed(SourceHNAlgolia, err)
	}

	var res FeedResult
	for _, h := range resp.Hits {
		id, err := strconv.ParseInt(h.ObjectID, 10, 64)
		if err != nil || h.Title == "" {
			res.Skipped++
			continue
		}

		s := model.Story{
			ID:          id,
			Title:       h.Title,
			URL:         h.URL,
			Author:      h.Author,
			Source:      SourceHNAlgolia,
			FeedID:      f.ID,
			Excerpt:     excerpt.FromHTML(h.StoryText, excerpt.DefaultLength),
			RetrievedAt: p.FetchedAt,
		}
		if h.Points != nil {
			s.Score = *h.Points
		}
		if h.NumComments != nil {
			s.Comments = *h.NumComments
		}
		switch {
		case h.CreatedAtI > 0:
			s.PostedAt = time.Unix(h.CreatedAtI, 0).UTC()
		case h.CreatedAt != "":
			if t, err := parseTimestamp(h.CreatedAt); err == nil {
				s.PostedAt = t
			}
		}
		res.Stories = append(res.Stories, s)
	}
	return res, nil
}
