package connector

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"bloomberg-lite/config"
	"bloomberg-lite/excerpt"
	"bloomberg-lite/hn"
	"bloomberg-lite/model"
)

// Firebase reads a ranked story list from the official HN API and fetches
// every item through a bounded worker pool.
type Firebase struct {
	client  hn.Client
	workers int
	now     func() time.Time
}

// NewFirebase returns an hn_firebase connector.
func NewFirebase(client hn.Client, workers int, now func() time.Time) *Firebase {
	if workers <= 0 {
		workers = 10
	}
	if now == nil {
		now = time.Now
	}
	return &Firebase{client: client, workers: workers, now: now}
}

func (c *Firebase) Source() string { return SourceHNFirebase }

// Fetch returns one Payload item per ranked id, in rank order. Items that
// fail to download are left nil and counted as skipped by Normalize; the
// feed only fails when the list itself or every item fails.
func (c *Firebase) Fetch(ctx context.Context, f config.Feed) (*Payload, error) {
	now := c.now()
	ids, err := c.client.StoryIDs(ctx, f.Endpoint, f.Limit)
	if err != nil {
		return nil, fetchErr(SourceHNFirebase, err)
	}

	items := make(map[int64][]byte, len(ids))
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	sem := make(chan struct{}, c.workers)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
			}
			if err := ctx.Err(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			raw, err := c.client.Item(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				slog.Warn("hn item fetch failed", "feed", f.ID, "item", id, "error", err)
				return
			}
			items[id] = raw
		}(id)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fetchErr(SourceHNFirebase, err)
	}
	if len(ids) > 0 && len(items) == 0 {
		return nil, fetchErr(SourceHNFirebase, firstErr)
	}

	p := &Payload{Source: SourceHNFirebase, FetchedAt: now.UTC(), Items: make([][]byte, len(ids))}
	for i, id := range ids {
		p.Items[i] = items[id]
	}
	return p, nil
}

// Normalize keeps live items of type story.
func (c *Firebase) Normalize(f config.Feed, p *Payload) (FeedResult, error) {
	if p.Items == nil && len(p.Body) > 0 {
		return FeedResult{}, malformed(SourceHNFirebase, errors.New("expected item list"))
	}

	var res FeedResult
	for _, raw := range p.Items {
		if len(raw) == 0 {
			res.Skipped++
			continue
		}
		var item *hn.Item
		if err := json.Unmarshal(raw, &item); err != nil || item == nil {
			res.Skipped++
			continue
		}
		if item.Deleted || item.Dead || item.Type != "story" || item.Title == "" {
			res.Skipped++
			continue
		}

		s := model.Story{
			ID:          item.ID,
			Title:       item.Title,
			URL:         item.URL,
			Score:       item.Score,
			Comments:    item.Descendants,
			Author:      item.By,
			Source:      SourceHNFirebase,
			FeedID:      f.ID,
			Excerpt:     excerpt.FromHTML(item.Text, excerpt.DefaultLength),
			RetrievedAt: p.FetchedAt,
		}
		if item.Time > 0 {
			s.PostedAt = time.Unix(item.Time, 0).UTC()
		}
		res.Stories = append(res.Stories, s)
	}
	return res, nil
}
