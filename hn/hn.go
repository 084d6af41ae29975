// Package hn talks to the two Hacker News APIs: the official Firebase item
// API and the Algolia search API. It returns raw JSON documents; decoding
// into stories happens in the connectors.
package hn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"bloomberg-lite/fetch"
)

const (
	FirebaseURL = "https://hacker-news.firebaseio.com"
	AlgoliaURL  = "https://hn.algolia.com"
)

// Item is a Firebase item.
type Item struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
}

// SearchResponse is the envelope of an Algolia search.
type SearchResponse struct {
	Hits   []Hit `json:"hits"`
	NbHits int   `json:"nbHits"`
}

// Hit is one Algolia search result.
type Hit struct {
	ObjectID    string   `json:"objectID"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	StoryText   string   `json:"story_text"`
	Points      *int     `json:"points"`
	NumComments *int     `json:"num_comments"`
	Author      string   `json:"author"`
	CreatedAt   string   `json:"created_at"`
	CreatedAtI  int64    `json:"created_at_i"`
	Tags        []string `json:"_tags"`
}

// SearchQuery holds Algolia search parameters.
type SearchQuery struct {
	Query          string
	Tags           string
	NumericFilters []string
	HitsPerPage    int
	ByDate         bool // use search_by_date instead of relevance ranking
}

// Client for HN API operations.
type Client interface {
	// StoryIDs returns up to limit ids from a ranked list such as
	// "topstories", "beststories" or "newstories".
	StoryIDs(ctx context.Context, list string, limit int) ([]int64, error)
	Item(ctx context.Context, id int64) (json.RawMessage, error)
	Search(ctx context.Context, q SearchQuery) (json.RawMessage, error)
}

type httpClient struct {
	fetch       *fetch.Client
	firebaseURL string
	algoliaURL  string
}

// NewClient creates a new HN API client on top of the shared fetch client.
func NewClient(f *fetch.Client) Client {
	return NewClientWithBaseURL(f, FirebaseURL, AlgoliaURL)
}

// NewClientWithBaseURL creates a new HN API client with custom base URLs (for testing).
func NewClientWithBaseURL(f *fetch.Client, firebaseURL, algoliaURL string) Client {
	if f == nil {
		f = fetch.New(fetch.Config{})
	}
	return &httpClient{
		fetch:       f,
		firebaseURL: firebaseURL,
		algoliaURL:  algoliaURL,
	}
}

// StoryIDs fetches a ranked id list from HN, returning up to limit IDs.
func (c *httpClient) StoryIDs(ctx context.Context, list string, limit int) ([]int64, error) {
	if list == "" {
		list = "topstories"
	}
	body, err := c.fetch.GetJSON(ctx, fmt.Sprintf("%s/v0/%s.json", c.firebaseURL, url.PathEscape(list)), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", list, err)
	}

	var ids []int64
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", list, err)
	}

	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	return ids, nil
}

// Item fetches a single HN item by ID. A missing item is reported by the
// API as a JSON null, which is returned as is.
func (c *httpClient) Item(ctx context.Context, id int64) (json.RawMessage, error) {
	body, err := c.fetch.GetJSON(ctx, fmt.Sprintf("%s/v0/item/%d.json", c.firebaseURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching item %d: %w", id, err)
	}
	return body, nil
}

// Search runs one Algolia query.
func (c *httpClient) Search(ctx context.Context, q SearchQuery) (json.RawMessage, error) {
	endpoint := "search"
	if q.ByDate {
		endpoint = "search_by_date"
	}

	params := url.Values{}
	params.Set("query", q.Query)
	if q.Tags != "" {
		params.Set("tags", q.Tags)
	}
	if len(q.NumericFilters) > 0 {
		params.Set("numericFilters", strings.Join(q.NumericFilters, ","))
	}
	if q.HitsPerPage > 0 {
		params.Set("hitsPerPage", strconv.Itoa(q.HitsPerPage))
	}

	body, err := c.fetch.GetJSON(ctx, fmt.Sprintf("%s/api/v1/%s", c.algoliaURL, endpoint), params)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", q.Query, err)
	}
	return body, nil
}
