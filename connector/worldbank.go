package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bloomberg-lite/config"
	"bloomberg-lite/fetch"
	"bloomberg-lite/transform"
)

// WorldBankURL is the World Bank indicators API root.
const WorldBankURL = "https://api.worldbank.org"

const (
	worldBankPerPage  = 500
	worldBankMaxPages = 10
)

// WorldBank fetches indicator series from the World Bank API, following
// pagination.
type WorldBank struct {
	http    *fetch.Client
	baseURL string
	now     func() time.Time
}

type wbMeta struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

type wbRow struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

type wbMessage struct {
	Message []struct {
		ID    string `json:"id"`
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"message"`
}

// NewWorldBank returns a World Bank connector. The API needs no credentials.
func NewWorldBank(h *fetch.Client, baseURL string, now func() time.Time) *WorldBank {
	if baseURL == "" {
		baseURL = WorldBankURL
	}
	if now == nil {
		now = time.Now
	}
	return &WorldBank{http: h, baseURL: strings.TrimRight(baseURL, "/"), now: now}
}

func (c *WorldBank) Source() string { return SourceWorldBank }

// Fetch requests every page of the indicator, up to a fixed page cap. Each
// page body is one Payload item.
func (c *WorldBank) Fetch(ctx context.Context, m config.Metric) (*Payload, error) {
	if m.Indicator == "" {
		return nil, &ConfigError{Source: SourceWorldBank, Reason: "metric " + m.ID + " has no indicator"}
	}
	country := m.Country
	if country == "" {
		country = "WLD"
	}
	now := c.now()
	u := fmt.Sprintf("%s/v2/country/%s/indicator/%s", c.baseURL, url.PathEscape(country), url.PathEscape(m.Indicator))

	p := &Payload{Source: SourceWorldBank, FetchedAt: now.UTC()}
	for page := 1; page <= worldBankMaxPages; page++ {
		q := url.Values{
			"format":   {"json"},
			"per_page": {strconv.Itoa(worldBankPerPage)},
			"date":     {fmt.Sprintf("%d:%d", startDate(m, now).Year(), now.Year())},
			"page":     {strconv.Itoa(page)},
		}
		body, err := c.http.GetJSON(ctx, u, q)
		if err != nil {
			return nil, fetchErr(SourceWorldBank, err)
		}
		meta, err := worldBankMeta(body)
		if err != nil {
			return nil, &FetchError{Source: SourceWorldBank, Err: err}
		}
		p.Items = append(p.Items, body)
		if meta.Pages <= page {
			break
		}
	}
	return p, nil
}

// worldBankMeta decodes the first element of a page. Provider errors come
// back with status 200 as a single message element.
func worldBankMeta(body []byte) (wbMeta, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return wbMeta{}, malformed(SourceWorldBank, err)
	}
	if len(parts) == 0 {
		return wbMeta{}, malformed(SourceWorldBank, errors.New("empty document"))
	}
	var msg wbMessage
	if json.Unmarshal(parts[0], &msg) == nil && len(msg.Message) > 0 {
		m := msg.Message[0]
		return wbMeta{}, fmt.Errorf("provider error %s: %s %s", m.ID, m.Key, m.Value)
	}
	var meta wbMeta
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return wbMeta{}, malformed(SourceWorldBank, err)
	}
	return meta, nil
}

// Normalize decodes the data element of every page. Null values are the
// provider's way of saying "not yet published" and are skipped.
func (c *WorldBank) Normalize(m config.Metric, p *Payload) (MetricResult, error) {
	pages := p.Items
	if len(pages) == 0 && len(p.Body) > 0 {
		pages = [][]byte{p.Body}
	}

	var points []transform.Point
	skipped := 0
	for _, body := range pages {
		var parts []json.RawMessage
		if err := json.Unmarshal(body, &parts); err != nil {
			return MetricResult{}, malformed(SourceWorldBank, err)
		}
		if len(parts) < 2 {
			// A page without a data element means no rows.
			continue
		}
		var rows []wbRow // null when the query matched nothing
		if err := json.Unmarshal(parts[1], &rows); err != nil {
			return MetricResult{}, malformed(SourceWorldBank, err)
		}
		for _, r := range rows {
			if r.Value == nil {
				skipped++
				continue
			}
			d, err := ParsePeriod(r.Date)
			if err != nil {
				t, perr := parseTimestamp(r.Date)
				if perr != nil {
					skipped++
					continue
				}
				d = t.Truncate(24 * time.Hour)
			}
			points = append(points, transform.Point{Date: d, Value: *r.Value})
		}
	}
	return finish(m, p, points, skipped), nil
}
