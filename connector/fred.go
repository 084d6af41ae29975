package connector

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bloomberg-lite/config"
	"bloomberg-lite/fetch"
	"bloomberg-lite/model"
	"bloomberg-lite/transform"
)

// FREDURL is the St. Louis Fed API root.
const FREDURL = "https://api.stlouisfed.org"

// FRED fetches series observations from the FRED API.
type FRED struct {
	http    *fetch.Client
	apiKey  string
	baseURL string
	now     func() time.Time
}

type fredResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// NewFRED returns a FRED connector. An empty API key is a *ConfigError.
func NewFRED(h *fetch.Client, apiKey, baseURL string, now func() time.Time) (*FRED, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigError{Source: SourceFRED, Reason: config.EnvFREDAPIKey + " not set"}
	}
	if baseURL == "" {
		baseURL = FREDURL
	}
	if now == nil {
		now = time.Now
	}
	return &FRED{http: h, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), now: now}, nil
}

func (c *FRED) Source() string { return SourceFRED }

func (c *FRED) Fetch(ctx context.Context, m config.Metric) (*Payload, error) {
	if m.SeriesID == "" {
		return nil, &ConfigError{Source: SourceFRED, Reason: "metric " + m.ID + " has no series_id"}
	}
	now := c.now()
	q := url.Values{
		"series_id":         {m.SeriesID},
		"api_key":           {c.apiKey},
		"file_type":         {"json"},
		"observation_start": {startDate(m, now).Format(model.DateLayout)},
	}
	body, err := c.http.GetJSON(ctx, c.baseURL+"/fred/series/observations", q)
	if err != nil {
		return nil, fetchErr(SourceFRED, err)
	}
	return &Payload{Source: SourceFRED, Body: body, FetchedAt: now.UTC()}, nil
}

// Normalize decodes the observations array. Missing values, reported by
// FRED as ".", and NaN or infinite values are skipped.
func (c *FRED) Normalize(m config.Metric, p *Payload) (MetricResult, error) {
	var resp fredResponse
	if err := json.Unmarshal(p.Body, &resp); err != nil {
		return MetricResult{}, malformed(SourceFRED, err)
	}

	points := make([]transform.Point, 0, len(resp.Observations))
	skipped := 0
	for _, o := range resp.Observations {
		d, err := time.Parse(model.DateLayout, o.Date)
		if err != nil {
			skipped++
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(o.Value), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			skipped++
			continue
		}
		points = append(points, transform.Point{Date: d, Value: v})
	}
	return finish(m, p, points, skipped), nil
}
