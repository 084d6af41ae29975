package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bloomberg-lite/config"
	"bloomberg-lite/fetch"
	"bloomberg-lite/model"
	"bloomberg-lite/transform"
)

// ECBURL is the ECB data portal API root.
const ECBURL = "https://data-api.ecb.europa.eu"

// ECB fetches SDMX-JSON series from the ECB data portal.
type ECB struct {
	http    *fetch.Client
	baseURL string
	now     func() time.Time
}

type sdmxResponse struct {
	DataSets []struct {
		Series map[string]struct {
			Observations map[string][]json.RawMessage `json:"observations"`
		} `json:"series"`
	} `json:"dataSets"`
	Structure struct {
		Dimensions struct {
			Observation []struct {
				ID     string `json:"id"`
				Values []struct {
					ID string `json:"id"`
				} `json:"values"`
			} `json:"observation"`
		} `json:"dimensions"`
	} `json:"structure"`
}

// NewECB returns an ECB connector. The API needs no credentials.
func NewECB(h *fetch.Client, baseURL string, now func() time.Time) *ECB {
	if baseURL == "" {
		baseURL = ECBURL
	}
	if now == nil {
		now = time.Now
	}
	return &ECB{http: h, baseURL: strings.TrimRight(baseURL, "/"), now: now}
}

func (c *ECB) Source() string { return SourceECB }

func (c *ECB) Fetch(ctx context.Context, m config.Metric) (*Payload, error) {
	if m.Dataflow == "" || m.SeriesKey == "" {
		return nil, &ConfigError{Source: SourceECB, Reason: "metric " + m.ID + " needs dataflow and series_key"}
	}
	now := c.now()
	q := url.Values{
		"format":      {"jsondata"},
		"detail":      {"dataonly"},
		"startPeriod": {startDate(m, now).Format(model.DateLayout)},
	}
	u := c.baseURL + "/service/data/" + url.PathEscape(m.Dataflow) + "/" + url.PathEscape(m.SeriesKey)
	body, err := c.http.GetJSON(ctx, u, q)
	if err != nil {
		return nil, fetchErr(SourceECB, err)
	}
	return &Payload{Source: SourceECB, Body: body, FetchedAt: now.UTC()}, nil
}

// Normalize joins the TIME_PERIOD dimension with the observations of the
// first series. Observation keys index into the dimension values.
func (c *ECB) Normalize(m config.Metric, p *Payload) (MetricResult, error) {
	var resp sdmxResponse
	if err := json.Unmarshal(p.Body, &resp); err != nil {
		return MetricResult{}, malformed(SourceECB, err)
	}

	var periods []string
	for _, dim := range resp.Structure.Dimensions.Observation {
		if dim.ID == "TIME_PERIOD" {
			for _, v := range dim.Values {
				periods = append(periods, v.ID)
			}
			break
		}
	}
	if periods == nil {
		return MetricResult{}, malformed(SourceECB, errors.New("no TIME_PERIOD dimension"))
	}
	if len(resp.DataSets) == 0 {
		return finish(m, p, nil, 0), nil
	}

	var points []transform.Point
	skipped := 0
	for _, series := range resp.DataSets[0].Series {
		for key, vals := range series.Observations {
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(periods) || len(vals) == 0 {
				skipped++
				continue
			}
			var v *float64
			if err := json.Unmarshal(vals[0], &v); err != nil || v == nil {
				skipped++
				continue
			}
			d, err := ParsePeriod(periods[idx])
			if err != nil {
				skipped++
				continue
			}
			points = append(points, transform.Point{Date: d, Value: *v})
		}
		// Series keys carry no order; a series key pins a single series.
		break
	}
	return finish(m, p, points, skipped), nil
}
