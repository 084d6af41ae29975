package connector

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bloomberg-lite/fetch"
)

var fixedNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func setupTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *fetch.Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, fetch.NewWithHTTPClient(server.Client(), fetch.Config{})
}

func values(res MetricResult) []float64 {
	out := make([]float64, len(res.Observations))
	for i, o := range res.Observations {
		out[i] = o.Value
	}
	return out
}
