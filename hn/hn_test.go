package hn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloomberg-lite/fetch"
)

func setupTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	f := fetch.NewWithHTTPClient(server.Client(), fetch.Config{})
	client := NewClientWithBaseURL(f, server.URL, server.URL)
	return server, client
}

func TestStoryIDs_Success(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/beststories.json", r.URL.Path)
		json.NewEncoder(w).Encode(ids)
	})

	result, err := client.StoryIDs(context.Background(), "beststories", 5)
	require.NoError(t, err)
	assert.Equal(t, ids[:5], result)
}

func TestStoryIDs_DefaultsToTopStories(t *testing.T) {
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/topstories.json", r.URL.Path)
		w.Write([]byte(`[1,2,3]`))
	})

	result, err := client.StoryIDs(context.Background(), "", 100)
	require.NoError(t, err)
	assert.Len(t, result, 3)
}

func TestStoryIDs_ServerError(t *testing.T) {
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.StoryIDs(context.Background(), "topstories", 10)
	var fe *fetch.Error
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Transient())
}

func TestStoryIDs_InvalidJSON(t *testing.T) {
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := client.StoryIDs(context.Background(), "topstories", 10)
	assert.Error(t, err)
}

func TestItem(t *testing.T) {
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/item/12345.json", r.URL.Path)
		w.Write([]byte(`{"id":12345,"type":"story","title":"Test Article","by":"pg","time":1700000000}`))
	})

	raw, err := client.Item(context.Background(), 12345)
	require.NoError(t, err)

	var item Item
	require.NoError(t, json.Unmarshal(raw, &item))
	assert.Equal(t, int64(12345), item.ID)
	assert.Equal(t, "story", item.Type)
	assert.Equal(t, "pg", item.By)
	assert.Equal(t, int64(1700000000), item.Time)
}

func TestSearch_Parameters(t *testing.T) {
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/search_by_date", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "rust", q.Get("query"))
		assert.Equal(t, "story", q.Get("tags"))
		assert.Equal(t, "created_at_i>100,points>=50", q.Get("numericFilters"))
		assert.Equal(t, "15", q.Get("hitsPerPage"))
		w.Write([]byte(`{"hits":[{"objectID":"7","title":"Rust 2.0","points":99}],"nbHits":1}`))
	})

	raw, err := client.Search(context.Background(), SearchQuery{
		Query:          "rust",
		Tags:           "story",
		NumericFilters: []string{"created_at_i>100", "points>=50"},
		HitsPerPage:    15,
		ByDate:         true,
	})
	require.NoError(t, err)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "7", resp.Hits[0].ObjectID)
	require.NotNil(t, resp.Hits[0].Points)
	assert.Equal(t, 99, *resp.Hits[0].Points)
}

func TestSearch_RelevanceEndpoint(t *testing.T) {
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/search", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("numericFilters"))
		w.Write([]byte(`{"hits":[]}`))
	})

	_, err := client.Search(context.Background(), SearchQuery{Query: "go"})
	require.NoError(t, err)
}
