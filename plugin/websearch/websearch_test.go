package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "go language", r.URL.Query().Get("q"))
		require.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"Heading": "Go (programming language)",
			"AbstractText": "Go is a statically typed language.",
			"AbstractURL": "https://en.wikipedia.org/wiki/Go",
			"RelatedTopics": [
				{"Text": "Goroutines are lightweight threads.", "FirstURL": "https://example.com/goroutines"},
				{"Text": "", "FirstURL": "https://example.com/skip"},
				{"Text": "Channels connect goroutines.", "FirstURL": "https://example.com/channels"}
			]
		}`)
	}))
	defer server.Close()

	client := NewClient(WithEndpoint(server.URL))
	results, err := client.Search(context.Background(), "go language", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "Go (programming language)", results[0].Title)
	require.Equal(t, "Goroutines are lightweight threads.", results[1].Snippet)
}

func TestSearchNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Heading":"","AbstractText":"","RelatedTopics":[]}`)
	}))
	defer server.Close()

	client := NewClient(WithEndpoint(server.URL))
	results, err := client.Search(context.Background(), "nothing", 3)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(WithEndpoint(server.URL))
	_, err := client.Search(context.Background(), "q", 3)
	require.Error(t, err)
}
