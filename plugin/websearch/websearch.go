// Package websearch fetches lightweight web results used to ground answers
// with bracketed citations.
package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const defaultEndpoint = "https://api.duckduckgo.com/"

// Result is one web search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Client queries the DuckDuckGo instant answer API. The endpoint is
// overridable for tests and self-hosted proxies.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the search endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a search client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type instantAnswer struct {
	Heading       string `json:"Heading"`
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search returns up to limit results for the query. An empty result list
// with a nil error means the query produced no usable answers.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 3
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build search request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "search request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("search returned status %d", resp.StatusCode)
	}

	var answer instantAnswer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, errors.Wrap(err, "failed to decode search response")
	}

	results := make([]Result, 0, limit)
	if answer.AbstractText != "" {
		results = append(results, Result{
			Title:   answer.Heading,
			URL:     answer.AbstractURL,
			Snippet: answer.AbstractText,
		})
	}
	for _, topic := range answer.RelatedTopics {
		if len(results) >= limit {
			break
		}
		if topic.Text == "" {
			continue
		}
		results = append(results, Result{
			Title:   topic.Text,
			URL:     topic.FirstURL,
			Snippet: topic.Text,
		})
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
