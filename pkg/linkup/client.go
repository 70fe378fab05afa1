// Package linkup provides a client for the Linkup web search API.
package linkup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL = "https://api.linkup.so/v1"

	// DepthStandard is the default search depth.
	DepthStandard = "standard"
	// DepthDeep runs a slower, more exhaustive search.
	DepthDeep = "deep"

	// OutputSearchResults returns the raw ranked results.
	OutputSearchResults = "searchResults"
)

// Client performs searches against the Linkup API.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is the body for POST /search.
type SearchRequest struct {
	Query         string `json:"q"`
	Depth         string `json:"depth"`
	OutputType    string `json:"outputType"`
	IncludeImages bool   `json:"includeImages"`
}

// SearchResponse is the response for a searchResults query.
type SearchResponse struct {
	Results []Result `json:"results"`
}

// Result is a single ranked search result.
type Result struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Snippet     string `json:"snippet"`
	Description string `json:"description"`
}

// Heading returns the result title, falling back to its name.
func (r Result) Heading() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

// Text returns the first non-empty body field among snippet, description
// and content.
func (r Result) Text() string {
	switch {
	case r.Snippet != "":
		return r.Snippet
	case r.Description != "":
		return r.Description
	default:
		return r.Content
	}
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Linkup API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Depth == "" {
		req.Depth = DepthStandard
	}
	if req.OutputType == "" {
		req.OutputType = OutputSearchResults
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "linkup: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "linkup: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "linkup: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "linkup: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var result SearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "linkup: unmarshal response")
	}
	return &result, nil
}

// StatusError reports a non-200 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("linkup: unexpected status %d: %s", e.Code, e.Body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.Code }
