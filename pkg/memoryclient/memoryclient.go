// Package memoryclient is a thin pass-through client to the semantic
// memory service. The core never embeds or searches vectors itself
// (spec.md §1's non-goal): the memory service is an external HTTP
// collaborator, and this package only forwards GET/DELETE calls to it and
// returns its failures to the caller; pkg/httpapi's memory handlers log and
// swallow them, since memory is advisory (spec §7).
package memoryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"legatus/pkg/httpclient"
)

// Entry is one memory record as returned by the memory service.
type Entry struct {
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Score   float64        `json:"score,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Client forwards memory operations to a configured base URL.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

// New creates a Client against baseURL, reusing httpclient's retry/backoff
// handling for the memory service's occasional transient failures.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: httpclient.New(
			httpclient.WithMaxRetries(2),
			httpclient.WithBaseDelay(10*time.Millisecond),
			httpclient.WithMaxDelay(50*time.Millisecond),
		),
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build memory request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memory service request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("memory service returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read memory response: %w", err)
	}
	return body, nil
}

// List returns every memory entry the service currently holds.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	raw, err := c.do(ctx, http.MethodGet, "/memory", nil)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse memory list: %w", err)
	}
	return entries, nil
}

// Search forwards a semantic search query to the memory service.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	raw, err := c.do(ctx, http.MethodGet, "/memory/search", q)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse memory search results: %w", err)
	}
	return entries, nil
}

// Forget deletes one memory entry by id.
func (c *Client) Forget(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/memory/"+id, nil)
	return err
}
