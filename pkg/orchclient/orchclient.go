// Package orchclient is legatusctl's HTTP client for talking to a running
// legatusd instance (spec §6.5): every verb maps to one REST call against
// pkg/httpapi's router, reusing pkg/httpclient's retry/backoff handling the
// same way pkg/memoryclient does for the memory service.
package orchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"legatus/pkg/agentrec"
	"legatus/pkg/checkpoint"
	"legatus/pkg/httpclient"
	"legatus/pkg/memoryclient"
	"legatus/pkg/pubsub"
	"legatus/pkg/store"
	"legatus/pkg/task"
)

// Client talks to a legatusd instance at BaseURL.
type Client struct {
	baseURL string
	token   string
	http    *httpclient.Client
}

// New creates a Client against baseURL. token, if non-empty, is sent as a
// bearer token on every request (spec §6.3's JWT auth).
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: httpclient.New(
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(100*time.Millisecond),
			httpclient.WithMaxDelay(2*time.Second),
		),
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("legatusd returned %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

// CreateTaskRequest mirrors pkg/httpapi's POST /tasks body.
type CreateTaskRequest struct {
	Prompt  string `json:"prompt"`
	Title   string `json:"title,omitempty"`
	Project string `json:"project,omitempty"`
	Direct  bool   `json:"direct,omitempty"`
}

// StartCampaign creates a new campaign task.
func (c *Client) StartCampaign(ctx context.Context, req CreateTaskRequest) (*task.Task, error) {
	raw, err := c.do(ctx, http.MethodPost, "/tasks", nil, req)
	if err != nil {
		return nil, err
	}
	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse task: %w", err)
	}
	return &t, nil
}

// GetTask fetches one task by id.
func (c *Client) GetTask(ctx context.Context, id string) (*task.Task, error) {
	raw, err := c.do(ctx, http.MethodGet, "/tasks/"+id, nil, nil)
	if err != nil {
		return nil, err
	}
	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse task: %w", err)
	}
	return &t, nil
}

// ListTasks lists every known task.
func (c *Client) ListTasks(ctx context.Context) ([]*task.Task, error) {
	raw, err := c.do(ctx, http.MethodGet, "/tasks", nil, nil)
	if err != nil {
		return nil, err
	}
	var ts []*task.Task
	if err := json.Unmarshal(raw, &ts); err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}
	return ts, nil
}

// History returns the most recent terminal tasks, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]*task.Task, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	raw, err := c.do(ctx, http.MethodGet, "/tasks/history", q, nil)
	if err != nil {
		return nil, err
	}
	var ts []*task.Task
	if err := json.Unmarshal(raw, &ts); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return ts, nil
}

// ListAgents lists every spawned agent record.
func (c *Client) ListAgents(ctx context.Context) ([]*agentrec.AgentRecord, error) {
	raw, err := c.do(ctx, http.MethodGet, "/agents", nil, nil)
	if err != nil {
		return nil, err
	}
	var agents []*agentrec.AgentRecord
	if err := json.Unmarshal(raw, &agents); err != nil {
		return nil, fmt.Errorf("parse agents: %w", err)
	}
	return agents, nil
}

// CheckpointView mirrors pkg/httpapi's checkpoint response, including the
// derived staleness flag.
type CheckpointView struct {
	*checkpoint.Checkpoint
	Stale bool `json:"stale"`
}

// PendingCheckpoints lists every checkpoint awaiting resolution.
func (c *Client) PendingCheckpoints(ctx context.Context) ([]CheckpointView, error) {
	raw, err := c.do(ctx, http.MethodGet, "/checkpoints", nil, nil)
	if err != nil {
		return nil, err
	}
	var views []CheckpointView
	if err := json.Unmarshal(raw, &views); err != nil {
		return nil, fmt.Errorf("parse checkpoints: %w", err)
	}
	return views, nil
}

// Approve resolves a checkpoint as approved.
func (c *Client) Approve(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/checkpoints/"+id+"/approve", nil, nil)
	return err
}

// Reject resolves a checkpoint as rejected, with reason recorded on it.
func (c *Client) Reject(ctx context.Context, id, reason string) error {
	q := url.Values{}
	if reason != "" {
		q.Set("reason", reason)
	}
	_, err := c.do(ctx, http.MethodPost, "/checkpoints/"+id+"/reject", q, nil)
	return err
}

// Logs returns the most recent activity log entries.
func (c *Client) Logs(ctx context.Context, limit int) ([]pubsub.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	raw, err := c.do(ctx, http.MethodGet, "/logs", q, nil)
	if err != nil {
		return nil, err
	}
	var msgs []pubsub.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("parse activity log: %w", err)
	}
	return msgs, nil
}

// Costs fetches the cost summary, optionally scoped to one project.
func (c *Client) Costs(ctx context.Context, project string) (*store.CostSummary, error) {
	q := url.Values{}
	if project != "" {
		q.Set("project_id", project)
	}
	raw, err := c.do(ctx, http.MethodGet, "/costs", q, nil)
	if err != nil {
		return nil, err
	}
	var cs store.CostSummary
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("parse cost summary: %w", err)
	}
	return &cs, nil
}

// Pause pauses the reactor, refusing new dispatches.
func (c *Client) Pause(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/system/pause", nil, nil)
	return err
}

// Resume resumes the reactor.
func (c *Client) Resume(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/system/resume", nil, nil)
	return err
}

// SystemStatus is the decoded form of GET /system/status.
type SystemStatus struct {
	Paused             bool `json:"paused"`
	PendingCheckpoints int  `json:"pending_checkpoints"`
}

// Status fetches the orchestrator's current pause state and checkpoint backlog.
func (c *Client) Status(ctx context.Context) (*SystemStatus, error) {
	raw, err := c.do(ctx, http.MethodGet, "/system/status", nil, nil)
	if err != nil {
		return nil, err
	}
	var s SystemStatus
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse system status: %w", err)
	}
	return &s, nil
}

// MemoryList lists every memory entry the orchestrator's memory service holds.
func (c *Client) MemoryList(ctx context.Context) ([]memoryclient.Entry, error) {
	raw, err := c.do(ctx, http.MethodGet, "/memory", nil, nil)
	if err != nil {
		return nil, err
	}
	var entries []memoryclient.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse memory list: %w", err)
	}
	return entries, nil
}

// MemorySearch forwards a semantic search query.
func (c *Client) MemorySearch(ctx context.Context, query string, limit int) ([]memoryclient.Entry, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	raw, err := c.do(ctx, http.MethodGet, "/memory/search", q, nil)
	if err != nil {
		return nil, err
	}
	var entries []memoryclient.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse memory search: %w", err)
	}
	return entries, nil
}

// MemoryForget deletes one memory entry by id.
func (c *Client) MemoryForget(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/memory/"+id, nil, nil)
	return err
}
