// Package client is a Go client for the bodyguard HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/bodyguard/internal/alert"
	"github.com/linnemanlabs/bodyguard/internal/ledger"
	"github.com/linnemanlabs/bodyguard/internal/triage"
)

const httpTimeout = 30 * time.Second

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to a bodyguard server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL (e.g. http://localhost:8080).
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		http:    &http.Client{Timeout: httpTimeout},
	}
}

// Submission is the response to a manual alert submission.
type Submission struct {
	Alert  alert.Alert `json:"alert"`
	TaskID string      `json:"task_id"`
}

// ListAlerts returns the alert feed, newest first.
func (c *Client) ListAlerts(ctx context.Context) ([]alert.Alert, error) {
	var out struct {
		Alerts []alert.Alert `json:"alerts"`
	}
	err := c.do(ctx, http.MethodGet, "/alerts", nil, &out)
	return out.Alerts, err
}

// SubmitAlert posts raw alert JSON for analysis.
func (c *Client) SubmitAlert(ctx context.Context, raw []byte) (*Submission, error) {
	var out Submission
	if err := c.do(ctx, http.MethodPost, "/alerts", raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessAlert starts analysis of an alert already in the feed and returns
// the task ID.
func (c *Client) ProcessAlert(ctx context.Context, id string) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	err := c.do(ctx, http.MethodPost, "/alerts/"+id+"/process", nil, &out)
	return out.TaskID, err
}

// Task returns the status of a processing task.
func (c *Client) Task(ctx context.Context, id string) (*triage.TaskInfo, error) {
	var out triage.TaskInfo
	if err := c.do(ctx, http.MethodGet, "/tasks/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitTask polls a task until it leaves the running state or ctx is done.
func (c *Client) WaitTask(ctx context.Context, id string, every time.Duration) (*triage.TaskInfo, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		info, err := c.Task(ctx, id)
		if err != nil {
			return nil, err
		}
		if info.Status != triage.TaskRunning {
			return info, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListActions returns the action ledger, newest first.
func (c *Client) ListActions(ctx context.Context) ([]ledger.Action, error) {
	var out struct {
		Actions []ledger.Action `json:"actions"`
	}
	err := c.do(ctx, http.MethodGet, "/actions", nil, &out)
	return out.Actions, err
}

// Confirm approves an action awaiting confirmation.
func (c *Client) Confirm(ctx context.Context, id string) (*ledger.Action, error) {
	return c.decide(ctx, id, "confirm")
}

// Deny dismisses an action awaiting confirmation.
func (c *Client) Deny(ctx context.Context, id string) (*ledger.Action, error) {
	return c.decide(ctx, id, "deny")
}

func (c *Client) decide(ctx context.Context, id, verb string) (*ledger.Action, error) {
	var out ledger.Action
	if err := c.do(ctx, http.MethodPost, "/actions/"+id+"/"+verb, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// State returns the display state.
func (c *Client) State(ctx context.Context) (*triage.State, error) {
	var out triage.State
	if err := c.do(ctx, http.MethodGet, "/state", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req) //nolint:gosec // G704: base url is operator supplied
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		if e.Message != "" {
			return e.Error + ": " + e.Message
		}
		return e.Error
	}
	return strings.TrimSpace(string(data))
}
