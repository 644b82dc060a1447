package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/bodyguard/internal/alert"
	"github.com/linnemanlabs/bodyguard/internal/textutil"
)

const (
	httpTimeout     = 120 * time.Second
	maxResponseBody = 1 << 20
)

// Client calls a remote analysis endpoint that speaks the Response contract.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a Client posting alerts to url.
func NewClient(url string) *Client {
	return &Client{
		url:    url,
		client: &http.Client{Timeout: httpTimeout},
	}
}

// Analyze posts the alert as JSON and decodes the response. Non-2xx status or
// success=false is an error.
func (c *Client) Analyze(ctx context.Context, al *alert.Alert) (*Result, error) {
	body, err := json.Marshal(al)
	if err != nil {
		return nil, fmt.Errorf("analysis: marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("analysis: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req) //nolint:gosec // G704: url is from trusted config
	if err != nil {
		return nil, fmt.Errorf("analysis: post alert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("analysis: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analysis: endpoint returned %d: %s", resp.StatusCode, textutil.Truncate(string(respBody), 512))
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("analysis: unmarshal response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("analysis: endpoint reported failure: %s", out.Message)
	}

	return &Result{
		Text:          out.Text,
		FunctionCalls: out.FunctionCalls,
	}, nil
}
