// Package voice places outbound interdiction calls through the ElevenLabs
// conversational API, or simulates them when no API key is configured.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultURL is the ElevenLabs conversation endpoint.
	DefaultURL     = "https://api.elevenlabs.io/v1/convai/conversation"
	defaultAgentID = "default"
	httpTimeout    = 15 * time.Second
)

// ErrMissingPhone is returned when a call is requested without a number.
var ErrMissingPhone = errors.New("phone is required")

// Dialer is the interface for any outbound call provider.
type Dialer interface {
	PlaceCall(ctx context.Context, phone, script string) (*Call, error)
}

// Call is the outcome of a placed call. Simulated is never sent on the wire.
type Call struct {
	ID        string `json:"callId"`
	Phone     string `json:"phone"`
	Simulated bool   `json:"-"`
}

// Config holds the provider settings.
type Config struct {
	APIKey  string
	AgentID string
	URL     string
}

// Client implements Dialer.
type Client struct {
	cfg    Config
	client *http.Client
	logger log.Logger
}

// New creates a voice client. An empty APIKey puts it in simulated mode.
func New(cfg Config, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.AgentID == "" {
		cfg.AgentID = defaultAgentID
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: httpTimeout},
		logger: logger,
	}
}

// Simulated reports whether calls are simulated.
func (c *Client) Simulated() bool { return c.cfg.APIKey == "" }

type conversationRequest struct {
	AgentID        string `json:"agent_id"`
	PhoneNumber    string `json:"phone_number"`
	InitialMessage string `json:"initial_message"`
}

type conversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// PlaceCall starts a call reading script to phone.
func (c *Client) PlaceCall(ctx context.Context, phone, script string) (*Call, error) {
	if phone == "" {
		return nil, ErrMissingPhone
	}

	if c.Simulated() {
		id := "sim_" + uuid.NewString()
		c.logger.Warn(ctx, "voice api key not configured, simulating call", "call_id", id, "phone", phone)
		return &Call{ID: id, Phone: phone, Simulated: true}, nil
	}

	body, err := json.Marshal(conversationRequest{
		AgentID:        c.cfg.AgentID,
		PhoneNumber:    phone,
		InitialMessage: script,
	})
	if err != nil {
		return nil, fmt.Errorf("voice: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("voice: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(req) //nolint:gosec // G704: url is from trusted config
	if err != nil {
		return nil, fmt.Errorf("voice: post conversation: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("voice: provider returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("voice: decode response: %w", err)
	}

	c.logger.Info(ctx, "voice call initiated", "call_id", out.ConversationID, "phone", phone)
	return &Call{ID: out.ConversationID, Phone: phone}, nil
}
