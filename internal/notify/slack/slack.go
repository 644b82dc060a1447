// Package slack posts confirmation requests to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/bodyguard/internal/ledger"
	"github.com/linnemanlabs/bodyguard/internal/textutil"
)

const (
	maxDetailsLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends actions awaiting a decision to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts a confirmation request for a.
func (n *Notifier) Notify(ctx context.Context, a ledger.Action) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(a))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "confirmation request sent", "action_id", a.ID, "type", a.Type)
	return nil
}

func buildMessage(a ledger.Action) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("%s Confirmation required: %s", typeEmoji(a.Type), typeTitle(a.Type)),
				},
			},
			{"type": "divider"},
			{
				"type": "section",
				"fields": []map[string]any{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Type:* %s", a.Type)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Status:* %s", a.Status)},
				},
			},
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Details*\n\n%s", detailsText(a.Details)),
				},
			},
			{"type": "divider"},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("bodyguard • action %s • %s", a.ID, a.Timestamp.UTC().Format("2006-01-02 15:04 UTC")),
					},
				},
			},
		},
	}
}

func detailsText(s string) string {
	if s == "" {
		return "_No details._"
	}
	return textutil.Truncate(s, maxDetailsLen)
}

func typeTitle(t ledger.Type) string {
	switch t {
	case ledger.TypeLock:
		return "account lock"
	case ledger.TypeRotate:
		return "key rotation"
	case ledger.TypeVoiceCall:
		return "interdiction call"
	default:
		return "analysis"
	}
}

func typeEmoji(t ledger.Type) string {
	switch t {
	case ledger.TypeLock, ledger.TypeRotate:
		return "\U0001f534" // red circle
	case ledger.TypeVoiceCall:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}
