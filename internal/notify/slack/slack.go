// Package slack sends advisory state change notifications to Slack via
// incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/verdict/internal/advisory"
)

const (
	maxExplanationLen = 3000
	httpTimeout       = 10 * time.Second
)

// Notifier sends applied state changes to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts a state change to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, change *advisory.Change) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(change)

	body, err := json.Marshal(msg)
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
	return nil
}

func buildMessage(c *advisory.Change) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(c),
			{"type": "divider"},
			fieldsBlock(c),
			{"type": "divider"},
			explanationBlock(c),
			{"type": "divider"},
			contextBlock(c),
		},
	}
}

func headerBlock(c *advisory.Change) map[string]any {
	emoji := stateEmoji(c)
	title := "State Change"
	if c.FromState == "" {
		title = "New Advisory"
	}
	text := fmt.Sprintf("%s %s: %s", emoji, title, c.CVEID)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(c *advisory.Change) map[string]any {
	from := string(c.FromState)
	if from == "" {
		from = "(none)"
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Package:* %s", c.PackageName),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Transition:* %s → %s", from, c.ToState),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reason:* %s", c.ReasonCode),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Confidence:* %s", c.Confidence),
		},
	}
	if c.IsRegression {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": "*Regression:* yes",
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func explanationBlock(c *advisory.Change) map[string]any {
	text := truncate(c.Explanation, maxExplanationLen)
	if text == "" {
		text = "_No explanation available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Explanation*\n\n%s", text),
		},
	}
}

func contextBlock(c *advisory.Change) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("verdict • %s • run %s • %s", c.AdvisoryID, c.RunID, c.At.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func stateEmoji(c *advisory.Change) string {
	if c.IsRegression {
		return "\U0001f534" // red circle
	}
	switch c.ToState {
	case advisory.StateFixed, advisory.StateNotApplicable:
		return "\U0001f7e2" // green circle
	case advisory.StateUnknown:
		return "\U0001f534" // red circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
