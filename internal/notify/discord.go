package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// discordContentLimit is Discord's hard cap on message content; longer
// auction summaries are truncated rather than rejected by the webhook.
const discordContentLimit = 2000

// discordMessage is the webhook payload. Username overrides the webhook's
// configured display name so alerts are attributable to the service.
type discordMessage struct {
	Username string `json:"username,omitempty"`
	Content  string `json:"content"`
}

// DiscordSender delivers auction lifecycle alerts through a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the notification to the webhook, rendering the title in bold
// above the message body.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := fmt.Sprintf("**%s**\n%s", title, message)
	if len(content) > discordContentLimit {
		content = content[:discordContentLimit]
	}

	body, err := json.Marshal(discordMessage{
		Username: "auctiond",
		Content:  content,
	})
	if err != nil {
		return fmt.Errorf("notify: discord marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: discord send: %w", err)
	}
	defer resp.Body.Close()

	// The webhook answers 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notify: discord status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
