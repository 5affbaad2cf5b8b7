package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// WebhookNotifier posts events as JSON to an HTTP endpoint. Rendering and
// fan-out to people happen on the receiving side.
type WebhookNotifier struct {
	url       string
	recipient string
	client    *http.Client
}

func NewWebhookNotifier(url, recipient string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:       url,
		recipient: recipient,
		client:    &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Event
	Recipient string `json:"recipient,omitempty"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(webhookPayload{Event: event, Recipient: n.recipient})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "vaultkeep")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
