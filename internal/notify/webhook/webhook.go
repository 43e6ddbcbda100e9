// Package webhook publishes notifications as JSON POSTs to a configured URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harmonlabs/klaxon/internal/notify"
)

const httpTimeout = 10 * time.Second

// Publisher posts notification messages to a webhook endpoint.
type Publisher struct {
	url    string
	client *http.Client
}

// New creates a webhook publisher for the given URL.
func New(url string) *Publisher {
	return &Publisher{
		url:    url,
		client: &http.Client{Timeout: httpTimeout},
	}
}

// Name implements notify.Publisher.
func (p *Publisher) Name() string { return "webhook" }

// Publish posts the message as JSON. Any non-2xx response is an error.
func (p *Publisher) Publish(ctx context.Context, msg *notify.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req) //nolint:gosec // G704: url is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
