package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const userAgent = "equityrun/1.0"

// WebhookConfig points the webhook sink at an HTTP collector.
type WebhookConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url" validate:"omitempty,url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gt=0"`
}

// DefaultWebhookConfig returns a disabled sink with sane timeouts.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Enabled:        false,
		TimeoutSeconds: 5,
	}
}

// WebhookSink POSTs each event as JSON.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	return &WebhookSink{
		url: cfg.URL,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

func (s *WebhookSink) Send(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}
