package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"github.com/frostdev-ops/pma-alerting-go/pkg/version"
)

// WebhookConfig contains raw alert webhook configuration
type WebhookConfig struct {
	URL     string
	Headers map[string]string
}

// WebhookPayload is the JSON document posted for every notification.
type WebhookPayload struct {
	alarm.NotificationEvent
	Direction alarm.Direction `json:"direction"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Metric    string          `json:"metric"`
	Condition string          `json:"condition"`
}

// WebhookChannel posts the raw transition as JSON.
type WebhookChannel struct {
	name   string
	config WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates the raw alert channel.
func NewWebhookChannel(name string, config WebhookConfig, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{name: name, config: config, client: client}
}

func (w *WebhookChannel) Name() string { return w.name }

func (w *WebhookChannel) Send(ctx context.Context, event alarm.NotificationEvent) error {
	msg := Format(event)
	payload, err := json.Marshal(WebhookPayload{
		NotificationEvent: event,
		Direction:         event.Direction(),
		Title:             msg.Title,
		Body:              msg.Body,
		Metric:            event.Rule.Metric.String(),
		Condition:         event.Rule.Condition(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
