package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// webhookPayload is the JSON body posted to webhook endpoints.
type webhookPayload struct {
	ID        string            `json:"id"`
	TaskID    string            `json:"task_id,omitempty"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Priority  int               `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
}

// WebhookChannel POSTs notifications as JSON to a fixed URL.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// WebhookOption configures a WebhookChannel.
type WebhookOption func(*WebhookChannel)

// WithTimeout bounds each delivery request.
func WithTimeout(d time.Duration) WebhookOption {
	return func(c *WebhookChannel) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithHeaders adds headers to every delivery request.
func WithHeaders(headers map[string]string) WebhookOption {
	return func(c *WebhookChannel) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// NewWebhookChannel creates a webhook channel posting to url.
func NewWebhookChannel(name, url string, opts ...WebhookOption) *WebhookChannel {
	c := &WebhookChannel{
		name:    name,
		url:     url,
		headers: make(map[string]string),
		client:  &http.Client{Timeout: defaultWebhookTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Supports(NotificationPriority) bool { return true }

func (c *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload := webhookPayload{
		ID:        n.ID,
		TaskID:    n.TaskID,
		Title:     n.Title,
		Body:      n.Body,
		Priority:  int(n.Priority),
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
