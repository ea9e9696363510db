package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"

	"aide/internal/logging"
)

const defaultWebPushTTL = 86400

// WebPushConfig holds VAPID credentials for browser push delivery.
type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact mailto/URL sent to push services.
	Subscriber string
	// TTL in seconds; zero uses a one day default.
	TTL int
}

// webPushPayload is the JSON body encrypted into each push message.
type webPushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
}

// WebPushChannel delivers notifications to registered browser push
// subscriptions. It only accepts high and critical priorities: a device push
// interrupts a person, so routine progress stays off it.
type WebPushChannel struct {
	name   string
	config WebPushConfig
	logger logging.Logger

	mu   sync.Mutex
	subs map[string]webpush.Subscription
}

// NewWebPushChannel creates a webpush channel. Subscriptions are registered
// at runtime via Subscribe.
func NewWebPushChannel(name string, config WebPushConfig, logger logging.Logger) *WebPushChannel {
	if config.TTL <= 0 {
		config.TTL = defaultWebPushTTL
	}
	return &WebPushChannel{
		name:   name,
		config: config,
		logger: logging.OrNop(logger),
		subs:   make(map[string]webpush.Subscription),
	}
}

func (c *WebPushChannel) Name() string { return c.name }

func (c *WebPushChannel) Supports(p NotificationPriority) bool {
	return p >= PriorityHigh
}

// Subscribe registers a push subscription, keyed by its endpoint.
func (c *WebPushChannel) Subscribe(sub webpush.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[sub.Endpoint] = sub
}

// Unsubscribe removes the subscription for the given endpoint.
func (c *WebPushChannel) Unsubscribe(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, endpoint)
}

// SubscriptionCount reports registered subscriptions.
func (c *WebPushChannel) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Send pushes the notification to every subscription. Expired subscriptions
// are evicted; the send fails only when credentials are missing or every
// subscription errors.
func (c *WebPushChannel) Send(ctx context.Context, n Notification) error {
	if c.config.VAPIDPublicKey == "" || c.config.VAPIDPrivateKey == "" {
		return fmt.Errorf("vapid keys not configured")
	}

	c.mu.Lock()
	subs := make([]webpush.Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(webPushPayload{
		Title: n.Title,
		Body:  n.Body,
		Tag:   n.TaskID,
	})
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	var delivered int
	var lastErr error
	for _, sub := range subs {
		if err := c.push(ctx, sub, payload); err != nil {
			lastErr = err
			c.logger.Warn("Push to %s failed: %v", sub.Endpoint, err)
			continue
		}
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("push delivery failed for all %d subscriptions: %w", len(subs), lastErr)
	}
	return nil
}

func (c *WebPushChannel) push(ctx context.Context, sub webpush.Subscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		VAPIDPublicKey:  c.config.VAPIDPublicKey,
		VAPIDPrivateKey: c.config.VAPIDPrivateKey,
		Subscriber:      c.config.Subscriber,
		TTL:             c.config.TTL,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusGone {
		c.logger.Info("Subscription %s expired, removing", sub.Endpoint)
		c.Unsubscribe(sub.Endpoint)
		return nil
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}
	return nil
}
