// Package notification fans task lifecycle notifications out to delivery
// channels. The Center routes by channel name with per-channel enablement and
// priority floors; critical notifications are broadcast to every capable
// channel. Delivery is best effort: failures become recorded results, never
// errors that reach the execution loop.
package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"aide/internal/logging"
	"aide/internal/observability"
	"aide/internal/utils/id"
)

// NotificationPriority orders notifications by urgency.
type NotificationPriority int

const (
	PriorityLow      NotificationPriority = 1
	PriorityNormal   NotificationPriority = 2
	PriorityHigh     NotificationPriority = 3
	PriorityCritical NotificationPriority = 4
)

func (p NotificationPriority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// Notification is a single message to deliver.
type Notification struct {
	ID       string
	TaskID   string
	Title    string
	Body     string
	Priority NotificationPriority
	// Channel targets a specific channel by name. Empty means the default.
	Channel   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Channel delivers notifications over one transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	Supports(p NotificationPriority) bool
}

// ChannelConfig holds per-channel routing settings.
type ChannelConfig struct {
	Name        string
	Enabled     bool
	MinPriority NotificationPriority
	IsDefault   bool
}

// DeliveryStatus is the outcome of one delivery attempt.
type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// DeliveryResult records one delivery attempt against one channel.
type DeliveryResult struct {
	NotificationID string
	TaskID         string
	Channel        string
	Status         DeliveryStatus
	Error          string
	DeliveredAt    time.Time
}

const defaultHistorySize = 100

type registration struct {
	channel Channel
	config  ChannelConfig
}

// Center routes notifications to registered channels and keeps a bounded
// delivery history.
type Center struct {
	mu          sync.RWMutex
	channels    map[string]registration
	defaultName string
	history     []DeliveryResult
	historySize int

	logger  logging.Logger
	metrics *observability.MetricsCollector
}

// CenterOption configures a Center.
type CenterOption func(*Center)

// WithDefaultChannel routes notifications without an explicit channel to name.
func WithDefaultChannel(name string) CenterOption {
	return func(c *Center) { c.defaultName = name }
}

// WithHistorySize bounds the retained delivery history.
func WithHistorySize(n int) CenterOption {
	return func(c *Center) {
		if n > 0 {
			c.historySize = n
		}
	}
}

// WithLogger sets the center's logger.
func WithLogger(logger logging.Logger) CenterOption {
	return func(c *Center) { c.logger = logging.OrNop(logger) }
}

// WithMetrics counts delivery failures on the given collector.
func WithMetrics(metrics *observability.MetricsCollector) CenterOption {
	return func(c *Center) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// NewCenter creates a notification center with no channels registered.
func NewCenter(opts ...CenterOption) *Center {
	c := &Center{
		channels:    make(map[string]registration),
		historySize: defaultHistorySize,
		logger:      logging.NewComponentLogger("Notification"),
		metrics:     &observability.MetricsCollector{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterChannel adds a channel under its own name. Registering the same
// name again replaces the previous registration.
func (c *Center) RegisterChannel(ch Channel, cfg ChannelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg.Name = ch.Name()
	c.channels[cfg.Name] = registration{channel: ch, config: cfg}
	if cfg.IsDefault {
		c.defaultName = cfg.Name
	}
}

// UnregisterChannel removes a channel. Removing the default clears it.
func (c *Center) UnregisterChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.channels, name)
	if c.defaultName == name {
		c.defaultName = ""
	}
}

// ListChannels returns the registered channel configs sorted by name, with
// IsDefault reflecting the current default.
func (c *Center) ListChannels() []ChannelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	configs := make([]ChannelConfig, 0, len(c.channels))
	for name, reg := range c.channels {
		cfg := reg.config
		cfg.IsDefault = name == c.defaultName
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs
}

// SetDefault changes the default channel.
func (c *Center) SetDefault(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.channels[name]; !ok {
		return fmt.Errorf("channel %q not found", name)
	}
	c.defaultName = name
	return nil
}

// Send delivers one notification. The targeted channel is n.Channel, or the
// default when unset. Critical notifications additionally fan out to every
// other enabled channel that supports them. Delivery problems surface in the
// result; the returned error covers routing only.
func (c *Center) Send(ctx context.Context, n Notification) (DeliveryResult, error) {
	c.stamp(&n)

	target := n.Channel
	if target == "" {
		c.mu.RLock()
		target = c.defaultName
		c.mu.RUnlock()
	}
	if target == "" {
		return DeliveryResult{}, fmt.Errorf("no channel specified and no default channel configured")
	}

	result := c.deliver(ctx, target, n)
	c.record(result)

	if n.Priority >= PriorityCritical {
		for _, name := range c.fanoutTargets(target, n.Priority) {
			c.record(c.deliver(ctx, name, n))
		}
	}
	return result, nil
}

// SendMulti delivers one notification to each named channel. Every channel
// gets a result, failed or delivered, in the order given.
func (c *Center) SendMulti(ctx context.Context, n Notification, channels []string) ([]DeliveryResult, error) {
	c.stamp(&n)

	results := make([]DeliveryResult, 0, len(channels))
	for _, name := range channels {
		result := c.deliver(ctx, name, n)
		c.record(result)
		results = append(results, result)
	}
	return results, nil
}

// History returns recorded deliveries, newest first, filtered by task when
// taskID is non-empty. A non-positive limit returns everything retained.
func (c *Center) History(taskID string, limit int) []DeliveryResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var results []DeliveryResult
	for i := len(c.history) - 1; i >= 0; i-- {
		if taskID != "" && c.history[i].TaskID != taskID {
			continue
		}
		results = append(results, c.history[i])
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

func (c *Center) stamp(n *Notification) {
	if n.ID == "" {
		n.ID = id.NewNotificationID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Priority == 0 {
		n.Priority = PriorityNormal
	}
}

func (c *Center) deliver(ctx context.Context, name string, n Notification) DeliveryResult {
	result := DeliveryResult{
		NotificationID: n.ID,
		TaskID:         n.TaskID,
		Channel:        name,
		Status:         StatusDelivered,
		DeliveredAt:    time.Now().UTC(),
	}

	c.mu.RLock()
	reg, ok := c.channels[name]
	c.mu.RUnlock()

	switch {
	case !ok:
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("channel %q not found", name)
	case !reg.config.Enabled:
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("channel %q is disabled", name)
	case n.Priority < reg.config.MinPriority:
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("priority %s below channel %q minimum %s", n.Priority, name, reg.config.MinPriority)
	case !reg.channel.Supports(n.Priority):
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("channel %q does not support priority %s", name, n.Priority)
	default:
		if err := reg.channel.Send(ctx, n); err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
		}
	}

	if result.Status == StatusFailed {
		c.metrics.RecordNotifyFailure(ctx, name)
		c.logger.Warn("Delivery to %s failed for notification %s: %s", name, n.ID, result.Error)
	} else {
		c.logger.Debug("Delivered notification %s via %s", n.ID, name)
	}
	return result
}

// fanoutTargets lists enabled channels other than the primary that accept the
// given priority, sorted for deterministic order.
func (c *Center) fanoutTargets(primary string, p NotificationPriority) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for name, reg := range c.channels {
		if name == primary || !reg.config.Enabled {
			continue
		}
		if p < reg.config.MinPriority || !reg.channel.Supports(p) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Center) record(result DeliveryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, result)
	if len(c.history) > c.historySize {
		overflow := len(c.history) - c.historySize
		c.history = append(c.history[:0], c.history[overflow:]...)
	}
}
