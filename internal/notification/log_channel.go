package notification

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogChannel writes notifications as single lines to an io.Writer. It is the
// fallback channel for headless runs and accepts every priority.
type LogChannel struct {
	name string
	mu   sync.Mutex
	w    io.Writer
}

// NewLogChannel creates a log channel writing to w. A nil writer falls back
// to stderr.
func NewLogChannel(name string, w io.Writer) *LogChannel {
	if w == nil {
		w = os.Stderr
	}
	return &LogChannel{name: name, w: w}
}

func (c *LogChannel) Name() string { return c.name }

func (c *LogChannel) Supports(NotificationPriority) bool { return true }

func (c *LogChannel) Send(_ context.Context, n Notification) error {
	ts := n.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "[%s] [%s] %s: %s\n", ts.Format(time.RFC3339), n.Priority, n.Title, n.Body)
	return err
}
