package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"aide/internal/agent/ports"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheMaxSize = 256
	defaultCacheTTL     = 5 * time.Minute
)

// CacheConfig configures the tool result cache behaviour.
type CacheConfig struct {
	// MaxSize is the maximum number of entries in the LRU cache.
	MaxSize int
	// TTL is how long a cached result remains valid.
	TTL time.Duration
	// ExcludeTools lists tool names that should never be cached.
	ExcludeTools []string
}

// DefaultCacheConfig returns sensible defaults for tool result caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize:      defaultCacheMaxSize,
		TTL:          defaultCacheTTL,
		ExcludeTools: []string{"run_command"},
	}
}

// cacheEntry holds a cached tool result along with the timestamp it was stored.
type cacheEntry struct {
	content  string
	metadata map[string]any
	storedAt time.Time
}

// cacheExecutor is a ToolExecutor wrapper that caches successful results
// keyed by (tool name + normalised arguments). Failures are never cached:
// they describe a moment, not the tool's answer.
type cacheExecutor struct {
	delegate     ports.ToolExecutor
	cache        *lru.Cache[string, cacheEntry]
	ttl          time.Duration
	excludeTools map[string]bool
}

// NewCacheExecutor wraps delegate with an LRU result cache.
// Zero config values fall back to DefaultCacheConfig defaults.
func NewCacheExecutor(delegate ports.ToolExecutor, config CacheConfig) ports.ToolExecutor {
	if delegate == nil {
		return nil
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaultCacheMaxSize
	}
	if config.TTL <= 0 {
		config.TTL = defaultCacheTTL
	}
	cache, err := lru.New[string, cacheEntry](config.MaxSize)
	if err != nil {
		// lru.New only errors on non-positive size which we guard above.
		return delegate
	}
	exclude := make(map[string]bool, len(config.ExcludeTools))
	for _, name := range config.ExcludeTools {
		exclude[strings.TrimSpace(name)] = true
	}
	return &cacheExecutor{
		delegate:     delegate,
		cache:        cache,
		ttl:          config.TTL,
		excludeTools: exclude,
	}
}

func (c *cacheExecutor) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	if c.shouldSkip(call) {
		return c.delegate.Execute(ctx, call)
	}

	key := c.cacheKey(call)

	if entry, ok := c.cache.Get(key); ok {
		if time.Since(entry.storedAt) < c.ttl {
			// Cache hit: replay under the current call's identity.
			return &ports.ToolResult{
				CallID:   call.ID,
				TaskID:   call.TaskID,
				Content:  entry.content,
				Success:  true,
				Metadata: cloneMetadata(entry.metadata),
			}, nil
		}
		// Expired, evict so the LRU bookkeeping stays clean.
		c.cache.Remove(key)
	}

	result, err := c.delegate.Execute(ctx, call)
	if err != nil {
		return result, err
	}
	if result != nil && result.Success {
		c.cache.Add(key, cacheEntry{
			content:  result.Content,
			metadata: cloneMetadata(result.Metadata),
			storedAt: time.Now(),
		})
	}
	return result, nil
}

func (c *cacheExecutor) Definition() ports.ToolDefinition {
	return c.delegate.Definition()
}

func (c *cacheExecutor) Metadata() ports.ToolMetadata {
	return c.delegate.Metadata()
}

// shouldSkip returns true when caching must be bypassed for this call.
func (c *cacheExecutor) shouldSkip(call ports.ToolCall) bool {
	name := strings.TrimSpace(call.Name)
	if name == "" {
		name = strings.TrimSpace(c.delegate.Metadata().Name)
	}
	if c.excludeTools[name] {
		return true
	}
	if c.delegate.Metadata().Dangerous {
		return true
	}
	return false
}

// cacheKey produces a deterministic string key from tool name + arguments.
func (c *cacheExecutor) cacheKey(call ports.ToolCall) string {
	name := strings.TrimSpace(call.Name)
	if name == "" {
		name = strings.TrimSpace(c.delegate.Metadata().Name)
	}
	return fmt.Sprintf("%s:%s", name, normalizeArgs(call.Arguments))
}

// normalizeArgs serialises arguments deterministically. json.Marshal emits
// map keys in sorted order at every nesting level, so equal argument maps
// produce equal keys.
func normalizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// cloneMetadata performs a shallow copy of metadata so cached entries do not
// alias caller maps.
func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

var _ ports.ToolExecutor = (*cacheExecutor)(nil)
