package reasoning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"aide/internal/agent/ports"
	"aide/internal/logging"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultResponseCacheSize = 128
	defaultResponseCacheTTL  = 5 * time.Minute
)

// CacheConfig configures the reasoning response cache.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// cacheClient memoises completions behind an expirable LRU. Identical
// requests within the TTL replay the stored response instead of paying for
// another completion. Request metadata is excluded from the key: it carries
// per-call identifiers, not semantics.
type cacheClient struct {
	underlying ports.ReasoningClient
	cache      *expirable.LRU[string, *ports.CompletionResponse]
	logger     logging.Logger
}

// NewCacheClient wraps a reasoning client with a response cache.
func NewCacheClient(client ports.ReasoningClient, config CacheConfig) ports.ReasoningClient {
	size := config.Size
	if size <= 0 {
		size = defaultResponseCacheSize
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = defaultResponseCacheTTL
	}
	return &cacheClient{
		underlying: client,
		cache:      expirable.NewLRU[string, *ports.CompletionResponse](size, nil, ttl),
		logger:     logging.NewComponentLogger("reasoning-cache"),
	}
}

func (c *cacheClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	key := requestKey(c.underlying.Model(), req)

	if cached, ok := c.cache.Get(key); ok {
		c.logger.Debug("Response cache hit (%d messages)", len(req.Messages))
		return copyResponse(cached), nil
	}

	resp, err := c.underlying.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		c.cache.Add(key, copyResponse(resp))
	}
	return resp, nil
}

func (c *cacheClient) Model() string {
	return c.underlying.Model()
}

// requestKey hashes everything that shapes the completion: model, transcript,
// tools and sampling parameters.
func requestKey(model string, req ports.CompletionRequest) string {
	hashed := struct {
		Model         string                 `json:"model"`
		Messages      []ports.Message        `json:"messages"`
		Tools         []ports.ToolDefinition `json:"tools,omitempty"`
		Temperature   float64                `json:"temperature"`
		MaxTokens     int                    `json:"max_tokens"`
		TopP          float64                `json:"top_p"`
		StopSequences []string               `json:"stop,omitempty"`
	}{
		Model:         model,
		Messages:      req.Messages,
		Tools:         req.Tools,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
	}
	data, err := json.Marshal(hashed)
	if err != nil {
		// Unhashable request: use a key nothing else produces so it
		// neither hits nor pollutes real entries.
		return "unhashable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// copyResponse clones a response so cached entries never alias what callers
// mutate (the engine appends tool call IDs and metadata downstream).
func copyResponse(resp *ports.CompletionResponse) *ports.CompletionResponse {
	if resp == nil {
		return nil
	}
	cp := *resp
	if resp.ToolCalls != nil {
		cp.ToolCalls = make([]ports.ToolCall, len(resp.ToolCalls))
		copy(cp.ToolCalls, resp.ToolCalls)
	}
	if resp.Metadata != nil {
		cp.Metadata = make(map[string]any, len(resp.Metadata))
		for k, v := range resp.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

var _ ports.ReasoningClient = (*cacheClient)(nil)
