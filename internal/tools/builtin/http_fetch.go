package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"

	"aide/internal/agent/ports"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxBodyBytes = 256 * 1024

	fetchUserAgent = "aide/1.0 (task runner)"
)

// HTTPFetchConfig configures the http_fetch tool.
type HTTPFetchConfig struct {
	// Timeout bounds the whole request including body read.
	Timeout time.Duration
	// MaxBodyBytes caps how much of the response body is returned.
	MaxBodyBytes int64
}

type httpFetch struct {
	client  *http.Client
	maxBody int64
}

// NewHTTPFetch builds the URL fetching tool.
func NewHTTPFetch(cfg HTTPFetchConfig) ports.ToolExecutor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &httpFetch{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		maxBody: maxBody,
	}
}

func (t *httpFetch) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	urlStr, _ := call.Arguments["url"].(string)
	if urlStr == "" {
		return ports.FailedResult(call, "missing 'url'"), nil
	}

	parsed, err := neturl.Parse(urlStr)
	if err != nil {
		return ports.FailedResult(call, fmt.Sprintf("invalid URL: %v", err)), nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ports.FailedResult(call, fmt.Sprintf("unsupported scheme: %s", parsed.Scheme)), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return ports.FailedResult(call, fmt.Sprintf("create request: %v", err)), nil
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return ports.FailedResult(call, fmt.Sprintf("fetch %s: %v", parsed.String(), err)), nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return ports.FailedResult(call, fmt.Sprintf("read response: %v", err)), nil
	}
	truncated := false
	if int64(len(body)) > t.maxBody {
		body = body[:t.maxBody]
		truncated = true
	}

	finalURL := parsed.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	metadata := map[string]any{
		"url":          finalURL,
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body_bytes":   len(body),
	}
	if truncated {
		metadata["body_truncated"] = true
	}

	// Non-2xx responses keep the body: error pages often carry the reason
	// the reasoning loop needs to adjust.
	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	result := &ports.ToolResult{
		CallID:   call.ID,
		TaskID:   call.TaskID,
		Content:  string(body),
		Success:  success,
		Metadata: metadata,
	}
	if !success {
		result.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return result, nil
}

func (t *httpFetch) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "http_fetch",
		Description: "Fetch a URL over HTTP GET and return the response body. " +
			"Reports status code and content type; large bodies are truncated.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"url": {Type: "string", Description: "Full URL to fetch (http or https)"},
			},
			Required: []string{"url"},
		},
	}
}

func (t *httpFetch) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:     "http_fetch",
		Version:  "1.0.0",
		Category: "web",
		Tags:     []string{"web", "http", "fetch"},
	}
}
