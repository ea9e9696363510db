package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aide/internal/agent/ports"
	"aide/internal/logging"
	"aide/internal/utils/id"
)

const (
	defaultCompletionPath = "/v1/complete"
	defaultRequestTimeout = 120 * time.Second
)

// Config configures the HTTP reasoning client.
type Config struct {
	// BaseURL is the service root, without the completion path.
	BaseURL string
	// CompletionPath is appended to BaseURL. Defaults to /v1/complete.
	CompletionPath string
	APIKey         string
	Model          string
	Timeout        time.Duration
	// Headers are extra headers sent with every request.
	Headers map[string]string
}

// HTTPClient speaks a plain JSON completion protocol: the request is the
// completion request plus the model name, the response mirrors
// ports.CompletionResponse. Gateways that answer with OpenAI-style stop
// reasons are normalised on the way in.
type HTTPClient struct {
	model      string
	apiKey     string
	endpoint   string
	headers    map[string]string
	httpClient *http.Client
	logger     logging.Logger
}

func NewHTTPClient(config Config) (*HTTPClient, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("reasoning endpoint is required")
	}
	path := config.CompletionPath
	if path == "" {
		path = defaultCompletionPath
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		model:      config.Model,
		apiKey:     config.APIKey,
		endpoint:   strings.TrimRight(config.BaseURL, "/") + path,
		headers:    config.Headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger("reasoning-http"),
	}, nil
}

type wireRequest struct {
	Model string `json:"model"`
	ports.CompletionRequest
}

func (c *HTTPClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	requestID := extractRequestID(req.Metadata)
	if requestID == "" {
		requestID = id.NewRequestID()
	}
	prefix := fmt.Sprintf("[req:%s] ", requestID)

	body, err := json.Marshal(wireRequest{Model: c.model, CompletionRequest: req})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("%s=== Reasoning Request ===", prefix)
	c.logger.Debug("%sPOST %s model=%s messages=%d tools=%d", prefix, c.endpoint, c.model, len(req.Messages), len(req.Tools))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("%sHTTP request failed: %v", prefix, err)
		return nil, fmt.Errorf("reasoning request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("%sError response %d: %s", prefix, resp.StatusCode, truncateForLog(respBody))
		return nil, NewHTTPStatusError(resp.StatusCode, resp.Status, string(respBody))
	}

	var wire struct {
		ports.CompletionResponse
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if wire.Error != nil && wire.Error.Message != "" {
		if wire.Error.Type != "" {
			return nil, fmt.Errorf("reasoning service error: %s: %s", wire.Error.Type, wire.Error.Message)
		}
		return nil, fmt.Errorf("reasoning service error: %s", wire.Error.Message)
	}

	result := wire.CompletionResponse
	normalizeStopReason(&result)
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["request_id"] = requestID

	c.logger.Debug("%s=== Reasoning Response ===", prefix)
	c.logger.Debug("%sStop: %s content=%d chars tool_calls=%d tokens=%d",
		prefix, result.StopReason, len(result.Content), len(result.ToolCalls), result.Usage.TotalTokens)

	return &result, nil
}

func (c *HTTPClient) Model() string {
	return c.model
}

// normalizeStopReason folds provider spellings into the three canonical stop
// reasons. Unknown non-empty values pass through untouched.
func normalizeStopReason(resp *ports.CompletionResponse) {
	switch strings.ToLower(strings.TrimSpace(resp.StopReason)) {
	case ports.StopEndTurn, "stop", "completed":
		resp.StopReason = ports.StopEndTurn
	case ports.StopToolUse, "tool_calls", "function_call":
		resp.StopReason = ports.StopToolUse
	case ports.StopLengthLimit, "length", "max_tokens":
		resp.StopReason = ports.StopLengthLimit
	case "":
		if len(resp.ToolCalls) > 0 {
			resp.StopReason = ports.StopToolUse
		} else {
			resp.StopReason = ports.StopEndTurn
		}
	}
}

func extractRequestID(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata["request_id"].(string); ok {
		return v
	}
	return ""
}

func truncateForLog(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}

// HTTPStatusError carries the status code so the error tiers can classify
// the failure (429/5xx transient, other 4xx permanent).
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// NewHTTPStatusError creates an HTTP status error.
func NewHTTPStatusError(statusCode int, status, body string) error {
	return &HTTPStatusError{StatusCode: statusCode, Status: status, Body: body}
}

var _ ports.ReasoningClient = (*HTTPClient)(nil)
