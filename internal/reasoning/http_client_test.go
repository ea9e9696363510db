package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aide/internal/agent/ports"
	aideerrors "aide/internal/errors"
)

func newTestClient(t *testing.T, serverURL string) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient(Config{
		BaseURL: serverURL,
		APIKey:  "test-key",
		Model:   "test-model",
	})
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	return client
}

func TestHTTPClientSendsWireRequest(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/v1/complete") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"content":"done","stop_reason":"end_turn"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Complete(context.Background(), ports.CompletionRequest{
		Messages:    []ports.Message{{Role: ports.RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   100,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if captured["model"] != "test-model" {
		t.Errorf("expected model in wire request, got %v", captured["model"])
	}
	if _, ok := captured["messages"]; !ok {
		t.Error("expected messages in wire request")
	}
	if resp.Content != "done" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.StopReason != ports.StopEndTurn {
		t.Errorf("unexpected stop reason %q", resp.StopReason)
	}
}

func TestHTTPClientParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"tool_calls":[{"id":"tc-1","name":"http_fetch","arguments":{"url":"https://example.com"}}],
			"stop_reason":"tool_use",
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Complete(context.Background(), ports.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "tc-1" || call.Name != "http_fetch" {
		t.Errorf("unexpected tool call %+v", call)
	}
	if call.Arguments["url"] != "https://example.com" {
		t.Errorf("unexpected arguments %v", call.Arguments)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestHTTPClientNormalizesStopReasons(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"content":"x","stop_reason":"stop"}`, ports.StopEndTurn},
		{`{"content":"x","stop_reason":"length"}`, ports.StopLengthLimit},
		{`{"content":"x","stop_reason":"max_tokens"}`, ports.StopLengthLimit},
		{`{"tool_calls":[{"id":"a","name":"t"}],"stop_reason":"tool_calls"}`, ports.StopToolUse},
		{`{"tool_calls":[{"id":"a","name":"t"}]}`, ports.StopToolUse},
		{`{"content":"x"}`, ports.StopEndTurn},
		{`{"content":"x","stop_reason":"custom_reason"}`, "custom_reason"},
	}

	for _, tt := range tests {
		body := tt.body
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		client := newTestClient(t, server.URL)
		resp, err := client.Complete(context.Background(), ports.CompletionRequest{})
		server.Close()
		if err != nil {
			t.Fatalf("Complete failed for %s: %v", tt.body, err)
		}
		if resp.StopReason != tt.want {
			t.Errorf("body %s: expected stop reason %q, got %q", tt.body, tt.want, resp.StopReason)
		}
	}
}

func TestHTTPClientStatusErrorsClassify(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		status := tt.status
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			fmt.Fprint(w, "upstream said no")
		}))
		client := newTestClient(t, server.URL)
		_, err := client.Complete(context.Background(), ports.CompletionRequest{})
		server.Close()

		if err == nil {
			t.Fatalf("expected error for status %d", status)
		}
		var statusErr *HTTPStatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("expected HTTPStatusError, got %T", err)
		}
		if statusErr.StatusCode != status {
			t.Errorf("expected status %d, got %d", status, statusErr.StatusCode)
		}
		if got := aideerrors.IsTransient(err); got != tt.transient {
			t.Errorf("status %d: expected transient=%v, got %v", status, tt.transient, got)
		}
	}
}

func TestHTTPClientServiceErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"type":"overloaded","message":"try later"}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Complete(context.Background(), ports.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error for error payload")
	}
	if !strings.Contains(err.Error(), "overloaded") || !strings.Contains(err.Error(), "try later") {
		t.Errorf("expected error payload surfaced, got %v", err)
	}
}

func TestHTTPClientRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPClient(Config{}); err == nil {
		t.Error("expected error without base URL")
	}
}

func TestHTTPClientExtraHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Org") != "acme" {
			t.Errorf("expected extra header, got %q", r.Header.Get("X-Org"))
		}
		fmt.Fprint(w, `{"content":"ok"}`)
	}))
	defer server.Close()

	client, err := NewHTTPClient(Config{
		BaseURL: server.URL,
		Model:   "test-model",
		Headers: map[string]string{"X-Org": "acme"},
	})
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	if _, err := client.Complete(context.Background(), ports.CompletionRequest{}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
}
