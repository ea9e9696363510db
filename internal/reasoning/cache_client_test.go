package reasoning

import (
	"context"
	"fmt"
	"testing"
	"time"

	"aide/internal/agent/ports"
	"aide/internal/agent/ports/mocks"
)

func countingClient(counter *int, content string) *mocks.MockReasoningClient {
	return &mocks.MockReasoningClient{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			*counter++
			return &ports.CompletionResponse{
				Content:    content,
				StopReason: ports.StopEndTurn,
				Metadata:   map[string]any{"origin": "live"},
			}, nil
		},
	}
}

func sampleRequest(goal string) ports.CompletionRequest {
	return ports.CompletionRequest{
		Messages:    []ports.Message{{Role: ports.RoleUser, Content: goal}},
		Temperature: 0.7,
		MaxTokens:   256,
	}
}

func TestCacheClientReplaysIdenticalRequests(t *testing.T) {
	calls := 0
	cached := NewCacheClient(countingClient(&calls, "answer"), CacheConfig{})

	ctx := context.Background()
	first, err := cached.Complete(ctx, sampleRequest("list repos"))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	second, err := cached.Complete(ctx, sampleRequest("list repos"))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected 1 upstream completion, got %d", calls)
	}
	if second.Content != first.Content {
		t.Errorf("expected replayed content, got %q vs %q", second.Content, first.Content)
	}
}

func TestCacheClientKeyCoversSamplingParameters(t *testing.T) {
	calls := 0
	cached := NewCacheClient(countingClient(&calls, "answer"), CacheConfig{})

	ctx := context.Background()
	req := sampleRequest("list repos")
	if _, err := cached.Complete(ctx, req); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	req.Temperature = 0.1
	if _, err := cached.Complete(ctx, req); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if calls != 2 {
		t.Errorf("expected different temperature to miss, got %d upstream calls", calls)
	}
}

func TestCacheClientIgnoresMetadataInKey(t *testing.T) {
	calls := 0
	cached := NewCacheClient(countingClient(&calls, "answer"), CacheConfig{})

	ctx := context.Background()
	req := sampleRequest("list repos")
	req.Metadata = map[string]any{"request_id": "req-1"}
	if _, err := cached.Complete(ctx, req); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	req.Metadata = map[string]any{"request_id": "req-2"}
	if _, err := cached.Complete(ctx, req); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected metadata-only difference to hit, got %d upstream calls", calls)
	}
}

func TestCacheClientDoesNotCacheErrors(t *testing.T) {
	calls := 0
	failing := &mocks.MockReasoningClient{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			calls++
			return nil, fmt.Errorf("boom")
		},
	}
	cached := NewCacheClient(failing, CacheConfig{})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := cached.Complete(ctx, sampleRequest("list repos")); err == nil {
			t.Fatal("expected error")
		}
	}
	if calls != 2 {
		t.Errorf("expected errors to bypass the cache, got %d upstream calls", calls)
	}
}

func TestCacheClientExpiresEntries(t *testing.T) {
	calls := 0
	cached := NewCacheClient(countingClient(&calls, "answer"), CacheConfig{TTL: 5 * time.Millisecond})

	ctx := context.Background()
	if _, err := cached.Complete(ctx, sampleRequest("list repos")); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := cached.Complete(ctx, sampleRequest("list repos")); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected expired entry to refetch, got %d upstream calls", calls)
	}
}

func TestCacheClientReplaysAreNotAliased(t *testing.T) {
	calls := 0
	cached := NewCacheClient(countingClient(&calls, "answer"), CacheConfig{})

	ctx := context.Background()
	first, err := cached.Complete(ctx, sampleRequest("list repos"))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	first.Metadata["origin"] = "tampered"

	second, err := cached.Complete(ctx, sampleRequest("list repos"))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if second.Metadata["origin"] != "live" {
		t.Errorf("cached response was aliased: %v", second.Metadata["origin"])
	}
}
