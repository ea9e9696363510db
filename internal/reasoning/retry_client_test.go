package reasoning

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"aide/internal/agent/ports"
	"aide/internal/agent/ports/mocks"
	aideerrors "aide/internal/errors"
)

func fastRetryConfig() aideerrors.RetryConfig {
	return aideerrors.RetryConfig{
		MaxAttempts:  2,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0,
	}
}

func TestRetryClientRecoversFromTransientFailures(t *testing.T) {
	attempts := 0
	underlying := &mocks.MockReasoningClient{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			attempts++
			if attempts < 3 {
				return nil, NewHTTPStatusError(http.StatusServiceUnavailable, "503 Service Unavailable", "")
			}
			return &ports.CompletionResponse{Content: "recovered", StopReason: ports.StopEndTurn}, nil
		},
	}

	client := WrapWithRetry(underlying, fastRetryConfig(), aideerrors.DefaultCircuitBreakerConfig())
	resp, err := client.Complete(context.Background(), ports.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryClientStopsOnPermanentError(t *testing.T) {
	attempts := 0
	underlying := &mocks.MockReasoningClient{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			attempts++
			return nil, NewHTTPStatusError(http.StatusUnauthorized, "401 Unauthorized", "")
		},
	}

	client := WrapWithRetry(underlying, fastRetryConfig(), aideerrors.DefaultCircuitBreakerConfig())
	_, err := client.Complete(context.Background(), ports.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error for permanent failure")
	}
	if attempts != 1 {
		t.Errorf("expected no retries for permanent error, got %d attempts", attempts)
	}
}

func TestRetryClientCircuitBreakerOpensAfterFailures(t *testing.T) {
	attempts := 0
	underlying := &mocks.MockReasoningClient{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			attempts++
			return nil, NewHTTPStatusError(http.StatusServiceUnavailable, "503 Service Unavailable", "")
		},
	}

	breakerConfig := aideerrors.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	}
	client := WrapWithRetry(underlying, fastRetryConfig(), breakerConfig)

	// First call burns through retries and trips the breaker.
	if _, err := client.Complete(context.Background(), ports.CompletionRequest{}); err == nil {
		t.Fatal("expected failure")
	}
	attemptsAfterFirst := attempts

	// With the breaker open the underlying client is not consulted again.
	_, err := client.Complete(context.Background(), ports.CompletionRequest{})
	if err == nil {
		t.Fatal("expected fast failure while breaker open")
	}
	if attempts != attemptsAfterFirst {
		t.Errorf("expected no further attempts while open, got %d extra", attempts-attemptsAfterFirst)
	}
	if !strings.Contains(err.Error(), "unavailable") {
		t.Errorf("expected actionable degraded message, got %q", err.Error())
	}
}

func TestRetryClientPassesThroughSuccess(t *testing.T) {
	underlying := &mocks.MockReasoningClient{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			return &ports.CompletionResponse{Content: "first try", StopReason: ports.StopEndTurn}, nil
		},
		ModelFunc: func() string { return "prod-model" },
	}

	client := WrapWithRetry(underlying, fastRetryConfig(), aideerrors.DefaultCircuitBreakerConfig())
	resp, err := client.Complete(context.Background(), ports.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Content != "first try" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if client.Model() != "prod-model" {
		t.Errorf("expected model passthrough, got %q", client.Model())
	}
}

func TestClassifyErrorWrapsTimeouts(t *testing.T) {
	err := classifyError(fmt.Errorf("context deadline exceeded"))
	if !aideerrors.IsTransient(err) {
		t.Errorf("expected timeout classified transient, got %v", err)
	}

	wrapped := classifyError(aideerrors.NewPermanentError(fmt.Errorf("boom"), "no"))
	if aideerrors.IsTransient(wrapped) {
		t.Error("expected already-classified permanent error untouched")
	}
}
