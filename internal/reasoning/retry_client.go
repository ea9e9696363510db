package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aide/internal/agent/ports"
	aideerrors "aide/internal/errors"
	"aide/internal/logging"
)

// retryClient wraps a reasoning client with retry logic and a circuit
// breaker. Transient failures are retried with backoff; while the breaker
// is open requests fail fast with an actionable message.
type retryClient struct {
	underlying     ports.ReasoningClient
	retryConfig    aideerrors.RetryConfig
	circuitBreaker *aideerrors.CircuitBreaker
	logger         logging.Logger
}

// NewRetryClient wraps a reasoning client with retry and circuit breaker logic.
func NewRetryClient(client ports.ReasoningClient, retryConfig aideerrors.RetryConfig, circuitBreaker *aideerrors.CircuitBreaker) ports.ReasoningClient {
	return &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logging.NewComponentLogger("reasoning-retry"),
	}
}

// WrapWithRetry wraps client with a dedicated circuit breaker plus retries.
func WrapWithRetry(client ports.ReasoningClient, retryConfig aideerrors.RetryConfig, breakerConfig aideerrors.CircuitBreakerConfig) ports.ReasoningClient {
	breaker := aideerrors.NewCircuitBreaker(fmt.Sprintf("reasoning-%s", client.Model()), breakerConfig)
	return NewRetryClient(client, retryConfig, breaker)
}

func (c *retryClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	startTime := time.Now()

	resp, err := aideerrors.RetryWithResultAndLog(ctx, c.retryConfig, func(ctx context.Context) (*ports.CompletionResponse, error) {
		return aideerrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*ports.CompletionResponse, error) {
			response, err := c.underlying.Complete(ctx, req)
			if err != nil {
				return nil, classifyError(err)
			}
			return response, nil
		})
	}, c.logger)

	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Reasoning request failed after retries (took %v): %v", duration, err)
		if aideerrors.IsDegraded(err) {
			return nil, fmt.Errorf("%s", aideerrors.Actionable(err))
		}
		return nil, fmt.Errorf("%s Retried %d times over %v.",
			aideerrors.Actionable(err), c.retryConfig.MaxAttempts+1, duration.Round(time.Second))
	}

	if duration > 5*time.Second {
		c.logger.Debug("Reasoning request succeeded after %v", duration)
	}

	return resp, nil
}

func (c *retryClient) Model() string {
	return c.underlying.Model()
}

// classifyError wraps raw transport failures into the error tiers so the
// retry loop only re-attempts what can plausibly recover. Errors that are
// already classified pass through.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if aideerrors.IsDegraded(err) || aideerrors.IsTransient(err) || aideerrors.IsPermanent(err) {
		return err
	}

	lowerErr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErr, "timeout") || strings.Contains(lowerErr, "deadline exceeded"):
		return aideerrors.NewTransientError(err, "Request timed out. Retrying with backoff.")
	case strings.Contains(lowerErr, "connection refused") || strings.Contains(lowerErr, "connection reset") || strings.Contains(lowerErr, "broken pipe"):
		return aideerrors.NewTransientError(err, "Reasoning service not reachable. Retrying request.")
	case strings.Contains(lowerErr, "no such host") || strings.Contains(lowerErr, "dns"):
		return aideerrors.NewTransientError(err, "Network connectivity issue. Retrying request.")
	}
	return err
}

var _ ports.ReasoningClient = (*retryClient)(nil)
