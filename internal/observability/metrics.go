package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for aide
type MetricsCollector struct {
	meter metric.Meter

	// Reasoning metrics
	reasoningRequests metric.Int64Counter
	tokensInput       metric.Int64Counter
	tokensOutput      metric.Int64Counter
	reasoningLatency  metric.Float64Histogram

	// Task metrics
	tasksFinished metric.Int64Counter
	tasksActive   metric.Int64UpDownCounter
	iterations    metric.Int64Counter

	// Tool metrics
	toolExecutions metric.Int64Counter
	toolDuration   metric.Float64Histogram

	// Checkpoint metrics
	checkpointWrites metric.Int64Counter

	// Notification metrics
	notifyFailures metric.Int64Counter

	// Verification metrics
	verifyRuns       metric.Int64Counter
	verifyConfidence metric.Float64Histogram

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("aide")

	reasoningRequests, err := meter.Int64Counter(
		"aide.reasoning.requests.total",
		metric.WithDescription("Total number of reasoning requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning_requests counter: %w", err)
	}

	tokensInput, err := meter.Int64Counter(
		"aide.reasoning.tokens.input",
		metric.WithDescription("Total input tokens sent to the reasoning service"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens_input counter: %w", err)
	}

	tokensOutput, err := meter.Int64Counter(
		"aide.reasoning.tokens.output",
		metric.WithDescription("Total output tokens from the reasoning service"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens_output counter: %w", err)
	}

	reasoningLatency, err := meter.Float64Histogram(
		"aide.reasoning.latency",
		metric.WithDescription("Reasoning request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning_latency histogram: %w", err)
	}

	tasksFinished, err := meter.Int64Counter(
		"aide.tasks.finished.total",
		metric.WithDescription("Total number of finished tasks by terminal status"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks_finished counter: %w", err)
	}

	tasksActive, err := meter.Int64UpDownCounter(
		"aide.tasks.active",
		metric.WithDescription("Number of running tasks"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks_active gauge: %w", err)
	}

	iterationsCounter, err := meter.Int64Counter(
		"aide.iterations.total",
		metric.WithDescription("Total number of execution loop iterations"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create iterations counter: %w", err)
	}

	toolExecutions, err := meter.Int64Counter(
		"aide.tool.executions.total",
		metric.WithDescription("Total number of tool executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_executions counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"aide.tool.duration",
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_duration histogram: %w", err)
	}

	checkpointWrites, err := meter.Int64Counter(
		"aide.checkpoint.writes.total",
		metric.WithDescription("Total number of checkpoint writes by status"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint_writes counter: %w", err)
	}

	notifyFailures, err := meter.Int64Counter(
		"aide.notify.failures.total",
		metric.WithDescription("Total number of notification deliveries that failed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notify_failures counter: %w", err)
	}

	verifyRuns, err := meter.Int64Counter(
		"aide.verify.runs.total",
		metric.WithDescription("Total number of verification runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verify_runs counter: %w", err)
	}

	verifyConfidence, err := meter.Float64Histogram(
		"aide.verify.confidence",
		metric.WithDescription("Verification confidence scores"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verify_confidence histogram: %w", err)
	}

	collector := &MetricsCollector{
		meter:             meter,
		reasoningRequests: reasoningRequests,
		tokensInput:       tokensInput,
		tokensOutput:      tokensOutput,
		reasoningLatency:  reasoningLatency,
		tasksFinished:     tasksFinished,
		tasksActive:       tasksActive,
		iterations:        iterationsCounter,
		toolExecutions:    toolExecutions,
		toolDuration:      toolDuration,
		checkpointWrites:  checkpointWrites,
		notifyFailures:    notifyFailures,
		verifyRuns:        verifyRuns,
		verifyConfidence:  verifyConfidence,
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// StartPrometheusServer starts the Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordReasoningRequest records a reasoning request
func (m *MetricsCollector) RecordReasoningRequest(ctx context.Context, model string, status string, latency time.Duration, inputTokens, outputTokens int) {
	if m.reasoningRequests == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("status", status),
	}

	m.reasoningRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.tokensInput.Add(ctx, int64(inputTokens), metric.WithAttributes(attribute.String("model", model)))
	m.tokensOutput.Add(ctx, int64(outputTokens), metric.WithAttributes(attribute.String("model", model)))
	m.reasoningLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
}

// RecordToolExecution records a tool execution
func (m *MetricsCollector) RecordToolExecution(ctx context.Context, toolName string, status string, duration time.Duration) {
	if m.toolExecutions == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", toolName),
		attribute.String("status", status),
	}

	m.toolExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("tool_name", toolName)))
}

// RecordIteration records one execution loop iteration
func (m *MetricsCollector) RecordIteration(ctx context.Context, taskID string) {
	if m.iterations == nil {
		return
	}
	m.iterations.Add(ctx, 1, metric.WithAttributes(attribute.String("task_id", taskID)))
}

// RecordTaskFinished records a task reaching a terminal status
func (m *MetricsCollector) RecordTaskFinished(ctx context.Context, status string) {
	if m.tasksFinished == nil {
		return
	}
	m.tasksFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCheckpointWrite records a checkpoint write attempt
func (m *MetricsCollector) RecordCheckpointWrite(ctx context.Context, ok bool) {
	if m.checkpointWrites == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.checkpointWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordNotifyFailure records a failed notification delivery
func (m *MetricsCollector) RecordNotifyFailure(ctx context.Context, channel string) {
	if m.notifyFailures == nil {
		return
	}
	m.notifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

// RecordVerification records a verification run outcome
func (m *MetricsCollector) RecordVerification(ctx context.Context, verified bool, confidence float64) {
	if m.verifyRuns == nil {
		return
	}
	m.verifyRuns.Add(ctx, 1, metric.WithAttributes(attribute.Bool("verified", verified)))
	m.verifyConfidence.Record(ctx, confidence)
}

// IncrementActiveTasks increments the active tasks counter
func (m *MetricsCollector) IncrementActiveTasks(ctx context.Context) {
	if m.tasksActive == nil {
		return
	}
	m.tasksActive.Add(ctx, 1)
}

// DecrementActiveTasks decrements the active tasks counter
func (m *MetricsCollector) DecrementActiveTasks(ctx context.Context) {
	if m.tasksActive == nil {
		return
	}
	m.tasksActive.Add(ctx, -1)
}
