package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"aide/internal/agent/app"
	"aide/internal/agent/domain"
	"aide/internal/agent/ports"
	"aide/internal/checkpoint"
	"aide/internal/checkpoint/filestore"
	"aide/internal/checkpoint/sqlitestore"
	"aide/internal/config"
	aideerrors "aide/internal/errors"
	"aide/internal/logging"
	"aide/internal/memory"
	"aide/internal/notification"
	"aide/internal/observability"
	"aide/internal/reasoning"
	"aide/internal/toolregistry"
	"aide/internal/verify"
)

// defaultSystemPrompt seeds every task transcript. Kept short: the goal
// and tool schemas carry the specifics.
const defaultSystemPrompt = `You are aide, an autonomous task agent. Work toward the stated goal
using the tools available to you. Think before acting, keep every tool
call purposeful, and when the goal is met finish with a clear final
answer describing what was done and what remains open.`

// runtime holds the wired components behind a single CLI invocation.
type runtime struct {
	cfg         *config.Config
	logger      logging.Logger
	metrics     *observability.MetricsCollector
	tracer      *observability.TracerProvider
	memory      *memory.Store
	checkpoints *checkpoint.Manager
	notifier    *notification.Center
	bridge      *notification.EventBridge
	wsChannel   *notification.WebSocketChannel
	verifier    *verify.Verifier
	coordinator *app.Coordinator

	logFile     *os.File
	storeCloser io.Closer
	closeOnce   sync.Once
}

// configureLogging installs the process-wide logger. The returned file
// handle is non-nil when logs go to disk; the caller owns closing it.
func configureLogging(cfg *config.Config) (*os.File, error) {
	var output io.Writer
	var file *os.File
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file, output = f, f
	}
	logging.SetDefault(observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: output,
	}))
	return file, nil
}

// buildRuntime wires the full component graph from configuration.
// Extra listeners (progress printers) are fanned in alongside the
// notification bridge.
func buildRuntime(cfg *config.Config, listeners ...ports.EventListener) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	logFile, err := configureLogging(cfg)
	if err != nil {
		return nil, err
	}
	rt.logFile = logFile
	rt.logger = logging.NewComponentLogger("Runtime")

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled:        cfg.Metrics.Enabled,
		PrometheusPort: cfg.Metrics.PrometheusPort,
	})
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	rt.metrics = metrics

	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		ZipkinEndpoint: cfg.Tracing.ZipkinEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	rt.tracer = tracer

	persistPath := cfg.Memory.Dir
	if persistPath == ":memory:" {
		persistPath = ""
	}
	memStore, err := memory.NewStore(memory.Config{
		PersistPath: persistPath,
		Logger:      logging.NewComponentLogger("Memory"),
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	rt.memory = memStore

	cpStore, cpCloser, err := newCheckpointStore(cfg.Checkpoint.Dir)
	if err != nil {
		return nil, err
	}
	rt.storeCloser = cpCloser
	rt.checkpoints = checkpoint.New(cpStore, checkpoint.Config{
		Interval:       cfg.Checkpoint.Interval,
		KeepLast:       cfg.Checkpoint.KeepLast,
		MaxAge:         cfg.Checkpoint.ResumeWindow(),
		TranscriptTail: cfg.Checkpoint.TranscriptTail,
		Logger:         logging.NewComponentLogger("Checkpoint"),
		Discoveries:    memStore,
	})

	workspace := cfg.Tools.Workspace
	if workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			workspace = wd
		}
	}

	tools := toolregistry.NewRegistry(toolregistry.Config{
		Workspace:      workspace,
		AllowDangerous: cfg.Tools.AllowDangerous,
		FetchTimeout:   cfg.Tools.FetchTimeout(),
		CommandTimeout: cfg.Tools.CommandTimeout(),
		CacheResults:   cfg.Tools.CacheResults,
	})

	reasoningClient, mocked := buildReasoningClient(cfg, rt.logger)

	rt.verifier = verify.New(verify.Config{
		Threshold:      cfg.Verification.Threshold,
		ProbeTimeout:   cfg.Verification.ProbeTimeout(),
		CommandTimeout: cfg.Verification.CommandTimeout(),
		MaxConcurrent:  cfg.Verification.MaxConcurrent,
		Logger:         logging.NewComponentLogger("Verify"),
	})

	rt.buildNotifications(cfg)

	var events domain.EventListener
	all := make([]ports.EventListener, 0, len(listeners)+1)
	if rt.bridge != nil {
		all = append(all, rt.bridge)
	}
	for _, l := range listeners {
		if l != nil {
			all = append(all, l)
		}
	}
	switch len(all) {
	case 0:
	case 1:
		events = all[0]
	default:
		events = fanListener(all)
	}

	var analyzer domain.Analyzer
	if !mocked {
		analyzer = app.NewReasoningAnalyzer(reasoningClient)
	}

	coordinator, err := app.New(app.Config{
		MaxIterations: cfg.Engine.MaxIterations,
		AllowDegraded: cfg.Planner.AllowDegraded,
		MaxParallel:   cfg.Planner.MaxParallel,
		Workspace:     workspace,
		SystemPrompt:  defaultSystemPrompt,
		Completion:    completionDefaults(cfg),
	}, app.Deps{
		Reasoning:   reasoningClient,
		Tools:       tools,
		Analyzer:    analyzer,
		Checkpoints: rt.checkpoints,
		Verifier:    rt.verifier,
		Events:      events,
		Metrics:     rt.metrics,
		Tracer:      rt.tracer,
		Logger:      logging.NewComponentLogger("Coordinator"),
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	rt.coordinator = coordinator

	return rt, nil
}

func (rt *runtime) buildNotifications(cfg *config.Config) {
	if !cfg.Notifications.Enabled {
		return
	}
	center := notification.NewCenter(
		notification.WithLogger(logging.NewComponentLogger("Notification")),
		notification.WithMetrics(rt.metrics),
		notification.WithDefaultChannel("log"),
	)
	center.RegisterChannel(notification.NewLogChannel("log", nil), notification.ChannelConfig{
		Name:        "log",
		Enabled:     true,
		MinPriority: notification.PriorityLow,
		IsDefault:   true,
	})
	if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
		center.RegisterChannel(notification.NewWebhookChannel("webhook", cfg.Notifications.Webhook.URL), notification.ChannelConfig{
			Name:        "webhook",
			Enabled:     true,
			MinPriority: notification.PriorityNormal,
		})
	}
	if cfg.Notifications.WebPush.Enabled {
		push := notification.NewWebPushChannel("webpush", notification.WebPushConfig{
			VAPIDPublicKey:  cfg.Notifications.WebPush.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.Notifications.WebPush.VAPIDPrivateKey,
			Subscriber:      cfg.Notifications.WebPush.Subscriber,
			TTL:             cfg.Notifications.WebPush.TTLSeconds,
		}, logging.NewComponentLogger("WebPush"))
		center.RegisterChannel(push, notification.ChannelConfig{
			Name:        "webpush",
			Enabled:     true,
			MinPriority: notification.PriorityHigh,
		})
	}
	if cfg.Notifications.WebSocket {
		ws := notification.NewWebSocketChannel("websocket", logging.NewComponentLogger("WebSocket"))
		rt.wsChannel = ws
		center.RegisterChannel(ws, notification.ChannelConfig{
			Name:        "websocket",
			Enabled:     true,
			MinPriority: notification.PriorityLow,
		})
	}
	rt.notifier = center
	rt.bridge = notification.NewEventBridge(center, logging.NewComponentLogger("Notification"))
}

// notifierOrNil avoids handing out a typed-nil Notifier interface.
func (rt *runtime) notifierOrNil() notification.Notifier {
	if rt.notifier == nil {
		return nil
	}
	return rt.notifier
}

// Close flushes and releases everything Close order depends on: bridge
// before channels, exporters before the log file. Safe to call twice.
func (rt *runtime) Close() error {
	rt.closeOnce.Do(func() {
		if rt.bridge != nil {
			rt.bridge.Flush()
		}
		if rt.wsChannel != nil {
			rt.wsChannel.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rt.metrics != nil {
			if err := rt.metrics.Shutdown(ctx); err != nil {
				rt.logger.Warn("Metrics shutdown: %v", err)
			}
		}
		if rt.tracer != nil {
			if err := rt.tracer.Shutdown(ctx); err != nil {
				rt.logger.Warn("Tracer shutdown: %v", err)
			}
		}
		if rt.storeCloser != nil {
			if err := rt.storeCloser.Close(); err != nil {
				rt.logger.Warn("Checkpoint store close: %v", err)
			}
		}
		if rt.logFile != nil {
			_ = rt.logFile.Close()
		}
	})
	return nil
}

// buildReasoningClient assembles the provider chain: HTTP client inside
// retry and circuit breaker, optionally fronted by the response cache.
// Without a usable provider it falls back to the offline mock so the
// CLI stays runnable.
func buildReasoningClient(cfg *config.Config, logger logging.Logger) (ports.ReasoningClient, bool) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider.Name))
	mocked := name == "mock"
	if !mocked && config.ProviderRequiresAPIKey(name) && strings.TrimSpace(cfg.Provider.APIKey) == "" {
		logger.Warn("No API key configured for provider %q; using the mock provider", cfg.Provider.Name)
		mocked = true
	}
	if mocked {
		return mockReasoningClient(cfg.Provider.Model), true
	}

	client, err := reasoning.NewHTTPClient(reasoning.Config{
		BaseURL:        cfg.Provider.BaseURL,
		CompletionPath: cfg.Provider.CompletionPath,
		APIKey:         cfg.Provider.APIKey,
		Model:          cfg.Provider.Model,
		Timeout:        cfg.Provider.RequestTimeout(),
	})
	if err != nil {
		logger.Warn("Reasoning client unavailable (%v); using the mock provider", err)
		return mockReasoningClient(cfg.Provider.Model), true
	}

	breaker := aideerrors.NewCircuitBreaker("reasoning", aideerrors.DefaultCircuitBreakerConfig())
	wrapped := reasoning.NewRetryClient(client, aideerrors.DefaultRetryConfig(), breaker)
	if cfg.Provider.CacheSize > 0 {
		wrapped = reasoning.NewCacheClient(wrapped, reasoning.CacheConfig{
			Size: cfg.Provider.CacheSize,
			TTL:  cfg.Provider.CacheTTL(),
		})
	}
	return wrapped, false
}

func mockReasoningClient(model string) ports.ReasoningClient {
	if model == "" {
		model = "mock"
	}
	return reasoning.NewLoopingClient(model, &ports.CompletionResponse{
		Content: "No reasoning provider is configured, so this run used the " +
			"built-in mock and performed no real work. Set provider.api_key " +
			"in aide.yaml (or the AIDE_PROVIDER_API_KEY environment variable) " +
			"and run the goal again.",
		StopReason: ports.StopEndTurn,
	})
}

// newCheckpointStore picks the backend from the configured path: a
// .db/.sqlite path opens the sqlite store, anything else is treated as
// the filestore directory.
func newCheckpointStore(path string) (ports.CheckpointStore, io.Closer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("checkpoint directory: %w", err)
			}
		}
		store, err := sqlitestore.New(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open checkpoint database: %w", err)
		}
		return store, store, nil
	default:
		return filestore.New(path), nil, nil
	}
}

func completionDefaults(cfg *config.Config) domain.CompletionDefaults {
	defaults := domain.CompletionDefaults{}
	if cfg.Engine.Temperature > 0 {
		t := cfg.Engine.Temperature
		defaults.Temperature = &t
	}
	if cfg.Engine.MaxTokens > 0 {
		m := cfg.Engine.MaxTokens
		defaults.MaxTokens = &m
	}
	return defaults
}

// fanListener forwards each event to every listener in order.
type fanListener []ports.EventListener

func (f fanListener) OnEvent(event ports.AgentEvent) {
	for _, l := range f {
		l.OnEvent(event)
	}
}
