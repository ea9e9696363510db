// Package config loads and validates the application configuration from
// file, environment and defaults, and watches the file for changes.
package config

import (
	"fmt"
	"strings"
)

const (
	DefaultProvider        = "openai"
	DefaultModel           = "gpt-4o-mini"
	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultRequestTimeout  = 120
	DefaultCacheSize       = 64
	DefaultCacheTTLSeconds = 1800

	DefaultMaxIterations = 50
	DefaultMaxTokens     = 8192
	DefaultTemperature   = 0.7

	DefaultPlannerParallel = 4

	DefaultCheckpointInterval = 10
	DefaultCheckpointKeep     = 5
	DefaultResumeWindow       = 3600
	DefaultTranscriptTail     = 20

	DefaultCommandTimeout = 120
	DefaultFetchTimeout   = 30

	DefaultVerifyThreshold      = 0.7
	DefaultProbeTimeout         = 10
	DefaultVerifyCommandTimeout = 120
	DefaultVerifyConcurrency    = 4

	DefaultServerHost      = "127.0.0.1"
	DefaultServerPort      = 8080
	DefaultServerTimeout   = 15
	DefaultShutdownTimeout = 30
)

// Config is the full application configuration tree.
type Config struct {
	DataDir       string              `mapstructure:"data_dir"`
	Provider      ProviderConfig      `mapstructure:"provider"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Planner       PlannerConfig       `mapstructure:"planner"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint"`
	Memory        MemoryConfig        `mapstructure:"memory"`
	Tools         ToolsConfig         `mapstructure:"tools"`
	Verification  VerificationConfig  `mapstructure:"verification"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Server        ServerConfig        `mapstructure:"server"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ProviderConfig selects and authenticates the reasoning backend.
type ProviderConfig struct {
	Name           string `mapstructure:"name"`
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	CompletionPath string `mapstructure:"completion_path"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	// CacheSize and CacheTTLSeconds tune the completion response cache.
	// A size of zero disables caching.
	CacheSize       int `mapstructure:"cache_size"`
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

// EngineConfig bounds a single task run.
type EngineConfig struct {
	// MaxIterations caps the iteration budget regardless of what the
	// complexity estimate recommends.
	MaxIterations int     `mapstructure:"max_iterations"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
}

// PlannerConfig tunes decomposition and batch execution.
type PlannerConfig struct {
	// AllowDegraded lets execution continue on the fallback chunk plan
	// when structured decomposition fails.
	AllowDegraded bool `mapstructure:"allow_degraded"`
	// MaxParallel bounds concurrently running subtasks in one batch.
	MaxParallel int `mapstructure:"max_parallel"`
}

// CheckpointConfig tunes persistence cadence and resume policy.
type CheckpointConfig struct {
	// Dir is the checkpoint store root. Empty derives <data_dir>/checkpoints.
	Dir string `mapstructure:"dir"`
	// Interval is the iteration delta between periodic checkpoints.
	Interval int `mapstructure:"interval"`
	// KeepLast bounds stored checkpoints per task.
	KeepLast int `mapstructure:"keep_last"`
	// ResumeWindowSeconds is how long after the latest checkpoint a task
	// stays resumable.
	ResumeWindowSeconds int `mapstructure:"resume_window_seconds"`
	// TranscriptTail is how many trailing transcript messages survive
	// truncation in stored checkpoints.
	TranscriptTail int `mapstructure:"transcript_tail"`
}

// MemoryConfig locates the discovery store.
type MemoryConfig struct {
	// Dir persists the vector collections. Empty derives <data_dir>/memory;
	// the literal ":memory:" keeps everything in process.
	Dir string `mapstructure:"dir"`
}

// ToolsConfig tunes the builtin tool registry.
type ToolsConfig struct {
	Workspace string `mapstructure:"workspace"`
	// AllowDangerous permits tools flagged dangerous (run_command).
	AllowDangerous        bool `mapstructure:"allow_dangerous"`
	CommandTimeoutSeconds int  `mapstructure:"command_timeout_seconds"`
	FetchTimeoutSeconds   int  `mapstructure:"fetch_timeout_seconds"`
	CacheResults          bool `mapstructure:"cache_results"`
}

// VerificationConfig tunes outcome verification.
type VerificationConfig struct {
	Threshold             float64 `mapstructure:"threshold"`
	ProbeTimeoutSeconds   int     `mapstructure:"probe_timeout_seconds"`
	CommandTimeoutSeconds int     `mapstructure:"command_timeout_seconds"`
	MaxConcurrent         int     `mapstructure:"max_concurrent"`
}

// TriggerConfig is one statically configured scheduler trigger.
type TriggerConfig struct {
	Name     string `mapstructure:"name"`
	Schedule string `mapstructure:"schedule"`
	Goal     string `mapstructure:"goal"`
	Owner    string `mapstructure:"owner"`
}

// SchedulerConfig tunes recurring goal submission.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// TriggersPath is an optional YAML file of triggers, resynced while
	// the scheduler runs.
	TriggersPath string `mapstructure:"triggers_path"`
	// ConcurrencyPolicy is "skip" or "delay" for overlapping runs.
	ConcurrencyPolicy     string          `mapstructure:"concurrency_policy"`
	TriggerTimeoutSeconds int             `mapstructure:"trigger_timeout_seconds"`
	Triggers              []TriggerConfig `mapstructure:"triggers"`
}

// ServerConfig tunes the HTTP status API.
type ServerConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	EnableCORS          bool   `mapstructure:"enable_cors"`
	Debug               bool   `mapstructure:"debug"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
}

// WebhookConfig configures the webhook notification channel.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// WebPushConfig configures the browser push notification channel.
type WebPushConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subscriber      string `mapstructure:"subscriber"`
	TTLSeconds      int    `mapstructure:"ttl_seconds"`
}

// NotificationsConfig selects delivery channels.
type NotificationsConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Webhook   WebhookConfig `mapstructure:"webhook"`
	WebPush   WebPushConfig `mapstructure:"webpush"`
	WebSocket bool          `mapstructure:"websocket"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File appends logs to a path instead of stderr. Empty keeps stderr.
	File string `mapstructure:"file"`
}

// MetricsConfig tunes the otel meter and its Prometheus exposition.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// PrometheusPort serves a standalone /metrics listener for headless
	// runs. Zero disables it; the HTTP API always exposes /metrics.
	PrometheusPort int `mapstructure:"prometheus_port"`
}

// TracingConfig tunes distributed tracing export.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Exporter       string  `mapstructure:"exporter"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ZipkinEndpoint string  `mapstructure:"zipkin_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate"`
	ServiceName    string  `mapstructure:"service_name"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ValidationIssue is a single validation finding.
type ValidationIssue struct {
	ID      string
	Message string
	Hint    string
}

// ValidationReport separates blocking errors from advisory warnings.
type ValidationReport struct {
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

// HasErrors reports whether the report contains blocking errors.
func (r ValidationReport) HasErrors() bool {
	return len(r.Errors) > 0
}

// Err folds the blocking errors into a single error, or nil.
func (r ValidationReport) Err() error {
	if !r.HasErrors() {
		return nil
	}
	messages := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		messages = append(messages, issue.Message)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}

// ProviderRequiresAPIKey reports whether the named provider needs key
// authentication. Local and scripted providers do not.
func ProviderRequiresAPIKey(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mock", "ollama", "llama.cpp", "llamacpp":
		return false
	default:
		return true
	}
}

// Validate checks the configuration and reports findings. A missing API
// key is a warning, not an error: the runtime falls back to the scripted
// provider so the binary stays usable without credentials.
func (c *Config) Validate() ValidationReport {
	var report ValidationReport
	fail := func(id, message, hint string) {
		report.Errors = append(report.Errors, ValidationIssue{ID: id, Message: message, Hint: hint})
	}
	warn := func(id, message, hint string) {
		report.Warnings = append(report.Warnings, ValidationIssue{ID: id, Message: message, Hint: hint})
	}

	if strings.TrimSpace(c.Provider.Name) == "" {
		fail("provider-name", "provider.name is required", "Set provider.name (openai, ollama or mock).")
	}
	if ProviderRequiresAPIKey(c.Provider.Name) {
		if strings.TrimSpace(c.Provider.Model) == "" {
			fail("provider-model", "provider.model is required", "Set provider.model to a model the endpoint serves.")
		}
		if strings.TrimSpace(c.Provider.APIKey) == "" {
			warn("provider-api-key", "no API key configured for provider "+c.Provider.Name,
				"Set provider.api_key or AIDE_PROVIDER_API_KEY; runs fall back to the mock provider without one.")
		}
	}

	if c.Engine.MaxIterations < 1 {
		fail("engine-iterations", fmt.Sprintf("engine.max_iterations must be at least 1, got %d", c.Engine.MaxIterations), "")
	}
	if c.Engine.Temperature < 0 || c.Engine.Temperature > 2 {
		fail("engine-temperature", fmt.Sprintf("engine.temperature must be within [0, 2], got %g", c.Engine.Temperature), "")
	}

	if c.Checkpoint.Interval < 1 {
		fail("checkpoint-interval", "checkpoint.interval must be at least 1", "")
	}
	if c.Checkpoint.KeepLast < 1 {
		fail("checkpoint-keep", "checkpoint.keep_last must be at least 1", "")
	}

	if c.Verification.Threshold < 0 || c.Verification.Threshold > 1 {
		fail("verify-threshold", fmt.Sprintf("verification.threshold must be within [0, 1], got %g", c.Verification.Threshold), "")
	}

	switch strings.ToLower(strings.TrimSpace(c.Scheduler.ConcurrencyPolicy)) {
	case "", "skip", "delay":
	default:
		warn("scheduler-policy", "unknown scheduler.concurrency_policy "+c.Scheduler.ConcurrencyPolicy,
			"Use skip or delay; unknown values behave like skip.")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		fail("server-port", fmt.Sprintf("server.port must be within [1, 65535], got %d", c.Server.Port), "")
	}
	if c.Metrics.PrometheusPort < 0 || c.Metrics.PrometheusPort > 65535 {
		fail("metrics-port", fmt.Sprintf("metrics.prometheus_port must be within [0, 65535], got %d", c.Metrics.PrometheusPort), "")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		fail("log-level", "logging.level must be one of debug, info, warn, error", "")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "json", "text":
	default:
		fail("log-format", "logging.format must be json or text", "")
	}

	if c.Tracing.Enabled {
		switch strings.ToLower(strings.TrimSpace(c.Tracing.Exporter)) {
		case "otlp", "zipkin":
		default:
			fail("tracing-exporter", "tracing.exporter must be otlp or zipkin when tracing is enabled", "")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			fail("tracing-sample", fmt.Sprintf("tracing.sample_rate must be within [0, 1], got %g", c.Tracing.SampleRate), "")
		}
	}

	if c.Shutdown.TimeoutSeconds < 1 {
		fail("shutdown-timeout", "shutdown.timeout_seconds must be at least 1", "")
	}

	for i, trigger := range c.Scheduler.Triggers {
		if strings.TrimSpace(trigger.Name) == "" || strings.TrimSpace(trigger.Schedule) == "" || strings.TrimSpace(trigger.Goal) == "" {
			fail("scheduler-trigger", fmt.Sprintf("scheduler.triggers[%d] needs name, schedule and goal", i), "")
		}
	}

	return report
}
