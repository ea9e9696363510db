package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// apiKeyEnvAliases are consulted in order when provider.api_key is unset.
var apiKeyEnvAliases = []string{"AIDE_API_KEY", "LLM_API_KEY", "OPENAI_API_KEY"}

// Load reads configuration from the given file plus AIDE_* environment
// variables on top of the defaults. An empty path searches ./aide.yaml and
// ~/.aide/aide.yaml and falls back to pure defaults when neither exists; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("aide")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".aide"))
		}
	}
	v.SetEnvPrefix("AIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnvAliases()
	cfg.applyDerivedPaths()
	if err := cfg.Validate().Err(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration that Load would produce without a file
// or environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal; the keys mirror the struct tags.
	_ = v.Unmarshal(&cfg)
	cfg.applyDerivedPaths()
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")

	v.SetDefault("provider.name", DefaultProvider)
	v.SetDefault("provider.model", DefaultModel)
	v.SetDefault("provider.base_url", DefaultBaseURL)
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.completion_path", "")
	v.SetDefault("provider.timeout_seconds", DefaultRequestTimeout)
	v.SetDefault("provider.cache_size", DefaultCacheSize)
	v.SetDefault("provider.cache_ttl_seconds", DefaultCacheTTLSeconds)

	v.SetDefault("engine.max_iterations", DefaultMaxIterations)
	v.SetDefault("engine.max_tokens", DefaultMaxTokens)
	v.SetDefault("engine.temperature", DefaultTemperature)

	v.SetDefault("planner.allow_degraded", true)
	v.SetDefault("planner.max_parallel", DefaultPlannerParallel)

	v.SetDefault("checkpoint.dir", "")
	v.SetDefault("checkpoint.interval", DefaultCheckpointInterval)
	v.SetDefault("checkpoint.keep_last", DefaultCheckpointKeep)
	v.SetDefault("checkpoint.resume_window_seconds", DefaultResumeWindow)
	v.SetDefault("checkpoint.transcript_tail", DefaultTranscriptTail)

	v.SetDefault("memory.dir", "")

	v.SetDefault("tools.workspace", "")
	v.SetDefault("tools.allow_dangerous", true)
	v.SetDefault("tools.command_timeout_seconds", DefaultCommandTimeout)
	v.SetDefault("tools.fetch_timeout_seconds", DefaultFetchTimeout)
	v.SetDefault("tools.cache_results", true)

	v.SetDefault("verification.threshold", DefaultVerifyThreshold)
	v.SetDefault("verification.probe_timeout_seconds", DefaultProbeTimeout)
	v.SetDefault("verification.command_timeout_seconds", DefaultVerifyCommandTimeout)
	v.SetDefault("verification.max_concurrent", DefaultVerifyConcurrency)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.triggers_path", "")
	v.SetDefault("scheduler.concurrency_policy", "skip")
	v.SetDefault("scheduler.trigger_timeout_seconds", 0)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", DefaultServerHost)
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.read_timeout_seconds", DefaultServerTimeout)
	v.SetDefault("server.write_timeout_seconds", DefaultServerTimeout)

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.webhook.enabled", false)
	v.SetDefault("notifications.webhook.url", "")
	v.SetDefault("notifications.webpush.enabled", false)
	v.SetDefault("notifications.webpush.vapid_public_key", "")
	v.SetDefault("notifications.webpush.vapid_private_key", "")
	v.SetDefault("notifications.webpush.subscriber", "")
	v.SetDefault("notifications.webpush.ttl_seconds", 86400)
	v.SetDefault("notifications.websocket", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.prometheus_port", 0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.zipkin_endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "aide")

	v.SetDefault("shutdown.timeout_seconds", DefaultShutdownTimeout)
}

// applyEnvAliases honors the conventional API key variables when the
// config itself carries none.
func (c *Config) applyEnvAliases() {
	if strings.TrimSpace(c.Provider.APIKey) != "" {
		return
	}
	for _, name := range apiKeyEnvAliases {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			c.Provider.APIKey = value
			return
		}
	}
}

// applyDerivedPaths fills storage locations from data_dir so one setting
// relocates everything.
func (c *Config) applyDerivedPaths() {
	if strings.TrimSpace(c.DataDir) == "" {
		base := "."
		if home, err := os.UserHomeDir(); err == nil {
			base = home
		}
		c.DataDir = filepath.Join(base, ".aide")
	}
	if strings.TrimSpace(c.Checkpoint.Dir) == "" {
		c.Checkpoint.Dir = filepath.Join(c.DataDir, "checkpoints")
	}
	if strings.TrimSpace(c.Memory.Dir) == "" {
		c.Memory.Dir = filepath.Join(c.DataDir, "memory")
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// RequestTimeout returns the provider request timeout.
func (p ProviderConfig) RequestTimeout() time.Duration { return seconds(p.TimeoutSeconds) }

// CacheTTL returns the completion cache entry lifetime.
func (p ProviderConfig) CacheTTL() time.Duration { return seconds(p.CacheTTLSeconds) }

// ResumeWindow returns how long checkpoints stay resumable.
func (c CheckpointConfig) ResumeWindow() time.Duration { return seconds(c.ResumeWindowSeconds) }

// CommandTimeout returns the run_command execution bound.
func (t ToolsConfig) CommandTimeout() time.Duration { return seconds(t.CommandTimeoutSeconds) }

// FetchTimeout returns the http_fetch request bound.
func (t ToolsConfig) FetchTimeout() time.Duration { return seconds(t.FetchTimeoutSeconds) }

// ProbeTimeout returns the deployment probe bound.
func (v VerificationConfig) ProbeTimeout() time.Duration { return seconds(v.ProbeTimeoutSeconds) }

// CommandTimeout returns the build and test command bound.
func (v VerificationConfig) CommandTimeout() time.Duration {
	return seconds(v.CommandTimeoutSeconds)
}

// TriggerTimeout returns the per-run bound for scheduled goals. Zero
// means unbounded.
func (s SchedulerConfig) TriggerTimeout() time.Duration { return seconds(s.TriggerTimeoutSeconds) }

// ReadTimeout returns the HTTP server read bound.
func (s ServerConfig) ReadTimeout() time.Duration { return seconds(s.ReadTimeoutSeconds) }

// WriteTimeout returns the HTTP server write bound.
func (s ServerConfig) WriteTimeout() time.Duration { return seconds(s.WriteTimeoutSeconds) }

// Timeout returns the graceful shutdown bound.
func (s ShutdownConfig) Timeout() time.Duration { return seconds(s.TimeoutSeconds) }

// StaticTriggers converts configured triggers to scheduler inputs.
func (s SchedulerConfig) StaticTriggers() []TriggerConfig {
	triggers := make([]TriggerConfig, 0, len(s.Triggers))
	for _, trigger := range s.Triggers {
		if strings.TrimSpace(trigger.Name) == "" {
			continue
		}
		triggers = append(triggers, trigger)
	}
	return triggers
}
