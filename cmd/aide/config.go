package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and bootstrap configuration",
	}
	cmd.AddCommand(newConfigShowCommand(), newConfigInitCommand())
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFile(cmd)
			if err != nil {
				return err
			}

			fmt.Println(bold("provider"))
			fmt.Printf("  name:      %s\n", blue(cfg.Provider.Name))
			fmt.Printf("  model:     %s\n", blue(cfg.Provider.Model))
			fmt.Printf("  base_url:  %s\n", cfg.Provider.BaseURL)
			fmt.Printf("  api_key:   %s\n", maskKey(cfg.Provider.APIKey))
			fmt.Printf("  timeout:   %s\n", cfg.Provider.RequestTimeout())
			if cfg.Provider.CacheSize > 0 {
				fmt.Printf("  cache:     %d entries, ttl %s\n", cfg.Provider.CacheSize, cfg.Provider.CacheTTL())
			}

			fmt.Println(bold("engine"))
			fmt.Printf("  max_iterations: %d\n", cfg.Engine.MaxIterations)
			fmt.Printf("  max_tokens:     %d\n", cfg.Engine.MaxTokens)
			fmt.Printf("  temperature:    %.2f\n", cfg.Engine.Temperature)
			fmt.Printf("  max_parallel:   %d\n", cfg.Planner.MaxParallel)
			fmt.Printf("  allow_degraded: %t\n", cfg.Planner.AllowDegraded)

			fmt.Println(bold("storage"))
			fmt.Printf("  data_dir:    %s\n", cfg.DataDir)
			fmt.Printf("  checkpoints: %s (every %d iterations, keep %d, window %s)\n",
				cfg.Checkpoint.Dir, cfg.Checkpoint.Interval, cfg.Checkpoint.KeepLast, cfg.Checkpoint.ResumeWindow())
			fmt.Printf("  memory:      %s\n", cfg.Memory.Dir)

			fmt.Println(bold("tools"))
			workspace := cfg.Tools.Workspace
			if workspace == "" {
				workspace = "(current directory)"
			}
			fmt.Printf("  workspace:       %s\n", workspace)
			fmt.Printf("  allow_dangerous: %t\n", cfg.Tools.AllowDangerous)
			fmt.Printf("  command_timeout: %s\n", cfg.Tools.CommandTimeout())

			fmt.Println(bold("verification"))
			fmt.Printf("  threshold: %.2f\n", cfg.Verification.Threshold)

			fmt.Println(bold("scheduler"))
			fmt.Printf("  enabled:  %t\n", cfg.Scheduler.Enabled)
			if cfg.Scheduler.Enabled {
				fmt.Printf("  policy:   %s\n", cfg.Scheduler.ConcurrencyPolicy)
				fmt.Printf("  triggers: %d static", len(cfg.Scheduler.StaticTriggers()))
				if cfg.Scheduler.TriggersPath != "" {
					fmt.Printf(" + file %s", cfg.Scheduler.TriggersPath)
				}
				fmt.Println()
			}

			fmt.Println(bold("server"))
			fmt.Printf("  enabled: %t\n", cfg.Server.Enabled)
			if cfg.Server.Enabled {
				fmt.Printf("  listen:  %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			}

			fmt.Println(bold("notifications"))
			fmt.Printf("  enabled:  %t\n", cfg.Notifications.Enabled)
			if cfg.Notifications.Enabled {
				channels := []string{"log"}
				if cfg.Notifications.Webhook.Enabled {
					channels = append(channels, "webhook")
				}
				if cfg.Notifications.WebPush.Enabled {
					channels = append(channels, "webpush")
				}
				if cfg.Notifications.WebSocket {
					channels = append(channels, "websocket")
				}
				fmt.Printf("  channels: %v\n", channels)
			}

			fmt.Println(bold("observability"))
			fmt.Printf("  log:     %s/%s\n", cfg.Logging.Level, cfg.Logging.Format)
			metricsOn := strconv.FormatBool(cfg.Metrics.Enabled)
			if cfg.Metrics.Enabled && cfg.Metrics.PrometheusPort > 0 {
				metricsOn += fmt.Sprintf(" (prometheus :%d)", cfg.Metrics.PrometheusPort)
			}
			fmt.Printf("  metrics: %s\n", metricsOn)
			fmt.Printf("  tracing: %t\n", cfg.Tracing.Enabled)

			report := cfg.Validate()
			for _, w := range report.Warnings {
				fmt.Printf("\n%s %s\n", yellow("warning:"), w.Message)
				if w.Hint != "" {
					fmt.Printf("  %s\n", gray(w.Hint))
				}
			}
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "aide.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := writeStarterConfig(path, force); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", green("wrote"), path)
			fmt.Println(gray("set provider.api_key (or AIDE_PROVIDER_API_KEY) before the first run"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func writeStarterConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	return os.WriteFile(path, []byte(starterConfig), 0o644)
}

// starterConfig documents the settings most installs touch. Everything
// omitted keeps its default; AIDE_* environment variables override any
// key (AIDE_PROVIDER_API_KEY for provider.api_key).
const starterConfig = `# aide configuration

provider:
  name: openai
  model: gpt-4o-mini
  base_url: https://api.openai.com/v1
  # api_key: sk-...

engine:
  max_iterations: 50
  temperature: 0.7

planner:
  max_parallel: 3
  allow_degraded: true

checkpoint:
  interval: 5
  keep_last: 3

tools:
  # workspace defaults to the current directory
  allow_dangerous: false

verification:
  threshold: 0.7

scheduler:
  enabled: false
  # triggers:
  #   - name: nightly-digest
  #     schedule: "0 6 * * *"
  #     goal: "summarize yesterday's open issues"

server:
  enabled: true
  host: 127.0.0.1
  port: 8080

notifications:
  enabled: true
  # webhook:
  #   enabled: true
  #   url: https://example.com/hooks/aide

logging:
  level: info
  format: text
`
