package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"aide/internal/config"
	"aide/internal/logging"
	"aide/internal/scheduler"
	"aide/internal/server"
	"aide/internal/shutdown"
)

func newServeCommand() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the aide daemon: status API, scheduler and notifications",
		Long: `Serve keeps aide running as a daemon. The status API accepts and
reports tasks over HTTP, the scheduler submits recurring goals from
cron triggers, and SIGINT or SIGTERM drains in-flight work and
preserves checkpoints before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFile(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if !cfg.Server.Enabled && !cfg.Scheduler.Enabled {
				return fmt.Errorf("nothing to serve: enable the server or the scheduler in the configuration")
			}
			announceWarnings(cfg)

			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			configPath, _ := cmd.Flags().GetString("config")
			return runServe(cmd.Context(), cfg, rt, configPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&host, "host", "", "bind address override")
	flags.IntVarP(&port, "port", "p", 0, "listen port override")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, rt *runtime, configPath string) error {
	logger := logging.NewComponentLogger("Main")
	logger.Info("aide %s starting", version)
	logger.Info("Provider: %s model=%s key=%s", cfg.Provider.Name, cfg.Provider.Model, maskKey(cfg.Provider.APIKey))
	logger.Info("Data: %s (checkpoints %s)", cfg.DataDir, cfg.Checkpoint.Dir)

	shut := shutdown.New(rt.coordinator, rt.checkpoints, shutdown.Config{
		Timeout:  cfg.Shutdown.Timeout(),
		Notifier: rt.notifierOrNil(),
		Logger:   logging.NewComponentLogger("Shutdown"),
	})

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Config{
			Enabled:           true,
			Static:            staticTriggers(cfg),
			TriggersPath:      cfg.Scheduler.TriggersPath,
			TriggerTimeout:    cfg.Scheduler.TriggerTimeout(),
			ConcurrencyPolicy: cfg.Scheduler.ConcurrencyPolicy,
		}, rt.coordinator, rt.notifierOrNil(), logging.NewComponentLogger("Scheduler"))
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		shut.RegisterCleanup("scheduler", func() error {
			sched.Stop()
			return nil
		})
	}

	if cfg.Server.Enabled {
		opts := []server.Option{server.WithLogger(logging.NewComponentLogger("Server"))}
		if rt.wsChannel != nil {
			opts = append(opts, server.WithEventStream(rt.wsChannel.Handler()))
		}
		srv := server.New(server.Config{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			EnableCORS:   cfg.Server.EnableCORS,
			Debug:        cfg.Server.Debug,
			ReadTimeout:  cfg.Server.ReadTimeout(),
			WriteTimeout: cfg.Server.WriteTimeout(),
		}, rt.coordinator, rt.checkpoints, opts...)
		shut.RegisterCleanup("http-server", srv.Stop)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("Status API failed: %v", err)
				shut.Shutdown("listener failure")
			}
		}()
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, cfg,
			config.WithWatchLogger(logging.NewComponentLogger("Config")),
			config.WithOnChange(func(next *config.Config) {
				logger.Info("Configuration file changed; most settings apply on restart")
				for _, w := range next.Validate().Warnings {
					logger.Warn("Config: %s", w.Message)
				}
			}),
		)
		if err != nil {
			logger.Warn("Config watcher unavailable: %v", err)
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("Config watcher failed to start: %v", err)
		} else {
			shut.RegisterCleanup("config-watcher", func() error {
				watcher.Stop()
				return nil
			})
		}
	}

	shut.RegisterCleanup("runtime", rt.Close)

	stopWatch := shut.Watch(ctx)
	defer stopWatch()

	<-shut.Done()
	logger.Info("aide stopped")
	return nil
}

func staticTriggers(cfg *config.Config) []scheduler.Trigger {
	static := cfg.Scheduler.StaticTriggers()
	triggers := make([]scheduler.Trigger, 0, len(static))
	for _, t := range static {
		triggers = append(triggers, scheduler.Trigger{
			Name:     t.Name,
			Schedule: t.Schedule,
			Goal:     t.Goal,
			Owner:    t.Owner,
		})
	}
	return triggers
}
