package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"aide/internal/config"
)

const version = "0.1.0"

// Color helpers shared by every command.
var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func stdoutIsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func newRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "aide",
		Short: "Autonomous task execution agent",
		Long: `aide runs goal-driven agent tasks: it estimates complexity, plans
subtasks, drives the reasoning loop against the configured provider,
and preserves progress across interruptions so work can resume.

Examples:
  aide run "summarize the open issues in this repository"
  aide run --expect-file report.md "write the quarterly report"
  aide resume tsk_32f9c1d8
  aide serve --port 8080
  aide tasks --server http://127.0.0.1:8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to the configuration file")
	flags.String("log-level", "", "log level override (debug, info, warn, error)")
	flags.String("log-format", "", "log format override (text, json)")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		newRunCommand(),
		newResumeCommand(),
		newTasksCommand(),
		newVerifyCommand(),
		newServeCommand(),
		newConfigCommand(),
		newVersionCommand(),
	)

	return rootCmd
}

// loadConfigFile loads configuration honoring the --config flag and
// applies the logging overrides from the persistent flags.
func loadConfigFile(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}
	return cfg, nil
}

// announceWarnings prints validation warnings for commands that start a
// runtime. Hard errors never reach here: config.Load rejects them.
func announceWarnings(cfg *config.Config) {
	report := cfg.Validate()
	for _, w := range report.Warnings {
		fmt.Fprintf(os.Stderr, "%s %s\n", yellow("warning:"), w.Message)
		if w.Hint != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", gray(w.Hint))
		}
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the aide version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aide %s\n", version)
		},
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		os.Exit(1)
	}
}
