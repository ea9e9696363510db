package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"aide/internal/logging"
	"aide/internal/utils/id"
	"aide/internal/verify"
)

func newVerifyCommand() *cobra.Command {
	var (
		workspace string
		deployURL string
		buildCmd  string
		testCmd   string
		taskID    string
		files     []string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an outcome against independent evidence",
		Long: `Verify runs the outcome checks on their own: expected files, a
deployment probe, build and test commands, and recent git activity in
the workspace. The checks weigh into a confidence score; below the
configured threshold the command exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFile(cmd)
			if err != nil {
				return err
			}
			logFile, err := configureLogging(cfg)
			if err != nil {
				return err
			}
			if logFile != nil {
				defer logFile.Close()
			}

			abs, err := filepath.Abs(workspace)
			if err != nil {
				return fmt.Errorf("workspace: %w", err)
			}
			if taskID == "" {
				taskID = id.NewTaskID()
			}

			verifier := verify.New(verify.Config{
				Threshold:      cfg.Verification.Threshold,
				ProbeTimeout:   cfg.Verification.ProbeTimeout(),
				CommandTimeout: cfg.Verification.CommandTimeout(),
				MaxConcurrent:  cfg.Verification.MaxConcurrent,
				Logger:         logging.NewComponentLogger("Verify"),
			})
			result := verifier.Verify(cmd.Context(), taskID, verify.VerificationContext{
				WorkspacePath: abs,
				DeploymentURL: deployURL,
				ExpectedFiles: files,
				BuildCommand:  buildCmd,
				TestCommand:   testCmd,
			})

			if asJSON {
				return printJSON(os.Stdout, result)
			}
			printVerification(result, true)
			if !result.Verified {
				return fmt.Errorf("verification failed (confidence %.2f)", result.Confidence)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&workspace, "workspace", "w", ".", "workspace directory to inspect")
	flags.StringVar(&deployURL, "deployment-url", "", "URL to probe")
	flags.StringArrayVar(&files, "expect-file", nil, "file that must exist (repeatable)")
	flags.StringVar(&buildCmd, "build-command", "", "build command to run")
	flags.StringVar(&testCmd, "test-command", "", "test command to run")
	flags.StringVar(&taskID, "task", "", "task id to label the result with")
	flags.BoolVar(&asJSON, "json", false, "print raw JSON")

	return cmd
}

func printVerification(result *verify.VerificationResult, detailed bool) {
	if result == nil {
		return
	}
	verdict := green("verified")
	if !result.Verified {
		verdict = red("not verified")
	}
	fmt.Printf("%s (confidence %.2f)\n", verdict, result.Confidence)
	if !detailed {
		return
	}
	for _, ev := range result.Evidence {
		fmt.Printf("  %s %s: %s\n", evidenceBadge(ev.Status), ev.Type, ev.Details)
	}
	for _, s := range result.Suggestions {
		fmt.Printf("  %s %s\n", gray("hint:"), s)
	}
}

func evidenceBadge(status verify.EvidenceStatus) string {
	switch status {
	case verify.StatusPass:
		return green("pass   ")
	case verify.StatusFail:
		return red("fail   ")
	case verify.StatusPartial:
		return yellow("partial")
	default:
		return gray("skipped")
	}
}
