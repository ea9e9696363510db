package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"aide/internal/agent/ports"
	"aide/internal/agent/textutil"
	"aide/internal/server"
)

func newTasksCommand() *cobra.Command {
	var (
		serverURL string
		status    string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "tasks [task-id]",
		Short: "List or inspect tasks on a running aide server",
		Long: `Tasks talks to the status API of an "aide serve" instance. Without an
argument it lists known tasks; with a task id it shows the full record,
including interruption details for resumable tasks.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFile(cmd)
			if err != nil {
				return err
			}
			base := serverURL
			if base == "" {
				base = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
			}
			client := newStatusClient(base)
			ctx := cmd.Context()

			if len(args) == 1 {
				return showTask(ctx, client, args[0], asJSON)
			}

			tasks, err := client.tasks(ctx, status)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, tasks)
			}
			if len(tasks) == 0 {
				fmt.Println(gray("no tasks"))
				return nil
			}
			printTaskTable(os.Stdout, tasks, time.Now())
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&serverURL, "server", "", "status API base URL (default from configuration)")
	flags.StringVar(&status, "status", "", "filter by status (pending, running, completed, failed, interrupted)")
	flags.BoolVar(&asJSON, "json", false, "print raw JSON")

	return cmd
}

func showTask(ctx context.Context, client *statusClient, taskID string, asJSON bool) error {
	task, err := client.task(ctx, taskID)
	if err != nil {
		return err
	}
	var intr *ports.Interruption
	if task.Status == ports.TaskInterrupted {
		intr, _ = client.interruption(ctx, taskID)
	}
	if asJSON {
		payload := struct {
			Task         *ports.Task         `json:"task"`
			Interruption *ports.Interruption `json:"interruption,omitempty"`
		}{task, intr}
		return printJSON(os.Stdout, payload)
	}
	printTaskDetail(os.Stdout, task, intr)
	return nil
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printTaskTable(w io.Writer, tasks []*ports.Task, now time.Time) {
	fmt.Fprintf(w, "%-28s  %-12s  %-6s  %s\n", "ID", "STATUS", "AGE", "GOAL")
	for _, t := range tasks {
		statusCell := statusPainter(t.Status)(fmt.Sprintf("%-12s", t.Status))
		fmt.Fprintf(w, "%-28s  %s  %-6s  %s\n",
			t.ID,
			statusCell,
			formatAge(now.Sub(t.CreatedAt)),
			textutil.TruncateWithEllipsis(t.Goal, 60),
		)
	}
}

func printTaskDetail(w io.Writer, task *ports.Task, intr *ports.Interruption) {
	fmt.Fprintf(w, "%s  %s\n", bold(task.ID), statusPainter(task.Status)(string(task.Status)))
	fmt.Fprintf(w, "goal:       %s\n", task.Goal)
	if task.Owner != "" {
		fmt.Fprintf(w, "owner:      %s\n", task.Owner)
	}
	if task.WorkspacePath != "" {
		fmt.Fprintf(w, "workspace:  %s\n", task.WorkspacePath)
	}
	if task.IterationLimit > 0 {
		fmt.Fprintf(w, "budget:     %d iterations\n", task.IterationLimit)
	}
	if task.LastCheckpointID != "" {
		fmt.Fprintf(w, "checkpoint: %s\n", task.LastCheckpointID)
	}
	fmt.Fprintf(w, "created:    %s\n", task.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "updated:    %s\n", task.UpdatedAt.Format("2006-01-02 15:04:05"))
	if task.Message != "" {
		fmt.Fprintf(w, "\n%s\n", task.Message)
	}
	if intr != nil {
		fmt.Fprintf(w, "\n%s %s", yellow("interrupted:"), intr.Reason)
		if intr.Signal != "" {
			fmt.Fprintf(w, " (signal %s)", intr.Signal)
		}
		fmt.Fprintln(w)
		if intr.Resumable {
			fmt.Fprintf(w, "resume with: %s\n", cyan("aide resume "+task.ID))
		} else {
			fmt.Fprintf(w, "%s\n", gray("not resumable"))
		}
	}
}

// statusClient is a thin client for the status API envelope.
type statusClient struct {
	base   string
	client *http.Client
}

func newStatusClient(base string) *statusClient {
	return &statusClient{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *statusClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("status API unreachable at %s (is \"aide serve\" running?): %w", c.base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("unexpected response (%d) from %s", resp.StatusCode, c.base+path)
	}
	if !envelope.Success {
		if envelope.Error != "" {
			return fmt.Errorf("%s", envelope.Error)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

func (c *statusClient) tasks(ctx context.Context, status string) ([]*ports.Task, error) {
	path := "/api/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var payload server.TaskListResponse
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Tasks, nil
}

func (c *statusClient) task(ctx context.Context, id string) (*ports.Task, error) {
	var task ports.Task
	if err := c.get(ctx, "/api/tasks/"+url.PathEscape(id), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *statusClient) interruption(ctx context.Context, id string) (*ports.Interruption, error) {
	var intr ports.Interruption
	if err := c.get(ctx, "/api/tasks/"+url.PathEscape(id)+"/interruption", &intr); err != nil {
		return nil, err
	}
	return &intr, nil
}
