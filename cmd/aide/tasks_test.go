package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/internal/agent/ports"
	"aide/internal/server"
)

func TestStatusClientListsTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tasks", r.URL.Path)
		require.Equal(t, "running", r.URL.Query().Get("status"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(server.APIResponse{
			Success: true,
			Data: server.TaskListResponse{
				Tasks: []*ports.Task{{ID: "tsk_1", Goal: "inspect the logs", Status: ports.TaskRunning}},
				Total: 1,
			},
		})
	}))
	defer srv.Close()

	client := newStatusClient(srv.URL)
	tasks, err := client.tasks(context.Background(), "running")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "tsk_1", tasks[0].ID)
	assert.Equal(t, ports.TaskRunning, tasks[0].Status)
}

func TestStatusClientSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(server.APIResponse{Success: false, Error: "task not found: tsk_9"})
	}))
	defer srv.Close()

	_, err := newStatusClient(srv.URL).task(context.Background(), "tsk_9")
	require.EqualError(t, err, "task not found: tsk_9")
}

func TestStatusClientUnreachableHintsAtServe(t *testing.T) {
	client := newStatusClient("http://127.0.0.1:1")
	_, err := client.tasks(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aide serve")
}

func TestStatusClientFetchesInterruption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tasks/tsk_1/interruption", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(server.APIResponse{
			Success: true,
			Data:    &ports.Interruption{TaskID: "tsk_1", Reason: "shutdown", Resumable: true},
		})
	}))
	defer srv.Close()

	intr, err := newStatusClient(srv.URL).interruption(context.Background(), "tsk_1")
	require.NoError(t, err)
	assert.True(t, intr.Resumable)
	assert.Equal(t, "shutdown", intr.Reason)
}

func TestPrintTaskTableTruncatesGoals(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	now := time.Now()
	long := strings.Repeat("x", 80)
	var buf bytes.Buffer
	printTaskTable(&buf, []*ports.Task{
		{ID: "tsk_1", Status: ports.TaskCompleted, Goal: long, CreatedAt: now.Add(-90 * time.Second)},
	}, now)

	out := buf.String()
	assert.Contains(t, out, "tsk_1")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "1m")
	assert.NotContains(t, out, long)
}
