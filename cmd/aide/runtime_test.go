package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/internal/agent/domain"
	"aide/internal/agent/ports"
	"aide/internal/config"
	"aide/internal/logging"
	"aide/internal/reasoning"
)

func TestBuildReasoningClientFallsBackToMock(t *testing.T) {
	cfg := config.Default()
	cfg.Provider.Name = "openai"
	cfg.Provider.APIKey = ""

	client, mocked := buildReasoningClient(cfg, logging.Nop())
	require.True(t, mocked)
	_, scripted := client.(*reasoning.ScriptedClient)
	assert.True(t, scripted)
}

func TestBuildReasoningClientBuildsRealChain(t *testing.T) {
	cfg := config.Default()
	cfg.Provider.APIKey = "sk-test"

	client, mocked := buildReasoningClient(cfg, logging.Nop())
	require.False(t, mocked)
	_, scripted := client.(*reasoning.ScriptedClient)
	assert.False(t, scripted)
}

func TestMockReasoningClientLoops(t *testing.T) {
	client := mockReasoningClient("")
	first, err := client.Complete(context.Background(), ports.CompletionRequest{})
	require.NoError(t, err)
	second, err := client.Complete(context.Background(), ports.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content)
}

func TestNewCheckpointStoreSelectsBackend(t *testing.T) {
	base := t.TempDir()

	store, closer, err := newCheckpointStore(filepath.Join(base, "checkpoints"))
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Nil(t, closer)

	dbStore, dbCloser, err := newCheckpointStore(filepath.Join(base, "cp", "aide.db"))
	require.NoError(t, err)
	require.NotNil(t, dbStore)
	require.NotNil(t, dbCloser)
	require.NoError(t, dbCloser.Close())
}

func TestCompletionDefaults(t *testing.T) {
	cfg := config.Default()
	defaults := completionDefaults(cfg)
	require.NotNil(t, defaults.Temperature)
	assert.InDelta(t, cfg.Engine.Temperature, *defaults.Temperature, 0.001)
	require.NotNil(t, defaults.MaxTokens)
	assert.Equal(t, cfg.Engine.MaxTokens, *defaults.MaxTokens)

	cfg.Engine.Temperature = 0
	cfg.Engine.MaxTokens = 0
	empty := completionDefaults(cfg)
	assert.Nil(t, empty.Temperature)
	assert.Nil(t, empty.MaxTokens)
}

type recordListener struct {
	events []string
}

func (r *recordListener) OnEvent(event ports.AgentEvent) {
	r.events = append(r.events, event.EventType())
}

func TestFanListenerForwardsInOrder(t *testing.T) {
	a := &recordListener{}
	b := &recordListener{}
	fan := fanListener{a, b}

	fan.OnEvent(&domain.TaskStartEvent{BaseEvent: domain.NewBaseEvent("tsk_1", time.Now()), Goal: "g", IterationBudget: 3})

	require.Equal(t, []string{"task_start"}, a.events)
	require.Equal(t, []string{"task_start"}, b.events)
}

func TestBuildRuntimeRunsMockSubmission(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Checkpoint.Dir = filepath.Join(cfg.DataDir, "checkpoints")
	cfg.Memory.Dir = ":memory:"
	cfg.Provider.Name = "mock"
	cfg.Metrics.Enabled = false
	cfg.Tracing.Enabled = false
	cfg.Notifications.Enabled = false
	cfg.Server.Enabled = false
	cfg.Logging.Level = "error"

	rt, err := buildRuntime(cfg)
	require.NoError(t, err)
	defer rt.Close()

	task, err := rt.coordinator.Submit(context.Background(), "say hello", ports.SubmitOptions{})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, ports.TaskCompleted, task.Status)
	assert.Contains(t, task.Message, "mock")
}
