// Package checkpoint persists task snapshots on a cadence and decides
// whether a previously interrupted task still has enough durable state
// to resume.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"sync"
	"time"

	"aide/internal/agent/domain"
	"aide/internal/agent/ports"
	"aide/internal/logging"
	id "aide/internal/utils/id"
)

const (
	defaultInterval       = 10
	defaultKeepLast       = 5
	defaultMaxAge         = time.Hour
	defaultTranscriptTail = 20

	// Below both thresholds a restart is cheaper than a resume.
	minResumeIterations = 3
	minResumeToolCalls  = 2
)

// Config tunes cadence, retention and resume policy. Zero values select
// the defaults.
type Config struct {
	// Interval is the iteration delta between periodic checkpoints.
	Interval int
	// KeepLast bounds how many checkpoints survive per task.
	KeepLast int
	// MaxAge is the resume window measured from the latest checkpoint.
	MaxAge time.Duration
	// TranscriptTail is how many trailing messages a stored transcript
	// keeps in addition to the first one.
	TranscriptTail int

	Clock       ports.Clock
	Logger      logging.Logger
	Discoveries DiscoveryRecorder
}

// DiscoveryRecorder receives checkpointed discoveries so a resumed task
// can recall them later. Writes are best effort; failures are logged and
// never block the checkpoint.
type DiscoveryRecorder interface {
	RecordDiscoveries(ctx context.Context, taskID string, discoveries []string) error
}

// Snapshot carries the loop state worth persisting. Identity, sequence
// number and transcript truncation are assigned on write.
type Snapshot struct {
	TaskID        string
	Phase         string
	Iteration     int
	ToolCalls     int
	Transcript    []ports.Message
	WorkspacePath string
	Discoveries   []string
	Artifacts     ports.Artifacts
	Memory        map[string]any
}

// Manager writes checkpoints through a CheckpointStore and answers
// resumability questions about interrupted tasks.
type Manager struct {
	store       ports.CheckpointStore
	discoveries DiscoveryRecorder
	logger      logging.Logger
	clock       ports.Clock

	interval int
	keepLast int
	maxAge   time.Duration
	tail     int

	// mu serializes sequence assignment so appends stay gap-free, and
	// guards the per-task cadence map.
	mu            sync.Mutex
	lastIteration map[string]int
}

// New creates a manager over the given store.
func New(store ports.CheckpointStore, config Config) *Manager {
	interval := config.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	keepLast := config.KeepLast
	if keepLast <= 0 {
		keepLast = defaultKeepLast
	}
	maxAge := config.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	tail := config.TranscriptTail
	if tail <= 0 {
		tail = defaultTranscriptTail
	}
	clock := config.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewComponentLogger("checkpoint")
	}

	return &Manager{
		store:         store,
		discoveries:   config.Discoveries,
		logger:        logger,
		clock:         clock,
		interval:      interval,
		keepLast:      keepLast,
		maxAge:        maxAge,
		tail:          tail,
		lastIteration: make(map[string]int),
	}
}

// ShouldCheckpoint reports whether enough iterations have passed since
// the task's last persisted checkpoint.
func (m *Manager) ShouldCheckpoint(taskID string, iteration int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return iteration-m.lastIteration[taskID] >= m.interval
}

// Checkpoint snapshots a running loop's state. It satisfies the engine's
// Checkpointer contract.
func (m *Manager) Checkpoint(ctx context.Context, state *domain.TaskState) (*ports.Checkpoint, error) {
	if state == nil {
		return nil, fmt.Errorf("nil task state")
	}

	snap := Snapshot{
		TaskID:        state.TaskID,
		Phase:         string(state.Phase),
		Iteration:     state.Iterations,
		ToolCalls:     state.ToolCallCount,
		Transcript:    state.Messages,
		WorkspacePath: state.WorkspacePath,
		Discoveries:   state.Discoveries,
		Artifacts:     state.Artifacts,
	}

	// Goal and prompt do not survive transcript truncation reliably, so
	// they ride along in the extended memory block for the resume path.
	memory := make(map[string]any)
	if state.Goal != "" {
		memory["goal"] = state.Goal
	}
	if state.SystemPrompt != "" {
		memory["system_prompt"] = state.SystemPrompt
	}
	if state.TokenCount > 0 {
		memory["token_count"] = state.TokenCount
	}
	if len(memory) > 0 {
		snap.Memory = memory
	}

	return m.Create(ctx, snap)
}

// Create writes a new checkpoint for the snapshot, assigning the next
// sequence number and pruning superseded checkpoints.
func (m *Manager) Create(ctx context.Context, snap Snapshot) (*ports.Checkpoint, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no checkpoint store configured")
	}
	if snap.TaskID == "" {
		return nil, fmt.Errorf("snapshot missing task id")
	}

	m.mu.Lock()
	sequence := 1
	latest, err := m.store.Latest(ctx, snap.TaskID)
	switch {
	case err == nil:
		sequence = latest.Sequence + 1
	case errors.Is(err, ports.ErrNoCheckpoint):
	default:
		m.mu.Unlock()
		return nil, fmt.Errorf("read latest checkpoint for %s: %w", snap.TaskID, err)
	}

	cp := &ports.Checkpoint{
		ID:            id.NewCheckpointID(),
		TaskID:        snap.TaskID,
		Sequence:      sequence,
		Phase:         snap.Phase,
		Iteration:     snap.Iteration,
		ToolCalls:     snap.ToolCalls,
		Transcript:    truncateTranscript(snap.Transcript, m.tail),
		WorkspacePath: snap.WorkspacePath,
		Discoveries:   append([]string(nil), snap.Discoveries...),
		Artifacts:     cloneArtifacts(snap.Artifacts),
		Memory:        maps.Clone(snap.Memory),
		CreatedAt:     m.clock.Now(),
	}

	if err := m.store.Append(ctx, cp); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("append checkpoint %d for %s: %w", sequence, snap.TaskID, err)
	}
	m.lastIteration[snap.TaskID] = snap.Iteration
	m.mu.Unlock()

	if err := m.store.Prune(ctx, snap.TaskID, m.keepLast); err != nil {
		m.logger.Warn("Pruning checkpoints for %s failed: %v", snap.TaskID, err)
	}

	if m.discoveries != nil && len(cp.Discoveries) > 0 {
		if err := m.discoveries.RecordDiscoveries(ctx, cp.TaskID, cp.Discoveries); err != nil {
			m.logger.Warn("Recording discoveries for %s failed: %v", cp.TaskID, err)
		}
	}

	m.logger.Debug("Checkpoint %s task=%s seq=%d iteration=%d transcript=%d",
		cp.ID, cp.TaskID, cp.Sequence, cp.Iteration, len(cp.Transcript))
	return cp, nil
}

// CanResume reports whether the task's latest checkpoint supports a
// resume. The checks run in a fixed order and the first failing one
// becomes the returned reason.
func (m *Manager) CanResume(ctx context.Context, taskID string) (bool, string) {
	if m.store == nil {
		return false, "no checkpoint store configured"
	}

	latest, err := m.store.Latest(ctx, taskID)
	if errors.Is(err, ports.ErrNoCheckpoint) {
		return false, "no checkpoint exists"
	}
	if err != nil {
		return false, fmt.Sprintf("checkpoint lookup failed: %v", err)
	}

	if age := m.clock.Now().Sub(latest.CreatedAt); age > m.maxAge {
		return false, fmt.Sprintf("checkpoint is %s old, outside the %s resume window",
			age.Round(time.Minute), m.maxAge)
	}

	if latest.WorkspacePath != "" {
		if _, err := os.Stat(latest.WorkspacePath); err != nil {
			return false, fmt.Sprintf("workspace %s no longer resolves", latest.WorkspacePath)
		}
	}

	if latest.Iteration < minResumeIterations && latest.ToolCalls < minResumeToolCalls {
		return false, fmt.Sprintf("too little progress to resume (iteration %d, %d tool calls); restarting is cheaper",
			latest.Iteration, latest.ToolCalls)
	}

	return true, ""
}

// Latest returns the task's most recent checkpoint.
func (m *Manager) Latest(ctx context.Context, taskID string) (*ports.Checkpoint, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no checkpoint store configured")
	}
	return m.store.Latest(ctx, taskID)
}

// RecordInterruption stores why a task stopped, stamping the record time
// when the caller left it zero.
func (m *Manager) RecordInterruption(ctx context.Context, intr *ports.Interruption) error {
	if m.store == nil {
		return fmt.Errorf("no checkpoint store configured")
	}
	if intr == nil || intr.TaskID == "" {
		return fmt.Errorf("interruption missing task id")
	}
	if intr.CreatedAt.IsZero() {
		intr.CreatedAt = m.clock.Now()
	}
	return m.store.RecordInterruption(ctx, intr)
}

// Interruption returns the task's interruption record.
func (m *Manager) Interruption(ctx context.Context, taskID string) (*ports.Interruption, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no checkpoint store configured")
	}
	return m.store.Interruption(ctx, taskID)
}

// MarkResumeAttempt flags that a resume was tried and how it went.
func (m *Manager) MarkResumeAttempt(ctx context.Context, taskID string, succeeded bool) error {
	if m.store == nil {
		return fmt.Errorf("no checkpoint store configured")
	}
	return m.store.MarkResumeAttempt(ctx, taskID, succeeded)
}

// Forget drops cadence tracking for a finished task so a rerun of the
// same id starts a fresh interval.
func (m *Manager) Forget(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastIteration, taskID)
}

// truncateTranscript bounds a transcript to the first message, an elision
// marker, and the trailing tail. Transcripts of at most tail+1 messages
// are stored whole.
func truncateTranscript(messages []ports.Message, tail int) []ports.Message {
	if len(messages) <= tail+1 {
		return append([]ports.Message(nil), messages...)
	}

	elided := len(messages) - 1 - tail
	out := make([]ports.Message, 0, tail+2)
	out = append(out, messages[0])
	out = append(out, ports.Message{
		Role:    ports.RoleSystem,
		Content: fmt.Sprintf("… %d messages elided …", elided),
	})
	out = append(out, messages[len(messages)-tail:]...)
	return out
}

func cloneArtifacts(a ports.Artifacts) ports.Artifacts {
	return ports.Artifacts{
		FilesCreated: append([]string(nil), a.FilesCreated...),
		URLsDeployed: append([]string(nil), a.URLsDeployed...),
		ReposCreated: append([]string(nil), a.ReposCreated...),
	}
}

var _ domain.Checkpointer = (*Manager)(nil)
