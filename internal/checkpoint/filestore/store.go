// Package filestore persists checkpoints as JSON files, one directory
// per task. Checkpoint files are named by ULID so a plain directory
// listing shows them in creation order.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"aide/internal/agent/ports"
	"aide/internal/logging"
	id "aide/internal/utils/id"
)

const interruptionFile = "interruption.json"

// Task ids become directory names, so they must stay path-safe.
var taskIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type store struct {
	baseDir string
	logger  logging.Logger
}

// New creates a file-backed checkpoint store rooted at baseDir.
func New(baseDir string) ports.CheckpointStore {
	if strings.HasPrefix(baseDir, "~/") {
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, baseDir[2:])
	}
	_ = os.MkdirAll(baseDir, 0755) // Ignore error - directory may already exist
	return &store{
		baseDir: baseDir,
		logger:  logging.NewComponentLogger("CheckpointFileStore"),
	}
}

func (s *store) Append(ctx context.Context, cp *ports.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("nil checkpoint")
	}
	if !isSafeTaskID(cp.TaskID) {
		return fmt.Errorf("invalid task ID: %q", cp.TaskID)
	}
	if cp.Sequence < 1 {
		return fmt.Errorf("invalid sequence %d for task %s", cp.Sequence, cp.TaskID)
	}

	dir := s.taskDir(cp.TaskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create task directory: %w", err)
	}

	existing, err := s.load(dir)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.cp.Sequence == cp.Sequence {
			return fmt.Errorf("checkpoint %d already exists for task %s", cp.Sequence, cp.TaskID)
		}
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	// Create exclusively so an append never clobbers an existing file.
	path := filepath.Join(dir, id.NewULID()+".json")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return f.Close()
}

func (s *store) Latest(ctx context.Context, taskID string) (*ports.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isSafeTaskID(taskID) {
		return nil, fmt.Errorf("invalid task ID: %q", taskID)
	}

	stored, err := s.load(s.taskDir(taskID))
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, ports.ErrNoCheckpoint
	}

	latest := stored[0]
	for _, candidate := range stored[1:] {
		if candidate.cp.Sequence > latest.cp.Sequence {
			latest = candidate
		}
	}
	return latest.cp, nil
}

func (s *store) History(ctx context.Context, taskID string, limit int) ([]*ports.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isSafeTaskID(taskID) {
		return nil, fmt.Errorf("invalid task ID: %q", taskID)
	}

	stored, err := s.load(s.taskDir(taskID))
	if err != nil {
		return nil, err
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].cp.Sequence > stored[j].cp.Sequence })
	if limit > 0 && len(stored) > limit {
		stored = stored[:limit]
	}

	out := make([]*ports.Checkpoint, 0, len(stored))
	for _, sc := range stored {
		out = append(out, sc.cp)
	}
	return out, nil
}

func (s *store) Prune(ctx context.Context, taskID string, keep int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if keep <= 0 {
		return nil
	}
	if !isSafeTaskID(taskID) {
		return fmt.Errorf("invalid task ID: %q", taskID)
	}

	stored, err := s.load(s.taskDir(taskID))
	if err != nil {
		return err
	}
	if len(stored) <= keep {
		return nil
	}

	sort.Slice(stored, func(i, j int) bool { return stored[i].cp.Sequence > stored[j].cp.Sequence })
	for _, victim := range stored[keep:] {
		if err := os.Remove(victim.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove checkpoint %d for %s: %w", victim.cp.Sequence, taskID, err)
		}
	}
	return nil
}

func (s *store) TaskIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// ReadDir returns entries sorted by name.
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() || !isSafeTaskID(entry.Name()) {
			continue
		}
		stored, err := s.load(filepath.Join(s.baseDir, entry.Name()))
		if err != nil || len(stored) == 0 {
			continue
		}
		ids = append(ids, entry.Name())
	}
	return ids, nil
}

func (s *store) RecordInterruption(ctx context.Context, intr *ports.Interruption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if intr == nil || !isSafeTaskID(intr.TaskID) {
		return fmt.Errorf("invalid interruption record")
	}

	dir := s.taskDir(intr.TaskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create task directory: %w", err)
	}
	data, err := json.MarshalIndent(intr, "", "  ")
	if err != nil {
		return fmt.Errorf("encode interruption: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, interruptionFile), data, 0644)
}

func (s *store) Interruption(ctx context.Context, taskID string) (*ports.Interruption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isSafeTaskID(taskID) {
		return nil, fmt.Errorf("invalid task ID: %q", taskID)
	}

	data, err := os.ReadFile(filepath.Join(s.taskDir(taskID), interruptionFile))
	if os.IsNotExist(err) {
		return nil, ports.ErrNoInterruption
	}
	if err != nil {
		return nil, err
	}

	var intr ports.Interruption
	if err := json.Unmarshal(data, &intr); err != nil {
		return nil, fmt.Errorf("decode interruption for %s: %w", taskID, err)
	}
	return &intr, nil
}

func (s *store) MarkResumeAttempt(ctx context.Context, taskID string, succeeded bool) error {
	intr, err := s.Interruption(ctx, taskID)
	if err != nil {
		return err
	}
	intr.ResumeAttempted = true
	intr.ResumeSucceeded = succeeded
	return s.RecordInterruption(ctx, intr)
}

type storedCheckpoint struct {
	path string
	cp   *ports.Checkpoint
}

// load reads every checkpoint file in dir. Unreadable or undecodable
// files are logged and skipped so one torn write cannot block resume.
func (s *store) load(dir string) ([]storedCheckpoint, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []storedCheckpoint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == interruptionFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Error("Failed to read checkpoint file %s: %v", name, err)
			continue
		}
		var cp ports.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			s.logger.Error("Failed to decode checkpoint file %s: %v. Preview: %s", name, err, previewJSON(data))
			continue
		}
		out = append(out, storedCheckpoint{path: path, cp: &cp})
	}
	return out, nil
}

func (s *store) taskDir(taskID string) string {
	return filepath.Join(s.baseDir, taskID)
}

func isSafeTaskID(taskID string) bool {
	return taskID != "" && taskIDPattern.MatchString(taskID)
}

func previewJSON(data []byte) string {
	const maxPreview = 256
	preview := strings.TrimSpace(string(data))
	preview = strings.ReplaceAll(preview, "\n", " ")
	if len(preview) > maxPreview {
		preview = preview[:maxPreview] + "... (truncated)"
	}
	return preview
}
