// Package sqlitestore persists checkpoints in a SQLite database. It is
// the durable backend for long-lived daemons where a directory of JSON
// files would grow unwieldy.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aide/internal/agent/ports"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed checkpoint store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and migrates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		phase TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		tool_calls INTEGER NOT NULL,
		transcript TEXT NOT NULL,
		workspace_path TEXT,
		discoveries TEXT,
		artifacts TEXT NOT NULL,
		memory TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(task_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS interruptions (
		task_id TEXT PRIMARY KEY,
		reason TEXT NOT NULL,
		signal TEXT,
		checkpoint_id TEXT,
		resumable INTEGER NOT NULL DEFAULT 0,
		resume_attempted INTEGER NOT NULL DEFAULT 0,
		resume_succeeded INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_task ON checkpoints(task_id, sequence DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Append(ctx context.Context, cp *ports.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("nil checkpoint")
	}
	if cp.TaskID == "" {
		return fmt.Errorf("checkpoint missing task id")
	}

	transcript, err := json.Marshal(cp.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	discoveries, err := json.Marshal(cp.Discoveries)
	if err != nil {
		return fmt.Errorf("encode discoveries: %w", err)
	}
	artifacts, err := json.Marshal(cp.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	memory, err := json.Marshal(cp.Memory)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, task_id, sequence, phase, iteration, tool_calls, transcript, workspace_path, discoveries, artifacts, memory, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.TaskID, cp.Sequence, cp.Phase, cp.Iteration, cp.ToolCalls,
		string(transcript), cp.WorkspacePath, string(discoveries), string(artifacts), string(memory), cp.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("checkpoint %d already exists for task %s", cp.Sequence, cp.TaskID)
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, taskID string) (*ports.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, sequence, phase, iteration, tool_calls, transcript, workspace_path, discoveries, artifacts, memory, created_at
		 FROM checkpoints WHERE task_id = ? ORDER BY sequence DESC LIMIT 1`, taskID,
	)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNoCheckpoint
	}
	return cp, err
}

func (s *Store) History(ctx context.Context, taskID string, limit int) ([]*ports.Checkpoint, error) {
	query := `SELECT id, task_id, sequence, phase, iteration, tool_calls, transcript, workspace_path, discoveries, artifacts, memory, created_at
		 FROM checkpoints WHERE task_id = ? ORDER BY sequence DESC`
	args := []any{taskID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []*ports.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

func (s *Store) Prune(ctx context.Context, taskID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE task_id = ? AND sequence NOT IN (
			SELECT sequence FROM checkpoints WHERE task_id = ? ORDER BY sequence DESC LIMIT ?
		)`, taskID, taskID, keep,
	)
	return err
}

func (s *Store) TaskIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT task_id FROM checkpoints ORDER BY task_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) RecordInterruption(ctx context.Context, intr *ports.Interruption) error {
	if intr == nil || intr.TaskID == "" {
		return fmt.Errorf("invalid interruption record")
	}
	createdAt := intr.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO interruptions (task_id, reason, signal, checkpoint_id, resumable, resume_attempted, resume_succeeded, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		intr.TaskID, intr.Reason, intr.Signal, intr.CheckpointID,
		intr.Resumable, intr.ResumeAttempted, intr.ResumeSucceeded, createdAt,
	)
	return err
}

func (s *Store) Interruption(ctx context.Context, taskID string) (*ports.Interruption, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, reason, signal, checkpoint_id, resumable, resume_attempted, resume_succeeded, created_at
		 FROM interruptions WHERE task_id = ?`, taskID,
	)

	var intr ports.Interruption
	var signal, checkpointID sql.NullString
	err := row.Scan(
		&intr.TaskID, &intr.Reason, &signal, &checkpointID,
		&intr.Resumable, &intr.ResumeAttempted, &intr.ResumeSucceeded, &intr.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNoInterruption
	}
	if err != nil {
		return nil, err
	}

	if signal.Valid {
		intr.Signal = signal.String
	}
	if checkpointID.Valid {
		intr.CheckpointID = checkpointID.String
	}
	return &intr, nil
}

func (s *Store) MarkResumeAttempt(ctx context.Context, taskID string, succeeded bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE interruptions SET resume_attempted = 1, resume_succeeded = ? WHERE task_id = ?`,
		succeeded, taskID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ports.ErrNoInterruption
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*ports.Checkpoint, error) {
	var cp ports.Checkpoint
	var transcript, artifacts string
	var workspacePath, discoveries, memory sql.NullString

	err := row.Scan(
		&cp.ID, &cp.TaskID, &cp.Sequence, &cp.Phase, &cp.Iteration, &cp.ToolCalls,
		&transcript, &workspacePath, &discoveries, &artifacts, &memory, &cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(transcript), &cp.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript for %s: %w", cp.ID, err)
	}
	if err := json.Unmarshal([]byte(artifacts), &cp.Artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts for %s: %w", cp.ID, err)
	}
	if workspacePath.Valid {
		cp.WorkspacePath = workspacePath.String
	}
	if discoveries.Valid && discoveries.String != "" {
		if err := json.Unmarshal([]byte(discoveries.String), &cp.Discoveries); err != nil {
			return nil, fmt.Errorf("decode discoveries for %s: %w", cp.ID, err)
		}
	}
	if memory.Valid && memory.String != "" {
		if err := json.Unmarshal([]byte(memory.String), &cp.Memory); err != nil {
			return nil, fmt.Errorf("decode memory for %s: %w", cp.ID, err)
		}
	}
	return &cp, nil
}
