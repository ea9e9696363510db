package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"aide/internal/agent/ports"
)

// DefaultDirectThreshold is the recommended-iteration count above which
// a goal with shaky confidence gets decomposed even without connectors.
const DefaultDirectThreshold = 25

// defaultChunkIterations is the budget slice assigned to each fallback chunk.
const defaultChunkIterations = 8

// ShouldDecompose decides whether a goal goes through the decomposer at
// all. High-confidence estimates run directly regardless of size.
func ShouldDecompose(est ComplexityEstimate, directThreshold int) bool {
	if est.RequiresDecomposition {
		return true
	}
	if directThreshold <= 0 {
		directThreshold = DefaultDirectThreshold
	}
	return est.RecommendedIterations > directThreshold && est.Confidence != ConfidenceHigh
}

// Analyzer asks the reasoning service for a structured decomposition.
// Implementations return the raw response text; the decomposer owns
// parsing and repair.
type Analyzer interface {
	Analyze(ctx context.Context, goal string, est ComplexityEstimate) (string, error)
}

// Decomposer splits an oversized goal into a subtask graph. It never
// fails a task: every path degrades to some usable, validated graph.
type Decomposer struct {
	analyzer Analyzer
	logger   ports.Logger
	chunk    int
}

// NewDecomposer creates a decomposer. analyzer may be nil, in which
// case only the local heuristics run.
func NewDecomposer(analyzer Analyzer, logger ports.Logger) *Decomposer {
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	return &Decomposer{
		analyzer: analyzer,
		logger:   logger,
		chunk:    defaultChunkIterations,
	}
}

var forEachPattern = regexp.MustCompile(`(?i)\b(for each|for every|per)\s+\w+`)

// Decompose builds the subtask graph for a goal. The returned graph is
// always valid: unique IDs, every dependency resolving within it.
func (d *Decomposer) Decompose(ctx context.Context, goal string, est ComplexityEstimate) []SubTask {
	subtasks, heuristicConfident := d.heuristic(goal, est)

	if !heuristicConfident && d.analyzer != nil {
		if remote := d.analyzeRemote(ctx, goal, est); len(remote) > 0 {
			subtasks = remote
		}
	}

	if err := validateGraph(subtasks); err != nil {
		d.logger.Warn("Invalid decomposition graph, flattening: %v", err)
		subtasks = flatten(subtasks)
	}

	return subtasks
}

// heuristic runs the local decomposition patterns in order. The second
// return value reports whether a targeted pattern matched; the chunk
// fallback is usable but low-signal.
func (d *Decomposer) heuristic(goal string, est ComplexityEstimate) ([]SubTask, bool) {
	normalized := strings.ToLower(goal)

	// Pattern 1: per-item fan-out. One fetch subtask feeds N parallel
	// per-item subtasks.
	if forEachPattern.MatchString(normalized) {
		count := extractItemCount(normalized)
		if count > 1 {
			d.logger.Debug("Decomposing into fetch + %d parallel item subtasks", count)
			return d.fanOut(goal, est, count), true
		}
	}

	// Pattern 2: conjunctive clauses become a sequential chain.
	if clauses := splitClauses(goal); len(clauses) >= 2 {
		d.logger.Debug("Decomposing into %d sequential clause subtasks", len(clauses))
		return d.chain(clauses, est), true
	}

	// Fallback: slice the budget into fixed-size sequential chunks.
	d.logger.Debug("No decomposition pattern matched, chunking budget of %d", est.RecommendedIterations)
	return d.chunked(goal, est), false
}

func (d *Decomposer) fanOut(goal string, est ComplexityEstimate, count int) []SubTask {
	perItem := est.RecommendedIterations / count
	if perItem < 2 {
		perItem = 2
	}
	if perItem > 8 {
		perItem = 8
	}

	subtasks := make([]SubTask, 0, count+1)
	fetchID := "sub-1"
	subtasks = append(subtasks, SubTask{
		ID:                  fetchID,
		Description:         fmt.Sprintf("Identify and fetch the items to process for: %s", goal),
		EstimatedIterations: 3,
		Priority:            10,
		Mode:                ModeSequential,
	})
	for i := 1; i <= count; i++ {
		subtasks = append(subtasks, SubTask{
			ID:                  fmt.Sprintf("sub-%d", i+1),
			Description:         fmt.Sprintf("%s (item %d of %d)", goal, i, count),
			EstimatedIterations: perItem,
			DependsOn:           []string{fetchID},
			Priority:            5,
			Mode:                ModeParallel,
		})
	}
	return subtasks
}

func (d *Decomposer) chain(clauses []string, est ComplexityEstimate) []SubTask {
	perClause := est.RecommendedIterations / len(clauses)
	if perClause < 3 {
		perClause = 3
	}
	if perClause > 12 {
		perClause = 12
	}

	subtasks := make([]SubTask, 0, len(clauses))
	for i, clause := range clauses {
		st := SubTask{
			ID:                  fmt.Sprintf("sub-%d", i+1),
			Description:         clause,
			EstimatedIterations: perClause,
			Priority:            len(clauses) - i,
			Mode:                ModeSequential,
		}
		if i > 0 {
			st.DependsOn = []string{fmt.Sprintf("sub-%d", i)}
		}
		subtasks = append(subtasks, st)
	}
	return subtasks
}

func (d *Decomposer) chunked(goal string, est ComplexityEstimate) []SubTask {
	total := est.RecommendedIterations
	if total < 1 {
		total = 1
	}
	chunks := (total + d.chunk - 1) / d.chunk

	subtasks := make([]SubTask, 0, chunks)
	remaining := total
	for i := 0; i < chunks; i++ {
		iterations := d.chunk
		if remaining < iterations {
			iterations = remaining
		}
		remaining -= iterations

		st := SubTask{
			ID:                  fmt.Sprintf("sub-%d", i+1),
			Description:         fmt.Sprintf("%s (part %d of %d)", goal, i+1, chunks),
			EstimatedIterations: iterations,
			Priority:            chunks - i,
			Mode:                ModeSequential,
		}
		if i > 0 {
			st.DependsOn = []string{fmt.Sprintf("sub-%d", i)}
		}
		subtasks = append(subtasks, st)
	}
	return subtasks
}

// analyzeRemote asks the reasoning service for a structured graph.
// Any failure, including unrepairable JSON, returns nil so the caller
// keeps the heuristic result.
func (d *Decomposer) analyzeRemote(ctx context.Context, goal string, est ComplexityEstimate) []SubTask {
	raw, err := d.analyzer.Analyze(ctx, goal, est)
	if err != nil {
		d.logger.Warn("Remote decomposition failed, keeping heuristic result: %v", err)
		return nil
	}

	payload, err := parseDecomposition(raw)
	if err != nil {
		d.logger.Warn("Remote decomposition unparseable, keeping heuristic result: %v", err)
		return nil
	}
	if len(payload.SubTasks) == 0 {
		d.logger.Warn("Remote decomposition returned no subtasks, keeping heuristic result")
		return nil
	}

	subtasks := make([]SubTask, 0, len(payload.SubTasks))
	for i, spec := range payload.SubTasks {
		id := strings.TrimSpace(spec.ID)
		if id == "" {
			id = fmt.Sprintf("sub-%d", i+1)
		}
		iterations := spec.Iterations
		if iterations <= 0 {
			iterations = 5
		}
		mode := ModeSequential
		if strings.EqualFold(spec.Mode, string(ModeParallel)) {
			mode = ModeParallel
		}
		subtasks = append(subtasks, SubTask{
			ID:                  id,
			Description:         spec.Description,
			EstimatedIterations: iterations,
			DependsOn:           spec.DependsOn,
			Priority:            spec.Priority,
			Mode:                mode,
		})
	}
	return subtasks
}

type decompositionPayload struct {
	Tier                string        `json:"tier"`
	EstimatedIterations int           `json:"estimated_iterations"`
	SubTasks            []subTaskSpec `json:"subtasks"`
}

type subTaskSpec struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Iterations  int      `json:"iterations"`
	DependsOn   []string `json:"depends_on"`
	Priority    int      `json:"priority"`
	Mode        string   `json:"mode"`
}

// parseDecomposition decodes the analyzer response, repairing sloppy
// JSON before giving up.
func parseDecomposition(raw string) (*decompositionPayload, error) {
	cleaned := stripCodeFences(raw)

	var payload decompositionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil {
		return &payload, nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return nil, fmt.Errorf("json repair failed: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
		return nil, fmt.Errorf("repaired json still invalid: %w", err)
	}
	return &payload, nil
}

func stripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// validateGraph enforces unique IDs and resolvable dependencies.
func validateGraph(subtasks []SubTask) error {
	ids := make(map[string]bool, len(subtasks))
	for _, st := range subtasks {
		if st.ID == "" {
			return fmt.Errorf("subtask with empty id")
		}
		if ids[st.ID] {
			return fmt.Errorf("duplicate subtask id %q", st.ID)
		}
		ids[st.ID] = true
	}
	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("subtask %q depends on unknown id %q", st.ID, dep)
			}
		}
	}
	return nil
}

// flatten clears every dependency so an invalid graph still executes,
// just without ordering guarantees beyond priority.
func flatten(subtasks []SubTask) []SubTask {
	flattened := make([]SubTask, len(subtasks))
	for i, st := range subtasks {
		st.DependsOn = nil
		if st.ID == "" {
			st.ID = fmt.Sprintf("sub-%d", i+1)
		}
		flattened[i] = st
	}
	return flattened
}

// splitClauses breaks a goal into top-level " and " clauses, keeping
// only splits where every side looks like its own instruction.
func splitClauses(goal string) []string {
	parts := strings.Split(goal, " and ")
	if len(parts) < 2 {
		return nil
	}
	clauses := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if len(strings.Fields(part)) < 2 {
			return nil
		}
		clauses = append(clauses, part)
	}
	return clauses
}
