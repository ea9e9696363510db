// Package verify checks completion claims against independent evidence:
// expected files on disk, deployment reachability, build and test command
// outcomes, and version control history. Checks run concurrently and a
// failing check is evidence, not an error, so the evidence list is always
// complete.
package verify

import (
	"context"
	"net/http"
	"time"

	"github.com/sourcegraph/conc/pool"

	"aide/internal/agent/ports"
	"aide/internal/logging"
)

// EvidenceType names the source of one piece of evidence.
type EvidenceType string

const (
	EvidenceFile       EvidenceType = "file"
	EvidenceDeployment EvidenceType = "deployment"
	EvidenceBuild      EvidenceType = "build"
	EvidenceTest       EvidenceType = "test"
	EvidenceGit        EvidenceType = "git"
)

// EvidenceStatus classifies one check outcome. Skipped evidence is excluded
// from confidence entirely; partial counts half.
type EvidenceStatus string

const (
	StatusPass    EvidenceStatus = "pass"
	StatusFail    EvidenceStatus = "fail"
	StatusPartial EvidenceStatus = "partial"
	StatusSkipped EvidenceStatus = "skipped"
)

// Evidence is one falsifiable observation about the claimed outcome.
type Evidence struct {
	Type     EvidenceType      `json:"type"`
	Status   EvidenceStatus    `json:"status"`
	Details  string            `json:"details"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// VerificationContext describes what a completed task claims to have done.
type VerificationContext struct {
	WorkspacePath string   `json:"workspace_path,omitempty"`
	DeploymentURL string   `json:"deployment_url,omitempty"`
	ExpectedFiles []string `json:"expected_files,omitempty"`
	BuildCommand  string   `json:"build_command,omitempty"`
	TestCommand   string   `json:"test_command,omitempty"`
}

// VerificationResult aggregates the evidence into a confidence score.
type VerificationResult struct {
	TaskID      string     `json:"task_id"`
	Confidence  float64    `json:"confidence"`
	Verified    bool       `json:"verified"`
	Evidence    []Evidence `json:"evidence"`
	Suggestions []string   `json:"suggestions,omitempty"`
	CheckedAt   time.Time  `json:"checked_at"`
}

// Evidence weights. Deployment and build outrank file and git evidence
// because a live page or clean build is much harder to fake by accident.
var evidenceWeights = map[EvidenceType]float64{
	EvidenceFile:       1.0,
	EvidenceDeployment: 2.0,
	EvidenceBuild:      2.0,
	EvidenceTest:       1.5,
	EvidenceGit:        1.0,
}

const (
	defaultThreshold      = 0.7
	defaultProbeTimeout   = 10 * time.Second
	defaultCommandTimeout = 2 * time.Minute
	defaultMaxConcurrent  = 4
)

// Config tunes a Verifier. Zero values get defaults.
type Config struct {
	// Threshold is the minimum confidence for Verified.
	Threshold      float64
	ProbeTimeout   time.Duration
	CommandTimeout time.Duration
	// MaxConcurrent bounds parallel checks.
	MaxConcurrent int

	HTTPClient *http.Client
	Executor   CommandExecutor
	Logger     logging.Logger
	Clock      ports.Clock
}

// Verifier runs independent evidence checks for completed tasks.
type Verifier struct {
	threshold      float64
	probeTimeout   time.Duration
	commandTimeout time.Duration
	maxConcurrent  int

	client   *http.Client
	executor CommandExecutor
	logger   logging.Logger
	clock    ports.Clock
}

// New creates a Verifier.
func New(config Config) *Verifier {
	v := &Verifier{
		threshold:      config.Threshold,
		probeTimeout:   config.ProbeTimeout,
		commandTimeout: config.CommandTimeout,
		maxConcurrent:  config.MaxConcurrent,
		client:         config.HTTPClient,
		executor:       config.Executor,
		logger:         logging.OrNop(config.Logger),
		clock:          config.Clock,
	}
	if v.threshold <= 0 {
		v.threshold = defaultThreshold
	}
	if v.probeTimeout <= 0 {
		v.probeTimeout = defaultProbeTimeout
	}
	if v.commandTimeout <= 0 {
		v.commandTimeout = defaultCommandTimeout
	}
	if v.maxConcurrent <= 0 {
		v.maxConcurrent = defaultMaxConcurrent
	}
	if v.client == nil {
		v.client = &http.Client{Timeout: v.probeTimeout}
	}
	if v.executor == nil {
		v.executor = cliExecutor{}
	}
	if v.clock == nil {
		v.clock = ports.SystemClock{}
	}
	return v
}

// Verify runs every applicable check and scores the evidence. It always
// returns a complete result; check errors surface as evidence statuses.
func (v *Verifier) Verify(ctx context.Context, taskID string, vctx VerificationContext) *VerificationResult {
	checks := v.plan(vctx)

	evidence := make([]Evidence, len(checks))
	p := pool.New().WithMaxGoroutines(v.maxConcurrent)
	for i, check := range checks {
		i, check := i, check
		p.Go(func() {
			evidence[i] = check(ctx)
		})
	}
	p.Wait()

	result := &VerificationResult{
		TaskID:    taskID,
		Evidence:  evidence,
		CheckedAt: v.clock.Now(),
	}
	result.Confidence = confidence(evidence)
	result.Verified = result.Confidence >= v.threshold
	for _, e := range evidence {
		if e.Status == StatusFail {
			result.Suggestions = append(result.Suggestions, suggestionFor(e))
		}
	}

	v.logger.Info("Verified task %s: confidence %.2f (%d evidence, verified=%t)",
		taskID, result.Confidence, len(result.Evidence), result.Verified)
	return result
}

type checkFunc func(ctx context.Context) Evidence

// plan lists the applicable checks in stable evidence order: files first,
// then deployment, build, test, git.
func (v *Verifier) plan(vctx VerificationContext) []checkFunc {
	var checks []checkFunc
	for _, path := range vctx.ExpectedFiles {
		path := path
		checks = append(checks, func(ctx context.Context) Evidence {
			return v.checkFile(vctx.WorkspacePath, path)
		})
	}
	if vctx.DeploymentURL != "" {
		checks = append(checks, func(ctx context.Context) Evidence {
			return v.checkDeployment(ctx, vctx.DeploymentURL)
		})
	}
	if vctx.BuildCommand != "" {
		checks = append(checks, func(ctx context.Context) Evidence {
			return v.checkBuild(ctx, vctx.WorkspacePath, vctx.BuildCommand)
		})
	}
	if vctx.TestCommand != "" {
		checks = append(checks, func(ctx context.Context) Evidence {
			return v.checkTest(ctx, vctx.WorkspacePath, vctx.TestCommand)
		})
	}
	if vctx.WorkspacePath != "" {
		checks = append(checks, func(ctx context.Context) Evidence {
			return v.checkGit(ctx, vctx.WorkspacePath)
		})
	}
	return checks
}

// confidence is the weighted share of passing evidence. Partial counts half
// its weight; skipped evidence is excluded from both sides of the ratio.
func confidence(evidence []Evidence) float64 {
	var earned, total float64
	for _, e := range evidence {
		w := evidenceWeights[e.Type]
		switch e.Status {
		case StatusPass:
			earned += w
			total += w
		case StatusPartial:
			earned += w / 2
			total += w
		case StatusFail:
			total += w
		}
	}
	if total == 0 {
		return 0
	}
	return earned / total
}

func suggestionFor(e Evidence) string {
	switch e.Type {
	case EvidenceFile:
		return "create missing file " + e.Metadata["path"]
	case EvidenceDeployment:
		return "make the deployment at " + e.Metadata["url"] + " reachable"
	case EvidenceBuild:
		return "fix build errors"
	case EvidenceTest:
		return "fix failing tests"
	case EvidenceGit:
		return "commit the completed work"
	default:
		return "address failed " + string(e.Type) + " check"
	}
}
