package verify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"aide/internal/agent/ports/mocks"
	"aide/internal/logging"
)

// fakeExecutor routes commands by executable name.
type fakeExecutor struct {
	outputs map[string]string
	errs    map[string]error

	mu    sync.Mutex
	calls [][]string
}

func (f *fakeExecutor) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if err, ok := f.errs[name]; ok && err != nil {
		return []byte(f.outputs[name]), err
	}
	return []byte(f.outputs[name]), nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newVerifier(t *testing.T, config Config) *Verifier {
	t.Helper()
	if config.Logger == nil {
		config.Logger = logging.Nop()
	}
	return New(config)
}

func writeWorkspaceFile(t *testing.T, ws, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(ws, name), []byte("content\n"), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestVerifyAllPassingEvidence(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "report.md")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Status Page</title></head><body>up</body></html>`)
	}))
	defer srv.Close()

	executor := &fakeExecutor{outputs: map[string]string{
		"make": "compiling\ndone\n",
		"go":   "--- PASS: TestAlpha\n--- PASS: TestBeta\nok  \texample.com/pkg\t0.21s\n",
		"git":  "5\n",
	}}
	clock := mocks.NewFixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	v := newVerifier(t, Config{Executor: executor, Clock: clock})

	result := v.Verify(context.Background(), "task-1", VerificationContext{
		WorkspacePath: ws,
		DeploymentURL: srv.URL,
		ExpectedFiles: []string{"report.md"},
		BuildCommand:  "make build",
		TestCommand:   "go test ./...",
	})

	if result.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", result.Confidence)
	}
	if !result.Verified {
		t.Error("Verified = false, want true")
	}
	if len(result.Evidence) != 5 {
		t.Fatalf("len(Evidence) = %d, want 5", len(result.Evidence))
	}
	wantOrder := []EvidenceType{EvidenceFile, EvidenceDeployment, EvidenceBuild, EvidenceTest, EvidenceGit}
	for i, want := range wantOrder {
		if result.Evidence[i].Type != want {
			t.Errorf("Evidence[%d].Type = %s, want %s", i, result.Evidence[i].Type, want)
		}
		if result.Evidence[i].Status != StatusPass {
			t.Errorf("Evidence[%d] (%s) status = %s, want pass (%s)",
				i, result.Evidence[i].Type, result.Evidence[i].Status, result.Evidence[i].Details)
		}
	}
	if len(result.Suggestions) != 0 {
		t.Errorf("Suggestions = %v, want none", result.Suggestions)
	}
	if title := result.Evidence[1].Metadata["title"]; title != "Status Page" {
		t.Errorf("deployment title = %q, want Status Page", title)
	}
	if !result.CheckedAt.Equal(clock.Now()) {
		t.Errorf("CheckedAt = %v, want %v", result.CheckedAt, clock.Now())
	}
	if executor.callCount() != 3 {
		t.Errorf("executor ran %d commands, want 3 (build, test, git)", executor.callCount())
	}
}

func TestVerifySingleFailureExactWeightMath(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "present.md")

	executor := &fakeExecutor{outputs: map[string]string{"git": "2\n"}}
	v := newVerifier(t, Config{Executor: executor})

	result := v.Verify(context.Background(), "task-1", VerificationContext{
		WorkspacePath: ws,
		ExpectedFiles: []string{"present.md", "missing.md"},
	})

	// Weights: two file checks at 1.0 each plus git at 1.0; one file failed.
	want := 2.0 / 3.0
	if math.Abs(result.Confidence-want) > 1e-9 {
		t.Errorf("Confidence = %v, want %v", result.Confidence, want)
	}
	if result.Verified {
		t.Error("Verified = true, want false below 0.7")
	}
	if len(result.Suggestions) != 1 || result.Suggestions[0] != "create missing file missing.md" {
		t.Errorf("Suggestions = %v", result.Suggestions)
	}
}

func TestVerifySkippedEvidenceExcludedFromConfidence(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "out.txt")

	executor := &fakeExecutor{outputs: map[string]string{
		"npx": "nothing recognizable here\n",
		"git": "4\n",
	}}
	v := newVerifier(t, Config{Executor: executor})

	result := v.Verify(context.Background(), "task-1", VerificationContext{
		WorkspacePath: ws,
		ExpectedFiles: []string{"out.txt"},
		TestCommand:   "npx vitest run",
	})

	if len(result.Evidence) != 3 {
		t.Fatalf("len(Evidence) = %d, want 3", len(result.Evidence))
	}
	if result.Evidence[1].Status != StatusSkipped {
		t.Errorf("test evidence status = %s, want skipped", result.Evidence[1].Status)
	}
	if result.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0 with skipped test excluded", result.Confidence)
	}
}

func TestVerifyDeploymentStatuses(t *testing.T) {
	t.Run("server error fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		v := newVerifier(t, Config{})
		result := v.Verify(context.Background(), "task-1", VerificationContext{DeploymentURL: srv.URL})

		if len(result.Evidence) != 1 || result.Evidence[0].Status != StatusFail {
			t.Fatalf("evidence = %+v, want one fail", result.Evidence)
		}
		if !strings.Contains(result.Evidence[0].Details, "500") {
			t.Errorf("details = %q, want status 500 mentioned", result.Evidence[0].Details)
		}
		want := "make the deployment at " + srv.URL + " reachable"
		if len(result.Suggestions) != 1 || result.Suggestions[0] != want {
			t.Errorf("Suggestions = %v, want [%s]", result.Suggestions, want)
		}
	})

	t.Run("transport error fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := srv.URL
		srv.Close()

		v := newVerifier(t, Config{})
		result := v.Verify(context.Background(), "task-1", VerificationContext{DeploymentURL: url})

		if result.Evidence[0].Status != StatusFail {
			t.Errorf("status = %s, want fail", result.Evidence[0].Status)
		}
		if !strings.Contains(result.Evidence[0].Details, "unreachable") {
			t.Errorf("details = %q", result.Evidence[0].Details)
		}
	})
}

func TestVerifyBuildClassification(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		err        error
		wantStatus EvidenceStatus
		wantDetail string
	}{
		{
			name:       "clean output passes",
			output:     "compiling 14 files\nlinking\n",
			wantStatus: StatusPass,
		},
		{
			name:       "undefined symbol fails",
			output:     "src/main.go:10:2: undefined: Foo\n",
			wantStatus: StatusFail,
			wantDetail: "undefined",
		},
		{
			name:       "cannot find package fails",
			output:     "main.go:3: cannot find package \"x\"\n",
			wantStatus: StatusFail,
			wantDetail: "cannot",
		},
		{
			name:       "start failure fails",
			output:     "",
			err:        errors.New(`exec: "make": executable file not found`),
			wantStatus: StatusFail,
			wantDetail: "failed to start",
		},
		{
			name:       "nonzero exit without error text still passes",
			output:     "warning: deprecated flag used\n",
			err:        errors.New("exit status 1"),
			wantStatus: StatusPass,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &fakeExecutor{
				outputs: map[string]string{"make": tt.output},
				errs:    map[string]error{"make": tt.err},
			}
			v := newVerifier(t, Config{Executor: executor})

			result := v.Verify(context.Background(), "task-1", VerificationContext{BuildCommand: "make build"})
			if len(result.Evidence) != 1 {
				t.Fatalf("len(Evidence) = %d, want 1", len(result.Evidence))
			}
			e := result.Evidence[0]
			if e.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s (%s)", e.Status, tt.wantStatus, e.Details)
			}
			if tt.wantDetail != "" && !strings.Contains(e.Details, tt.wantDetail) {
				t.Errorf("details = %q, want %q mentioned", e.Details, tt.wantDetail)
			}
		})
	}
}

func TestVerifyTestCommandOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantStatus EvidenceStatus
	}{
		{
			name:       "failures fail",
			output:     "--- PASS: TestAlpha\n--- FAIL: TestBeta\nFAIL\texample.com/pkg\t0.31s\n",
			wantStatus: StatusFail,
		},
		{
			name:       "all passing passes",
			output:     "--- PASS: TestAlpha\n--- PASS: TestBeta\nok  \texample.com/pkg\t0.11s\n",
			wantStatus: StatusPass,
		},
		{
			name:       "unparseable output is skipped",
			output:     "ran some things, everything seemed fine\n",
			wantStatus: StatusSkipped,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &fakeExecutor{outputs: map[string]string{"go": tt.output}}
			v := newVerifier(t, Config{Executor: executor})

			result := v.Verify(context.Background(), "task-1", VerificationContext{TestCommand: "go test ./..."})
			if result.Evidence[0].Status != tt.wantStatus {
				t.Errorf("status = %s, want %s (%s)", result.Evidence[0].Status, tt.wantStatus, result.Evidence[0].Details)
			}
		})
	}
}

func TestVerifyGitEvidence(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		err        error
		wantStatus EvidenceStatus
	}{
		{name: "history passes", output: "7\n", wantStatus: StatusPass},
		{name: "fresh repository is partial", output: "0\n", wantStatus: StatusPartial},
		{name: "git error is skipped", err: errors.New("not a git repository"), wantStatus: StatusSkipped},
		{name: "garbage output is skipped", output: "HEAD?\n", wantStatus: StatusSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &fakeExecutor{
				outputs: map[string]string{"git": tt.output},
				errs:    map[string]error{"git": tt.err},
			}
			v := newVerifier(t, Config{Executor: executor})

			result := v.Verify(context.Background(), "task-1", VerificationContext{WorkspacePath: t.TempDir()})
			if result.Evidence[0].Status != tt.wantStatus {
				t.Errorf("status = %s, want %s (%s)", result.Evidence[0].Status, tt.wantStatus, result.Evidence[0].Details)
			}
		})
	}
}

func TestVerifyPartialCountsHalfWeight(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "done.md")

	executor := &fakeExecutor{outputs: map[string]string{"git": "0\n"}}
	v := newVerifier(t, Config{Executor: executor})

	result := v.Verify(context.Background(), "task-1", VerificationContext{
		WorkspacePath: ws,
		ExpectedFiles: []string{"done.md"},
	})

	// file pass (1.0) + git partial (0.5) over total 2.0.
	if math.Abs(result.Confidence-0.75) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.75", result.Confidence)
	}
	if !result.Verified {
		t.Error("Verified = false, want true at 0.75 against default threshold")
	}
	if len(result.Suggestions) != 0 {
		t.Errorf("partial evidence should not produce suggestions, got %v", result.Suggestions)
	}
}

func TestVerifyThresholdConfigurable(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "done.md")

	executor := &fakeExecutor{outputs: map[string]string{"git": "0\n"}}
	v := newVerifier(t, Config{Executor: executor, Threshold: 0.9})

	result := v.Verify(context.Background(), "task-1", VerificationContext{
		WorkspacePath: ws,
		ExpectedFiles: []string{"done.md"},
	})
	if result.Verified {
		t.Errorf("Verified = true at confidence %v against threshold 0.9", result.Confidence)
	}
}

func TestVerifyChecksRunIndependently(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	executor := &fakeExecutor{
		outputs: map[string]string{"go": "--- FAIL: TestGone\nFAIL\tpkg\t0.1s\n"},
		errs: map[string]error{
			"make": errors.New("spawn failed"),
			"git":  errors.New("not a git repository"),
		},
	}
	v := newVerifier(t, Config{Executor: executor})

	result := v.Verify(context.Background(), "task-1", VerificationContext{
		WorkspacePath: t.TempDir(),
		DeploymentURL: srv.URL,
		ExpectedFiles: []string{"never-created.md"},
		BuildCommand:  "make",
		TestCommand:   "go test ./...",
	})

	if len(result.Evidence) != 5 {
		t.Fatalf("len(Evidence) = %d, want complete list of 5", len(result.Evidence))
	}
	for i, e := range result.Evidence {
		if e.Status == "" {
			t.Errorf("Evidence[%d] has empty status", i)
		}
	}
	// file fail, deployment fail, build fail, test fail produce suggestions;
	// skipped git does not.
	if len(result.Suggestions) != 4 {
		t.Errorf("len(Suggestions) = %d, want 4: %v", len(result.Suggestions), result.Suggestions)
	}
	if result.Verified {
		t.Error("Verified = true, want false")
	}
}

func TestVerifyNoApplicableChecks(t *testing.T) {
	v := newVerifier(t, Config{Executor: &fakeExecutor{}})

	result := v.Verify(context.Background(), "task-1", VerificationContext{})
	if len(result.Evidence) != 0 {
		t.Errorf("len(Evidence) = %d, want 0", len(result.Evidence))
	}
	if result.Confidence != 0 || result.Verified {
		t.Errorf("Confidence = %v Verified = %t, want 0/false", result.Confidence, result.Verified)
	}
}

func TestVerifyInvalidCommandString(t *testing.T) {
	v := newVerifier(t, Config{Executor: &fakeExecutor{}})

	result := v.Verify(context.Background(), "task-1", VerificationContext{
		BuildCommand: "make 'unterminated",
	})
	if result.Evidence[0].Status != StatusFail {
		t.Errorf("status = %s, want fail", result.Evidence[0].Status)
	}
	if !strings.Contains(result.Evidence[0].Details, "invalid build command") {
		t.Errorf("details = %q", result.Evidence[0].Details)
	}
}
