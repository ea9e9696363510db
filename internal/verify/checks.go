package verify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"aide/internal/agent/textutil"
)

// Patterns that mark a build as broken regardless of exit status. Exit codes
// are unreliable across build tools, the output text is not.
var buildErrorRe = regexp.MustCompile(`error:|FAIL|cannot |undefined:|fatal:`)

const maxProbeBody = 1 << 20

func (v *Verifier) checkFile(workspace, path string) Evidence {
	resolved := path
	if !filepath.IsAbs(path) && workspace != "" {
		resolved = filepath.Join(workspace, path)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return Evidence{
			Type:     EvidenceFile,
			Status:   StatusFail,
			Details:  fmt.Sprintf("expected file %s not found", path),
			Metadata: map[string]string{"path": path},
		}
	}
	details := fmt.Sprintf("file %s exists (%d bytes)", path, info.Size())
	if info.IsDir() {
		details = fmt.Sprintf("directory %s exists", path)
	}
	return Evidence{
		Type:     EvidenceFile,
		Status:   StatusPass,
		Details:  details,
		Metadata: map[string]string{"path": path},
	}
}

func (v *Verifier) checkDeployment(ctx context.Context, url string) Evidence {
	evidence := Evidence{
		Type:     EvidenceDeployment,
		Metadata: map[string]string{"url": url},
	}

	probeCtx, cancel := context.WithTimeout(ctx, v.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		evidence.Status = StatusFail
		evidence.Details = fmt.Sprintf("invalid deployment URL: %v", err)
		return evidence
	}
	resp, err := v.client.Do(req)
	if err != nil {
		evidence.Status = StatusFail
		evidence.Details = fmt.Sprintf("deployment unreachable: %v", err)
		return evidence
	}
	defer resp.Body.Close()

	evidence.Metadata["status"] = strconv.Itoa(resp.StatusCode)
	if resp.StatusCode >= 400 {
		evidence.Status = StatusFail
		evidence.Details = fmt.Sprintf("deployment returned status %d", resp.StatusCode)
		return evidence
	}

	evidence.Status = StatusPass
	evidence.Details = fmt.Sprintf("deployment reachable (status %d)", resp.StatusCode)
	if title := pageTitle(io.LimitReader(resp.Body, maxProbeBody)); title != "" {
		evidence.Metadata["title"] = title
	}
	return evidence
}

func (v *Verifier) checkBuild(ctx context.Context, workspace, command string) Evidence {
	evidence := Evidence{
		Type:     EvidenceBuild,
		Metadata: map[string]string{"command": command},
	}

	fields, err := splitCommand(command)
	if err != nil {
		evidence.Status = StatusFail
		evidence.Details = fmt.Sprintf("invalid build command: %v", err)
		return evidence
	}

	output, runErr := v.runCommand(ctx, workspace, fields)
	if len(output) == 0 && runErr != nil {
		evidence.Status = StatusFail
		evidence.Details = fmt.Sprintf("build command failed to start: %v", runErr)
		return evidence
	}
	if runErr != nil {
		evidence.Metadata["exit_error"] = runErr.Error()
	}

	if line := firstBuildError(string(output)); line != "" {
		evidence.Status = StatusFail
		evidence.Details = "build output contains errors: " + textutil.TruncateWithEllipsis(line, 160)
		return evidence
	}
	evidence.Status = StatusPass
	evidence.Details = "build completed without error patterns"
	return evidence
}

func (v *Verifier) checkTest(ctx context.Context, workspace, command string) Evidence {
	evidence := Evidence{
		Type:     EvidenceTest,
		Metadata: map[string]string{"command": command},
	}

	fields, err := splitCommand(command)
	if err != nil {
		evidence.Status = StatusFail
		evidence.Details = fmt.Sprintf("invalid test command: %v", err)
		return evidence
	}

	output, runErr := v.runCommand(ctx, workspace, fields)
	if len(output) == 0 && runErr != nil {
		evidence.Status = StatusFail
		evidence.Details = fmt.Sprintf("test command failed to start: %v", runErr)
		return evidence
	}

	stats := parseTestOutput(string(output))
	if stats.Total == 0 {
		evidence.Status = StatusSkipped
		evidence.Details = "no parseable test counts in output"
		return evidence
	}
	evidence.Metadata["total"] = strconv.Itoa(stats.Total)
	evidence.Metadata["failed"] = strconv.Itoa(stats.Failed)
	if stats.Failed > 0 {
		evidence.Status = StatusFail
		evidence.Details = fmt.Sprintf("%d of %d tests failed", stats.Failed, stats.Total)
		return evidence
	}
	evidence.Status = StatusPass
	evidence.Details = fmt.Sprintf("%d tests passed", stats.Passed)
	return evidence
}

func (v *Verifier) checkGit(ctx context.Context, workspace string) Evidence {
	evidence := Evidence{Type: EvidenceGit, Metadata: map[string]string{}}

	output, err := v.runCommand(ctx, workspace, []string{"git", "rev-list", "--count", "HEAD"})
	if err != nil {
		evidence.Status = StatusSkipped
		evidence.Details = fmt.Sprintf("git history unavailable: %v", err)
		return evidence
	}

	count, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		evidence.Status = StatusSkipped
		evidence.Details = "unexpected git rev-list output"
		return evidence
	}
	evidence.Metadata["commits"] = strconv.Itoa(count)
	if count == 0 {
		evidence.Status = StatusPartial
		evidence.Details = "repository has no commits yet"
		return evidence
	}
	evidence.Status = StatusPass
	evidence.Details = fmt.Sprintf("%d commits in history", count)
	return evidence
}

func (v *Verifier) runCommand(ctx context.Context, dir string, fields []string) ([]byte, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, v.commandTimeout)
	defer cancel()
	return v.executor.Run(cmdCtx, dir, fields[0], fields[1:]...)
}

func firstBuildError(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if buildErrorRe.MatchString(line) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

func pageTitle(body io.Reader) string {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return ""
	}
	return textutil.TruncateWithEllipsis(strings.TrimSpace(doc.Find("title").First().Text()), 120)
}
