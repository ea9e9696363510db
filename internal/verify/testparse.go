package verify

import (
	"regexp"
	"strings"
)

// testStats holds pass/fail counts parsed from test runner output.
type testStats struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

var (
	goTestRe = regexp.MustCompile(`^--- (PASS|FAIL|SKIP): (\S+)`)
	// The generic patterns also cover go test package summaries
	// ("ok <pkg> 0.1s", "FAIL <pkg> 0.1s").
	genericPassRe = regexp.MustCompile(`(?i)^(PASS|✓|√|ok)\s`)
	genericFailRe = regexp.MustCompile(`(?i)^(FAIL|✗|✘|×|not ok)\s`)
)

// parseTestOutput extracts test counts from go test output, falling back to
// generic PASS/FAIL line counting. A zero Total means nothing parseable.
func parseTestOutput(output string) testStats {
	lines := strings.Split(output, "\n")

	var stats testStats
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if m := goTestRe.FindStringSubmatch(line); len(m) == 3 {
			stats.Total++
			switch m[1] {
			case "PASS":
				stats.Passed++
			case "FAIL":
				stats.Failed++
			case "SKIP":
				stats.Skipped++
			}
		}
	}
	if stats.Total > 0 {
		return stats
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if genericPassRe.MatchString(line) {
			stats.Total++
			stats.Passed++
		} else if genericFailRe.MatchString(line) {
			stats.Total++
			stats.Failed++
		}
	}
	return stats
}
