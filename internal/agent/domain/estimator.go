package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Estimator sizes a goal before any execution happens. Estimation is a
// pure function of the goal text and optional hint: no I/O, no clock,
// deterministic for identical input, and it never fails. Rules are
// evaluated in a fixed order and the first match wins.
type Estimator struct{}

// NewEstimator creates a complexity estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

var (
	trivialPattern = regexp.MustCompile(`(?i)^(open|close|read|run|stop|start|print|echo|ping)\s+\S+$`)
	digitPattern   = regexp.MustCompile(`\b(\d+)\b`)
)

var listingVerbs = []string{
	"list", "show", "get", "fetch", "find", "check", "display", "view",
	"lookup", "search", "retrieve",
}

var mutationVerbs = []string{
	"create", "add", "make", "write", "generate", "update", "edit",
	"modify", "change", "set", "rename", "delete", "remove", "upload",
}

var analysisVerbs = []string{
	"analyze", "analyse", "review", "investigate", "compare", "summarize",
	"summarise", "evaluate", "audit", "assess", "diagnose", "explain",
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "fifteen": 15, "twenty": 20,
}

// hintEstimates maps caller-provided task-type hints to canned estimates.
var hintEstimates = map[string]ComplexityEstimate{
	"quick_lookup": {
		Tier: TierSimple, RecommendedIterations: 3, MinIterations: 1, MaxIterations: 5,
		Confidence: ConfidenceHigh,
	},
	"bugfix": {
		Tier: TierModerate, RecommendedIterations: 8, MinIterations: 4, MaxIterations: 15,
		Confidence: ConfidenceMedium,
	},
	"deployment": {
		Tier: TierComplex, RecommendedIterations: 15, MinIterations: 8, MaxIterations: 25,
		Confidence: ConfidenceMedium,
	},
	"research": {
		Tier: TierComplex, RecommendedIterations: 20, MinIterations: 10, MaxIterations: 35,
		Confidence: ConfidenceMedium, RequiresDecomposition: true,
	},
	"migration": {
		Tier: TierVeryComplex, RecommendedIterations: 30, MinIterations: 15, MaxIterations: 50,
		Confidence: ConfidenceMedium, RequiresDecomposition: true,
	},
}

// Estimate sizes the goal. hint may be empty.
func (e *Estimator) Estimate(goal string, hint string) ComplexityEstimate {
	normalized := strings.ToLower(strings.TrimSpace(goal))
	tokens := strings.Fields(normalized)

	// (a) trivial single-operation phrasing
	if len(tokens) <= 3 || trivialPattern.MatchString(strings.TrimSpace(goal)) {
		return ComplexityEstimate{
			Tier:                  TierSimple,
			RecommendedIterations: 2,
			MinIterations:         1,
			MaxIterations:         3,
			Confidence:            ConfidenceHigh,
			Reasoning:             "trivial single-operation goal",
		}
	}

	connectors := detectConnectors(normalized)

	// (b) listing/retrieval without multi-step connectors
	if verb, ok := leadingVerb(tokens, listingVerbs); ok && len(connectors) == 0 {
		return ComplexityEstimate{
			Tier:                  TierSimple,
			RecommendedIterations: 4,
			MinIterations:         2,
			MaxIterations:         6,
			Confidence:            ConfidenceHigh,
			Reasoning:             fmt.Sprintf("listing verb %q with no multi-step connectors", verb),
		}
	}

	// (c) create/update scaled by item count
	if verb, ok := leadingVerb(tokens, mutationVerbs); ok && len(connectors) == 0 {
		count := extractItemCount(normalized)
		tier := TierModerate
		if count >= 5 {
			tier = TierComplex
		}
		rec := 2 + 2*count
		return ComplexityEstimate{
			Tier:                  tier,
			RecommendedIterations: rec,
			MinIterations:         count + 1,
			MaxIterations:         rec * 2,
			Confidence:            ConfidenceMedium,
			Reasoning:             fmt.Sprintf("mutation verb %q over %d item(s)", verb, count),
		}
	}

	// (d) analysis verbs
	if verb, ok := leadingVerb(tokens, analysisVerbs); ok && len(connectors) == 0 {
		return ComplexityEstimate{
			Tier:                  TierModerate,
			RecommendedIterations: 10,
			MinIterations:         5,
			MaxIterations:         15,
			Confidence:            ConfidenceMedium,
			Reasoning:             fmt.Sprintf("analysis verb %q", verb),
		}
	}

	// (e) multi-step connectors force decomposition
	if len(connectors) > 0 {
		count := extractItemCount(normalized)
		tier := TierComplex
		if count >= 10 || len(connectors) >= 2 {
			tier = TierVeryComplex
		}
		rec := clamp(4*count, 12, 40)
		return ComplexityEstimate{
			Tier:                  tier,
			RecommendedIterations: rec,
			MinIterations:         rec / 2,
			MaxIterations:         clamp(rec*2, rec, 80),
			Confidence:            ConfidenceMedium,
			Reasoning:             fmt.Sprintf("multi-step connectors %v over %d item(s)", connectors, count),
			RequiresDecomposition: true,
		}
	}

	// (f) task-type hint override
	if hint != "" {
		if est, ok := hintEstimates[strings.ToLower(strings.TrimSpace(hint))]; ok {
			est.Reasoning = fmt.Sprintf("task-type hint %q", hint)
			return est
		}
	}

	// (g) default
	return ComplexityEstimate{
		Tier:                  TierModerate,
		RecommendedIterations: 10,
		MinIterations:         5,
		MaxIterations:         20,
		Confidence:            ConfidenceLow,
		Reasoning:             "no pattern matched, default moderate estimate",
	}
}

// leadingVerb reports the first verb from set found in the opening words
// of the goal. Only the first two tokens are considered so verbs buried
// mid-sentence don't trigger the rule.
func leadingVerb(tokens []string, set []string) (string, bool) {
	limit := 2
	if len(tokens) < limit {
		limit = len(tokens)
	}
	for i := 0; i < limit; i++ {
		word := strings.Trim(tokens[i], ",.;:!?")
		for _, verb := range set {
			if word == verb {
				return verb, true
			}
		}
	}
	return "", false
}

// detectConnectors returns the distinct multi-step connector kinds
// present in the goal.
func detectConnectors(goal string) []string {
	var kinds []string
	if strings.Contains(goal, "for each") || strings.Contains(goal, "for every") {
		kinds = append(kinds, "for_each")
	}
	if strings.Contains(goal, " then ") {
		kinds = append(kinds, "then")
	}
	if strings.Count(goal, " and ") >= 2 {
		kinds = append(kinds, "multi_and")
	}
	if strings.Contains(goal, "one by one") || strings.Contains(goal, "all of the") {
		kinds = append(kinds, "loop")
	}
	return kinds
}

// extractItemCount pulls an item count out of the goal: an explicit
// number first, then number words, then quantifiers.
func extractItemCount(goal string) int {
	if match := digitPattern.FindString(goal); match != "" {
		if n, err := strconv.Atoi(match); err == nil && n > 0 {
			return n
		}
	}

	words := make(map[string]bool)
	for _, word := range strings.Fields(goal) {
		trimmed := strings.Trim(word, ",.;:!?")
		words[trimmed] = true
		if n, ok := numberWords[trimmed]; ok {
			return n
		}
	}
	switch {
	case words["all"]:
		return 8
	case words["several"], words["some"]:
		return 4
	case words["few"]:
		return 3
	}
	return 1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
