package forensic

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"workflowaudit/internal/domain"
	"workflowaudit/internal/normalize"
)

const (
	maxTranscriptSteps  = 60
	maxTranscriptRemark = 400
	maxContextFields    = 12
	maxContextValue     = 120
)

// Transcript renders a ticket's steps as a turn-by-turn history, one line
// per step in row order. Timestamps are shown but never used for ordering.
func Transcript(steps []domain.WorkflowStep) string {
	var b strings.Builder
	shown := steps
	if len(shown) > maxTranscriptSteps {
		shown = shown[len(shown)-maxTranscriptSteps:]
		fmt.Fprintf(&b, "(%d earlier steps omitted)\n", len(steps)-maxTranscriptSteps)
	}
	for i, step := range shown {
		author := step.Actor()
		if author == "" {
			author = domain.Unknown
		}
		remark := strings.Join(strings.Fields(step.Remark), " ")
		if remark == "" {
			remark = "(no remark)"
		}
		remark = truncate(remark, maxTranscriptRemark)
		date := "-"
		if !step.AppliedAt.IsZero() {
			date = step.AppliedAt.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "%d. [%s] %s (role: %s, date: %s, days: %.1f)\n",
			i+1, author, remark, orDash(step.Role), date, step.DaysRested)
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncate cuts s to at most n bytes on a rune boundary and marks the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// ticketContext lists the recorded columns of a ticket's first step that the
// normalizer did not map to a field, as "column: value" pairs.
func ticketContext(steps []domain.WorkflowStep) string {
	if len(steps) == 0 {
		return ""
	}
	raw := steps[0].Raw
	keys := make([]string, 0, len(raw))
	for k, v := range raw {
		if strings.TrimSpace(v) == "" || normalize.Known(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxContextFields {
		keys = keys[:maxContextFields]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.Join(strings.Fields(raw[k]), " ")
		parts = append(parts, k+": "+truncate(v, maxContextValue))
	}
	return strings.Join(parts, "; ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
