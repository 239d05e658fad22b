package stats

import (
	"sort"
	"strings"
	"unicode"

	"workflowaudit/internal/domain"
)

const (
	topicCount     = 15
	minTopicLength = 4
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true, "that": true,
	"from": true, "have": true, "has": true, "been": true, "were": true, "was": true,
	"are": true, "not": true, "but": true, "you": true, "your": true, "his": true,
	"her": true, "their": true, "them": true, "they": true, "will": true, "shall": true,
	"into": true, "onto": true, "upon": true, "same": true, "also": true, "please": true,
	"sir": true, "madam": true, "kindly": true, "here": true, "there": true, "which": true,
	"what": true, "when": true, "where": true, "while": true, "after": true, "before": true,
	"being": true, "does": true, "done": true, "more": true, "some": true, "such": true,
	"than": true, "then": true, "these": true, "those": true, "very": true, "only": true,
	"about": true, "again": true, "other": true, "over": true, "under": true, "should": true,
	"would": true, "could": true, "application": true, "applicant": true,
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	var tokens []string
	var cur strings.Builder
	for _, r := range s {
		// Marks carry vowel signs and viramas in Indic scripts.
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
			cur.WriteRune(r)
		} else {
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func numeric(tok string) bool {
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Topics ranks remark terms by frequency. Ties keep first-seen order.
func Topics(steps []domain.WorkflowStep, limit int) []domain.TopicCount {
	counts := make(map[string]int)
	var order []string
	for _, step := range steps {
		for _, tok := range tokenize(step.Remark) {
			if len([]rune(tok)) < minTopicLength || stopWords[tok] || numeric(tok) {
				continue
			}
			if counts[tok] == 0 {
				order = append(order, tok)
			}
			counts[tok]++
		}
	}
	out := make([]domain.TopicCount, 0, len(order))
	for _, tok := range order {
		out = append(out, domain.TopicCount{Term: tok, Count: counts[tok]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
