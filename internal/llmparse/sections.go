package llmparse

import (
	"regexp"
	"strings"
	"unicode"
)

// Emphasis and bracket decoration that may surround a section label, as in
// "**PART 2:**", "### PART 2" or "[PART 2]".
const labelDecoration = `[ \t#*_>\[\(]*`

// ExtractSection returns the text following label up to the next label of
// the same family, or the end of text. The family is the label without its
// trailing number, so "PART 2" runs until "PART 3" (or any other "PART n").
// It returns "" when the label does not occur.
func ExtractSection(text, label string) string {
	label = strings.TrimSpace(label)
	if label == "" || text == "" {
		return ""
	}
	if len(text) > MaxInputBytes {
		text = text[:MaxInputBytes]
	}

	start, err := regexp.Compile(`(?i)` + boundary(label, true) + regexp.QuoteMeta(label) + boundary(label, false) + `[ \t*_\]\)]*[:.\-]?[ \t*_\]\)]*`)
	if err != nil {
		return ""
	}
	loc := start.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	body := text[loc[1]:]

	family := strings.TrimSpace(strings.TrimRightFunc(label, unicode.IsDigit))
	if family != "" && family != label {
		next, err := regexp.Compile(`(?i)` + labelDecoration + boundary(family, true) + regexp.QuoteMeta(family) + `[ \t]*\d+\b`)
		if err == nil {
			if end := next.FindStringIndex(body); end != nil {
				body = body[:end[0]]
			}
		}
	}
	return strings.Trim(strings.TrimSpace(body), "*_")
}

// boundary adds a word boundary on the given side of label when that side is
// a word character, so "PART 1" never matches inside "PART 10" or "DEPART 1".
func boundary(label string, leading bool) string {
	c := label[len(label)-1]
	if leading {
		c = label[0]
	}
	if c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
		return `\b`
	}
	return ""
}
