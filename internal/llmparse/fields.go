package llmparse

import (
	"encoding/json"
	"regexp"
	"strings"
)

// CloseTruncated cuts s back to the last point where every open value was
// complete and appends the missing closing brackets. A string value cut off
// mid-text is closed and kept. Text with no opening bracket is returned as is.
func CloseTruncated(s string) string {
	type frame struct {
		object      bool
		expectValue bool
	}
	var stack []frame
	safeEnd := -1
	offset := 0
	toks := lex(s)

	valueDone := func(end int) {
		if len(stack) == 0 {
			return
		}
		top := &stack[len(stack)-1]
		switch {
		case !top.object:
			safeEnd = end
		case top.expectValue:
			top.expectValue = false
			safeEnd = end
		}
	}

	base := ""
	for i, t := range toks {
		end := offset + len(t.text)
		last := i == len(toks)-1
		switch t.kind {
		case tokOpen:
			stack = append(stack, frame{object: t.text == "{"})
			safeEnd = end
		case tokClose:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				safeEnd = end
			} else {
				valueDone(end)
			}
		case tokColon:
			if len(stack) > 0 && stack[len(stack)-1].object {
				stack[len(stack)-1].expectValue = true
			}
		case tokComma:
			if len(stack) > 0 && stack[len(stack)-1].object {
				stack[len(stack)-1].expectValue = false
			}
		case tokString:
			inValue := len(stack) > 0 && (!stack[len(stack)-1].object || stack[len(stack)-1].expectValue)
			if !t.closed && inValue {
				base = closeString(s, t.text[0])
				break
			}
			if t.closed {
				valueDone(end)
			}
		case tokLiteral:
			if !last || json.Valid([]byte(t.text)) {
				valueDone(end)
			}
		}
		offset = end
	}
	if safeEnd == -1 {
		return s
	}
	if base == "" {
		base = strings.TrimRight(s[:safeEnd], " \t\r\n")
	}
	return base + closers(base)
}

// closeString terminates a string, opened with quote, that runs to the end
// of s.
func closeString(s string, quote byte) string {
	trailing := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		trailing++
	}
	if trailing%2 == 1 {
		s = s[:len(s)-1]
	}
	return s + string(quote)
}

// closers returns the brackets that balance the open containers in s.
func closers(s string) string {
	var stack []byte
	for _, t := range lex(s) {
		switch t.kind {
		case tokOpen:
			if t.text == "{" {
				stack = append(stack, '}')
			} else {
				stack = append(stack, ']')
			}
		case tokClose:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	out := make([]byte, len(stack))
	for i := range stack {
		out[i] = stack[len(stack)-1-i]
	}
	return string(out)
}

// ReconstructFields recovers each named top-level field independently so a
// corrupt neighbour cannot poison it. For every key it finds "key": { (or
// [), takes the value by bracket counting, closes it if the text ends first,
// and runs the fragment through the strict, repair and relaxed stages. Keys
// that cannot be recovered are absent from the result; nil means none were.
func ReconstructFields(text string, keys []string) map[string]any {
	out := make(map[string]any)
	for _, key := range keys {
		if key == "" {
			continue
		}
		re, err := regexp.Compile(`["']` + regexp.QuoteMeta(key) + `["']\s*:\s*[{\[]`)
		if err != nil {
			continue
		}
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		fragment, complete := matchContainer(text, loc[1]-1)
		if !complete {
			fragment = CloseTruncated(fragment)
		}
		if v, _, ok := parseCandidate(fragment); ok {
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
