package llmparse

import "strings"

const fence = "```"

// StripFences removes a markdown code fence around the payload. An opening
// fence without a closing one keeps everything after the opening line, which
// is what a truncated response looks like.
func StripFences(s string) string {
	open := strings.Index(s, fence)
	if open == -1 {
		return s
	}
	body := s[open+len(fence):]
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		// Skip the language tag line (```json).
		if tag := strings.TrimSpace(body[:nl]); !strings.ContainsAny(tag, "{[") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, fence); end != -1 {
		body = body[:end]
	}
	if !strings.ContainsAny(body, "{[") {
		return strings.ReplaceAll(s, fence, "")
	}
	return strings.TrimSpace(body)
}

// ExtractCandidate returns the first object or array in text, matched by
// bracket counting rather than a last-index search. When the structure never
// closes the rest of the text is returned for the later stages to repair.
func ExtractCandidate(text string) string {
	s := StripFences(text)
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return ""
	}
	candidate, _ := matchContainer(s, start)
	return strings.TrimSpace(candidate)
}
