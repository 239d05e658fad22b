package llmparse

import "strings"

type tokenKind uint8

const (
	tokSpace tokenKind = iota
	tokString
	tokOpen
	tokClose
	tokComma
	tokColon
	tokLiteral
)

type token struct {
	kind tokenKind
	text string
	// closed is false for a string that runs off the end of the input.
	closed bool
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isLiteralByte(c byte) bool {
	switch c {
	case '"', '{', '}', '[', ']', ',', ':':
		return false
	}
	return !isSpace(c)
}

// skipString returns the index just past the string starting at s[i], or
// len(s) when the closing quote is missing.
func skipString(s string, i int) (int, bool) {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j + 1, true
		}
	}
	return len(s), false
}

// lex splits loosely JSON-shaped text into tokens. A single quote opens a
// string only where a value or key may start; elsewhere it is part of a bare
// literal.
func lex(s string) []token {
	var toks []token
	var prev tokenKind = tokOpen
	emit := func(t token) {
		toks = append(toks, t)
		if t.kind != tokSpace {
			prev = t.kind
		}
	}
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case isSpace(c):
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			emit(token{kind: tokSpace, text: s[i:j]})
			i = j
		case c == '"' || (c == '\'' && (prev == tokOpen || prev == tokComma || prev == tokColon)):
			j, ok := skipString(s, i)
			emit(token{kind: tokString, text: s[i:j], closed: ok})
			i = j
		case c == '{' || c == '[':
			emit(token{kind: tokOpen, text: s[i : i+1]})
			i++
		case c == '}' || c == ']':
			emit(token{kind: tokClose, text: s[i : i+1]})
			i++
		case c == ',':
			emit(token{kind: tokComma, text: ","})
			i++
		case c == ':':
			emit(token{kind: tokColon, text: ":"})
			i++
		default:
			j := i + 1
			for j < len(s) && isLiteralByte(s[j]) {
				j++
			}
			emit(token{kind: tokLiteral, text: s[i:j]})
			i = j
		}
	}
	return toks
}

func join(toks []token, sizeHint int) string {
	var b strings.Builder
	b.Grow(sizeHint)
	for _, t := range toks {
		b.WriteString(t.text)
	}
	return b.String()
}

// matchContainer returns the text of the object or array opening at s[start]
// and whether its closing bracket was found. Only double quotes delimit
// strings here; apostrophes are common in prose values.
func matchContainer(s string, start int) (string, bool) {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '"':
			end, ok := skipString(s, i)
			if !ok {
				return s[start:], false
			}
			i = end - 1
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], false
}

func nestingDepth(s string) int {
	depth, maxDepth := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			end, _ := skipString(s, i)
			i = end - 1
		case '{', '[':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case '}', ']':
			if depth > 0 {
				depth--
			}
		}
	}
	return maxDepth
}
