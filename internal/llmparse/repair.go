package llmparse

import "strings"

// EscapeDimensionQuotes escapes inch marks and similar unit quotes inside a
// string value, as in "TV 50" wide". A quote after a digit only closes the
// string when what follows can end a value.
func EscapeDimensionQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			inString = c == '"'
			b.WriteByte(c)
			continue
		}
		switch {
		case c == '\\' && i+1 < len(s):
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
		case c == '"' && isDigit(s[i-1]) && !closesValue(s, i+1):
			b.WriteString(`\"`)
		case c == '"':
			inString = false
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func closesValue(s string, j int) bool {
	for j < len(s) && isSpace(s[j]) {
		j++
	}
	if j == len(s) {
		return true
	}
	switch s[j] {
	case ',', '}', ']', ':', '"':
		return true
	}
	return false
}

// StripTrailingCommas drops commas that directly precede a closing bracket,
// including runs such as "[1,,]".
func StripTrailingCommas(s string) string {
	toks := lex(s)
	keep := make([]bool, len(toks))
	next := tokSpace
	for i := len(toks) - 1; i >= 0; i-- {
		t := toks[i]
		keep[i] = true
		switch t.kind {
		case tokSpace:
			continue
		case tokComma:
			if next == tokClose {
				keep[i] = false
				continue
			}
		}
		next = t.kind
	}
	out := make([]token, 0, len(toks))
	for i, t := range toks {
		if keep[i] {
			out = append(out, t)
		}
	}
	return join(out, len(s))
}

func startsValue(k tokenKind) bool {
	return k == tokString || k == tokOpen || k == tokLiteral
}

func endsValue(k tokenKind) bool {
	return k == tokString || k == tokClose || k == tokLiteral
}

// InsertMissingCommas adds a comma between two adjacent values: strings,
// objects, arrays and bare literals such as the numbers in "[1 2 3]".
func InsertMissingCommas(s string) string {
	toks := lex(s)
	out := make([]token, 0, len(toks)+8)
	prev := tokOpen
	for _, t := range toks {
		if t.kind == tokSpace {
			out = append(out, t)
			continue
		}
		if endsValue(prev) && startsValue(t.kind) {
			out = append(out, token{kind: tokComma, text: ","})
		}
		out = append(out, t)
		prev = t.kind
	}
	return join(out, len(s)+len(out)-len(toks))
}

// CollapseDuplicateCommas keeps one comma out of a run and drops commas
// directly after an opening bracket.
func CollapseDuplicateCommas(s string) string {
	toks := lex(s)
	out := make([]token, 0, len(toks))
	prev := tokOpen
	for _, t := range toks {
		if t.kind == tokComma && (prev == tokComma || prev == tokOpen) {
			continue
		}
		out = append(out, t)
		if t.kind != tokSpace {
			prev = t.kind
		}
	}
	return join(out, len(s))
}

// NormalizeSingleQuotes rewrites single-quoted keys and values as JSON
// strings. Double quotes inside them are escaped and \' is unescaped.
func NormalizeSingleQuotes(s string) string {
	toks := lex(s)
	changed := false
	for i, t := range toks {
		if t.kind == tokString && strings.HasPrefix(t.text, "'") {
			toks[i].text = requote(t.text, t.closed)
			changed = true
		}
	}
	if !changed {
		return s
	}
	return join(toks, len(s)+8)
}

func requote(s string, closed bool) string {
	body := s[1:]
	if closed {
		body = body[:len(body)-1]
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	b.WriteByte('"')
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\' && i+1 < len(body):
			if body[i+1] != '\'' {
				b.WriteByte('\\')
			}
			b.WriteByte(body[i+1])
			i++
		case c == '\\':
			// trailing lone backslash would escape the closing quote
		case c == '"':
			b.WriteString(`\"`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Repair applies every textual repair in order.
func Repair(s string) string {
	s = EscapeDimensionQuotes(s)
	s = StripTrailingCommas(s)
	s = InsertMissingCommas(s)
	s = CollapseDuplicateCommas(s)
	s = NormalizeSingleQuotes(s)
	return s
}
