package cel

import (
	"strings"
)

// normalize rewrites a spreadsheet-style formula into CEL syntax: the
// leading "=" is dropped, a lone "=" compares for equality, "<>" means
// "not equal" and TRUE/FALSE may be written in any case. Integer literals
// become doubles, so arithmetic is never truncated. String literals are
// copied untouched.
func normalize(formula string) string {
	src := strings.TrimSpace(formula)
	src = strings.TrimPrefix(src, "=")

	var b strings.Builder
	b.Grow(len(src) + 8)

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			end := stringEnd(src, i)
			b.WriteString(src[i:end])
			i = end
		case c == '<' && i+1 < len(src) && src[i+1] == '>':
			b.WriteString("!=")
			i += 2
		case c == '=':
			if i+1 < len(src) && src[i+1] == '=' {
				b.WriteString("==")
				i += 2
				continue
			}
			if i > 0 && strings.IndexByte("<>!=", src[i-1]) >= 0 {
				b.WriteByte('=')
			} else {
				b.WriteString("==")
			}
			i++
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			if strings.EqualFold(word, "true") || strings.EqualFold(word, "false") {
				word = strings.ToLower(word)
			}
			b.WriteString(word)
			i = j
		case isDigit(c):
			// keep exponents and suffixes such as 1e5 or 2u with their number
			j := i + 1
			for j < len(src) && (isIdentPart(src[j]) || src[j] == '.') {
				j++
			}
			b.WriteString(src[i:j])
			if isInteger(src[i:j]) {
				b.WriteString(".0")
			}
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// stringEnd returns the index just past the literal starting at start
func stringEnd(src string, start int) int {
	quote := src[start]
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case quote:
			return i + 1
		}
	}
	return len(src)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

// isInteger reports a plain decimal literal; hex, unsigned and exponent
// forms are left to CEL
func isInteger(lit string) bool {
	for i := 0; i < len(lit); i++ {
		if !isDigit(lit[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
