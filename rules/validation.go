package rules

import (
	"fmt"
	"regexp"
	"strings"
)

const maxIdentifierLength = 100

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateIdentifier checks a fetcher, action or condition function name.
// Names must be 1-100 characters, match ^[a-zA-Z_][a-zA-Z0-9_]*$ and not be
// a reserved expression keyword.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: identifier cannot be empty", ErrInvalidIdentifier)
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("%w: identifier length %d exceeds maximum of %d characters", ErrInvalidIdentifier, len(name), maxIdentifierLength)
	}

	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("%w: %q must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$", ErrInvalidIdentifier, name)
	}

	if isReservedKeyword(name) {
		return fmt.Errorf("%w: cannot use reserved keyword %q as identifier", ErrInvalidIdentifier, name)
	}

	return nil
}

// validateFunctions checks the custom condition functions of a run
func validateFunctions(funcs map[string]Function) error {
	for name, fn := range funcs {
		if fn == nil {
			return fmt.Errorf("%w: %q is nil", ErrInvalidConditionFunction, name)
		}
		if err := ValidateIdentifier(name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConditionFunction, err)
		}
	}
	return nil
}

// isReservedKeyword reports whether name is reserved by the rule language or
// by the expression language. Comparison ignores case because both are
// case-insensitive for these words.
func isReservedKeyword(name string) bool {
	reservedKeywords := map[string]bool{
		// Boolean and null literals
		"true":  true,
		"false": true,
		"null":  true,
		// Rule text headers
		"rule": true,
		"when": true,
		"then": true,
		"end":  true,
		// Expression keywords
		"in":        true,
		"as":        true,
		"break":     true,
		"const":     true,
		"continue":  true,
		"else":      true,
		"for":       true,
		"function":  true,
		"if":        true,
		"import":    true,
		"let":       true,
		"loop":      true,
		"package":   true,
		"namespace": true,
		"return":    true,
		"var":       true,
		"void":      true,
		"while":     true,
	}

	return reservedKeywords[strings.ToLower(name)]
}
