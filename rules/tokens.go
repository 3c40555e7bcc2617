package rules

import (
	"fmt"
	"strings"
)

// conditionOperators are whitespace-separated tokens that never name a parameter
var conditionOperators = map[string]bool{
	"<": true, ">": true, "<=": true, ">=": true, "=": true,
	"+": true, "-": true, "/": true, "*": true,
	// CEL spellings accepted by the cel evaluator
	"==": true, "!=": true, "<>": true, "&&": true, "||": true, "!": true, "%": true,
}

// ConditionTokens extracts the parameter names a condition refers to.
// Tokens holding a digit, a boolean literal or a parenthesis are dropped.
func ConditionTokens(condition string) []string {
	var names []string
	for _, token := range strings.Fields(condition) {
		if conditionOperators[token] || isConstantToken(token) {
			continue
		}
		names = append(names, token)
	}
	return names
}

func isConstantToken(token string) bool {
	if strings.ContainsAny(token, "0123456789()") {
		return true
	}
	lower := strings.ToLower(token)
	return strings.Contains(lower, "true") || strings.Contains(lower, "false")
}

// ParseInvocation splits an action line such as `notify(account, "high")` into
// its name and raw parameter tokens
func ParseInvocation(line string) (ActionInvocation, error) {
	name, args, found := strings.Cut(line, "(")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return ActionInvocation{}, fmt.Errorf("%w: %q", ErrMalformedAction, line)
	}

	args = strings.TrimSpace(args)
	args = strings.TrimSuffix(args, ")")

	inv := ActionInvocation{Name: name}
	if strings.TrimSpace(args) == "" {
		return inv, nil
	}
	for _, piece := range strings.Split(args, ",") {
		inv.Params = append(inv.Params, strings.TrimSpace(piece))
	}
	return inv, nil
}

func isQuoted(token string) bool {
	return strings.ContainsAny(token, `"'`)
}

// unquote strips one pair of surrounding quotes
func unquote(token string) string {
	if len(token) >= 2 {
		first, last := token[0], token[len(token)-1]
		if (first == '"' || first == '\'') && first == last {
			return token[1 : len(token)-1]
		}
	}
	return strings.Trim(token, `"'`)
}
