package rules

import (
	"context"
	"fmt"
	"strings"
)

// Status records the outcome of the most recent condition check of a rule
type Status int

const (
	StatusUnevaluated Status = iota
	StatusFalse
	StatusTrue
)

func (s Status) String() string {
	switch s {
	case StatusFalse:
		return "false"
	case StatusTrue:
		return "true"
	default:
		return "unevaluated"
	}
}

// Rule is one named condition+action unit parsed from rule text
type Rule struct {
	Name string

	// ConditionRequiresBool makes a non-boolean condition result an error
	ConditionRequiresBool bool

	// Conditions are raw condition fragments, in source order
	Conditions []string

	// Actions are raw action invocations such as `notify(account, "high")`
	Actions []string

	Status Status
}

// NewRule creates a rule with the default boolean-condition policy
func NewRule(name string) *Rule {
	return &Rule{
		Name:                  name,
		ConditionRequiresBool: true,
	}
}

// Condition joins the condition fragments into a single expression
func (r *Rule) Condition() string {
	return strings.TrimSpace(strings.Join(r.Conditions, " "))
}

// Invocations parses every non-blank action line of the rule
func (r *Rule) Invocations() ([]ActionInvocation, error) {
	invocations := make([]ActionInvocation, 0, len(r.Actions))
	for _, line := range r.Actions {
		if strings.TrimSpace(line) == "" {
			continue
		}
		inv, err := ParseInvocation(line)
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, inv)
	}
	return invocations, nil
}

func hasContent(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}

// RuleSet is an insertion-ordered collection of rules keyed by name
type RuleSet struct {
	order []string
	rules map[string]*Rule
}

// NewRuleSet creates an empty rule set
func NewRuleSet() *RuleSet {
	return &RuleSet{
		rules: make(map[string]*Rule),
	}
}

// Add appends a rule, rejecting names already present in the set
func (s *RuleSet) Add(r *Rule) error {
	if _, exists := s.rules[r.Name]; exists {
		return fmt.Errorf("%w: rule %q already exists", ErrDuplicateRuleName, r.Name)
	}
	s.rules[r.Name] = r
	s.order = append(s.order, r.Name)
	return nil
}

// Get returns the rule with the given name
func (s *RuleSet) Get(name string) (*Rule, bool) {
	r, ok := s.rules[name]
	return r, ok
}

// Len returns the number of rules in the set
func (s *RuleSet) Len() int {
	return len(s.order)
}

// Rules returns the rules in insertion order
func (s *RuleSet) Rules() []*Rule {
	out := make([]*Rule, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.rules[name])
	}
	return out
}

// First returns the earliest inserted rule
func (s *RuleSet) First() (*Rule, bool) {
	if len(s.order) == 0 {
		return nil, false
	}
	return s.rules[s.order[0]], true
}

// ActionInvocation is a single parsed action line
type ActionInvocation struct {
	Name string

	// Params holds the raw parameter tokens in call order
	Params []string

	// Values holds the resolved parameter values. Tokens that could not be
	// resolved are skipped, so Values may be shorter than Params.
	Values []any
}

// ActionResult is what the pipeline records for each executed action
type ActionResult struct {
	ActionName    string `json:"action_name"`
	ActionContext any    `json:"action_context"`
}

// ActionResponse is returned by an action function
type ActionResponse struct {
	// ActionContext is required; a nil value is a malformed response
	ActionContext any

	// HaltActions stops the remaining actions of the rule
	HaltActions bool
}

// ActionCall carries everything an action function receives
type ActionCall struct {
	RuleName string
	Params   []any

	// Previous holds the results of the actions already executed for the rule
	Previous []ActionResult

	Event any
}

// Fetcher resolves a named parameter from the event context
type Fetcher func(ctx context.Context, event any) (any, error)

// Action executes a named action of a rule
type Action func(ctx context.Context, call ActionCall) (*ActionResponse, error)

// Function is a custom condition function made available to expressions
type Function func(args ...any) (any, error)

// ExecutionContext is the caller-supplied, read-only input of a run
type ExecutionContext struct {
	// Functions are custom condition functions, keyed by the name used in expressions
	Functions map[string]Function

	// Params are local bindings available without fetching
	Params map[string]any

	// Event is passed unchanged to every fetcher and action
	Event any
}

// Outcome is the result of evaluating one rule text block
type Outcome struct {
	RuleName  string         `json:"rule_name"`
	Condition any            `json:"condition"`
	Actions   []ActionResult `json:"actions"`
}
