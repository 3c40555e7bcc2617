package rules

import (
	"fmt"
	"strings"
)

type parseMode int

const (
	modeNone parseMode = iota
	modeCondition
	modeAction
)

// Parser turns rule text into a RuleSet. A Parser may be fed several texts;
// rule names must be unique across all of them.
type Parser struct {
	rules       *RuleSet
	requireBool bool
}

// ParserOption configures a Parser
type ParserOption func(*Parser)

// WithConditionRequiresBool sets the boolean-condition policy of parsed rules
func WithConditionRequiresBool(required bool) ParserOption {
	return func(p *Parser) {
		p.requireBool = required
	}
}

// NewParser creates a parser with an empty rule set
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		rules:       NewRuleSet(),
		requireBool: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses a single rule text with a fresh parser
func Parse(text string, opts ...ParserOption) (*RuleSet, error) {
	p := NewParser(opts...)
	if err := p.Parse(text); err != nil {
		return nil, err
	}
	return p.Rules(), nil
}

// Rules returns the rules parsed so far
func (p *Parser) Rules() *RuleSet {
	return p.rules
}

// Parse scans text line by line. Header lines (rule, when, then, end) switch
// the current section and are not kept; every other line inside a section is
// appended, trimmed, to the current rule.
func (p *Parser) Parse(text string) error {
	var current *Rule
	mode := modeNone

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)

		switch {
		case isKeyword(line, "rule"):
			name, err := ruleName(line)
			if err != nil {
				return err
			}
			r := NewRule(name)
			r.ConditionRequiresBool = p.requireBool
			if err := p.rules.Add(r); err != nil {
				return err
			}
			current = r
			mode = modeNone
			continue
		case isKeyword(line, "when"):
			mode = modeCondition
			continue
		case isKeyword(line, "then"):
			mode = modeAction
			continue
		case isKeyword(line, "end"):
			mode = modeNone
			continue
		}

		if current == nil {
			continue
		}
		switch mode {
		case modeCondition:
			current.Conditions = append(current.Conditions, line)
		case modeAction:
			current.Actions = append(current.Actions, line)
		}
	}

	return p.validate()
}

func (p *Parser) validate() error {
	for _, r := range p.rules.Rules() {
		if !hasContent(r.Conditions) {
			return fmt.Errorf("%w (rule %q)", ErrMissingCondition, r.Name)
		}
	}
	for _, r := range p.rules.Rules() {
		if !hasContent(r.Actions) {
			return fmt.Errorf("%w (rule %q)", ErrMissingAction, r.Name)
		}
	}
	return nil
}

// isKeyword reports whether line starts with the keyword as a whole word,
// ignoring case
func isKeyword(line, keyword string) bool {
	if len(line) < len(keyword) || !strings.EqualFold(line[:len(keyword)], keyword) {
		return false
	}
	if len(line) == len(keyword) {
		return true
	}
	switch line[len(keyword)] {
	case ' ', '\t':
		return true
	}
	return false
}

func ruleName(line string) (string, error) {
	name := strings.TrimSpace(line[len("rule"):])
	name = strings.Trim(name, `"`)
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedRuleHeader, line)
	}
	return name, nil
}
