package rules

import (
	"errors"
	"fmt"
)

// ErrStructural is the parent of every error that rejects a rule text as a whole
var ErrStructural = errors.New("malformed rule text")

var (
	ErrDuplicateRuleName   = fmt.Errorf("%w: duplicate rule name", ErrStructural)
	ErrMissingCondition    = fmt.Errorf("%w: some rules have missing condition", ErrStructural)
	ErrMissingAction       = fmt.Errorf("%w: some rules have missing action", ErrStructural)
	ErrMalformedRuleHeader = fmt.Errorf("%w: rule header without a name", ErrStructural)
	ErrMultipleRules       = fmt.Errorf("%w: rule text holds more than one rule", ErrStructural)
	ErrNoRules             = fmt.Errorf("%w: rule text holds no rule", ErrStructural)
)

// Binding errors are raised before any condition is evaluated
var (
	ErrEmptyRuleSet             = errors.New("specify at least one rule")
	ErrInvalidConditionFunction = errors.New("local conditions must be callable")
	ErrMissingArgument          = errors.New("missing arguments")
	ErrInvalidIdentifier        = errors.New("invalid identifier")
)

var ErrConditionReturnValue = errors.New("condition does not return a boolean value")

// Resolution and execution errors
var (
	ErrFetcherNotFound         = errors.New("fetcher not implemented")
	ErrActionNotFound          = errors.New("action not implemented")
	ErrMalformedAction         = errors.New("malformed action invocation")
	ErrMalformedActionResponse = errors.New("action returned a response without action context")
	ErrRegistrySealed          = errors.New("registry is sealed")
)
