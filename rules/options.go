package rules

import "log/slog"

// EngineOptions control how an Engine runs rule text blocks
type EngineOptions struct {
	// FailFast cancels the remaining blocks as soon as one block fails.
	// Without it every block runs to completion and the error of the
	// lowest-index failing block is returned.
	FailFast bool

	// Concurrency bounds the number of blocks evaluated at once; 0 is unbounded
	Concurrency int

	// FirstRuleOnly evaluates the first rule of a block and ignores the rest.
	// Without it a block holding more than one rule is rejected.
	FirstRuleOnly bool

	// Default fills condition inputs that no parameter covers
	Default DefaultArgument

	// ConditionRequiresBool is applied to every parsed rule
	ConditionRequiresBool bool

	Logger *slog.Logger
}

type EngineOption func(o *EngineOptions)

func applyEngineOptions(o *EngineOptions, opts ...EngineOption) {
	for _, opt := range opts {
		opt(o)
	}
}

func defaultEngineOptions() EngineOptions {
	return EngineOptions{
		ConditionRequiresBool: true,
		Logger:                slog.Default(),
	}
}

// WithFailFast cancels sibling blocks on the first error
func WithFailFast() EngineOption {
	return func(o *EngineOptions) {
		o.FailFast = true
	}
}

// WithConcurrency bounds the number of blocks evaluated at once
func WithConcurrency(n int) EngineOption {
	return func(o *EngineOptions) {
		o.Concurrency = n
	}
}

// WithFirstRuleOnly evaluates only the first rule of each block
func WithFirstRuleOnly() EngineOption {
	return func(o *EngineOptions) {
		o.FirstRuleOnly = true
	}
}

// WithDefaultArgument supplies v for condition inputs no parameter covers
func WithDefaultArgument(v any) EngineOption {
	return func(o *EngineOptions) {
		o.Default = DefaultArgument{Enabled: true, Value: v}
	}
}

// WithBooleanConditions sets whether conditions must evaluate to a boolean
func WithBooleanConditions(required bool) EngineOption {
	return func(o *EngineOptions) {
		o.ConditionRequiresBool = required
	}
}

// WithLogger sets the logger used by the engine
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *EngineOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}
