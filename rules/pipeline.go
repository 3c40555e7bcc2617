package rules

import (
	"context"
	"fmt"
	"log/slog"
)

// Pipeline runs the actions of a rule one after another. Every action sees
// the results of the actions before it; an action may halt the chain.
type Pipeline struct {
	registry *Registry
	logger   *slog.Logger
}

// NewPipeline creates a pipeline over the given registry
func NewPipeline(registry *Registry, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry: registry,
		logger:   logger,
	}
}

// Run executes invocations in order and returns the accumulated results.
// It stops early, without error, when an action asks to halt.
func (p *Pipeline) Run(ctx context.Context, ruleName string, invocations []ActionInvocation, event any) ([]ActionResult, error) {
	results := make([]ActionResult, 0, len(invocations))

	for _, inv := range invocations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		action, err := p.registry.Action(inv.Name)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", ruleName, err)
		}

		previous := make([]ActionResult, len(results))
		copy(previous, results)

		resp, err := action(ctx, ActionCall{
			RuleName: ruleName,
			Params:   inv.Values,
			Previous: previous,
			Event:    event,
		})
		if err != nil {
			return nil, fmt.Errorf("rule %q: action %s: %w", ruleName, inv.Name, err)
		}
		if resp == nil || resp.ActionContext == nil {
			return nil, fmt.Errorf("rule %q: action %s: %w", ruleName, inv.Name, ErrMalformedActionResponse)
		}

		results = append(results, ActionResult{
			ActionName:    inv.Name,
			ActionContext: resp.ActionContext,
		})

		if resp.HaltActions {
			p.logger.Debug("action halted the chain",
				"rule", ruleName,
				"action", inv.Name,
				"executed", len(results),
				"skipped", len(invocations)-len(results),
			)
			break
		}
	}

	return results, nil
}
