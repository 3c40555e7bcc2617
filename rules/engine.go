package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/liamcoop/businessrules/rules")

// Engine evaluates rule text blocks concurrently.
// Each block is parsed on its own, its rule's condition is checked and, when
// it holds, the rule's actions are run. Results keep submission order.
type Engine struct {
	registry   *Registry
	resolver   *Resolver
	conditions *ConditionEvaluator
	pipeline   *Pipeline
	opts       EngineOptions
}

// NewEngine creates an engine. The registry is sealed: fetchers and actions
// must be registered before the engine is built.
func NewEngine(registry *Registry, evaluator ExpressionEvaluator, opts ...EngineOption) *Engine {
	o := defaultEngineOptions()
	applyEngineOptions(&o, opts...)

	registry.Seal()

	return &Engine{
		registry:   registry,
		resolver:   NewResolver(registry, o.Logger),
		conditions: NewConditionEvaluator(evaluator, o.Default),
		pipeline:   NewPipeline(registry, o.Logger),
		opts:       o,
	}
}

// Registry returns the sealed registry of the engine
func (en *Engine) Registry() *Registry {
	return en.registry
}

// Run evaluates every rule text block and returns one outcome per block, in
// the order the blocks were given.
func (en *Engine) Run(ctx context.Context, texts []string, ec ExecutionContext) ([]Outcome, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyRuleSet
	}
	if err := validateFunctions(ec.Functions); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := en.opts.Logger.With("run_id", runID)

	ctx, span := tracer.Start(ctx, "rules.Run", trace.WithAttributes(
		attribute.String("rules.run_id", runID),
		attribute.Int("rules.blocks", len(texts)),
		attribute.Bool("rules.fail_fast", en.opts.FailFast),
	))
	defer span.End()

	start := time.Now()
	outcomes, err := en.runBlocks(ctx, texts, ec, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("rule run failed", "error", err, "blocks", len(texts))
		return nil, err
	}

	logger.Info("rules evaluated",
		"blocks", len(texts),
		"duration", time.Since(start).String(),
	)
	return outcomes, nil
}

// RunOne evaluates a single rule text block
func (en *Engine) RunOne(ctx context.Context, text string, ec ExecutionContext) (*Outcome, error) {
	outcomes, err := en.Run(ctx, []string{text}, ec)
	if err != nil {
		return nil, err
	}
	return &outcomes[0], nil
}

func (en *Engine) runBlocks(ctx context.Context, texts []string, ec ExecutionContext, logger *slog.Logger) ([]Outcome, error) {
	outcomes := make([]Outcome, len(texts))
	errs := make([]error, len(texts))

	g := &errgroup.Group{}
	gctx := ctx
	if en.opts.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	}
	if en.opts.Concurrency > 0 {
		g.SetLimit(en.opts.Concurrency)
	}

	for i, text := range texts {
		g.Go(func() error {
			out, err := en.runBlock(gctx, text, ec, logger.With("block", i))
			if err != nil {
				errs[i] = fmt.Errorf("rule block %d: %w", i, err)
				return errs[i]
			}
			outcomes[i] = *out
			return nil
		})
	}

	if err := g.Wait(); err != nil && en.opts.FailFast {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return outcomes, nil
}

func (en *Engine) runBlock(ctx context.Context, text string, ec ExecutionContext, logger *slog.Logger) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "rules.Block")
	defer span.End()

	set, err := Parse(text, WithConditionRequiresBool(en.opts.ConditionRequiresBool))
	if err != nil {
		return nil, err
	}
	rule, ok := set.First()
	if !ok {
		return nil, ErrNoRules
	}
	span.SetAttributes(attribute.String("rules.rule", rule.Name))

	if set.Len() > 1 {
		if !en.opts.FirstRuleOnly {
			return nil, fmt.Errorf("%w: found %d rules, first is %q", ErrMultipleRules, set.Len(), rule.Name)
		}
		logger.Warn("ignoring trailing rules in block",
			"rule", rule.Name,
			"ignored", set.Len()-1,
		)
	}

	invocations, err := rule.Invocations()
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	for i := range invocations {
		values, err := en.resolver.ActionParams(ctx, invocations[i].Params, ec.Event)
		if err != nil {
			return nil, fmt.Errorf("rule %q: action %s: %w", rule.Name, invocations[i].Name, err)
		}
		invocations[i].Values = values
	}

	params, err := en.resolver.ConditionParams(ctx, ConditionTokens(rule.Condition()), ec.Params, ec.Event)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	for k, v := range ec.Params {
		params[k] = v
	}

	result, err := en.conditions.Check(rule, params, ec.Functions)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		RuleName:  rule.Name,
		Condition: result,
		Actions:   []ActionResult{},
	}
	logger.Debug("condition checked", "rule", rule.Name, "status", rule.Status.String())
	if rule.Status != StatusTrue {
		return out, nil
	}

	actions, err := en.pipeline.Run(ctx, rule.Name, invocations, ec.Event)
	if err != nil {
		return nil, err
	}
	out.Actions = actions
	return out, nil
}
