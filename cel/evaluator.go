// Package cel implements the condition expression language on top of
// cel-go. Conditions are written as spreadsheet formulas ("=A > 10",
// "=AND(X <> 'a', Y = 2)"); they are rewritten to CEL, every bare identifier
// becomes a dynamically typed input and calls to known functions are bound
// to Go implementations.
package cel

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	celgo "github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"

	"github.com/liamcoop/businessrules/rules"
)

// DefaultCostLimit caps the runtime cost of a single evaluation
const DefaultCostLimit uint64 = 1000000

// ErrInvalidExpression reports a condition that does not parse or type-check
var ErrInvalidExpression = errors.New("invalid condition expression")

// CEL type identifiers, never treated as inputs
var typeIdents = map[string]bool{
	"bool": true, "bytes": true, "double": true, "dyn": true, "int": true,
	"list": true, "map": true, "null_type": true, "string": true, "type": true,
	"uint": true,
}

// Evaluator compiles spreadsheet-style conditions into CEL programs.
// Thread-safe for concurrent compilation
type Evaluator struct {
	base      *celgo.Env
	builtins  map[string]rules.Function
	cache     *ParseCache
	costLimit uint64
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithCostLimit overrides DefaultCostLimit
func WithCostLimit(limit uint64) Option {
	return func(ev *Evaluator) {
		ev.costLimit = limit
	}
}

// WithCache replaces the default parse cache
func WithCache(c *ParseCache) Option {
	return func(ev *Evaluator) {
		ev.cache = c
	}
}

// WithFunction adds a builtin available to every condition
func WithFunction(name string, fn rules.Function) Option {
	return func(ev *Evaluator) {
		ev.builtins[name] = fn
	}
}

var _ rules.ExpressionEvaluator = (*Evaluator)(nil)

// New creates an evaluator with the spreadsheet builtins
func New(opts ...Option) (*Evaluator, error) {
	env, err := celgo.NewEnv(celgo.CrossTypeNumericComparisons(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ev := &Evaluator{
		base:      env,
		builtins:  Builtins(),
		cache:     NewParseCache(DefaultCacheConfig()),
		costLimit: DefaultCostLimit,
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev, nil
}

// Cache returns the parse cache of the evaluator
func (ev *Evaluator) Cache() *ParseCache {
	return ev.cache
}

// parsed is the analysis of a condition shared by every compilation of the
// same text
type parsed struct {
	text   string
	idents []string
	calls  map[string][]int
}

// Compile turns expr into an executable expression. funcs are local
// functions for this compilation only; they shadow builtins of the same name.
func (ev *Evaluator) Compile(expr string, funcs map[string]rules.Function) (rules.Expression, error) {
	p, err := ev.parse(expr)
	if err != nil {
		return nil, err
	}

	table := make(map[string]rules.Function, len(ev.builtins)+len(funcs))
	for name, fn := range ev.builtins {
		table[strings.ToUpper(name)] = fn
	}
	for name, fn := range funcs {
		table[strings.ToUpper(name)] = fn
	}

	var decls []celgo.EnvOption
	calls := make([]string, 0, len(p.calls))
	for name := range p.calls {
		calls = append(calls, name)
	}
	sort.Strings(calls)
	for _, name := range calls {
		fn, ok := lookupFold(table, name)
		if !ok {
			continue
		}
		decls = append(decls, functionDecl(name, p.calls[name], fn))
	}

	inputs := make(map[string][]string)
	for _, id := range p.idents {
		decls = append(decls, celgo.Variable(id, celgo.DynType))
		upper := strings.ToUpper(id)
		inputs[upper] = append(inputs[upper], id)
	}

	env, err := ev.base.Extend(decls...)
	if err != nil {
		return nil, fmt.Errorf("failed to extend CEL environment: %w", err)
	}
	checked, issues := env.Compile(p.text)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, issues.Err())
	}
	prog, err := env.Program(checked, celgo.CostLimit(ev.costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Expression{
		source:  expr,
		text:    p.text,
		program: prog,
		inputs:  inputs,
		names:   names,
	}, nil
}

// parse normalizes expr and collects its identifiers and global calls
func (ev *Evaluator) parse(expr string) (*parsed, error) {
	if p, ok := ev.cache.get(expr); ok {
		return p, nil
	}

	text := normalize(expr)
	ast, issues := ev.base.Parse(text)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, issues.Err())
	}

	p := &parsed{
		text:  text,
		calls: make(map[string][]int),
	}
	seen := make(map[string]bool)
	bound := make(map[string]bool)

	celast.PreOrderVisit(ast.NativeRep().Expr(), celast.NewExprVisitor(func(e celast.Expr) {
		switch e.Kind() {
		case celast.IdentKind:
			name := e.AsIdent()
			if !seen[name] && !typeIdents[name] {
				seen[name] = true
				p.idents = append(p.idents, name)
			}
		case celast.CallKind:
			call := e.AsCall()
			if call.IsMemberFunction() {
				return
			}
			arity := len(call.Args())
			if !containsInt(p.calls[call.FunctionName()], arity) {
				p.calls[call.FunctionName()] = append(p.calls[call.FunctionName()], arity)
			}
		case celast.ComprehensionKind:
			comp := e.AsComprehension()
			bound[comp.IterVar()] = true
			bound[comp.AccuVar()] = true
			if comp.HasIterVar2() {
				bound[comp.IterVar2()] = true
			}
		}
	}))

	idents := p.idents[:0]
	for _, id := range p.idents {
		if !bound[id] {
			idents = append(idents, id)
		}
	}
	p.idents = idents

	ev.cache.set(expr, p)
	return p, nil
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Expression is a compiled condition
type Expression struct {
	source  string
	text    string
	program celgo.Program
	inputs  map[string][]string
	names   []string
}

// Inputs returns the upper-case input names, sorted
func (e *Expression) Inputs() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// Invoke evaluates the expression. Every declared input must be present.
// Numbers are evaluated as doubles, whatever Go type they arrive with.
func (e *Expression) Invoke(in map[string]any) (any, error) {
	activation := make(map[string]any, len(e.inputs))
	for upper, idents := range e.inputs {
		v, ok := in[upper]
		if !ok {
			return nil, fmt.Errorf("%w: %s", rules.ErrMissingArgument, upper)
		}
		v = numeric(v)
		for _, id := range idents {
			activation[id] = v
		}
	}

	out, _, err := e.program.Eval(activation)
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}
	return out.Value(), nil
}

// numeric converts every number in v, including those nested in slices and
// string-keyed maps, to float64
func numeric(v any) any {
	switch x := v.(type) {
	case bool, string, nil:
		return v
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = numeric(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = numeric(item)
		}
		return out
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

// String returns the CEL text the condition was rewritten to
func (e *Expression) String() string {
	return e.text
}

// Source returns the condition as it was written
func (e *Expression) Source() string {
	return e.source
}
