package rules

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ExpressionEvaluator compiles condition expressions. Expressions use the
// spreadsheet convention of a leading "=".
type ExpressionEvaluator interface {
	Compile(expr string, funcs map[string]Function) (Expression, error)
}

// Expression is a compiled condition
type Expression interface {
	// Inputs returns the upper-case names of the inputs the expression declares
	Inputs() []string

	// Invoke evaluates the expression; inputs are keyed by upper-case name
	Invoke(inputs map[string]any) (any, error)
}

// DefaultArgument fills condition inputs that no parameter covers
type DefaultArgument struct {
	Enabled bool
	Value   any
}

// ConditionEvaluator compiles and checks rule conditions
type ConditionEvaluator struct {
	evaluator ExpressionEvaluator
	defaults  DefaultArgument
}

// NewConditionEvaluator creates a condition evaluator. Missing inputs are an
// error unless defaults.Enabled is set.
func NewConditionEvaluator(evaluator ExpressionEvaluator, defaults DefaultArgument) *ConditionEvaluator {
	return &ConditionEvaluator{
		evaluator: evaluator,
		defaults:  defaults,
	}
}

// Compile compiles the joined condition lines of a rule
func (c *ConditionEvaluator) Compile(r *Rule, funcs map[string]Function) (Expression, error) {
	condition := r.Condition()
	if !strings.HasPrefix(condition, "=") {
		condition = "=" + condition
	}
	expr, err := c.evaluator.Compile(condition, funcs)
	if err != nil {
		return nil, fmt.Errorf("rule %q: compile condition: %w", r.Name, err)
	}
	return expr, nil
}

// Bind maps params onto the declared inputs of expr. Keys are upper-cased;
// params the expression does not declare are dropped.
func (c *ConditionEvaluator) Bind(expr Expression, params map[string]any) (map[string]any, error) {
	upper := make(map[string]any, len(params))
	for k, v := range params {
		upper[strings.ToUpper(k)] = v
	}

	inputs := expr.Inputs()
	bound := make(map[string]any, len(inputs))
	var missing []string
	for _, name := range inputs {
		v, ok := upper[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		bound[name] = v
	}

	if len(missing) > 0 {
		if !c.defaults.Enabled {
			sort.Strings(missing)
			return nil, fmt.Errorf("%w: %s", ErrMissingArgument, strings.Join(missing, ", "))
		}
		for _, name := range missing {
			bound[name] = c.defaults.Value
		}
	}
	return bound, nil
}

// Check evaluates the condition of r against params and records the
// outcome in r.Status. The raw result is returned.
func (c *ConditionEvaluator) Check(r *Rule, params map[string]any, funcs map[string]Function) (any, error) {
	expr, err := c.Compile(r, funcs)
	if err != nil {
		return nil, err
	}
	bound, err := c.Bind(expr, params)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", r.Name, err)
	}

	result, err := expr.Invoke(bound)
	if err != nil {
		return nil, fmt.Errorf("rule %q: evaluate condition: %w", r.Name, err)
	}

	b, isBool := result.(bool)
	if r.ConditionRequiresBool && !isBool {
		return nil, fmt.Errorf("rule %q: %w (got %T)", r.Name, ErrConditionReturnValue, result)
	}
	if !isBool {
		b = truthy(result)
	}
	if b {
		r.Status = StatusTrue
	} else {
		r.Status = StatusFalse
	}
	return result, nil
}

// truthy coerces a non-boolean condition result: zero numbers, empty strings,
// empty collections and nil are false
func truthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
