package cel

import (
	"errors"
	"fmt"
	"math"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/liamcoop/businessrules/rules"
)

var (
	errNotBool    = errors.New("argument is not a boolean")
	errNotNumber  = errors.New("argument is not a number")
	errArgCount   = errors.New("wrong number of arguments")
	errNoArgument = errors.New("at least one argument is required")
)

// Builtins returns the spreadsheet functions every condition may call.
// Names are matched case-insensitively.
func Builtins() map[string]rules.Function {
	return map[string]rules.Function{
		"AND": fnAnd,
		"OR":  fnOr,
		"NOT": fnNot,
		"IF":  fnIf,
		"ABS": fnAbs,
		"MIN": fnMin,
		"MAX": fnMax,
	}
}

func fnAnd(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, errNoArgument
	}
	result := true
	for _, a := range args {
		b, ok := a.(bool)
		if !ok {
			return nil, fmt.Errorf("AND: %w: %T", errNotBool, a)
		}
		result = result && b
	}
	return result, nil
}

func fnOr(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, errNoArgument
	}
	result := false
	for _, a := range args {
		b, ok := a.(bool)
		if !ok {
			return nil, fmt.Errorf("OR: %w: %T", errNotBool, a)
		}
		result = result || b
	}
	return result, nil
}

func fnNot(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("NOT: %w: %d", errArgCount, len(args))
	}
	b, ok := args[0].(bool)
	if !ok {
		return nil, fmt.Errorf("NOT: %w: %T", errNotBool, args[0])
	}
	return !b, nil
}

// fnIf evaluates both branches before choosing one
func fnIf(args ...any) (any, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("IF: %w: %d", errArgCount, len(args))
	}
	b, ok := args[0].(bool)
	if !ok {
		return nil, fmt.Errorf("IF: %w: %T", errNotBool, args[0])
	}
	if b {
		return args[1], nil
	}
	return args[2], nil
}

func fnAbs(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("ABS: %w: %d", errArgCount, len(args))
	}
	if i, ok := toInt(args[0]); ok {
		if i < 0 {
			return -i, nil
		}
		return i, nil
	}
	if f, ok := toFloat(args[0]); ok {
		return math.Abs(f), nil
	}
	return nil, fmt.Errorf("ABS: %w: %T", errNotNumber, args[0])
}

func fnMin(args ...any) (any, error) {
	return extreme("MIN", args, func(a, b float64) bool { return a < b })
}

func fnMax(args ...any) (any, error) {
	return extreme("MAX", args, func(a, b float64) bool { return a > b })
}

// extreme keeps the winning argument as it was given, so integer inputs
// produce an integer
func extreme(name string, args []any, better func(a, b float64) bool) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: %w", name, errNoArgument)
	}
	var (
		best    any
		bestVal float64
	)
	for i, a := range args {
		f, ok := toFloat(a)
		if !ok {
			return nil, fmt.Errorf("%s: %w: %T", name, errNotNumber, a)
		}
		if i == 0 || better(f, bestVal) {
			best, bestVal = a, f
		}
	}
	return best, nil
}

// toInt converts integer values into int64
func toInt(i any) (int64, bool) {
	switch v := i.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	}
	return 0, false
}

// toFloat converts floats and integers into float64
func toFloat(i any) (float64, bool) {
	switch v := i.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	if n, ok := toInt(i); ok {
		return float64(n), true
	}
	return 0, false
}

// lookupFold finds a function by exact name, then case-insensitively
func lookupFold(table map[string]rules.Function, name string) (rules.Function, bool) {
	if fn, ok := table[name]; ok {
		return fn, true
	}
	for k, fn := range table {
		if strings.EqualFold(k, name) {
			return fn, true
		}
	}
	return nil, false
}

// functionDecl declares name with one dynamically typed overload per arity
// used in the expression, all bound to fn
func functionDecl(name string, arities []int, fn rules.Function) celgo.EnvOption {
	op := binding(name, fn)
	overloads := make([]celgo.FunctionOpt, 0, len(arities))
	for _, n := range arities {
		args := make([]*celgo.Type, n)
		for i := range args {
			args[i] = celgo.DynType
		}
		overloads = append(overloads, celgo.Overload(
			fmt.Sprintf("%s_dyn_%d", name, n),
			args,
			celgo.DynType,
			celgo.FunctionBinding(op),
		))
	}
	return celgo.Function(name, overloads...)
}

func binding(name string, fn rules.Function) func(args ...ref.Val) ref.Val {
	return func(args ...ref.Val) ref.Val {
		native := make([]any, len(args))
		for i, a := range args {
			native[i] = a.Value()
		}
		out, err := fn(native...)
		if err != nil {
			return types.NewErr("function %s: %v", name, err)
		}
		return types.DefaultTypeAdapter.NativeToValue(out)
	}
}
