package actions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/liamcoop/businessrules/rules"
)

const luaEntryPoint = "run"

var ErrInvalidScript = errors.New("invalid action script")

// LuaAction is an action implemented by a Lua script. The script defines a
// global function run(call) where call is a table with the fields rule,
// params, previous and event. run returns either a table with
// action_context and halt_actions, or a plain value used as action context.
//
// Every call gets a fresh interpreter, so one LuaAction may run concurrently.
type LuaAction struct {
	name   string
	source string
}

// NewLuaAction compiles source once to report syntax errors early
func NewLuaAction(name, source string) (*LuaAction, error) {
	if err := rules.ValidateIdentifier(name); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	state := lua.NewState()
	if err := lua.LoadBuffer(state, source, name, ""); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidScript, name, err)
	}
	return &LuaAction{name: name, source: source}, nil
}

// LoadLuaAction reads a script; the action is named after the file
func LoadLuaAction(path string) (*LuaAction, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read action script: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return NewLuaAction(name, string(b))
}

// LoadDir reads every *.lua file of dir, sorted by file name
func LoadDir(dir string) ([]*LuaAction, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return nil, fmt.Errorf("list action scripts: %w", err)
	}
	sort.Strings(paths)

	scripts := make([]*LuaAction, 0, len(paths))
	for _, path := range paths {
		a, err := LoadLuaAction(path)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, a)
	}
	return scripts, nil
}

// Register adds every script to reg under its name
func Register(reg *rules.Registry, scripts []*LuaAction) error {
	for _, a := range scripts {
		if err := reg.RegisterAction(a.Name(), a.Run); err != nil {
			return err
		}
	}
	return nil
}

// LoadScripts registers every *.lua file of dir as an action and returns the
// registered names, sorted
func LoadScripts(reg *rules.Registry, dir string) ([]string, error) {
	scripts, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if err := Register(reg, scripts); err != nil {
		return nil, err
	}
	names := make([]string, len(scripts))
	for i, a := range scripts {
		names[i] = a.Name()
	}
	return names, nil
}

// Name returns the action name used in rule text
func (a *LuaAction) Name() string {
	return a.name
}

// Run executes the script for one action call
func (a *LuaAction) Run(ctx context.Context, call rules.ActionCall) (*rules.ActionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := lua.NewState()
	lua.OpenLibraries(state)

	if err := lua.LoadBuffer(state, a.source, a.name, ""); err != nil {
		return nil, fmt.Errorf("load lua: %w", err)
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("run lua: %w", err)
	}

	state.Global(luaEntryPoint)
	if !state.IsFunction(-1) {
		state.Pop(1)
		return nil, fmt.Errorf("%w: %s does not define %s()", ErrInvalidScript, a.name, luaEntryPoint)
	}
	pushCall(state, call)
	if err := state.ProtectedCall(1, 1, 0); err != nil {
		return nil, fmt.Errorf("run lua: %w", err)
	}
	defer state.Pop(1)

	return responseFromLua(state, -1), nil
}

func pushCall(state *lua.State, call rules.ActionCall) {
	state.NewTable()

	state.PushString(call.RuleName)
	state.SetField(-2, "rule")

	pushValue(state, call.Params)
	state.SetField(-2, "params")

	state.CreateTable(len(call.Previous), 0)
	for i, r := range call.Previous {
		state.CreateTable(0, 2)
		state.PushString(r.ActionName)
		state.SetField(-2, "action_name")
		pushValue(state, r.ActionContext)
		state.SetField(-2, "action_context")
		state.RawSetInt(-2, i+1)
	}
	state.SetField(-2, "previous")

	pushValue(state, call.Event)
	state.SetField(-2, "event")
}

// responseFromLua reads the value at index. A table holding action_context
// or halt_actions is a full response; anything else is the context itself.
func responseFromLua(state *lua.State, index int) *rules.ActionResponse {
	if state.TypeOf(index) == lua.TypeTable {
		index = state.AbsIndex(index)

		state.Field(index, "action_context")
		hasContext := !state.IsNil(-1)
		actionContext := luaToGo(state, -1)
		state.Pop(1)

		state.Field(index, "halt_actions")
		hasHalt := !state.IsNil(-1)
		halt := state.ToBoolean(-1)
		state.Pop(1)

		if hasContext || hasHalt {
			return &rules.ActionResponse{ActionContext: actionContext, HaltActions: halt}
		}
	}
	return &rules.ActionResponse{ActionContext: luaToGo(state, index)}
}

func pushValue(state *lua.State, v any) {
	switch x := v.(type) {
	case nil:
		state.PushNil()
	case bool:
		state.PushBoolean(x)
	case string:
		state.PushString(x)
	case int:
		state.PushInteger(x)
	case int64:
		state.PushNumber(float64(x))
	case int32:
		state.PushInteger(int(x))
	case uint64:
		state.PushNumber(float64(x))
	case float64:
		state.PushNumber(x)
	case float32:
		state.PushNumber(float64(x))
	case []any:
		state.CreateTable(len(x), 0)
		for i, item := range x {
			pushValue(state, item)
			state.RawSetInt(-2, i+1)
		}
	case map[string]any:
		state.CreateTable(0, len(x))
		for k, item := range x {
			pushValue(state, item)
			state.SetField(-2, k)
		}
	default:
		pushReflect(state, v)
	}
}

func pushReflect(state *lua.State, v any) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		state.CreateTable(rv.Len(), 0)
		for i := 0; i < rv.Len(); i++ {
			pushValue(state, rv.Index(i).Interface())
			state.RawSetInt(-2, i+1)
		}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			state.PushString(fmt.Sprint(v))
			return
		}
		state.CreateTable(0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			pushValue(state, iter.Value().Interface())
			state.SetField(-2, iter.Key().String())
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		state.PushInteger(int(rv.Int()))
	case reflect.Int64:
		state.PushNumber(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		state.PushNumber(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		state.PushNumber(rv.Float())
	case reflect.Bool:
		state.PushBoolean(rv.Bool())
	default:
		state.PushString(fmt.Sprint(v))
	}
}

func luaToGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		return normalizeNumber(value)
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	default:
		return nil
	}
}

// tableToGo returns a sequence table as a slice and any other table as a map
// keyed by its string keys
func tableToGo(state *lua.State, index int) any {
	index = state.AbsIndex(index)
	isArray := true
	maxIndex := 0
	count := 0

	state.PushNil()
	for state.Next(index) {
		if isArray {
			if state.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := state.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		state.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			state.RawGetInt(index, i)
			result = append(result, luaToGo(state, -1))
			state.Pop(1)
		}
		return result
	}

	output := map[string]any{}
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return output
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 && math.Abs(value) < 1<<53 {
		return int64(value)
	}
	return value
}
