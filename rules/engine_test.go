package rules_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/liamcoop/businessrules/cel"
	"github.com/liamcoop/businessrules/rules"
)

func block(name, condition string, actions ...string) string {
	text := fmt.Sprintf("rule %q\nwhen\n    %s\nthen\n", name, condition)
	for _, a := range actions {
		text += "    " + a + "\n"
	}
	return text + "end\n"
}

func constFetcher(v any) rules.Fetcher {
	return func(ctx context.Context, event any) (any, error) {
		return v, nil
	}
}

func echoAction(ctx context.Context, call rules.ActionCall) (*rules.ActionResponse, error) {
	return &rules.ActionResponse{ActionContext: call.Params}, nil
}

func newTestEngine(t *testing.T, setup func(reg *rules.Registry), opts ...rules.EngineOption) *rules.Engine {
	t.Helper()
	reg := rules.NewRegistry()
	if err := reg.RegisterAction("echo", echoAction); err != nil {
		t.Fatalf("RegisterAction() failed: %v", err)
	}
	if setup != nil {
		setup(reg)
	}
	ev, err := cel.New()
	if err != nil {
		t.Fatalf("cel.New() failed: %v", err)
	}
	return rules.NewEngine(reg, ev, opts...)
}

func TestEngineRunTrueCondition(t *testing.T) {
	en := newTestEngine(t, func(reg *rules.Registry) {
		_ = reg.RegisterFetcher("get_risk", constFetcher(15))
		_ = reg.RegisterFetcher("get_account", constFetcher("acc-1"))
	})

	outcomes, err := en.Run(context.Background(), []string{
		block("high risk", "RISK > 10", `echo(account, "high", 3)`),
	}, rules.ExecutionContext{})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	want := []rules.Outcome{{
		RuleName:  "high risk",
		Condition: true,
		Actions: []rules.ActionResult{
			{ActionName: "echo", ActionContext: []any{"acc-1", "high", 3}},
		},
	}}
	if !reflect.DeepEqual(outcomes, want) {
		t.Errorf("Run() = %+v, want %+v", outcomes, want)
	}
}

func TestEngineRunFalseConditionSkipsActions(t *testing.T) {
	called := false
	en := newTestEngine(t, func(reg *rules.Registry) {
		_ = reg.RegisterFetcher("get_risk", constFetcher(5))
		_ = reg.RegisterAction("mark", func(ctx context.Context, call rules.ActionCall) (*rules.ActionResponse, error) {
			called = true
			return &rules.ActionResponse{ActionContext: true}, nil
		})
	})

	out, err := en.RunOne(context.Background(), block("r1", "RISK > 10", "mark()"), rules.ExecutionContext{})
	if err != nil {
		t.Fatalf("RunOne() failed: %v", err)
	}
	if out.Condition != false {
		t.Errorf("Condition = %v, want false", out.Condition)
	}
	if out.Actions == nil || len(out.Actions) != 0 {
		t.Errorf("Actions = %#v, want empty non-nil slice", out.Actions)
	}
	if called {
		t.Error("actions must not run when the condition is false")
	}
}

func TestEngineRunPreservesOrder(t *testing.T) {
	delays := map[string]time.Duration{
		"get_slow":   60 * time.Millisecond,
		"get_medium": 30 * time.Millisecond,
		"get_fast":   0,
	}
	en := newTestEngine(t, func(reg *rules.Registry) {
		for name, d := range delays {
			_ = reg.RegisterFetcher(name, func(ctx context.Context, event any) (any, error) {
				time.Sleep(d)
				return 1, nil
			})
		}
	})

	texts := []string{
		block("slow", "SLOW = 1", `echo("slow")`),
		block("medium", "MEDIUM = 1", `echo("medium")`),
		block("fast", "FAST = 1", `echo("fast")`),
	}
	outcomes, err := en.Run(context.Background(), texts, rules.ExecutionContext{})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	var names []string
	for _, o := range outcomes {
		names = append(names, o.RuleName)
	}
	if !reflect.DeepEqual(names, []string{"slow", "medium", "fast"}) {
		t.Errorf("outcome order = %v, want submission order", names)
	}
}

func TestEngineRunConcurrently(t *testing.T) {
	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	en := newTestEngine(t, func(reg *rules.Registry) {
		_ = reg.RegisterFetcher("get_x", func(ctx context.Context, event any) (any, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return 1, nil
		})
	})

	texts := make([]string, 5)
	for i := range texts {
		texts[i] = block(fmt.Sprintf("r%d", i), "X = 1", "echo()")
	}
	if _, err := en.Run(context.Background(), texts, rules.ExecutionContext{}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if peak < 2 {
		t.Errorf("peak concurrency = %d, blocks should run concurrently", peak)
	}
}

func TestEngineConcurrencyLimit(t *testing.T) {
	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	en := newTestEngine(t, func(reg *rules.Registry) {
		_ = reg.RegisterFetcher("get_x", func(ctx context.Context, event any) (any, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return 1, nil
		})
	}, rules.WithConcurrency(1))

	texts := make([]string, 4)
	for i := range texts {
		texts[i] = block(fmt.Sprintf("r%d", i), "X = 1", "echo()")
	}
	if _, err := en.Run(context.Background(), texts, rules.ExecutionContext{}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}

func TestEngineRunErrors(t *testing.T) {
	en := newTestEngine(t, nil)

	testCases := []struct {
		name  string
		texts []string
		ec    rules.ExecutionContext
		want  error
	}{
		{
			name:  "Empty rule set",
			texts: nil,
			want:  rules.ErrEmptyRuleSet,
		},
		{
			name:  "Invalid condition function",
			texts: []string{block("r1", "A > 1", "echo()")},
			ec:    rules.ExecutionContext{Functions: map[string]rules.Function{"double": nil}},
			want:  rules.ErrInvalidConditionFunction,
		},
		{
			name:  "Missing fetcher",
			texts: []string{block("r1", "RISK > 10", "echo()")},
			want:  rules.ErrFetcherNotFound,
		},
		{
			name:  "Missing condition",
			texts: []string{"rule r1\nthen\necho()\nend"},
			want:  rules.ErrMissingCondition,
		},
		{
			name:  "No rule in block",
			texts: []string{"nothing to see"},
			want:  rules.ErrNoRules,
		},
		{
			name:  "Non-boolean condition",
			texts: []string{block("r1", "A + 1", "echo()")},
			ec:    rules.ExecutionContext{Params: map[string]any{"A": 1}},
			want:  rules.ErrConditionReturnValue,
		},
		{
			name:  "Unknown action",
			texts: []string{block("r1", "A > 1", "missing()")},
			ec:    rules.ExecutionContext{Params: map[string]any{"A": 2}},
			want:  rules.ErrActionNotFound,
		},
		{
			name: "Multiple rules in block",
			texts: []string{
				block("r1", "A > 1", "echo()") + block("r2", "A > 1", "echo()"),
			},
			ec:   rules.ExecutionContext{Params: map[string]any{"A": 2}},
			want: rules.ErrMultipleRules,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := en.Run(context.Background(), tc.texts, tc.ec)
			if !errors.Is(err, tc.want) {
				t.Errorf("Run() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEngineReturnsLowestIndexError(t *testing.T) {
	en := newTestEngine(t, func(reg *rules.Registry) {
		_ = reg.RegisterFetcher("get_late", func(ctx context.Context, event any) (any, error) {
			time.Sleep(30 * time.Millisecond)
			return nil, errors.New("late failure")
		})
		_ = reg.RegisterFetcher("get_early", func(ctx context.Context, event any) (any, error) {
			return nil, errors.New("early failure")
		})
	})

	texts := []string{
		block("ok", "A > 1", "echo()"),
		block("late", "LATE > 1", "echo()"),
		block("early", "EARLY > 1", "echo()"),
	}
	_, err := en.Run(context.Background(), texts, rules.ExecutionContext{Params: map[string]any{"A": 2}})
	if err == nil {
		t.Fatal("Run() should fail")
	}
	if got := err.Error(); got != `rule block 1: rule "late": fetch get_late: late failure` {
		t.Errorf("Run() error = %q, want the error of block 1", got)
	}
}

func TestEngineFailFastCancelsSiblings(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{}, 1)
	en := newTestEngine(t, func(reg *rules.Registry) {
		_ = reg.RegisterFetcher("get_wait", func(ctx context.Context, event any) (any, error) {
			close(started)
			select {
			case <-ctx.Done():
				cancelled <- struct{}{}
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return 1, nil
			}
		})
		_ = reg.RegisterFetcher("get_fail", func(ctx context.Context, event any) (any, error) {
			<-started
			return nil, errors.New("fail")
		})
	}, rules.WithFailFast())

	texts := []string{
		block("wait", "WAIT = 1", "echo()"),
		block("fail", "FAIL = 1", "echo()"),
	}

	start := time.Now()
	_, err := en.Run(context.Background(), texts, rules.ExecutionContext{})
	if err == nil {
		t.Fatal("Run() should fail")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("fail-fast run should not wait for the slow block")
	}
	select {
	case <-cancelled:
	default:
		t.Error("sibling block should observe cancellation")
	}
}

func TestEngineFirstRuleOnly(t *testing.T) {
	en := newTestEngine(t, nil, rules.WithFirstRuleOnly())

	text := block("first", "A > 1", `echo("first")`) + block("second", "A > 1", `echo("second")`)
	out, err := en.RunOne(context.Background(), text, rules.ExecutionContext{Params: map[string]any{"A": 2}})
	if err != nil {
		t.Fatalf("RunOne() failed: %v", err)
	}
	if out.RuleName != "first" {
		t.Errorf("RuleName = %q, want first", out.RuleName)
	}
}

func TestEngineLocalParams(t *testing.T) {
	en := newTestEngine(t, func(reg *rules.Registry) {
		_ = reg.RegisterFetcher("get_amount", constFetcher(500))
	})

	ec := rules.ExecutionContext{Params: map[string]any{"LIMIT": 100}}
	out, err := en.RunOne(context.Background(), block("r1", "AMOUNT > LIMIT", "echo()"), ec)
	if err != nil {
		t.Fatalf("RunOne() failed: %v", err)
	}
	if out.Condition != true {
		t.Errorf("Condition = %v, want true", out.Condition)
	}
}

func TestEngineActionParamsIgnoreLocalParams(t *testing.T) {
	en := newTestEngine(t, func(reg *rules.Registry) {
		_ = reg.RegisterFetcher("get_risk", constFetcher("fetched"))
	})

	// RISK is bound locally for the condition; the action still fetches it
	ec := rules.ExecutionContext{Params: map[string]any{"RISK": 20}}
	out, err := en.RunOne(context.Background(), block("r1", "RISK > 10", "echo(RISK, unknown)"), ec)
	if err != nil {
		t.Fatalf("RunOne() failed: %v", err)
	}
	want := []rules.ActionResult{{ActionName: "echo", ActionContext: []any{"fetched"}}}
	if !reflect.DeepEqual(out.Actions, want) {
		t.Errorf("Actions = %v, want %v", out.Actions, want)
	}
}

func TestEngineDefaultArgument(t *testing.T) {
	// X is hidden from the parameter resolver by the parenthesis
	text := block("r1", "(X = 0)", "echo()")

	t.Run("Disabled", func(t *testing.T) {
		en := newTestEngine(t, nil)
		_, err := en.RunOne(context.Background(), text, rules.ExecutionContext{})
		if !errors.Is(err, rules.ErrMissingArgument) {
			t.Errorf("RunOne() error = %v, want ErrMissingArgument", err)
		}
	})

	t.Run("Enabled", func(t *testing.T) {
		en := newTestEngine(t, nil, rules.WithDefaultArgument(0))
		out, err := en.RunOne(context.Background(), text, rules.ExecutionContext{})
		if err != nil {
			t.Fatalf("RunOne() failed: %v", err)
		}
		if out.Condition != true {
			t.Errorf("Condition = %v, want true", out.Condition)
		}
	})
}

func TestEngineNonBooleanConditions(t *testing.T) {
	en := newTestEngine(t, nil, rules.WithBooleanConditions(false))

	out, err := en.RunOne(context.Background(), block("r1", "A + 1", "echo()"), rules.ExecutionContext{Params: map[string]any{"A": 1}})
	if err != nil {
		t.Fatalf("RunOne() failed: %v", err)
	}
	if out.Condition != 2.0 {
		t.Errorf("Condition = %v, want 2", out.Condition)
	}
	if len(out.Actions) != 1 {
		t.Errorf("truthy condition should run actions, got %v", out.Actions)
	}
}

func TestEngineLocalFunctions(t *testing.T) {
	en := newTestEngine(t, nil)

	double := func(args ...any) (any, error) {
		n, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("not a number: %T", args[0])
		}
		return n * 2, nil
	}
	ec := rules.ExecutionContext{
		Functions: map[string]rules.Function{"double": double},
		Params:    map[string]any{"A": 4},
	}
	out, err := en.RunOne(context.Background(), block("r1", "double(A) = 8", "echo()"), ec)
	if err != nil {
		t.Fatalf("RunOne() failed: %v", err)
	}
	if out.Condition != true {
		t.Errorf("Condition = %v, want true", out.Condition)
	}
}

func TestEngineHaltAndChain(t *testing.T) {
	en := newTestEngine(t, func(reg *rules.Registry) {
		_ = reg.RegisterAction("count", func(ctx context.Context, call rules.ActionCall) (*rules.ActionResponse, error) {
			return &rules.ActionResponse{ActionContext: len(call.Previous)}, nil
		})
		_ = reg.RegisterAction("stop", func(ctx context.Context, call rules.ActionCall) (*rules.ActionResponse, error) {
			return &rules.ActionResponse{ActionContext: "stopped", HaltActions: true}, nil
		})
	})

	out, err := en.RunOne(context.Background(),
		block("r1", "A > 1", "count()", "count()", "stop()", "count()"),
		rules.ExecutionContext{Params: map[string]any{"A": 2}},
	)
	if err != nil {
		t.Fatalf("RunOne() failed: %v", err)
	}
	want := []rules.ActionResult{
		{ActionName: "count", ActionContext: 0},
		{ActionName: "count", ActionContext: 1},
		{ActionName: "stop", ActionContext: "stopped"},
	}
	if !reflect.DeepEqual(out.Actions, want) {
		t.Errorf("Actions = %v, want %v", out.Actions, want)
	}
}

func TestEnginePassesEvent(t *testing.T) {
	type event struct{ Account string }
	var fetched, acted any

	en := newTestEngine(t, func(reg *rules.Registry) {
		_ = reg.RegisterFetcher("get_risk", func(ctx context.Context, ev any) (any, error) {
			fetched = ev
			return 20, nil
		})
		_ = reg.RegisterAction("mark", func(ctx context.Context, call rules.ActionCall) (*rules.ActionResponse, error) {
			acted = call.Event
			return &rules.ActionResponse{ActionContext: true}, nil
		})
	})

	ev := event{Account: "acc-1"}
	if _, err := en.RunOne(context.Background(), block("r1", "RISK > 10", "mark()"), rules.ExecutionContext{Event: ev}); err != nil {
		t.Fatalf("RunOne() failed: %v", err)
	}
	if fetched != ev || acted != ev {
		t.Errorf("fetcher saw %v, action saw %v, want %v", fetched, acted, ev)
	}
}

func TestNewEngineSealsRegistry(t *testing.T) {
	en := newTestEngine(t, nil)

	if !en.Registry().Sealed() {
		t.Fatal("NewEngine should seal the registry")
	}
	err := en.Registry().RegisterAction("late", echoAction)
	if !errors.Is(err, rules.ErrRegistrySealed) {
		t.Errorf("RegisterAction() error = %v, want ErrRegistrySealed", err)
	}
}
