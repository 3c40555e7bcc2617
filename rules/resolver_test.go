package rules

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func newTestResolver(t *testing.T, fetchers map[string]Fetcher) *Resolver {
	t.Helper()
	reg := NewRegistry()
	for name, f := range fetchers {
		if err := reg.RegisterFetcher(name, f); err != nil {
			t.Fatalf("RegisterFetcher(%q) failed: %v", name, err)
		}
	}
	reg.Seal()
	return NewResolver(reg, nil)
}

func TestConditionParams(t *testing.T) {
	r := newTestResolver(t, map[string]Fetcher{
		"get_risk":  constFetcher(42),
		"get_local": constFetcher("fetched"),
	})

	tokens := []string{"RISK", "LOCAL", "7", `"high"`}
	local := map[string]any{"LOCAL": "bound"}

	got, err := r.ConditionParams(context.Background(), tokens, local, nil)
	if err != nil {
		t.Fatalf("ConditionParams() failed: %v", err)
	}
	want := map[string]any{
		"RISK":   42,
		"LOCAL":  "bound",
		"7":      7,
		`"high"`: "high",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ConditionParams() = %v, want %v", got, want)
	}
}

func TestConditionParamsMissingFetcher(t *testing.T) {
	r := newTestResolver(t, nil)

	_, err := r.ConditionParams(context.Background(), []string{"RISK"}, nil, nil)
	if !errors.Is(err, ErrFetcherNotFound) {
		t.Errorf("ConditionParams() error = %v, want ErrFetcherNotFound", err)
	}
}

func TestConditionParamsPassesEvent(t *testing.T) {
	var seen any
	r := newTestResolver(t, map[string]Fetcher{
		"get_risk": func(ctx context.Context, event any) (any, error) {
			seen = event
			return 1, nil
		},
	})

	event := map[string]any{"account": "acc-1"}
	if _, err := r.ConditionParams(context.Background(), []string{"RISK"}, nil, event); err != nil {
		t.Fatalf("ConditionParams() failed: %v", err)
	}
	if !reflect.DeepEqual(seen, event) {
		t.Errorf("fetcher saw event %v, want %v", seen, event)
	}
}

func TestActionParams(t *testing.T) {
	r := newTestResolver(t, map[string]Fetcher{
		"get_account": constFetcher("acc-1"),
	})

	tokens := []string{"account", "3", `'low'`, "unknown"}

	got, err := r.ActionParams(context.Background(), tokens, nil)
	if err != nil {
		t.Fatalf("ActionParams() failed: %v", err)
	}
	// unknown has no fetcher and is skipped
	want := []any{"acc-1", 3, "low"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ActionParams() = %v, want %v", got, want)
	}
}

func TestFetcherErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	r := newTestResolver(t, map[string]Fetcher{
		"get_risk": func(ctx context.Context, event any) (any, error) {
			return nil, boom
		},
	})

	if _, err := r.ConditionParams(context.Background(), []string{"RISK"}, nil, nil); !errors.Is(err, boom) {
		t.Errorf("ConditionParams() error = %v, want boom", err)
	}
	if _, err := r.ActionParams(context.Background(), []string{"RISK"}, nil); !errors.Is(err, boom) {
		t.Errorf("ActionParams() error = %v, want boom", err)
	}
}

func TestResolverCancelledContext(t *testing.T) {
	r := newTestResolver(t, map[string]Fetcher{
		"get_risk": constFetcher(1),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.ConditionParams(ctx, []string{"RISK"}, nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("ConditionParams() error = %v, want context.Canceled", err)
	}
}
