package rules

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

func constFetcher(v any) Fetcher {
	return func(ctx context.Context, event any) (any, error) {
		return v, nil
	}
}

func okAction(ctx context.Context, call ActionCall) (*ActionResponse, error) {
	return &ActionResponse{ActionContext: call.Params}, nil
}

func TestRegistryRegisterFetcher(t *testing.T) {
	testCases := []struct {
		name    string
		key     string
		fetcher Fetcher
		wantErr bool
	}{
		{"Valid fetcher", "get_risk", constFetcher(1), false},
		{"Missing prefix", "risk", constFetcher(1), true},
		{"Nil fetcher", "get_nil", nil, true},
		{"Invalid characters", "get_risk-score", constFetcher(1), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry()
			err := reg.RegisterFetcher(tc.key, tc.fetcher)
			if (err != nil) != tc.wantErr {
				t.Errorf("RegisterFetcher(%q) error = %v, wantErr %v", tc.key, err, tc.wantErr)
			}
		})
	}
}

func TestRegistryDuplicates(t *testing.T) {
	reg := NewRegistry()

	if err := reg.RegisterFetcher("get_a", constFetcher(1)); err != nil {
		t.Fatalf("RegisterFetcher() failed: %v", err)
	}
	if err := reg.RegisterFetcher("get_a", constFetcher(2)); err == nil {
		t.Error("duplicate fetcher should be rejected")
	}

	if err := reg.RegisterAction("notify", okAction); err != nil {
		t.Fatalf("RegisterAction() failed: %v", err)
	}
	if err := reg.RegisterAction("notify", okAction); err == nil {
		t.Error("duplicate action should be rejected")
	}
}

func TestRegistryRegisterActionValidation(t *testing.T) {
	reg := NewRegistry()

	if err := reg.RegisterAction("when", okAction); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("reserved action name error = %v, want ErrInvalidIdentifier", err)
	}
	if err := reg.RegisterAction("notify", nil); err == nil {
		t.Error("nil action should be rejected")
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	_ = reg.RegisterFetcher("get_risk", constFetcher(7))
	_ = reg.RegisterAction("notify", okAction)

	f, err := reg.Fetcher("get_risk")
	if err != nil {
		t.Fatalf("Fetcher() failed: %v", err)
	}
	v, _ := f(context.Background(), nil)
	if v != 7 {
		t.Errorf("fetcher returned %v, want 7", v)
	}

	if _, err := reg.Fetcher("get_missing"); !errors.Is(err, ErrFetcherNotFound) {
		t.Errorf("Fetcher(missing) error = %v, want ErrFetcherNotFound", err)
	}
	if _, err := reg.Action("missing"); !errors.Is(err, ErrActionNotFound) {
		t.Errorf("Action(missing) error = %v, want ErrActionNotFound", err)
	}
}

func TestRegistrySeal(t *testing.T) {
	reg := NewRegistry()
	reg.Seal()

	if !reg.Sealed() {
		t.Fatal("Sealed() should report true after Seal()")
	}
	if err := reg.RegisterFetcher("get_a", constFetcher(1)); !errors.Is(err, ErrRegistrySealed) {
		t.Errorf("RegisterFetcher() after Seal error = %v, want ErrRegistrySealed", err)
	}
	if err := reg.RegisterAction("notify", okAction); !errors.Is(err, ErrRegistrySealed) {
		t.Errorf("RegisterAction() after Seal error = %v, want ErrRegistrySealed", err)
	}
}

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry()
	_ = reg.RegisterFetcher("get_b", constFetcher(1))
	_ = reg.RegisterFetcher("get_a", constFetcher(1))
	_ = reg.RegisterAction("zeta", okAction)
	_ = reg.RegisterAction("alpha", okAction)

	if got := reg.FetcherNames(); !reflect.DeepEqual(got, []string{"get_a", "get_b"}) {
		t.Errorf("FetcherNames() = %v", got)
	}
	if got := reg.ActionNames(); !reflect.DeepEqual(got, []string{"alpha", "zeta"}) {
		t.Errorf("ActionNames() = %v", got)
	}
}

func TestRegistryConcurrentLookup(t *testing.T) {
	reg := NewRegistry()
	_ = reg.RegisterFetcher("get_a", constFetcher(1))
	reg.Seal()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Fetcher("get_a"); err != nil {
				t.Errorf("Fetcher() failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestFetcherKey(t *testing.T) {
	if got := FetcherKey("RISK"); got != "get_risk" {
		t.Errorf("FetcherKey(RISK) = %q, want get_risk", got)
	}
}
