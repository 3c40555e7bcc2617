package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FetcherPrefix is prepended to a parameter token to find its fetcher
const FetcherPrefix = "get_"

// FetcherKey returns the registry key of the fetcher resolving token
func FetcherKey(token string) string {
	return FetcherPrefix + strings.ToLower(token)
}

// Registry maps names to fetcher and action functions.
// It is populated at start-up and sealed before the first run; lookups are
// safe for concurrent use.
type Registry struct {
	fetchers map[string]Fetcher
	actions  map[string]Action
	sealed   bool
	mu       sync.RWMutex
}

// NewRegistry creates an empty, unsealed registry
func NewRegistry() *Registry {
	return &Registry{
		fetchers: make(map[string]Fetcher),
		actions:  make(map[string]Action),
	}
}

// RegisterFetcher adds a fetcher under its full key, e.g. "get_risk"
func (r *Registry) RegisterFetcher(name string, f Fetcher) error {
	if f == nil {
		return fmt.Errorf("fetcher %q is nil", name)
	}
	if !strings.HasPrefix(name, FetcherPrefix) {
		return fmt.Errorf("%w: fetcher %q must start with %q", ErrInvalidIdentifier, name, FetcherPrefix)
	}
	if err := ValidateIdentifier(name); err != nil {
		return fmt.Errorf("fetcher %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register fetcher %q", ErrRegistrySealed, name)
	}
	if _, exists := r.fetchers[name]; exists {
		return fmt.Errorf("fetcher %q already registered", name)
	}
	r.fetchers[name] = f
	return nil
}

// RegisterAction adds an action under the name used in rule text
func (r *Registry) RegisterAction(name string, a Action) error {
	if a == nil {
		return fmt.Errorf("action %q is nil", name)
	}
	if err := ValidateIdentifier(name); err != nil {
		return fmt.Errorf("action %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register action %q", ErrRegistrySealed, name)
	}
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("action %q already registered", name)
	}
	r.actions[name] = a
	return nil
}

// Fetcher looks up a fetcher by its exact key
func (r *Registry) Fetcher(name string) (Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.fetchers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFetcherNotFound, name)
	}
	return f, nil
}

// Action looks up an action by its exact name
func (r *Registry) Action(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}
	return a, nil
}

// Seal forbids further registration
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// FetcherNames returns the registered fetcher keys, sorted
func (r *Registry) FetcherNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.fetchers)
}

// ActionNames returns the registered action names, sorted
func (r *Registry) ActionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.actions)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
