package facts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemorySource keeps facts in a map.
// Thread-safe with RWMutex
type MemorySource struct {
	facts map[string]map[string]any
	mu    sync.RWMutex
}

// NewMemorySource creates an empty in-memory source
func NewMemorySource() *MemorySource {
	return &MemorySource{
		facts: make(map[string]map[string]any),
	}
}

// Set stores a fact; names are case-insensitive
func (s *MemorySource) Set(subject, name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bySubject, ok := s.facts[subject]
	if !ok {
		bySubject = make(map[string]any)
		s.facts[subject] = bySubject
	}
	bySubject[strings.ToLower(name)] = value
}

// Delete removes a fact
func (s *MemorySource) Delete(subject, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.facts[subject], strings.ToLower(name))
}

// Fetch returns the fact of subject
func (s *MemorySource) Fetch(ctx context.Context, subject, name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.facts[subject][strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrFactNotFound, subject, name)
	}
	return v, nil
}

// Names returns every fact name held for any subject, sorted
func (s *MemorySource) Names(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, bySubject := range s.facts {
		for name := range bySubject {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
