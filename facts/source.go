// Package facts exposes stored facts as rule fetchers. A fact is a named
// value about a subject (an account, a customer); every fact name known to a
// Source becomes a get_<name> fetcher that reads the fact of the event's
// subject.
package facts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/liamcoop/businessrules/rules"
)

var (
	ErrFactNotFound = errors.New("fact not found")
	ErrNoSubject    = errors.New("event carries no subject")
)

// Source serves facts by subject and name
type Source interface {
	// Fetch returns the value of a fact, or ErrFactNotFound
	Fetch(ctx context.Context, subject, name string) (any, error)

	// Names lists the fact names the source knows about
	Names(ctx context.Context) ([]string, error)
}

// SubjectFunc extracts the subject key from an event
type SubjectFunc func(event any) (string, error)

// Subjecter is implemented by events that know their subject
type Subjecter interface {
	Subject() string
}

// Subject is the default SubjectFunc. It accepts a string, a Subjecter or a
// map with a "subject" string entry.
func Subject(event any) (string, error) {
	switch ev := event.(type) {
	case string:
		if ev != "" {
			return ev, nil
		}
	case Subjecter:
		if s := ev.Subject(); s != "" {
			return s, nil
		}
	case map[string]any:
		if s, ok := ev["subject"].(string); ok && s != "" {
			return s, nil
		}
	case map[string]string:
		if s := ev["subject"]; s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %T", ErrNoSubject, event)
}

type registerOptions struct {
	subject SubjectFunc
	missing *any
	logger  *slog.Logger
}

// RegisterOption configures Register
type RegisterOption func(*registerOptions)

// WithSubjectFunc overrides Subject
func WithSubjectFunc(fn SubjectFunc) RegisterOption {
	return func(o *registerOptions) {
		o.subject = fn
	}
}

// WithMissingValue makes fetchers return v instead of ErrFactNotFound
func WithMissingValue(v any) RegisterOption {
	return func(o *registerOptions) {
		o.missing = &v
	}
}

// WithLogger sets the logger that reports skipped facts
func WithLogger(logger *slog.Logger) RegisterOption {
	return func(o *registerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Register adds a get_<name> fetcher to reg for every fact name of src.
// Facts whose name is not a valid identifier are logged and skipped so that
// one bad row does not take every rule down.
func Register(ctx context.Context, reg *rules.Registry, src Source, opts ...RegisterOption) error {
	o := registerOptions{subject: Subject, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	names, err := src.Names(ctx)
	if err != nil {
		return fmt.Errorf("failed to list facts: %w", err)
	}
	for _, name := range names {
		err := reg.RegisterFetcher(rules.FetcherKey(name), Fetcher(src, name, o.subject, o.missing))
		if errors.Is(err, rules.ErrInvalidIdentifier) {
			o.logger.Warn("skipping fact with invalid name", "fact", name, "error", err)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Fetcher reads fact name of the event's subject from src. When missing is
// non-nil it is returned for absent facts.
func Fetcher(src Source, name string, subject SubjectFunc, missing *any) rules.Fetcher {
	name = strings.ToLower(name)
	return func(ctx context.Context, event any) (any, error) {
		s, err := subject(event)
		if err != nil {
			return nil, err
		}
		v, err := src.Fetch(ctx, s, name)
		if errors.Is(err, ErrFactNotFound) && missing != nil {
			return *missing, nil
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}
