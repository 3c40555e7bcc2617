package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// Resolver turns parameter tokens into values
type Resolver struct {
	registry *Registry
	logger   *slog.Logger
}

// NewResolver creates a resolver over the given registry
func NewResolver(registry *Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		registry: registry,
		logger:   logger,
	}
}

// ConditionParams resolves condition tokens, in order: local params, integer
// literals, quoted literals, fetchers. A token with no registered fetcher is
// an ErrFetcherNotFound error.
func (r *Resolver) ConditionParams(ctx context.Context, tokens []string, local map[string]any, event any) (map[string]any, error) {
	params := make(map[string]any, len(tokens))
	for _, token := range tokens {
		if v, ok := local[token]; ok {
			params[token] = v
			continue
		}
		if n, err := strconv.Atoi(token); err == nil {
			params[token] = n
			continue
		}
		if isQuoted(token) {
			params[token] = unquote(token)
			continue
		}

		v, err := r.fetch(ctx, token, event)
		if err != nil {
			return nil, err
		}
		params[token] = v
	}
	return params, nil
}

// ActionParams resolves the parameter tokens of one action invocation, in
// call order: integer literals, quoted literals, fetchers.
//
// Local params are not consulted here, so an action token that happens to
// share a name with a local param is still fetched. A token without a
// registered fetcher is logged and skipped; the returned slice is then
// shorter than tokens.
func (r *Resolver) ActionParams(ctx context.Context, tokens []string, event any) ([]any, error) {
	values := make([]any, 0, len(tokens))
	for _, token := range tokens {
		if n, err := strconv.Atoi(token); err == nil {
			values = append(values, n)
			continue
		}
		if isQuoted(token) {
			values = append(values, unquote(token))
			continue
		}

		v, err := r.fetch(ctx, token, event)
		if errors.Is(err, ErrFetcherNotFound) {
			r.logger.Debug("action parameter fetcher not implemented, skipping",
				"token", token,
				"fetcher", FetcherKey(token),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (r *Resolver) fetch(ctx context.Context, token string, event any) (any, error) {
	f, err := r.registry.Fetcher(FetcherKey(token))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := f(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", FetcherKey(token), err)
	}
	return v, nil
}
