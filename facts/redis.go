package facts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the keys of a RedisSource
const DefaultRedisPrefix = "facts:"

// RedisSource keeps one hash per subject, field = fact name, value = JSON.
// Known fact names are tracked in a set so Names does not need to scan.
type RedisSource struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSource creates a Redis-backed source. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisSource(client redis.UniversalClient, prefix string) *RedisSource {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSource{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisSource) subjectKey(subject string) string {
	return s.prefix + "subject:" + subject
}

func (s *RedisSource) namesKey() string {
	return s.prefix + "names"
}

// Set stores a fact and records its name
func (s *RedisSource) Set(ctx context.Context, subject, name string, value any) error {
	b, err := encodeValue(value)
	if err != nil {
		return err
	}
	name = strings.ToLower(name)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.subjectKey(subject), name, b)
		pipe.SAdd(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set fact: %w", err)
	}
	return nil
}

// Delete removes a fact of one subject. The name stays known.
func (s *RedisSource) Delete(ctx context.Context, subject, name string) error {
	n, err := s.client.HDel(ctx, s.subjectKey(subject), strings.ToLower(name)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete fact: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrFactNotFound, subject, name)
	}
	return nil
}

// Fetch returns the fact of subject
func (s *RedisSource) Fetch(ctx context.Context, subject, name string) (any, error) {
	raw, err := s.client.HGet(ctx, s.subjectKey(subject), strings.ToLower(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s/%s", ErrFactNotFound, subject, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fact: %w", err)
	}
	return decodeValue(raw)
}

// Names returns the recorded fact names, sorted
func (s *RedisSource) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list fact names: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
