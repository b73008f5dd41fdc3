package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "capgraph:credentials:"

// RedisStore keeps credentials as JSON strings under a key prefix.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

type RedisOption func(*RedisStore)

// WithKeyPrefix changes the prefix credential keys are stored under.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a store over an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewRedisStoreFromURL parses a redis:// URL and connects to it.
func NewRedisStoreFromURL(ctx context.Context, url string, opts ...RedisOption) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStore(client, opts...), nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, id)
		}

		return nil, fmt.Errorf("failed to read credential %s: %w", id, err)
	}

	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("failed to decode credential %s: %w", id, err)
	}

	return values, nil
}

// Set stores or replaces a credential.
func (s *RedisStore) Set(ctx context.Context, id string, values map[string]any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode credential %s: %w", id, err)
	}

	if err := s.client.Set(ctx, s.key(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write credential %s: %w", id, err)
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
