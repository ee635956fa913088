package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
)

// credentialsKey is the Redis hash holding username -> bcrypt hash.
const credentialsKey = "gorelay:credentials"

const redisTimeout = 5 * time.Second

// RedisStore keeps credentials in a single Redis hash. HSETNX makes a
// registration atomic and unique even with several servers sharing one Redis.
type RedisStore struct {
	client *redis.Client
	opts   options
}

// NewRedisStore connects to the Redis server at url and verifies it responds.
func NewRedisStore(url string, opts ...Option) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: connect redis: %w", err)
	}
	return NewRedisStoreWithClient(client, opts...), nil
}

// NewRedisStoreWithClient wraps an existing client. The store takes ownership
// and closes the client on Close.
func NewRedisStoreWithClient(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, opts: defaultOptions(opts)}
}

// Register stores a new credential.
func (s *RedisStore) Register(username, password string) (bool, error) {
	if err := model.ValidateCredentials(username, password); err != nil {
		return false, fmt.Errorf("store: register: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	exists, err := s.client.HExists(ctx, credentialsKey, username).Result()
	if err != nil {
		return false, fmt.Errorf("store: register: %w", err)
	}
	if exists {
		return false, nil
	}

	hash, err := crypto.HashPassword(password, s.opts.hashCost)
	if err != nil {
		return false, fmt.Errorf("store: register: %w", err)
	}
	created, err := s.client.HSetNX(ctx, credentialsKey, username, hash).Result()
	if err != nil {
		return false, fmt.Errorf("store: register: %w", err)
	}
	return created, nil
}

// Authenticate checks a password against the stored hash.
func (s *RedisStore) Authenticate(username, password string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	hash, err := s.client.HGet(ctx, credentialsKey, username).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: authenticate: %w", err)
	}
	return crypto.CheckPassword(hash, password), nil
}

// Usernames returns every registered username in sorted order.
func (s *RedisStore) Usernames() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	names, err := s.client.HKeys(ctx, credentialsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list usernames: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of stored credentials.
func (s *RedisStore) Count() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	n, err := s.client.HLen(ctx, credentialsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return int(n), nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
