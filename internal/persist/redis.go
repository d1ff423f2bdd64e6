package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/larder/internal/retrier"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix is prepended to every snapshot key.
	Prefix string
	// KeyTTL expires snapshots nobody refreshes; zero keeps them forever.
	KeyTTL  time.Duration
	Breaker gobreaker.Settings
	Retrier *retrier.Retrier
	Logger  *zap.Logger
}

// RedisStore shares snapshots between site instances through redis. Calls
// run through a circuit breaker wrapping the retrier.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	keyTTL  time.Duration
	breaker *gobreaker.CircuitBreaker
	retrier *retrier.Retrier
	logger  *zap.Logger
}

// DefaultBreakerSettings trips after five consecutive failures.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "larder-redis",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retrier == nil {
		opts.Retrier = retrier.Default(retrier.IsTemporary)
	}
	if opts.Breaker.Name == "" {
		opts.Breaker = DefaultBreakerSettings()
	}

	logger := opts.Logger
	settings := opts.Breaker
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("Redis circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}

	return &RedisStore{
		client:  client,
		prefix:  opts.Prefix,
		keyTTL:  opts.KeyTTL,
		breaker: gobreaker.NewCircuitBreaker(settings),
		retrier: opts.Retrier,
		logger:  logger,
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// executeWithResilience runs fn behind the breaker and the retrier.
func (s *RedisStore) executeWithResilience(ctx context.Context, fn func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.retrier.Run(ctx, fn)
	})
	return err
}

func (s *RedisStore) Read(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.executeWithResilience(ctx, func() error {
		v, err := s.client.Get(ctx, s.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, found, nil
}

func (s *RedisStore) Write(ctx context.Context, key, value string) error {
	if err := s.executeWithResilience(ctx, func() error {
		return s.client.Set(ctx, s.key(key), value, s.keyTTL).Err()
	}); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.executeWithResilience(ctx, func() error {
		return s.client.Del(ctx, s.key(key)).Err()
	}); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
