package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockTTL     = 10 * time.Second
	waitTimeout = 10 * time.Second
	minBackoff  = 10 * time.Millisecond
	maxBackoff  = 500 * time.Millisecond
)

// releaseLock deletes the lock only if this caller still owns it.
var releaseLock = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var errFetchAbandoned = errors.New("lock released without a cached value")

// RedisCacher is a Cacher shared by every process using the same redis
// database and prefix. Values are stored as JSON. On a miss one caller takes
// a SETNX lock and fetches; the others poll until the value appears.
type RedisCacher[T any] struct {
	client *redis.Client
	prefix string
}

// NewRedisCacher creates a redis backed cache.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	resolved := NewRedisCacher[[]string](client, "minerproxy:dns:")
//
// Parameters:
//   - client: Connected redis client; the cacher does not close it
//   - prefix: Prepended to every key
//
// Returns:
//   - A Cacher backed by redis
func NewRedisCacher[T any](client *redis.Client, prefix string) Cacher[T] {
	return &RedisCacher[T]{client: client, prefix: prefix}
}

// GetOrFetch implements Cacher.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	fullKey := c.key(key)

	if v, ok, err := c.get(ctx, fullKey); err != nil || ok {
		return v, err
	}

	lockKey := fullKey + ":lock"
	token := strconv.FormatInt(time.Now().UnixNano(), 10)

	acquired, err := c.client.SetNX(ctx, lockKey, token, lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		return c.wait(ctx, fullKey, lockKey)
	}

	defer releaseLock.Run(context.Background(), c.client, []string{lockKey}, token)

	fetched, err := fetchFn(ctx)
	if err != nil {
		return zero, fmt.Errorf("fetch function failed: %w", err)
	}

	data, err := json.Marshal(fetched)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := c.client.Set(ctx, fullKey, data, ttl).Err(); err != nil {
		return zero, fmt.Errorf("failed to cache result: %w", err)
	}

	return fetched, nil
}

// Delete implements Cacher.
func (c *RedisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	return nil
}

func (c *RedisCacher[T]) key(key string) string {
	return c.prefix + key
}

// get returns the decoded value and true on a hit, false on a miss.
func (c *RedisCacher[T]) get(ctx context.Context, fullKey string) (T, bool, error) {
	var result T

	raw, err := c.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return result, false, nil
	}
	if err != nil {
		return result, false, fmt.Errorf("redis get error: %w", err)
	}

	if err := json.Unmarshal(raw, &result); err != nil {
		return result, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return result, true, nil
}

// wait polls with exponential backoff until the lock holder stores the
// value, the lock disappears, or waitTimeout passes.
func (c *RedisCacher[T]) wait(ctx context.Context, fullKey, lockKey string) (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	backoff := minBackoff
	for {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("waiting for %s: %w", fullKey, ctx.Err())
		case <-time.After(backoff):
		}

		if v, ok, err := c.get(ctx, fullKey); err != nil || ok {
			return v, err
		}

		exists, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, fmt.Errorf("failed to check lock existence: %w", err)
		}

		if exists == 0 {
			if v, ok, err := c.get(ctx, fullKey); err != nil || ok {
				return v, err
			}
			return zero, errFetchAbandoned
		}

		backoff = min(backoff*2, maxBackoff)
	}
}
