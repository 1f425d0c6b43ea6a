package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RedisFileRegistry persists the content-addressed upload registry in
// Redis so separate executor processes share one upload per
// fingerprint. Single-flight still applies per process; cross-process
// dedup relies on the read-before-upload check plus Redis TTLs.
type RedisFileRegistry struct {
	client    *redis.Client
	namespace string
	flight    singleflight.Group
}

// NewRedisFileRegistry connects to redisURL and verifies the
// connection with a bounded ping retry before returning.
func NewRedisFileRegistry(redisURL, namespace string) (*RedisFileRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var pingErr error
	for attempt := 0; attempt < 3; attempt++ {
		if pingErr = client.Ping(ctx).Err(); pingErr == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redis connection verification cancelled: %w", ctx.Err())
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
		}
	}
	if pingErr != nil {
		return nil, fmt.Errorf("redis connection verification failed: %w", pingErr)
	}

	if namespace == "" {
		namespace = "pollux"
	}
	return &RedisFileRegistry{client: client, namespace: namespace}, nil
}

// NewRedisFileRegistryFromClient wraps an existing client. Used by
// tests backed by miniredis.
func NewRedisFileRegistryFromClient(client *redis.Client, namespace string) *RedisFileRegistry {
	if namespace == "" {
		namespace = "pollux"
	}
	return &RedisFileRegistry{client: client, namespace: namespace}
}

func (r *RedisFileRegistry) key(fingerprint string) string {
	return fmt.Sprintf("%s:files:%s", r.namespace, fingerprint)
}

// Materialize implements FileRegistry over Redis GET/SET with TTL.
// Failed uploads leave no key behind.
func (r *RedisFileRegistry) Materialize(ctx context.Context, fingerprint string, ttl time.Duration, upload UploadFunc) (string, error) {
	if uri, err := r.client.Get(ctx, r.key(fingerprint)).Result(); err == nil && uri != "" {
		return uri, nil
	}

	result, err, _ := r.flight.Do(fingerprint, func() (interface{}, error) {
		if uri, err := r.client.Get(ctx, r.key(fingerprint)).Result(); err == nil && uri != "" {
			return uri, nil
		}
		uri, err := upload(ctx)
		if err != nil {
			return "", err
		}
		if setErr := r.client.Set(ctx, r.key(fingerprint), uri, ttl).Err(); setErr != nil {
			// The upload itself succeeded; losing the registry entry
			// only costs a duplicate upload later.
			return uri, nil
		}
		return uri, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Forget drops the fingerprint's key.
func (r *RedisFileRegistry) Forget(fingerprint string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	r.client.Del(ctx, r.key(fingerprint))
}

// Close releases the underlying connection pool.
func (r *RedisFileRegistry) Close() error {
	return r.client.Close()
}
