package selection

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimishamba325/Coral-reef/internal/logging"
)

const previewKeyPrefix = "preview:"

// BlobCache abstracts the Redis operations used by RedisRegistry to make
// testing easier.
type BlobCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) (int64, error)
}

// RedisCache is the go-redis backed BlobCache.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *RedisCache) Del(ctx context.Context, key string) (int64, error) {
	return c.client.Del(ctx, key).Result()
}

// RedisRegistry stores preview bytes in Redis so several client processes
// can serve the same display URI. The TTL only bounds handles orphaned by a
// crash; the store still releases every handle explicitly. Transient Redis
// errors are retried with exponential backoff.
type RedisRegistry struct {
	cache          BlobCache
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewRedisRegistry(cache BlobCache, ttl time.Duration, logger *zap.Logger) *RedisRegistry {
	return &RedisRegistry{
		cache:          cache,
		ttl:            ttl,
		logger:         logger.Named("redis_registry"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func (r *RedisRegistry) Issue(ctx context.Context, data []byte) (string, error) {
	handle := uuid.NewString()
	err := r.withRetry(ctx, "registry.set", handle, func() error {
		return r.cache.Set(ctx, previewKeyPrefix+handle, data, r.ttl)
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

func (r *RedisRegistry) Release(ctx context.Context, handle string) error {
	var removed int64
	err := r.withRetry(ctx, "registry.del", handle, func() error {
		n, err := r.cache.Del(ctx, previewKeyPrefix+handle)
		removed = n
		return err
	})
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrHandleNotFound
	}
	return nil
}

func (r *RedisRegistry) Open(ctx context.Context, handle string) ([]byte, error) {
	var value string
	err := r.withRetry(ctx, "registry.get", handle, func() error {
		v, err := r.cache.Get(ctx, previewKeyPrefix+handle)
		value = v
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrHandleNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (r *RedisRegistry) withRetry(ctx context.Context, operation, handle string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, "").With(zap.String("handle", handle))
	var err error
	for attempt := 0; attempt < r.retryAttempts || attempt == 0; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, "", ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return err
		}
		if !isTransientError(err) || attempt >= r.retryAttempts-1 {
			opErr := &logging.OperationError{Operation: operation, Err: err}
			r.logger.Error("redis operation failed", append(opErr.Fields(), zap.String("handle", handle), zap.Int("attempt", attempt+1))...)
			return opErr
		}
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, "", err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}
