package history

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on a Redis server.
type RedisBackend struct {
	client *redis.Client
}

var _ Backend = &RedisBackend{}

// NewRedisBackend connects to addr and pings it.
func NewRedisBackend(ctx context.Context, addr string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis get %q", key)
	}
	return value, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	err := b.client.Set(ctx, key, value, 0).Err()
	if isOOM(err) {
		return ErrQuotaExceeded
	}
	if err != nil {
		return errors.Wrapf(err, "redis set %q", key)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "redis del %q", key)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// isOOM recognizes the reply Redis sends once maxmemory is reached.
func isOOM(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "OOM ")
}
