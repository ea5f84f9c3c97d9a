package dispatch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV adapts a go-redis universal client to KVStore, mirroring the
// teacher's thin GoRedisAdapter wrapper pattern.
type RedisKV struct {
	Client redis.UniversalClient
}

func (r RedisKV) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}
