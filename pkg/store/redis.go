package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// decrFloorScript decrements atomically without letting the value go below
// zero. DECRBY followed by a corrective SET would be racy as two round trips;
// as a script it executes atomically on the server.
var decrFloorScript = redis.NewScript(`
local v = redis.call("DECRBY", KEYS[1], ARGV[1])
if v < 0 then
	redis.call("SET", KEYS[1], 0)
	v = 0
end
return v
`)

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps a Redis client as a Store. All keys are prefixed with
// prefix. TTL expiry is native Redis key expiration.
func NewRedisStore(client *redis.Client, prefix string) Store {
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) key(key string) string {
	return s.prefix + key
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func (s *redisStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	vals, err := s.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[i] = []byte(str)
		}
	}
	return out, nil
}

func (s *redisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) (int64, error) {
	return s.client.Del(ctx, s.key(key)).Result()
}

func (s *redisStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return s.client.IncrBy(ctx, s.key(key), n).Result()
}

func (s *redisStore) DecrByFloor(ctx context.Context, key string, n int64) (int64, error) {
	return decrFloorScript.Run(ctx, s.client, []string{s.key(key)}, n).Int64()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
