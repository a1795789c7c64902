package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	counterPrefix    = "lic:abuse:"
	suspiciousPrefix = "lic:suspicious:"
)

// incrementScript starts the window on the first hit only, so later hits do
// not extend it.
var incrementScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisAbuseStore implements the fixed-window counters and the suspicious-IP
// set used by the abuse guard.
type RedisAbuseStore struct {
	client *redis.Client
}

func NewRedisAbuseStore(client *redis.Client) *RedisAbuseStore {
	return &RedisAbuseStore{client: client}
}

func (s *RedisAbuseStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return incrementScript.Run(ctx, s.client, []string{counterPrefix + key}, window.Milliseconds()).Int64()
}

func (s *RedisAbuseStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, counterPrefix+key).Err()
}

func (s *RedisAbuseStore) MarkSuspicious(ctx context.Context, ip string, ttl time.Duration) error {
	return s.client.Set(ctx, suspiciousPrefix+ip, time.Now().UTC().Unix(), ttl).Err()
}

func (s *RedisAbuseStore) IsSuspicious(ctx context.Context, ip string) (bool, error) {
	n, err := s.client.Exists(ctx, suspiciousPrefix+ip).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
