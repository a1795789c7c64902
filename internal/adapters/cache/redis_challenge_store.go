package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/redis/go-redis/v9"
)

const challengePrefix = "lic:challenge:"

// RedisChallengeStore keeps handshake and activation challenges as JSON values
// whose Redis TTL matches the challenge lifetime.
type RedisChallengeStore struct {
	client *redis.Client
}

func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{client: client}
}

func (s *RedisChallengeStore) Put(ctx context.Context, key string, challenge domain.Challenge, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(challenge)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, challengePrefix+key, raw, ttl).Err()
}

func (s *RedisChallengeStore) Get(ctx context.Context, key string) (*domain.Challenge, error) {
	raw, err := s.client.Get(ctx, challengePrefix+key).Bytes()
	return decodeChallenge(raw, err)
}

// Take uses GETDEL so two concurrent callers can never both receive the value.
func (s *RedisChallengeStore) Take(ctx context.Context, key string) (*domain.Challenge, error) {
	raw, err := s.client.GetDel(ctx, challengePrefix+key).Bytes()
	return decodeChallenge(raw, err)
}

func (s *RedisChallengeStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, challengePrefix+key).Err()
}

func decodeChallenge(raw []byte, err error) (*domain.Challenge, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var out domain.Challenge
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
