package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
)

// ChallengeStore holds in-flight handshake and activation state with per-entry TTL.
// Take is an atomic check-and-delete so a challenge can be consumed at most once
// even under concurrent completion attempts.
type ChallengeStore interface {
	Put(ctx context.Context, key string, challenge domain.Challenge, ttl time.Duration) error
	Get(ctx context.Context, key string) (*domain.Challenge, error)
	Take(ctx context.Context, key string) (*domain.Challenge, error)
	Delete(ctx context.Context, key string) error
}

// AbuseStore backs the per-IP rate and failure counters and the suspicious-IP set.
// Counters are atomic increments; the window starts with the first hit.
type AbuseStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	Reset(ctx context.Context, key string) error
	MarkSuspicious(ctx context.Context, ip string, ttl time.Duration) error
	IsSuspicious(ctx context.Context, ip string) (bool, error)
}

// CloneJSON deep-copies JSON-serializable values.
// In-memory stores use it so callers never share mutable state with the store.
func CloneJSON[T any](in T) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
