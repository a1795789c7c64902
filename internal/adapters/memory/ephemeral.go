// Package memory provides in-process implementations of every port. They back
// the tests and the single-process STORAGE_DRIVER=memory mode.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
)

type challengeEntry struct {
	value     domain.Challenge
	expiresAt time.Time
}

type ChallengeStore struct {
	mu    sync.Mutex
	items map[string]challengeEntry
	nowFn func() time.Time
}

func NewChallengeStore(nowFn func() time.Time) *ChallengeStore {
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &ChallengeStore{items: map[string]challengeEntry{}, nowFn: nowFn}
}

func (s *ChallengeStore) Put(_ context.Context, key string, challenge domain.Challenge, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	clone, err := ports.CloneJSON(challenge)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = challengeEntry{value: clone, expiresAt: s.nowFn().Add(ttl)}
	return nil
}

func (s *ChallengeStore) Get(_ context.Context, key string) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(key)
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := entry.value
	return &out, nil
}

func (s *ChallengeStore) Take(_ context.Context, key string) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(key)
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(s.items, key)
	out := entry.value
	return &out, nil
}

func (s *ChallengeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// live must be called with mu held.
func (s *ChallengeStore) live(key string) (challengeEntry, bool) {
	entry, ok := s.items[key]
	if !ok {
		return challengeEntry{}, false
	}
	if !s.nowFn().Before(entry.expiresAt) {
		delete(s.items, key)
		return challengeEntry{}, false
	}
	return entry, true
}

type counter struct {
	count     int64
	expiresAt time.Time
}

type AbuseStore struct {
	mu         sync.Mutex
	counters   map[string]counter
	suspicious map[string]time.Time
	nowFn      func() time.Time
}

func NewAbuseStore(nowFn func() time.Time) *AbuseStore {
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &AbuseStore{
		counters:   map[string]counter{},
		suspicious: map[string]time.Time{},
		nowFn:      nowFn,
	}
}

func (s *AbuseStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = counter{expiresAt: now.Add(window)}
	}
	c.count++
	s.counters[key] = c
	return c.count, nil
}

func (s *AbuseStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

func (s *AbuseStore) MarkSuspicious(_ context.Context, ip string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspicious[ip] = s.nowFn().Add(ttl)
	return nil
}

func (s *AbuseStore) IsSuspicious(_ context.Context, ip string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.suspicious[ip]
	if !ok {
		return false, nil
	}
	if !s.nowFn().Before(until) {
		delete(s.suspicious, ip)
		return false, nil
	}
	return true, nil
}
