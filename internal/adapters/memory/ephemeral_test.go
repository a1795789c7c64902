package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestChallengeStoreExpiryAndSingleUse(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewChallengeStore(clock.Now)
	ctx := context.Background()

	challenge := domain.Challenge{Kind: domain.ChallengeKindHandshake, Domain: "example.com", ServerNonce: "n1"}
	require.NoError(t, store.Put(ctx, "k", challenge, time.Minute))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "n1", got.ServerNonce)

	taken, err := store.Take(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "example.com", taken.Domain)
	_, err = store.Take(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Put(ctx, "k2", challenge, time.Minute))
	clock.Advance(time.Minute)
	_, err = store.Get(ctx, "k2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Put(ctx, "k3", challenge, 0))
	_, err = store.Get(ctx, "k3")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChallengeStoreConcurrentTakeHasOneWinner(t *testing.T) {
	store := NewChallengeStore(nil)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "race", domain.Challenge{ServerNonce: "n"}, time.Minute))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Take(ctx, "race"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestAbuseStoreWindowAndSuspicion(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewAbuseStore(clock.Now)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := store.Increment(ctx, "rate:1.2.3.4", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	clock.Advance(time.Minute)
	n, err := store.Increment(ctx, "rate:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.Reset(ctx, "rate:1.2.3.4"))
	n, err = store.Increment(ctx, "rate:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.MarkSuspicious(ctx, "1.2.3.4", time.Hour))
	flagged, err := store.IsSuspicious(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, flagged)
	clock.Advance(time.Hour)
	flagged, err = store.IsSuspicious(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, flagged)
}
