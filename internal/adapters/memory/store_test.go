package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
)

func registerSystem(t *testing.T, store *Store, at time.Time) domain.System {
	t.Helper()
	sys, err := store.Systems().RegisterTx(context.Background(), ports.RegisterSystemParams{
		HardwareID:   "hw-1",
		Domain:       "example.com",
		APIKey:       "key-" + uuid.NewString(),
		RegisteredAt: at,
	}, nil)
	require.NoError(t, err)
	return sys
}

func createLicense(t *testing.T, store *Store, systemID *uuid.UUID, expiresAt *time.Time, at time.Time) domain.License {
	t.Helper()
	lic, err := store.Licenses().CreateTx(context.Background(), ports.CreateLicenseParams{
		CustomerID:        "customer-1",
		SystemID:          systemID,
		LicenseKeyHash:    "hash-" + uuid.NewString(),
		LicenseKeyDisplay: "ABCDEFGH...",
		Salt:              "salt",
		Iterations:        1000,
		LicenseType:       "standard",
		ExpiresAt:         expiresAt,
		IssuedAt:          at,
	}, nil)
	require.NoError(t, err)
	return lic
}

func TestActivateTxRequestCodeBindsOnce(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	sys := registerSystem(t, store, now)
	require.NoError(t, store.Systems().SetRequestCodeIssued(ctx, sys.SystemID, now))
	issuedAt := now

	for i, lic := range []domain.License{createLicense(t, store, nil, nil, now), createLicense(t, store, nil, nil, now)} {
		_, err := store.Licenses().ActivateTx(ctx, ports.ActivateParams{
			LicenseID:            lic.LicenseID,
			SystemID:             &sys.SystemID,
			ExpectedStatus:       domain.LicenseStatusPending,
			HardwareID:           "hw-1",
			ActivatedAt:          now,
			RequestCodeCreatedAt: &issuedAt,
		}, nil)
		if i == 0 {
			require.NoError(t, err)
			continue
		}
		assert.ErrorIs(t, err, domain.ErrChallengeExpired)
		stored, err := store.Licenses().GetByID(ctx, lic.LicenseID)
		require.NoError(t, err)
		assert.Equal(t, domain.LicenseStatusPending, stored.Status)
	}
}

func TestActivateTxRefusesLicensePastExpiry(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	sys := registerSystem(t, store, now)
	expires := now.Add(time.Hour)
	lic := createLicense(t, store, &sys.SystemID, &expires, now)

	_, err := store.Licenses().ActivateTx(ctx, ports.ActivateParams{
		LicenseID:      lic.LicenseID,
		SystemID:       &sys.SystemID,
		ExpectedStatus: domain.LicenseStatusActive,
		HardwareID:     "hw-1",
		ActivatedAt:    now.Add(2 * time.Hour),
	}, nil)
	assert.ErrorIs(t, err, domain.ErrLicenseExpired)

	records, err := store.Licenses().ListActivations(ctx, lic.LicenseID)
	require.NoError(t, err)
	assert.Empty(t, records)
}
