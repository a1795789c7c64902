package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func testEvent[T any](eventType string) ports.EventFunc[T] {
	return func(T) (ports.OutboxEvent, error) {
		return ports.OutboxEvent{
			EventID:      uuid.New(),
			EventType:    eventType,
			PartitionKey: "test",
			Payload:      []byte(`{"ok":true}`),
			OccurredAt:   time.Now().UTC(),
		}, nil
	}
}

func registerParams(hardwareID, domainName, apiKey string, at time.Time) ports.RegisterSystemParams {
	return ports.RegisterSystemParams{
		HardwareID:           hardwareID,
		Domain:               domainName,
		IPAddress:            "203.0.113.9",
		ClientNonceSalt:      "cns",
		ServerNonceSalt:      "sns",
		RequestCodeSalt:      "rcs",
		HardwareIDSalt:       "hws",
		ActivationSalt:       "acs",
		APIKey:               apiKey,
		APISecretSealed:      "sealed-" + apiKey,
		HMACSalt:             "hmac-" + apiKey,
		CredentialsExpiresAt: at.Add(24 * time.Hour),
		RegisteredAt:         at,
	}
}

func createLicense(t *testing.T, repos Repositories, systemID *uuid.UUID, display string) domain.License {
	t.Helper()
	lic, err := repos.Licenses.CreateTx(context.Background(), ports.CreateLicenseParams{
		CustomerID:        "customer-1",
		SystemID:          systemID,
		LicenseKeyHash:    "hash-" + uuid.NewString(),
		LicenseKeyDisplay: display,
		Salt:              "salt",
		Iterations:        1000,
		LicenseType:       "standard",
		Features:          []string{"inventory"},
		IssuedAt:          time.Now().UTC(),
	}, testEvent[domain.License]("license.issued"))
	require.NoError(t, err)
	return lic
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestRegisterTxUpsertsByHardwareAndDomain(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := repos.Systems.RegisterTx(ctx, registerParams("hw-1", "example.com", "key-1", now), testEvent[domain.System]("system.registered"))
	require.NoError(t, err)
	assert.Equal(t, domain.SystemStatusPending, first.Status)

	second, err := repos.Systems.RegisterTx(ctx, registerParams("hw-1", "example.com", "key-2", now.Add(time.Minute)), testEvent[domain.System]("system.registered"))
	require.NoError(t, err)
	assert.Equal(t, first.SystemID, second.SystemID)
	assert.Equal(t, "key-2", second.APIKey)

	other, err := repos.Systems.RegisterTx(ctx, registerParams("hw-1", "other.example", "key-3", now), testEvent[domain.System]("system.registered"))
	require.NoError(t, err)
	assert.NotEqual(t, first.SystemID, other.SystemID)

	assert.EqualValues(t, 2, countRows(t, db, &systemModel{}))
	assert.EqualValues(t, 3, countRows(t, db, &outboxModel{}))

	byKey, err := repos.Systems.GetByAPIKey(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, first.SystemID, byKey.SystemID)
	_, err = repos.Systems.GetByAPIKey(ctx, "key-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	byDomain, err := repos.Systems.GetByDomain(ctx, "other.example")
	require.NoError(t, err)
	assert.Equal(t, other.SystemID, byDomain.SystemID)
}

func TestRegisterTxRollsBackWhenEventFails(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)

	failing := func(domain.System) (ports.OutboxEvent, error) { return ports.OutboxEvent{}, errors.New("encode failed") }
	_, err := repos.Systems.RegisterTx(context.Background(), registerParams("hw-1", "example.com", "key-1", time.Now().UTC()), failing)
	require.Error(t, err)
	assert.Zero(t, countRows(t, db, &systemModel{}))
}

func TestHeartbeatAndRequestCodeTimestamp(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	sys, err := repos.Systems.RegisterTx(ctx, registerParams("hw-1", "example.com", "key-1", now), nil)
	require.NoError(t, err)

	require.NoError(t, repos.Systems.Heartbeat(ctx, sys.SystemID, "3.1.0", now))
	require.NoError(t, repos.Systems.SetRequestCodeIssued(ctx, sys.SystemID, now))
	assert.ErrorIs(t, repos.Systems.Heartbeat(ctx, uuid.New(), "", now), domain.ErrNotFound)

	got, err := repos.Systems.GetByID(ctx, sys.SystemID)
	require.NoError(t, err)
	assert.Equal(t, "3.1.0", got.CurrentVersion)
	require.NotNil(t, got.LastHeartbeatAt)
	require.NotNil(t, got.RequestCodeCreatedAt)
	assert.True(t, got.RequestCodeCreatedAt.Equal(now))
}

func TestCreateTxStatusFollowsSystemBinding(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	sys, err := repos.Systems.RegisterTx(ctx, registerParams("hw-1", "example.com", "key-1", time.Now().UTC()), nil)
	require.NoError(t, err)

	pending := createLicense(t, repos, nil, "ABCDEFGH...")
	assert.Equal(t, domain.LicenseStatusPending, pending.Status)
	bound := createLicense(t, repos, &sys.SystemID, "JKLMNPQR...")
	assert.Equal(t, domain.LicenseStatusActive, bound.Status)
	assert.Equal(t, []string{"inventory"}, bound.Features)

	missing := uuid.New()
	_, err = repos.Licenses.CreateTx(ctx, ports.CreateLicenseParams{CustomerID: "c", SystemID: &missing, LicenseKeyHash: "h", Salt: "s"}, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	listed, err := repos.Licenses.ListByDisplay(ctx, "ABCDEFGH...", domain.LicenseStatusPending)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, pending.LicenseID, listed[0].LicenseID)

	listed, err = repos.Licenses.ListByDisplay(ctx, "ABCDEFGH...", domain.LicenseStatusActive)
	require.NoError(t, err)
	assert.Empty(t, listed)

	bySystem, err := repos.Licenses.GetBySystemID(ctx, sys.SystemID)
	require.NoError(t, err)
	assert.Equal(t, bound.LicenseID, bySystem.LicenseID)
}

func TestActivateTxBindsLicenseToSystem(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	sys, err := repos.Systems.RegisterTx(ctx, registerParams("hw-1", "example.com", "key-1", now), nil)
	require.NoError(t, err)
	require.NoError(t, repos.Systems.SetRequestCodeIssued(ctx, sys.SystemID, now))
	lic := createLicense(t, repos, nil, "ABCDEFGH...")

	result, err := repos.Licenses.ActivateTx(ctx, ports.ActivateParams{
		LicenseID:       lic.LicenseID,
		SystemID:        &sys.SystemID,
		ExpectedStatus:  domain.LicenseStatusPending,
		HardwareID:      "hw-1",
		Domain:          "example.com",
		HardwareIDHash:  "hw-hash",
		IPHash:          "ip-hash",
		RequestCodeHash: "rc-hash",
		ActivatedAt:     now,
	}, testEvent[ports.ActivationResult]("license.activated"))
	require.NoError(t, err)

	assert.Equal(t, domain.LicenseStatusActive, result.License.Status)
	assert.Equal(t, 1, result.License.ActivationCount)
	require.NotNil(t, result.License.SystemID)
	assert.Equal(t, sys.SystemID, *result.License.SystemID)
	assert.Equal(t, "rc-hash", result.License.RequestCodeHash)
	require.NotNil(t, result.System.LicenseID)
	assert.Equal(t, lic.LicenseID, *result.System.LicenseID)
	assert.Equal(t, domain.SystemStatusActive, result.System.Status)
	assert.Nil(t, result.System.RequestCodeCreatedAt)
	assert.Equal(t, "customer-1", result.System.CustomerID)

	records, err := repos.Licenses.ListActivations(ctx, lic.LicenseID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ActivationStatusActive, records[0].Status)

	_, err = repos.Licenses.ActivateTx(ctx, ports.ActivateParams{
		LicenseID:      lic.LicenseID,
		SystemID:       &sys.SystemID,
		ExpectedStatus: domain.LicenseStatusActive,
		HardwareID:     "hw-1",
		ActivatedAt:    now,
	}, nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyActivated)
}

func TestActivateTxCreatesSystemForUnknownHardware(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	now := time.Now().UTC()

	owner, err := repos.Systems.RegisterTx(ctx, registerParams("hw-1", "example.com", "key-1", now), nil)
	require.NoError(t, err)
	lic := createLicense(t, repos, &owner.SystemID, "ABCDEFGH...")

	result, err := repos.Licenses.ActivateTx(ctx, ports.ActivateParams{
		LicenseID:      lic.LicenseID,
		ExpectedStatus: domain.LicenseStatusActive,
		HardwareID:     "hw-new",
		Domain:         "new.example",
		CustomerID:     "customer-9",
		ActivatedAt:    now,
	}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, owner.SystemID, result.System.SystemID)
	assert.Equal(t, "hw-new", result.System.HardwareID)
	assert.Equal(t, "customer-9", result.System.CustomerID)
	assert.EqualValues(t, 2, countRows(t, db, &systemModel{}))

	_, err = repos.Licenses.ActivateTx(ctx, ports.ActivateParams{LicenseID: uuid.New(), ActivatedAt: now}, nil)
	assert.ErrorIs(t, err, domain.ErrLicenseNotFound)
}

func TestActivateTxExpectedStatusMismatch(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	lic := createLicense(t, repos, nil, "ABCDEFGH...")
	_, err := repos.Licenses.ActivateTx(ctx, ports.ActivateParams{
		LicenseID:      lic.LicenseID,
		ExpectedStatus: domain.LicenseStatusActive,
		HardwareID:     "hw-1",
		ActivatedAt:    time.Now().UTC(),
	}, nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Zero(t, countRows(t, db, &systemModel{}))
}

func TestActivateTxRollsBackWhenLicenseUpdateFails(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	now := time.Now().UTC()

	sys, err := repos.Systems.RegisterTx(ctx, registerParams("hw-1", "example.com", "key-1", now), nil)
	require.NoError(t, err)
	lic := createLicense(t, repos, nil, "ABCDEFGH...")
	outboxBefore := countRows(t, db, &outboxModel{})

	errInjected := errors.New("injected license update failure")
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_license_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "licenses" {
			_ = tx.AddError(errInjected)
		}
	}))

	_, err = repos.Licenses.ActivateTx(ctx, ports.ActivateParams{
		LicenseID:      lic.LicenseID,
		SystemID:       &sys.SystemID,
		ExpectedStatus: domain.LicenseStatusPending,
		HardwareID:     "hw-1",
		Domain:         "example.com",
		ActivatedAt:    now,
	}, testEvent[ports.ActivationResult]("license.activated"))
	require.ErrorIs(t, err, errInjected)

	assert.Zero(t, countRows(t, db, &activationRecordModel{}))
	assert.Equal(t, outboxBefore, countRows(t, db, &outboxModel{}))

	storedLicense, err := repos.Licenses.GetByID(ctx, lic.LicenseID)
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseStatusPending, storedLicense.Status)
	assert.Zero(t, storedLicense.ActivationCount)
	assert.Nil(t, storedLicense.SystemID)

	storedSystem, err := repos.Systems.GetByID(ctx, sys.SystemID)
	require.NoError(t, err)
	assert.Nil(t, storedSystem.LicenseID)
	assert.Equal(t, domain.SystemStatusPending, storedSystem.Status)
	assert.Empty(t, storedSystem.ActivationStatus)
}

func TestRevokeTxRevokesActiveRecords(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	now := time.Now().UTC()

	sys, err := repos.Systems.RegisterTx(ctx, registerParams("hw-1", "example.com", "key-1", now), nil)
	require.NoError(t, err)
	lic := createLicense(t, repos, nil, "ABCDEFGH...")
	_, err = repos.Licenses.ActivateTx(ctx, ports.ActivateParams{
		LicenseID:      lic.LicenseID,
		SystemID:       &sys.SystemID,
		ExpectedStatus: domain.LicenseStatusPending,
		HardwareID:     "hw-1",
		ActivatedAt:    now,
	}, nil)
	require.NoError(t, err)

	revoked, err := repos.Licenses.RevokeTx(ctx, lic.LicenseID, now.Add(time.Hour), testEvent[domain.License]("license.revoked"))
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseStatusRevoked, revoked.Status)

	records, err := repos.Licenses.ListActivations(ctx, lic.LicenseID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ActivationStatusRevoked, records[0].Status)
	assert.NotNil(t, records[0].RevokedAt)

	_, err = repos.Licenses.RevokeTx(ctx, lic.LicenseID, now, nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = repos.Licenses.RevokeTx(ctx, uuid.New(), now, nil)
	assert.ErrorIs(t, err, domain.ErrLicenseNotFound)
}

func TestOutboxClaimPublishAndRetry(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	createLicense(t, repos, nil, "ABCDEFGH...")
	createLicense(t, repos, nil, "JKLMNPQR...")

	claimUntil := time.Now().UTC().Add(time.Minute)
	claimed, err := repos.Outbox.ClaimUnpublished(ctx, 10, "token-1", claimUntil)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "license.issued", claimed[0].EventType)
	assert.JSONEq(t, `{"ok":true}`, string(claimed[0].Payload))

	again, err := repos.Outbox.ClaimUnpublished(ctx, 10, "token-2", claimUntil)
	require.NoError(t, err)
	assert.Empty(t, again)

	now := time.Now().UTC()
	require.NoError(t, repos.Outbox.MarkPublished(ctx, claimed[0].OutboxID, "token-1", now))
	require.NoError(t, repos.Outbox.MarkFailed(ctx, claimed[1].OutboxID, "token-1", "broker down", now))
	// The claim is released, so a second mark loses.
	assert.ErrorIs(t, repos.Outbox.MarkPublished(ctx, claimed[0].OutboxID, "token-1", now), domain.ErrConflict)

	retry, err := repos.Outbox.ClaimUnpublished(ctx, 10, "token-3", claimUntil)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, claimed[1].OutboxID, retry[0].OutboxID)
	assert.Equal(t, 1, retry[0].RetryCount)
	require.NotNil(t, retry[0].LastError)
	assert.Equal(t, "broker down", *retry[0].LastError)

	require.NoError(t, repos.Outbox.MarkDeadLettered(ctx, retry[0].OutboxID, "token-3", "gave up", now))
	empty, err := repos.Outbox.ClaimUnpublished(ctx, 10, "token-4", claimUntil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSplitStatementsSkipsComments(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (id INT);\n\n-- next\nCREATE INDEX i ON a (id);\n")
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE INDEX i ON a (id)"}, stmts)
}

func TestMigrationsAreEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_init.sql", names[0])

	raw, err := migrationFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	stmts := splitStatements(string(raw))
	assert.NotEmpty(t, stmts)
	for _, stmt := range stmts {
		assert.NotContains(t, stmt, ";")
	}
}

func TestActivateTxConsumesRequestCodeOnce(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	sys, err := repos.Systems.RegisterTx(ctx, registerParams("hw-1", "example.com", "key-1", now), nil)
	require.NoError(t, err)
	require.NoError(t, repos.Systems.SetRequestCodeIssued(ctx, sys.SystemID, now))
	snapshot, err := repos.Systems.GetByID(ctx, sys.SystemID)
	require.NoError(t, err)
	require.NotNil(t, snapshot.RequestCodeCreatedAt)

	first := createLicense(t, repos, nil, "ABCDEFGH...")
	second := createLicense(t, repos, nil, "JKLMNPQR...")
	params := func(licenseID uuid.UUID) ports.ActivateParams {
		return ports.ActivateParams{
			LicenseID:            licenseID,
			SystemID:             &sys.SystemID,
			ExpectedStatus:       domain.LicenseStatusPending,
			HardwareID:           "hw-1",
			Domain:               "example.com",
			ActivatedAt:          now,
			RequestCodeCreatedAt: snapshot.RequestCodeCreatedAt,
		}
	}

	_, err = repos.Licenses.ActivateTx(ctx, params(first.LicenseID), nil)
	require.NoError(t, err)
	_, err = repos.Licenses.ActivateTx(ctx, params(second.LicenseID), nil)
	assert.ErrorIs(t, err, domain.ErrChallengeExpired)

	stale, err := repos.Licenses.GetByID(ctx, second.LicenseID)
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseStatusPending, stale.Status)
	records, err := repos.Licenses.ListActivations(ctx, second.LicenseID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestActivateTxRefusesExpiredLicense(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	sys, err := repos.Systems.RegisterTx(ctx, registerParams("hw-1", "example.com", "key-1", now), nil)
	require.NoError(t, err)
	expired := now.Add(-time.Hour)
	lic, err := repos.Licenses.CreateTx(ctx, ports.CreateLicenseParams{
		CustomerID:        "customer-1",
		SystemID:          &sys.SystemID,
		LicenseKeyHash:    "hash-expired",
		LicenseKeyDisplay: "ABCDEFGH...",
		Salt:              "salt",
		Iterations:        1000,
		LicenseType:       "trial",
		ExpiresAt:         &expired,
		IssuedAt:          now.Add(-2 * time.Hour),
	}, nil)
	require.NoError(t, err)

	_, err = repos.Licenses.ActivateTx(ctx, ports.ActivateParams{
		LicenseID:      lic.LicenseID,
		SystemID:       &sys.SystemID,
		ExpectedStatus: domain.LicenseStatusActive,
		HardwareID:     "hw-1",
		ActivatedAt:    now,
	}, nil)
	assert.ErrorIs(t, err, domain.ErrLicenseExpired)
	assert.Zero(t, countRows(t, db, &activationRecordModel{}))
}

func TestCorruptFeaturesColumnIsReported(t *testing.T) {
	db := newTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	lic := createLicense(t, repos, nil, "ABCDEFGH...")
	require.NoError(t, db.Model(&licenseModel{}).Where("license_id = ?", lic.LicenseID).Update("features", "{not json").Error)

	_, err := repos.Licenses.GetByID(ctx, lic.LicenseID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode features")

	_, err = repos.Licenses.ListByDisplay(ctx, "ABCDEFGH...", domain.LicenseStatusPending)
	assert.Error(t, err)
}
