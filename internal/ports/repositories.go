package ports

import (
	"context"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/google/uuid"
)

// RegisterSystemParams carries a freshly issued registration.
// An existing row with the same hardware/domain pair is updated instead of duplicated.
type RegisterSystemParams struct {
	HardwareID           string
	Domain               string
	IPAddress            string
	ClientNonceSalt      string
	ServerNonceSalt      string
	RequestCodeSalt      string
	HardwareIDSalt       string
	ActivationSalt       string
	APIKey               string
	APISecretSealed      string
	HMACSalt             string
	CredentialsExpiresAt time.Time
	RegisteredAt         time.Time
}

// SystemRepository persists client installations.
type SystemRepository interface {
	RegisterTx(ctx context.Context, params RegisterSystemParams, event EventFunc[domain.System]) (domain.System, error)
	GetByID(ctx context.Context, systemID uuid.UUID) (domain.System, error)
	GetByDomain(ctx context.Context, domainName string) (domain.System, error)
	GetByAPIKey(ctx context.Context, apiKey string) (domain.System, error)
	SetRequestCodeIssued(ctx context.Context, systemID uuid.UUID, at time.Time) error
	Heartbeat(ctx context.Context, systemID uuid.UUID, version string, at time.Time) error
}

// ActivateParams describes one atomic binding of a License to a System.
// The repository applies every write in a single transaction or none of them.
// When SystemID is nil the System is found by hardware id (preferring the same
// domain) or created from the remaining fields.
// A license whose end date precedes ActivatedAt is refused with
// domain.ErrLicenseExpired. When RequestCodeCreatedAt is set the System's
// stored request code must still carry that timestamp; the binding consumes
// it, and a mismatch fails with domain.ErrChallengeExpired.
type ActivateParams struct {
	LicenseID       uuid.UUID
	SystemID        *uuid.UUID
	ExpectedStatus  domain.LicenseStatus
	HardwareID      string
	Domain          string
	IPAddress       string
	CustomerID      string
	HardwareIDHash  string
	IPHash          string
	RequestCodeHash string
	ActivatedAt     time.Time

	RequestCodeCreatedAt *time.Time
}

type ActivationResult struct {
	License domain.License
	System  domain.System
	Record  domain.ActivationRecord
}

type CreateLicenseParams struct {
	CustomerID        string
	SystemID          *uuid.UUID
	LicenseKeyHash    string
	LicenseKeyDisplay string
	Salt              string
	Iterations        int
	LicenseType       string
	Features          []string
	ExpiresAt         *time.Time
	IssuedAt          time.Time
}

// LicenseRepository persists licenses and their activation history.
type LicenseRepository interface {
	CreateTx(ctx context.Context, params CreateLicenseParams, event EventFunc[domain.License]) (domain.License, error)
	GetByID(ctx context.Context, licenseID uuid.UUID) (domain.License, error)
	GetBySystemID(ctx context.Context, systemID uuid.UUID) (domain.License, error)
	ListByDisplay(ctx context.Context, display string, status domain.LicenseStatus) ([]domain.License, error)
	ActivateTx(ctx context.Context, params ActivateParams, event EventFunc[ActivationResult]) (ActivationResult, error)
	RevokeTx(ctx context.Context, licenseID uuid.UUID, revokedAt time.Time, event EventFunc[domain.License]) (domain.License, error)
	ListActivations(ctx context.Context, licenseID uuid.UUID) ([]domain.ActivationRecord, error)
}

// EventFunc builds the outbox row for a mutation from the rows written inside
// the same transaction, so events carry identifiers assigned by the store.
type EventFunc[T any] func(T) (OutboxEvent, error)

// OutboxEvent is the write-side event payload prior to storage.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	FirstSeenAt    time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository controls the publish-retry workflow for domain events.
type OutboxRepository interface {
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}
