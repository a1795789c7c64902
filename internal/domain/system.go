package domain

import (
	"time"

	"github.com/google/uuid"
)

type SystemStatus string

const (
	SystemStatusPending  SystemStatus = "pending"
	SystemStatusActive   SystemStatus = "active"
	SystemStatusInactive SystemStatus = "inactive"
)

// System is one registered client installation.
// Salts are generated server-side and never derived from client input.
type System struct {
	SystemID   uuid.UUID
	CustomerID string
	HardwareID string
	Domain     string
	IPAddress  string

	ClientNonceSalt string
	ServerNonceSalt string
	RequestCodeSalt string
	HardwareIDSalt  string
	ActivationSalt  string

	APIKey               string
	APISecretSealed      string
	HMACSalt             string
	CredentialsExpiresAt *time.Time

	Status               SystemStatus
	LicenseID            *uuid.UUID
	ActivationStatus     string
	ActivatedAt          *time.Time
	RequestCodeCreatedAt *time.Time
	LastHeartbeatAt      *time.Time
	CurrentVersion       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CredentialsExpired reports whether the API credentials issued at handshake are stale.
func (s System) CredentialsExpired(now time.Time) bool {
	return s.CredentialsExpiresAt != nil && now.After(*s.CredentialsExpiresAt)
}
