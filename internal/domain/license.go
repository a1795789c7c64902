package domain

import (
	"time"

	"github.com/google/uuid"
)

type LicenseStatus string

const (
	LicenseStatusPending LicenseStatus = "pending"
	LicenseStatusActive  LicenseStatus = "active"
	LicenseStatusExpired LicenseStatus = "expired"
	LicenseStatusRevoked LicenseStatus = "revoked"

	// StatusUnlicensed is reported for a System without any License.
	StatusUnlicensed = "unlicensed"
)

// License is one sold entitlement. Credentials are kept only as PBKDF2 hashes
// over Salt with the stored Iterations.
type License struct {
	LicenseID  uuid.UUID
	CustomerID string
	SystemID   *uuid.UUID

	LicenseKeyHash    string
	HardwareIDHash    string
	RequestCodeHash   string
	IPHash            string
	Salt              string
	Iterations        int
	LicenseKeyDisplay string

	LicenseType     string
	Status          LicenseStatus
	Features        []string
	ExpiresAt       *time.Time
	ActivatedAt     *time.Time
	LastActivatedAt *time.Time
	ActivationCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PastExpiry reports whether the license end date lies before now.
// Perpetual licenses never expire.
func (l License) PastExpiry(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// ResolvedStatus is the read-time view of a License status.
type ResolvedStatus struct {
	Status   string
	IsActive bool
}

// ResolveStatus computes the reported status without touching the stored one.
// Expiry is evaluated lazily on every read; nothing rewrites an active license
// to expired in storage.
func ResolveStatus(l License, now time.Time) ResolvedStatus {
	if l.Status != LicenseStatusActive {
		return ResolvedStatus{Status: string(l.Status), IsActive: false}
	}
	if l.PastExpiry(now) {
		return ResolvedStatus{Status: string(LicenseStatusExpired), IsActive: false}
	}
	return ResolvedStatus{Status: string(LicenseStatusActive), IsActive: true}
}

type ActivationStatus string

const (
	ActivationStatusActive  ActivationStatus = "active"
	ActivationStatusRevoked ActivationStatus = "revoked"
)

// ActivationRecord is appended for every successful binding. At most one
// record per license is active at a time.
type ActivationRecord struct {
	ActivationID uuid.UUID
	LicenseID    uuid.UUID
	SystemID     uuid.UUID
	Status       ActivationStatus
	ActivatedAt  time.Time
	RevokedAt    *time.Time
}
