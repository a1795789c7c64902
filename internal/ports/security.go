package ports

import (
	"time"

	"github.com/google/uuid"
)

// SecretStore exposes the process-wide handshake secret and PBKDF2 work factor.
// Both are fixed for the lifetime of the process.
type SecretStore interface {
	ProcessSecret() string
	Iterations() int
}

// SecretSealer encrypts issued API secrets at rest. Open is needed to verify
// request signatures, so the secret cannot be stored as a one-way hash.
type SecretSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type StatusClaims struct {
	LicenseID   uuid.UUID `json:"license_id"`
	SystemID    uuid.UUID `json:"system_id"`
	Status      string    `json:"status"`
	LicenseType string    `json:"license_type"`
	Features    []string  `json:"features"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	KeyID       string    `json:"kid"`
}

type StatusTokenSigner interface {
	Sign(claims StatusClaims) (string, error)
	ParseAndValidate(token string) (StatusClaims, error)
	PublicJWKs() ([]map[string]any, error)
}
