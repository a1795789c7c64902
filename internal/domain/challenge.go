package domain

import "time"

type ChallengeKind string

const (
	ChallengeKindHandshake  ChallengeKind = "handshake"
	ChallengeKindActivation ChallengeKind = "activation"
)

// Challenge is short-lived state binding the steps of one exchange together.
// It lives only in the ephemeral store and is single-use.
type Challenge struct {
	Kind        ChallengeKind `json:"kind"`
	Domain      string        `json:"domain"`
	IP          string        `json:"ip"`
	HardwareID  string        `json:"hardware_id,omitempty"`
	CustomerID  string        `json:"customer_id,omitempty"`
	SystemID    string        `json:"system_id,omitempty"`
	ClientNonce string        `json:"client_nonce,omitempty"`
	ServerNonce string        `json:"server_nonce"`

	ClientNonceSalt string `json:"client_nonce_salt,omitempty"`
	HardwareIDSalt  string `json:"hardware_id_salt,omitempty"`
	ActivationSalt  string `json:"activation_salt,omitempty"`
	RequestCodeSalt string `json:"request_code_salt,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired is checked in application code on every use; store eviction timing
// is not relied upon.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Remaining is the TTL left for re-storing the challenge after a failed attempt.
func (c Challenge) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}
