package application

import (
	"time"

	"github.com/google/uuid"
)

type Config struct {
	ChallengeTTL       time.Duration
	CredentialTTL      time.Duration
	RequestCodeTTL     time.Duration
	SignatureSkew      time.Duration
	StatusTokenTTL     time.Duration
	RateLimitThreshold int
	RateLimitWindow    time.Duration
	FailureThreshold   int
	FailureWindow      time.Duration
	SuspiciousTTL      time.Duration
}

// DefaultConfig mirrors the values shipped in configs/default.yaml.
func DefaultConfig() Config {
	return Config{
		ChallengeTTL:       5 * time.Minute,
		CredentialTTL:      90 * 24 * time.Hour,
		RequestCodeTTL:     5 * time.Minute,
		SignatureSkew:      5 * time.Minute,
		StatusTokenTTL:     24 * time.Hour,
		RateLimitThreshold: 5,
		RateLimitWindow:    60 * time.Second,
		FailureThreshold:   3,
		FailureWindow:      time.Hour,
		SuspiciousTTL:      24 * time.Hour,
	}
}

type HandshakeNonceRequest struct {
	Domain      string `json:"domain" validate:"required,max=255"`
	IP          string `json:"ip" validate:"omitempty,ip"`
	HardwareID  string `json:"hardwareId" validate:"required,max=255"`
	ClientNonce string `json:"clientNonce" validate:"required,min=16,max=256"`

	// ClientAddr is the connection address set by the transport. The abuse
	// guard keys on it; the body ip is stored but never trusted.
	ClientAddr string `json:"-"`
}

type HandshakeNonceResponse struct {
	ServerNonce string `json:"serverNonce"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type HandshakeRequest struct {
	Domain      string `json:"domain" validate:"required,max=255"`
	IP          string `json:"ip" validate:"omitempty,ip"`
	RayID       string `json:"rayId,omitempty" validate:"omitempty,max=128"`
	HardwareID  string `json:"hardwareId" validate:"required,max=255"`
	ClientNonce string `json:"clientNonce" validate:"required,min=16,max=256"`
	ServerNonce string `json:"serverNonce" validate:"required,max=256"`
	Challenge   string `json:"challenge" validate:"required,hexadecimal,max=256"`
	ClientAddr  string `json:"-"`
}

// Segment locates one credential inside the handshake string.
type Segment struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

type HandshakeResponse struct {
	SystemID        uuid.UUID          `json:"systemId"`
	HandshakeString string             `json:"handshakeString"`
	HandshakeMap    map[string]Segment `json:"handshakeMap"`
	ExpiresIn       int64              `json:"expiresIn"`
}

type ActivationInitiateRequest struct {
	Domain string `json:"domain" validate:"required,max=255"`
	IP     string `json:"ip" validate:"omitempty,ip"`
	RayID  string `json:"rayId" validate:"required,min=8,max=128"`

	ClientAddr string `json:"-"`
}

type ActivationInitiateResponse struct {
	Status          string `json:"status"`
	HardwareIDSalt  string `json:"hardwareIdSalt"`
	ActivationSalt  string `json:"activationSalt"`
	ServerNonce     string `json:"serverNonce"`
	RequestCodeSalt string `json:"requestCodeSalt"`
	ExpiresIn       int64  `json:"expiresIn"`
}

type ActivationCompleteRequest struct {
	HardwareID  string `json:"hardwareId" validate:"required,max=255"`
	Domain      string `json:"domain" validate:"required,max=255"`
	ServerNonce string `json:"serverNonce" validate:"required,max=256"`
	RequestCode string `json:"requestCode" validate:"required,max=256"`
	RayID       string `json:"rayId" validate:"required,min=8,max=128"`
	LicenseKey  string `json:"licenseKey" validate:"required,max=64"`
	ClientAddr  string `json:"-"`
}

type ActivationResponse struct {
	Status            string     `json:"status"`
	SystemID          uuid.UUID  `json:"systemId"`
	LicenseKeyDisplay string     `json:"licenseKeyDisplay"`
	LicenseType       string     `json:"licenseType"`
	ActivationDate    time.Time  `json:"activationDate"`
	ExpiryDate        *time.Time `json:"expiryDate"`
	Features          []string   `json:"features"`
}

type StatusResponse struct {
	Status            string     `json:"status"`
	IsActive          bool       `json:"isActive"`
	LicenseKeyDisplay string     `json:"licenseKeyDisplay,omitempty"`
	LicenseType       string     `json:"licenseType,omitempty"`
	Features          []string   `json:"features"`
	ExpiresAt         *time.Time `json:"expiresAt"`
	ActivatedAt       *time.Time `json:"activatedAt"`
	Token             string     `json:"token,omitempty"`
}

// SignedRequest carries the parts of an HTTP request covered by the system
// request signature.
type SignedRequest struct {
	APIKey        string
	Timestamp     string
	Signature     string
	Method        string
	Path          string
	Body          []byte
	ClientVersion string
}

type RequestCodeRequest struct {
	HardwareID string `json:"hardwareId" validate:"required,max=255"`
}

type RequestCodeResponse struct {
	RequestCode string `json:"requestCode"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type ActivateLicenseRequest struct {
	LicenseKey  string `json:"licenseKey" validate:"required,max=64"`
	RequestCode string `json:"requestCode" validate:"required,hexadecimal,max=256"`
	HardwareID  string `json:"hardwareId" validate:"required,max=255"`
	ClientAddr  string `json:"-"`
}

type IssueLicenseRequest struct {
	CustomerID  string     `json:"customerId" validate:"required,max=128"`
	SystemID    *uuid.UUID `json:"systemId,omitempty"`
	LicenseType string     `json:"licenseType" validate:"required,oneof=trial standard professional enterprise"`
	Features    []string   `json:"features" validate:"dive,required,max=64"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type IssueLicenseResponse struct {
	LicenseID         uuid.UUID `json:"licenseId"`
	LicenseKey        string    `json:"licenseKey"`
	LicenseKeyDisplay string    `json:"licenseKeyDisplay"`
	Status            string    `json:"status"`
}
