package postgres

import (
	"time"

	"github.com/google/uuid"
)

type systemModel struct {
	SystemID             uuid.UUID  `gorm:"column:system_id;type:uuid;primaryKey"`
	CustomerID           string     `gorm:"column:customer_id"`
	HardwareID           string     `gorm:"column:hardware_id;uniqueIndex:ux_systems_hardware_domain"`
	Domain               string     `gorm:"column:domain;uniqueIndex:ux_systems_hardware_domain"`
	IPAddress            string     `gorm:"column:ip_address"`
	ClientNonceSalt      string     `gorm:"column:client_nonce_salt"`
	ServerNonceSalt      string     `gorm:"column:server_nonce_salt"`
	RequestCodeSalt      string     `gorm:"column:request_code_salt"`
	HardwareIDSalt       string     `gorm:"column:hardware_id_salt"`
	ActivationSalt       string     `gorm:"column:activation_salt"`
	APIKey               *string    `gorm:"column:api_key;uniqueIndex:ux_systems_api_key"`
	APISecretSealed      string     `gorm:"column:api_secret_sealed"`
	HMACSalt             string     `gorm:"column:hmac_salt"`
	CredentialsExpiresAt *time.Time `gorm:"column:credentials_expires_at"`
	Status               string     `gorm:"column:status"`
	LicenseID            *uuid.UUID `gorm:"column:license_id;type:uuid"`
	ActivationStatus     string     `gorm:"column:activation_status"`
	ActivatedAt          *time.Time `gorm:"column:activated_at"`
	RequestCodeCreatedAt *time.Time `gorm:"column:request_code_created_at"`
	LastHeartbeatAt      *time.Time `gorm:"column:last_heartbeat_at"`
	CurrentVersion       string     `gorm:"column:current_version"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

func (systemModel) TableName() string { return "systems" }

type licenseModel struct {
	LicenseID         uuid.UUID  `gorm:"column:license_id;type:uuid;primaryKey"`
	CustomerID        string     `gorm:"column:customer_id"`
	SystemID          *uuid.UUID `gorm:"column:system_id;type:uuid;index"`
	LicenseKeyHash    string     `gorm:"column:license_key_hash;uniqueIndex"`
	HardwareIDHash    string     `gorm:"column:hardware_id_hash"`
	RequestCodeHash   string     `gorm:"column:request_code_hash"`
	IPHash            string     `gorm:"column:ip_hash"`
	Salt              string     `gorm:"column:salt"`
	Iterations        int        `gorm:"column:iterations"`
	LicenseKeyDisplay string     `gorm:"column:license_key_display;index:ix_licenses_display_status"`
	LicenseType       string     `gorm:"column:license_type"`
	Status            string     `gorm:"column:status;index:ix_licenses_display_status"`
	Features          string     `gorm:"column:features"`
	ExpiresAt         *time.Time `gorm:"column:expires_at"`
	ActivatedAt       *time.Time `gorm:"column:activated_at"`
	LastActivatedAt   *time.Time `gorm:"column:last_activated_at"`
	ActivationCount   int        `gorm:"column:activation_count"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (licenseModel) TableName() string { return "licenses" }

type activationRecordModel struct {
	ActivationID uuid.UUID  `gorm:"column:activation_id;type:uuid;primaryKey"`
	LicenseID    uuid.UUID  `gorm:"column:license_id;type:uuid;uniqueIndex:ux_activation_records_active,where:status = 'active'"`
	SystemID     uuid.UUID  `gorm:"column:system_id;type:uuid"`
	Status       string     `gorm:"column:status"`
	ActivatedAt  time.Time  `gorm:"column:activated_at"`
	RevokedAt    *time.Time `gorm:"column:revoked_at"`
}

func (activationRecordModel) TableName() string { return "activation_records" }

type outboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	FirstSeenAt    time.Time  `gorm:"column:first_seen_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "license_outbox" }
