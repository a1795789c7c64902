package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"gorm.io/gorm"
)

func toDomainSystem(row systemModel) domain.System {
	apiKey := ""
	if row.APIKey != nil {
		apiKey = *row.APIKey
	}
	return domain.System{
		SystemID:             row.SystemID,
		CustomerID:           row.CustomerID,
		HardwareID:           row.HardwareID,
		Domain:               row.Domain,
		IPAddress:            row.IPAddress,
		ClientNonceSalt:      row.ClientNonceSalt,
		ServerNonceSalt:      row.ServerNonceSalt,
		RequestCodeSalt:      row.RequestCodeSalt,
		HardwareIDSalt:       row.HardwareIDSalt,
		ActivationSalt:       row.ActivationSalt,
		APIKey:               apiKey,
		APISecretSealed:      row.APISecretSealed,
		HMACSalt:             row.HMACSalt,
		CredentialsExpiresAt: utcPtr(row.CredentialsExpiresAt),
		Status:               domain.SystemStatus(row.Status),
		LicenseID:            row.LicenseID,
		ActivationStatus:     row.ActivationStatus,
		ActivatedAt:          utcPtr(row.ActivatedAt),
		RequestCodeCreatedAt: utcPtr(row.RequestCodeCreatedAt),
		LastHeartbeatAt:      utcPtr(row.LastHeartbeatAt),
		CurrentVersion:       row.CurrentVersion,
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}
}

func toDomainLicense(row licenseModel) (domain.License, error) {
	features := []string{}
	if row.Features != "" {
		if err := json.Unmarshal([]byte(row.Features), &features); err != nil {
			return domain.License{}, fmt.Errorf("decode features of license %s: %w", row.LicenseID, err)
		}
	}
	return domain.License{
		LicenseID:         row.LicenseID,
		CustomerID:        row.CustomerID,
		SystemID:          row.SystemID,
		LicenseKeyHash:    row.LicenseKeyHash,
		HardwareIDHash:    row.HardwareIDHash,
		RequestCodeHash:   row.RequestCodeHash,
		IPHash:            row.IPHash,
		Salt:              row.Salt,
		Iterations:        row.Iterations,
		LicenseKeyDisplay: row.LicenseKeyDisplay,
		LicenseType:       row.LicenseType,
		Status:            domain.LicenseStatus(row.Status),
		Features:          features,
		ExpiresAt:         utcPtr(row.ExpiresAt),
		ActivatedAt:       utcPtr(row.ActivatedAt),
		LastActivatedAt:   utcPtr(row.LastActivatedAt),
		ActivationCount:   row.ActivationCount,
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
	}, nil
}

func toDomainActivation(row activationRecordModel) domain.ActivationRecord {
	return domain.ActivationRecord{
		ActivationID: row.ActivationID,
		LicenseID:    row.LicenseID,
		SystemID:     row.SystemID,
		Status:       domain.ActivationStatus(row.Status),
		ActivatedAt:  row.ActivatedAt.UTC(),
		RevokedAt:    utcPtr(row.RevokedAt),
	}
}

func toOutboxRecord(row outboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:       row.OutboxID,
		EventType:      row.EventType,
		PartitionKey:   row.PartitionKey,
		Payload:        []byte(row.Payload),
		RetryCount:     row.RetryCount,
		LastError:      row.LastError,
		CreatedAt:      row.CreatedAt,
		PublishedAt:    row.PublishedAt,
		LastErrorAt:    row.LastErrorAt,
		FirstSeenAt:    row.FirstSeenAt,
		ClaimToken:     row.ClaimToken,
		ClaimUntil:     row.ClaimUntil,
		DeadLetteredAt: row.DeadLetteredAt,
	}
}

func encodeFeatures(features []string) (string, error) {
	if features == nil {
		features = []string{}
	}
	raw, err := json.Marshal(features)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func newOutboxRow(event ports.OutboxEvent) outboxModel {
	payload := string(event.Payload)
	if payload == "" {
		payload = "{}"
	}
	return outboxModel{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      payload,
		CreatedAt:    event.OccurredAt,
		FirstSeenAt:  event.OccurredAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
