package application

import (
	"encoding/json"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"github.com/google/uuid"
)

const (
	// eventTypeSystemRegistered is emitted when a handshake issues credentials.
	eventTypeSystemRegistered = "system.registered"
	// eventTypeLicenseIssued is emitted when a license key is generated.
	eventTypeLicenseIssued = "license.issued"
	// eventTypeLicenseActivated is emitted when a license is bound to a system.
	eventTypeLicenseActivated = "license.activated"
	eventTypeLicenseRevoked   = "license.revoked"
)

func newEvent(eventType, partitionKey string, occurredAt time.Time, payload map[string]any) (ports.OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ports.OutboxEvent{}, err
	}
	return ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      raw,
		OccurredAt:   occurredAt,
	}, nil
}

func systemRegisteredEvent(at time.Time) ports.EventFunc[domain.System] {
	return func(system domain.System) (ports.OutboxEvent, error) {
		return newEvent(eventTypeSystemRegistered, system.SystemID.String(), at, map[string]any{
			"system_id":     system.SystemID,
			"domain":        system.Domain,
			"registered_at": at,
		})
	}
}

func licenseIssuedEvent(at time.Time) ports.EventFunc[domain.License] {
	return func(license domain.License) (ports.OutboxEvent, error) {
		return newEvent(eventTypeLicenseIssued, license.LicenseID.String(), at, map[string]any{
			"license_id":   license.LicenseID,
			"customer_id":  license.CustomerID,
			"license_type": license.LicenseType,
			"status":       license.Status,
			"issued_at":    at,
		})
	}
}

func licenseActivatedEvent(at time.Time, flow string) ports.EventFunc[ports.ActivationResult] {
	return func(result ports.ActivationResult) (ports.OutboxEvent, error) {
		return newEvent(eventTypeLicenseActivated, result.License.LicenseID.String(), at, map[string]any{
			"license_id":       result.License.LicenseID,
			"system_id":        result.System.SystemID,
			"activation_id":    result.Record.ActivationID,
			"activation_count": result.License.ActivationCount,
			"flow":             flow,
			"activated_at":     at,
		})
	}
}

func licenseRevokedEvent(at time.Time) ports.EventFunc[domain.License] {
	return func(license domain.License) (ports.OutboxEvent, error) {
		return newEvent(eventTypeLicenseRevoked, license.LicenseID.String(), at, map[string]any{
			"license_id": license.LicenseID,
			"revoked_at": at,
		})
	}
}
