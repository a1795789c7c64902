package postgres

import (
	"context"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type systemRepository struct {
	db *gorm.DB
}

// RegisterTx upserts the System for (hardware_id, domain) and writes the
// outbox row in the same transaction.
func (r *systemRepository) RegisterTx(ctx context.Context, params ports.RegisterSystemParams, event ports.EventFunc[domain.System]) (domain.System, error) {
	var result domain.System
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		apiKey := params.APIKey
		expires := params.CredentialsExpiresAt
		var rec systemModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("hardware_id = ? AND domain = ?", params.HardwareID, params.Domain).
			Take(&rec).Error
		switch {
		case err == nil:
			if err := tx.Model(&systemModel{}).
				Where("system_id = ?", rec.SystemID).
				Updates(map[string]any{
					"ip_address":             params.IPAddress,
					"client_nonce_salt":      params.ClientNonceSalt,
					"server_nonce_salt":      params.ServerNonceSalt,
					"request_code_salt":      params.RequestCodeSalt,
					"hardware_id_salt":       params.HardwareIDSalt,
					"activation_salt":        params.ActivationSalt,
					"api_key":                apiKey,
					"api_secret_sealed":      params.APISecretSealed,
					"hmac_salt":              params.HMACSalt,
					"credentials_expires_at": expires,
					"updated_at":             params.RegisteredAt,
				}).Error; err != nil {
				return err
			}
			if err := tx.Where("system_id = ?", rec.SystemID).Take(&rec).Error; err != nil {
				return err
			}
		case isNotFound(err):
			rec = systemModel{
				SystemID:             uuid.New(),
				HardwareID:           params.HardwareID,
				Domain:               params.Domain,
				IPAddress:            params.IPAddress,
				ClientNonceSalt:      params.ClientNonceSalt,
				ServerNonceSalt:      params.ServerNonceSalt,
				RequestCodeSalt:      params.RequestCodeSalt,
				HardwareIDSalt:       params.HardwareIDSalt,
				ActivationSalt:       params.ActivationSalt,
				APIKey:               &apiKey,
				APISecretSealed:      params.APISecretSealed,
				HMACSalt:             params.HMACSalt,
				CredentialsExpiresAt: &expires,
				Status:               string(domain.SystemStatusPending),
				CreatedAt:            params.RegisteredAt,
				UpdatedAt:            params.RegisteredAt,
			}
			if err := tx.Create(&rec).Error; err != nil {
				if isUniqueViolation(err) {
					return domain.ErrConflict
				}
				return err
			}
		default:
			return err
		}

		result = toDomainSystem(rec)
		return writeOutbox(tx, event, result)
	})
	if err != nil {
		return domain.System{}, err
	}
	return result, nil
}

func (r *systemRepository) GetByID(ctx context.Context, systemID uuid.UUID) (domain.System, error) {
	return r.takeOne(ctx, r.db.WithContext(ctx).Where("system_id = ?", systemID))
}

func (r *systemRepository) GetByDomain(ctx context.Context, domainName string) (domain.System, error) {
	return r.takeOne(ctx, r.db.WithContext(ctx).Where("domain = ?", domainName).Order("updated_at DESC"))
}

func (r *systemRepository) GetByAPIKey(ctx context.Context, apiKey string) (domain.System, error) {
	if apiKey == "" {
		return domain.System{}, domain.ErrNotFound
	}
	return r.takeOne(ctx, r.db.WithContext(ctx).Where("api_key = ?", apiKey))
}

func (r *systemRepository) takeOne(_ context.Context, query *gorm.DB) (domain.System, error) {
	var rec systemModel
	if err := query.Take(&rec).Error; err != nil {
		if isNotFound(err) {
			return domain.System{}, domain.ErrNotFound
		}
		return domain.System{}, err
	}
	return toDomainSystem(rec), nil
}

func (r *systemRepository) SetRequestCodeIssued(ctx context.Context, systemID uuid.UUID, at time.Time) error {
	return r.update(ctx, systemID, map[string]any{
		"request_code_created_at": at,
		"updated_at":              at,
	})
}

func (r *systemRepository) Heartbeat(ctx context.Context, systemID uuid.UUID, version string, at time.Time) error {
	updates := map[string]any{"last_heartbeat_at": at}
	if version != "" {
		updates["current_version"] = version
	}
	return r.update(ctx, systemID, updates)
}

func (r *systemRepository) update(ctx context.Context, systemID uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&systemModel{}).Where("system_id = ?", systemID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func writeOutbox[T any](tx *gorm.DB, build ports.EventFunc[T], row T) error {
	if build == nil {
		return nil
	}
	event, err := build(row)
	if err != nil {
		return err
	}
	outbox := newOutboxRow(event)
	return tx.Create(&outbox).Error
}
