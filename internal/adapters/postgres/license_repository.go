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

type licenseRepository struct {
	db *gorm.DB
}

func (r *licenseRepository) CreateTx(ctx context.Context, params ports.CreateLicenseParams, event ports.EventFunc[domain.License]) (domain.License, error) {
	features, err := encodeFeatures(params.Features)
	if err != nil {
		return domain.License{}, err
	}
	var result domain.License
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		status := domain.LicenseStatusPending
		if params.SystemID != nil {
			var sys systemModel
			if err := tx.Select("system_id").Where("system_id = ?", *params.SystemID).Take(&sys).Error; err != nil {
				if isNotFound(err) {
					return domain.ErrNotFound
				}
				return err
			}
			status = domain.LicenseStatusActive
		}
		rec := licenseModel{
			LicenseID:         uuid.New(),
			CustomerID:        params.CustomerID,
			SystemID:          params.SystemID,
			LicenseKeyHash:    params.LicenseKeyHash,
			LicenseKeyDisplay: params.LicenseKeyDisplay,
			Salt:              params.Salt,
			Iterations:        params.Iterations,
			LicenseType:       params.LicenseType,
			Status:            string(status),
			Features:          features,
			ExpiresAt:         params.ExpiresAt,
			CreatedAt:         params.IssuedAt,
			UpdatedAt:         params.IssuedAt,
		}
		if err := tx.Create(&rec).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}
		var err error
		if result, err = toDomainLicense(rec); err != nil {
			return err
		}
		return writeOutbox(tx, event, result)
	})
	if err != nil {
		return domain.License{}, err
	}
	return result, nil
}

func (r *licenseRepository) GetByID(ctx context.Context, licenseID uuid.UUID) (domain.License, error) {
	var rec licenseModel
	if err := r.db.WithContext(ctx).Where("license_id = ?", licenseID).Take(&rec).Error; err != nil {
		if isNotFound(err) {
			return domain.License{}, domain.ErrNotFound
		}
		return domain.License{}, err
	}
	return toDomainLicense(rec)
}

func (r *licenseRepository) GetBySystemID(ctx context.Context, systemID uuid.UUID) (domain.License, error) {
	var rec licenseModel
	if err := r.db.WithContext(ctx).
		Where("system_id = ?", systemID).
		Order("updated_at DESC").
		Take(&rec).Error; err != nil {
		if isNotFound(err) {
			return domain.License{}, domain.ErrNotFound
		}
		return domain.License{}, err
	}
	return toDomainLicense(rec)
}

func (r *licenseRepository) ListByDisplay(ctx context.Context, display string, status domain.LicenseStatus) ([]domain.License, error) {
	var rows []licenseModel
	if err := r.db.WithContext(ctx).
		Where("license_key_display = ? AND status = ?", display, string(status)).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.License, 0, len(rows))
	for _, row := range rows {
		license, err := toDomainLicense(row)
		if err != nil {
			return nil, err
		}
		out = append(out, license)
	}
	return out, nil
}

// ActivateTx writes the activation record, the System binding and the License
// update in one transaction. The license row is locked first so concurrent
// activations of the same license serialize on it.
func (r *licenseRepository) ActivateTx(ctx context.Context, params ports.ActivateParams, event ports.EventFunc[ports.ActivationResult]) (ports.ActivationResult, error) {
	var result ports.ActivationResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lic licenseModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("license_id = ?", params.LicenseID).
			Take(&lic).Error; err != nil {
			if isNotFound(err) {
				return domain.ErrLicenseNotFound
			}
			return err
		}

		var activeCount int64
		if err := tx.Model(&activationRecordModel{}).
			Where("license_id = ? AND status = ?", lic.LicenseID, string(domain.ActivationStatusActive)).
			Count(&activeCount).Error; err != nil {
			return err
		}
		if activeCount > 0 {
			return domain.ErrAlreadyActivated
		}
		if lic.Status != string(params.ExpectedStatus) {
			return domain.ErrConflict
		}
		if lic.ExpiresAt != nil && lic.ExpiresAt.Before(params.ActivatedAt) {
			return domain.ErrLicenseExpired
		}

		sys, err := resolveSystem(tx, params)
		if err != nil {
			return err
		}

		at := params.ActivatedAt
		record := activationRecordModel{
			ActivationID: uuid.New(),
			LicenseID:    lic.LicenseID,
			SystemID:     sys.SystemID,
			Status:       string(domain.ActivationStatusActive),
			ActivatedAt:  at,
		}
		if err := tx.Create(&record).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyActivated
			}
			return err
		}

		customerID := sys.CustomerID
		if customerID == "" {
			customerID = lic.CustomerID
		}
		sysUpdate := tx.Model(&systemModel{}).Where("system_id = ?", sys.SystemID)
		if params.RequestCodeCreatedAt != nil {
			// Consumes the request code: a second binding holding the same
			// snapshot matches no row once the first one commits.
			sysUpdate = sysUpdate.Where("request_code_created_at = ?", *params.RequestCodeCreatedAt)
		}
		updated := sysUpdate.Updates(map[string]any{
			"license_id":              lic.LicenseID,
			"customer_id":             customerID,
			"status":                  string(domain.SystemStatusActive),
			"activation_status":       string(domain.ActivationStatusActive),
			"activated_at":            at,
			"request_code_created_at": nil,
			"updated_at":              at,
		})
		if updated.Error != nil {
			return updated.Error
		}
		if params.RequestCodeCreatedAt != nil && updated.RowsAffected == 0 {
			return domain.ErrChallengeExpired
		}

		licUpdates := map[string]any{
			"system_id":         sys.SystemID,
			"status":            string(domain.LicenseStatusActive),
			"activation_count":  gorm.Expr("activation_count + 1"),
			"activated_at":      at,
			"last_activated_at": at,
			"hardware_id_hash":  params.HardwareIDHash,
			"ip_hash":           params.IPHash,
			"updated_at":        at,
		}
		if params.RequestCodeHash != "" {
			licUpdates["request_code_hash"] = params.RequestCodeHash
		}
		if err := tx.Model(&licenseModel{}).
			Where("license_id = ?", lic.LicenseID).
			Updates(licUpdates).Error; err != nil {
			return err
		}

		if err := tx.Where("license_id = ?", lic.LicenseID).Take(&lic).Error; err != nil {
			return err
		}
		if err := tx.Where("system_id = ?", sys.SystemID).Take(&sys).Error; err != nil {
			return err
		}
		license, err := toDomainLicense(lic)
		if err != nil {
			return err
		}
		result = ports.ActivationResult{
			License: license,
			System:  toDomainSystem(sys),
			Record:  toDomainActivation(record),
		}
		return writeOutbox(tx, event, result)
	})
	if err != nil {
		return ports.ActivationResult{}, err
	}
	return result, nil
}

// resolveSystem finds the System to bind, creating it from params when no
// installation with that hardware id exists yet.
func resolveSystem(tx *gorm.DB, params ports.ActivateParams) (systemModel, error) {
	var sys systemModel
	if params.SystemID != nil {
		if err := tx.Where("system_id = ?", *params.SystemID).Take(&sys).Error; err != nil {
			if isNotFound(err) {
				return systemModel{}, domain.ErrNotFound
			}
			return systemModel{}, err
		}
		return sys, nil
	}

	err := tx.Where("hardware_id = ? AND domain = ?", params.HardwareID, params.Domain).Take(&sys).Error
	if err == nil {
		return sys, nil
	}
	if !isNotFound(err) {
		return systemModel{}, err
	}
	err = tx.Where("hardware_id = ?", params.HardwareID).Order("updated_at DESC").Take(&sys).Error
	if err == nil {
		return sys, nil
	}
	if !isNotFound(err) {
		return systemModel{}, err
	}

	sys = systemModel{
		SystemID:   uuid.New(),
		CustomerID: params.CustomerID,
		HardwareID: params.HardwareID,
		Domain:     params.Domain,
		IPAddress:  params.IPAddress,
		Status:     string(domain.SystemStatusPending),
		CreatedAt:  params.ActivatedAt,
		UpdatedAt:  params.ActivatedAt,
	}
	if err := tx.Create(&sys).Error; err != nil {
		return systemModel{}, err
	}
	return sys, nil
}

func (r *licenseRepository) RevokeTx(ctx context.Context, licenseID uuid.UUID, revokedAt time.Time, event ports.EventFunc[domain.License]) (domain.License, error) {
	var result domain.License
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lic licenseModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("license_id = ?", licenseID).
			Take(&lic).Error; err != nil {
			if isNotFound(err) {
				return domain.ErrLicenseNotFound
			}
			return err
		}
		if lic.Status == string(domain.LicenseStatusRevoked) {
			return domain.ErrConflict
		}
		if err := tx.Model(&licenseModel{}).
			Where("license_id = ?", licenseID).
			Updates(map[string]any{
				"status":     string(domain.LicenseStatusRevoked),
				"updated_at": revokedAt,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&activationRecordModel{}).
			Where("license_id = ? AND status = ?", licenseID, string(domain.ActivationStatusActive)).
			Updates(map[string]any{
				"status":     string(domain.ActivationStatusRevoked),
				"revoked_at": revokedAt,
			}).Error; err != nil {
			return err
		}
		lic.Status = string(domain.LicenseStatusRevoked)
		lic.UpdatedAt = revokedAt
		var err error
		if result, err = toDomainLicense(lic); err != nil {
			return err
		}
		return writeOutbox(tx, event, result)
	})
	if err != nil {
		return domain.License{}, err
	}
	return result, nil
}

func (r *licenseRepository) ListActivations(ctx context.Context, licenseID uuid.UUID) ([]domain.ActivationRecord, error) {
	var rows []activationRecordModel
	if err := r.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("activated_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ActivationRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainActivation(row))
	}
	return out, nil
}
