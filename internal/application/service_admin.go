package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"github.com/RayanAndish/GoldACC-sub003/internal/secure"
	"github.com/google/uuid"
)

// IssueLicense generates a license key and stores only its PBKDF2 hash. The
// plaintext key is returned once and cannot be recovered afterwards.
func (s *Service) IssueLicense(ctx context.Context, req IssueLicenseRequest) (IssueLicenseResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return IssueLicenseResponse{}, err
	}
	now := s.nowFn()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return IssueLicenseResponse{}, fmt.Errorf("%w: expiresAt must be in the future", domain.ErrInvalidInput)
	}

	key, err := secure.RandomLicenseKey()
	if err != nil {
		return IssueLicenseResponse{}, internalError("generate license key", err)
	}
	salt, err := secure.RandomHex(saltBytes)
	if err != nil {
		return IssueLicenseResponse{}, internalError("generate license salt", err)
	}
	iterations := s.secrets.Iterations()

	license, err := s.licenses.CreateTx(ctx, ports.CreateLicenseParams{
		CustomerID:        req.CustomerID,
		SystemID:          req.SystemID,
		LicenseKeyHash:    secure.DeriveHash(key, salt, iterations),
		LicenseKeyDisplay: secure.LicenseKeyDisplay(key),
		Salt:              salt,
		Iterations:        iterations,
		LicenseType:       req.LicenseType,
		Features:          req.Features,
		ExpiresAt:         req.ExpiresAt,
		IssuedAt:          now,
	}, licenseIssuedEvent(now))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return IssueLicenseResponse{}, fmt.Errorf("%w: unknown system", domain.ErrInvalidInput)
		}
		return IssueLicenseResponse{}, internalError("create license", err)
	}
	logSuccess(ctx, "license_issue", license.LicenseID.String(), "", "customer_id", req.CustomerID)
	return IssueLicenseResponse{
		LicenseID:         license.LicenseID,
		LicenseKey:        key,
		LicenseKeyDisplay: license.LicenseKeyDisplay,
		Status:            string(license.Status),
	}, nil
}

// RevokeLicense marks the license and its active activation record revoked.
func (s *Service) RevokeLicense(ctx context.Context, licenseID uuid.UUID) (domain.License, error) {
	if licenseID == uuid.Nil {
		return domain.License{}, fmt.Errorf("%w: license id is required", domain.ErrInvalidInput)
	}
	now := s.nowFn()
	license, err := s.licenses.RevokeTx(ctx, licenseID, now, licenseRevokedEvent(now))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLicenseNotFound), errors.Is(err, domain.ErrNotFound):
			return domain.License{}, domain.ErrLicenseNotFound
		case errors.Is(err, domain.ErrConflict):
			return domain.License{}, err
		default:
			return domain.License{}, internalError("revoke license", err)
		}
	}
	logSuccess(ctx, "license_revoke", licenseID.String(), "")
	return license, nil
}
