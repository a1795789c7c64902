package application

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"github.com/RayanAndish/GoldACC-sub003/internal/secure"
)

// AuthenticateRequest resolves the System behind a signed request. Every
// failure is reported as ErrUnauthorized.
func (s *Service) AuthenticateRequest(ctx context.Context, req SignedRequest) (domain.System, error) {
	if req.APIKey == "" || req.Timestamp == "" || req.Signature == "" {
		return domain.System{}, domain.ErrUnauthorized
	}
	unix, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return domain.System{}, domain.ErrUnauthorized
	}
	now := s.nowFn()
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.cfg.SignatureSkew {
		return domain.System{}, domain.ErrUnauthorized
	}

	system, err := s.systems.GetByAPIKey(ctx, req.APIKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.System{}, domain.ErrUnauthorized
		}
		return domain.System{}, internalError("load system by api key", err)
	}
	if system.CredentialsExpired(now) {
		return domain.System{}, domain.ErrUnauthorized
	}
	apiSecret, err := s.sealer.Open(system.APISecretSealed)
	if err != nil {
		return domain.System{}, internalError("open api secret", err)
	}
	expected := secure.RequestSignature(req.Method, req.Path, req.Timestamp, req.Body, system.HMACSalt, apiSecret)
	if !secure.ConstantTimeEquals(expected, strings.ToLower(req.Signature)) {
		return domain.System{}, domain.ErrUnauthorized
	}
	return system, nil
}

// GetStatus reports the resolved license status of system and records a
// heartbeat. A System without a License is reported as unlicensed.
func (s *Service) GetStatus(ctx context.Context, system domain.System, clientVersion string) (StatusResponse, error) {
	now := s.nowFn()
	if err := s.systems.Heartbeat(ctx, system.SystemID, clientVersion, now); err != nil {
		slog.Default().WarnContext(ctx, "failed to record heartbeat",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "heartbeat",
			"outcome", "failure",
			"system_id", system.SystemID,
			"error", err,
		)
	}

	license, err := s.licenses.GetBySystemID(ctx, system.SystemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return StatusResponse{Status: domain.StatusUnlicensed, IsActive: false, Features: []string{}}, nil
		}
		return StatusResponse{}, internalError("load license by system", err)
	}

	resolved := domain.ResolveStatus(license, now)
	features := license.Features
	if features == nil {
		features = []string{}
	}
	resp := StatusResponse{
		Status:            resolved.Status,
		IsActive:          resolved.IsActive,
		LicenseKeyDisplay: license.LicenseKeyDisplay,
		LicenseType:       license.LicenseType,
		Features:          features,
		ExpiresAt:         license.ExpiresAt,
		ActivatedAt:       license.ActivatedAt,
	}
	if resolved.IsActive && s.statusSigner != nil {
		token, err := s.signStatus(license, system, resolved, now)
		if err != nil {
			return StatusResponse{}, internalError("sign status token", err)
		}
		resp.Token = token
	}
	return resp, nil
}

func (s *Service) signStatus(license domain.License, system domain.System, resolved domain.ResolvedStatus, now time.Time) (string, error) {
	expiresAt := now.Add(s.cfg.StatusTokenTTL)
	if license.ExpiresAt != nil && license.ExpiresAt.Before(expiresAt) {
		expiresAt = *license.ExpiresAt
	}
	return s.statusSigner.Sign(ports.StatusClaims{
		LicenseID:   license.LicenseID,
		SystemID:    system.SystemID,
		Status:      resolved.Status,
		LicenseType: license.LicenseType,
		Features:    license.Features,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	})
}

func requestCodeMessage(hardwareID, domainName string, issuedAt time.Time) string {
	return hardwareID + domainName + strconv.FormatInt(issuedAt.Unix(), 10)
}

// IssueRequestCode starts the alternate activation flow. Freshness is tracked
// by the System's requestCodeCreatedAt rather than by the challenge store.
func (s *Service) IssueRequestCode(ctx context.Context, system domain.System, req RequestCodeRequest) (RequestCodeResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return RequestCodeResponse{}, err
	}
	if !secure.ConstantTimeEquals(req.HardwareID, system.HardwareID) {
		logFailure(ctx, "request_code", system.SystemID.String(), system.IPAddress, domain.ErrIdentityMismatch)
		return RequestCodeResponse{}, domain.ErrIdentityMismatch
	}
	now := s.nowFn().Truncate(time.Second)
	if err := s.systems.SetRequestCodeIssued(ctx, system.SystemID, now); err != nil {
		return RequestCodeResponse{}, internalError("store request code timestamp", err)
	}
	return RequestCodeResponse{
		RequestCode: secure.HMACSHA256(requestCodeMessage(req.HardwareID, system.Domain, now), system.RequestCodeSalt),
		ExpiresIn:   int64(s.cfg.RequestCodeTTL.Seconds()),
	}, nil
}

// ActivateLicense is the alternate activation flow. The license is located by
// its display prefix among pending licenses and bound to the calling System.
func (s *Service) ActivateLicense(ctx context.Context, system domain.System, req ActivateLicenseRequest) (ActivationResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return ActivationResponse{}, err
	}
	correlation := system.SystemID.String()
	guardKey, ip := req.ClientAddr, req.ClientAddr
	if ip == "" {
		ip = system.IPAddress
	}
	now := s.nowFn()

	if system.RequestCodeCreatedAt == nil || now.Sub(*system.RequestCodeCreatedAt) > s.cfg.RequestCodeTTL {
		logFailure(ctx, "license_activate", correlation, ip, domain.ErrChallengeExpired)
		return ActivationResponse{}, domain.ErrChallengeExpired
	}
	expected := secure.HMACSHA256(requestCodeMessage(req.HardwareID, system.Domain, *system.RequestCodeCreatedAt), system.RequestCodeSalt)
	codeOK := secure.ConstantTimeEquals(expected, strings.ToLower(req.RequestCode))
	hardwareOK := secure.ConstantTimeEquals(req.HardwareID, system.HardwareID)
	if !codeOK || !hardwareOK {
		s.recordFailure(ctx, guardKey)
		logFailure(ctx, "license_activate", correlation, ip, domain.ErrInvalidRequestCode)
		return ActivationResponse{}, domain.ErrInvalidRequestCode
	}

	license, err := s.findLicenseByKey(ctx, req.LicenseKey, domain.LicenseStatusPending)
	if err != nil {
		if errors.Is(err, domain.ErrLicenseNotFound) {
			s.recordFailure(ctx, guardKey)
		}
		logFailure(ctx, "license_activate", correlation, ip, err)
		return ActivationResponse{}, err
	}
	if license.PastExpiry(now) {
		logFailure(ctx, "license_activate", correlation, ip, domain.ErrLicenseExpired)
		return ActivationResponse{}, domain.ErrLicenseExpired
	}

	systemID := system.SystemID
	result, err := s.licenses.ActivateTx(ctx, ports.ActivateParams{
		LicenseID:       license.LicenseID,
		SystemID:        &systemID,
		ExpectedStatus:  domain.LicenseStatusPending,
		HardwareID:      system.HardwareID,
		Domain:          system.Domain,
		IPAddress:       ip,
		CustomerID:      license.CustomerID,
		HardwareIDHash:  secure.DeriveHash(req.HardwareID, license.Salt, license.Iterations),
		IPHash:          secure.DeriveHash(ip, license.Salt, license.Iterations),
		RequestCodeHash: secure.DeriveHash(strings.ToLower(req.RequestCode), license.Salt, license.Iterations),
		ActivatedAt:     now,

		RequestCodeCreatedAt: system.RequestCodeCreatedAt,
	}, licenseActivatedEvent(now, "request_code"))
	if err != nil {
		err = activationError(err)
		logFailure(ctx, "license_activate", correlation, ip, err)
		return ActivationResponse{}, err
	}

	s.clearFailures(ctx, guardKey)
	logSuccess(ctx, "license_activate", correlation, ip, "license_id", result.License.LicenseID)
	return activationResponse(result, now), nil
}
