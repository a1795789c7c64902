package application

import (
	"context"
	"errors"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"github.com/RayanAndish/GoldACC-sub003/internal/secure"
)

const activationStatusIssued = "challenge_issued"

func activationKey(rayID string) string {
	return string(domain.ChallengeKindActivation) + ":" + rayID
}

// InitiateActivation issues an activation challenge for a registered domain,
// keyed by the client's rayId.
func (s *Service) InitiateActivation(ctx context.Context, req ActivationInitiateRequest) (ActivationInitiateResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return ActivationInitiateResponse{}, err
	}
	if err := s.checkAbuse(ctx, req.ClientAddr); err != nil {
		logFailure(ctx, "activation_initiate", req.RayID, req.ClientAddr, err)
		return ActivationInitiateResponse{}, err
	}

	normalized := secure.NormalizeDomain(req.Domain)
	system, err := s.systems.GetByDomain(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logFailure(ctx, "activation_initiate", req.RayID, req.ClientAddr, domain.ErrDomainNotRegistered)
			return ActivationInitiateResponse{}, domain.ErrDomainNotRegistered
		}
		return ActivationInitiateResponse{}, internalError("load system by domain", err)
	}

	// Every salt is minted per challenge. The System's stored request code
	// salt keys the alternate flow and never leaves the service.
	salts, err := randomSalts(5)
	if err != nil {
		return ActivationInitiateResponse{}, internalError("generate activation salts", err)
	}
	hardwareIDSalt, activationSalt, clientNonceSalt, nonceSalt, requestCodeSalt := salts[0], salts[1], salts[2], salts[3], salts[4]

	now := s.nowFn()
	challenge := domain.Challenge{
		Kind:            domain.ChallengeKindActivation,
		Domain:          normalized,
		IP:              req.IP,
		CustomerID:      system.CustomerID,
		SystemID:        system.SystemID.String(),
		ServerNonce:     secure.HMACSHA256(normalized, nonceSalt),
		ClientNonceSalt: clientNonceSalt,
		HardwareIDSalt:  hardwareIDSalt,
		ActivationSalt:  activationSalt,
		RequestCodeSalt: requestCodeSalt,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.cfg.ChallengeTTL),
	}
	if err := s.challenges.Put(ctx, activationKey(req.RayID), challenge, s.cfg.ChallengeTTL); err != nil {
		return ActivationInitiateResponse{}, internalError("store activation challenge", err)
	}
	logSuccess(ctx, "activation_initiate", req.RayID, req.ClientAddr, "system_id", system.SystemID)
	return ActivationInitiateResponse{
		Status:          activationStatusIssued,
		HardwareIDSalt:  hardwareIDSalt,
		ActivationSalt:  activationSalt,
		ServerNonce:     challenge.ServerNonce,
		RequestCodeSalt: requestCodeSalt,
		ExpiresIn:       int64(s.cfg.ChallengeTTL.Seconds()),
	}, nil
}

// CompleteActivation consumes the rayId challenge, verifies the request code
// HMAC-SHA256(hardwareId ‖ domain ‖ serverNonce, requestCodeSalt) and binds the
// license named by licenseKey to the caller's System.
func (s *Service) CompleteActivation(ctx context.Context, req ActivationCompleteRequest) (ActivationResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return ActivationResponse{}, err
	}
	key := activationKey(req.RayID)
	now := s.nowFn()

	challenge, err := s.challenges.Take(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logFailure(ctx, "activation_complete", req.RayID, req.ClientAddr, domain.ErrChallengeExpired)
			return ActivationResponse{}, domain.ErrChallengeExpired
		}
		return ActivationResponse{}, internalError("take activation challenge", err)
	}
	// The guard keys on the connection address; the address recorded at
	// initiate is only stored with the binding.
	guardKey, ip := req.ClientAddr, challenge.IP
	if challenge.Kind != domain.ChallengeKindActivation || challenge.Expired(now) || now.Sub(challenge.CreatedAt) > s.cfg.ChallengeTTL {
		logFailure(ctx, "activation_complete", req.RayID, ip, domain.ErrChallengeExpired)
		return ActivationResponse{}, domain.ErrChallengeExpired
	}

	normalized := secure.NormalizeDomain(req.Domain)
	if !secure.ConstantTimeEquals(normalized, challenge.Domain) {
		s.restoreChallenge(ctx, key, *challenge)
		logFailure(ctx, "activation_complete", req.RayID, ip, domain.ErrDomainMismatch)
		return ActivationResponse{}, domain.ErrDomainMismatch
	}

	expected := secure.HMACSHA256(req.HardwareID+normalized+challenge.ServerNonce, challenge.RequestCodeSalt)
	codeOK := secure.ConstantTimeEquals(expected, req.RequestCode)
	nonceOK := secure.ConstantTimeEquals(req.ServerNonce, challenge.ServerNonce)
	if !codeOK || !nonceOK {
		s.restoreChallenge(ctx, key, *challenge)
		s.recordFailure(ctx, guardKey)
		logFailure(ctx, "activation_complete", req.RayID, ip, domain.ErrInvalidRequestCode)
		return ActivationResponse{}, domain.ErrInvalidRequestCode
	}

	license, err := s.findLicenseByKey(ctx, req.LicenseKey, domain.LicenseStatusActive)
	if err != nil {
		s.restoreChallenge(ctx, key, *challenge)
		if errors.Is(err, domain.ErrLicenseNotFound) {
			s.recordFailure(ctx, guardKey)
		}
		logFailure(ctx, "activation_complete", req.RayID, ip, err)
		return ActivationResponse{}, err
	}
	if !domain.ResolveStatus(license, now).IsActive {
		s.restoreChallenge(ctx, key, *challenge)
		logFailure(ctx, "activation_complete", req.RayID, ip, domain.ErrLicenseExpired)
		return ActivationResponse{}, domain.ErrLicenseExpired
	}

	result, err := s.licenses.ActivateTx(ctx, ports.ActivateParams{
		LicenseID:       license.LicenseID,
		ExpectedStatus:  domain.LicenseStatusActive,
		HardwareID:      req.HardwareID,
		Domain:          normalized,
		IPAddress:       ip,
		CustomerID:      challenge.CustomerID,
		HardwareIDHash:  secure.DeriveHash(req.HardwareID, license.Salt, license.Iterations),
		IPHash:          secure.DeriveHash(ip, license.Salt, license.Iterations),
		RequestCodeHash: secure.DeriveHash(req.RequestCode, license.Salt, license.Iterations),
		ActivatedAt:     now,
	}, licenseActivatedEvent(now, "challenge"))
	if err != nil {
		s.restoreChallenge(ctx, key, *challenge)
		err = activationError(err)
		logFailure(ctx, "activation_complete", req.RayID, ip, err)
		return ActivationResponse{}, err
	}

	s.clearFailures(ctx, guardKey)
	logSuccess(ctx, "activation_complete", req.RayID, ip,
		"license_id", result.License.LicenseID,
		"system_id", result.System.SystemID,
	)
	return activationResponse(result, now), nil
}

// findLicenseByKey narrows candidates by the display prefix and verifies the
// PBKDF2 hash with each candidate's stored salt and iteration count.
func (s *Service) findLicenseByKey(ctx context.Context, licenseKey string, status domain.LicenseStatus) (domain.License, error) {
	normalized := secure.NormalizeLicenseKey(licenseKey)
	candidates, err := s.licenses.ListByDisplay(ctx, secure.LicenseKeyDisplay(normalized), status)
	if err != nil {
		return domain.License{}, internalError("list licenses by display", err)
	}
	for _, candidate := range candidates {
		derived := secure.DeriveHash(normalized, candidate.Salt, candidate.Iterations)
		if secure.ConstantTimeEquals(derived, candidate.LicenseKeyHash) {
			return candidate, nil
		}
	}
	return domain.License{}, domain.ErrLicenseNotFound
}

func activationError(err error) error {
	switch {
	case errors.Is(err, domain.ErrAlreadyActivated),
		errors.Is(err, domain.ErrLicenseNotFound),
		errors.Is(err, domain.ErrLicenseExpired),
		errors.Is(err, domain.ErrChallengeExpired),
		errors.Is(err, domain.ErrConflict):
		return err
	default:
		return internalError("activate license", err)
	}
}

func activationResponse(result ports.ActivationResult, now time.Time) ActivationResponse {
	features := result.License.Features
	if features == nil {
		features = []string{}
	}
	return ActivationResponse{
		Status:            string(domain.LicenseStatusActive),
		SystemID:          result.System.SystemID,
		LicenseKeyDisplay: result.License.LicenseKeyDisplay,
		LicenseType:       result.License.LicenseType,
		ActivationDate:    now,
		ExpiryDate:        result.License.ExpiresAt,
		Features:          features,
	}
}
