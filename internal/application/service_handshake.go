package application

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"github.com/RayanAndish/GoldACC-sub003/internal/secure"
)

const (
	apiKeyLength    = 32
	apiSecretLength = 64
	hmacSaltBytes   = 16
	saltBytes       = 16
	nonceBytes      = 32
)

// HandshakeMap is the fixed layout of the handshake string.
var HandshakeMap = map[string]Segment{
	"apiKey":    {Offset: 0, Length: apiKeyLength},
	"apiSecret": {Offset: apiKeyLength, Length: apiSecretLength},
	"hmacSalt":  {Offset: apiKeyLength + apiSecretLength, Length: hmacSaltBytes * 2},
}

func handshakeKey(clientNonce string) string {
	return string(domain.ChallengeKindHandshake) + ":" + clientNonce
}

// IssueHandshakeNonce opens a handshake: it stores a server nonce keyed by the
// client nonce for ChallengeTTL.
func (s *Service) IssueHandshakeNonce(ctx context.Context, req HandshakeNonceRequest) (HandshakeNonceResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return HandshakeNonceResponse{}, err
	}
	if err := s.checkAbuse(ctx, req.ClientAddr); err != nil {
		logFailure(ctx, "handshake_nonce", correlationPrefix(req.ClientNonce), req.ClientAddr, err)
		return HandshakeNonceResponse{}, err
	}

	serverNonce, err := secure.RandomHex(nonceBytes)
	if err != nil {
		return HandshakeNonceResponse{}, internalError("generate server nonce", err)
	}
	now := s.nowFn()
	challenge := domain.Challenge{
		Kind:        domain.ChallengeKindHandshake,
		Domain:      secure.NormalizeDomain(req.Domain),
		IP:          req.IP,
		HardwareID:  req.HardwareID,
		ClientNonce: req.ClientNonce,
		ServerNonce: serverNonce,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.ChallengeTTL),
	}
	if err := s.challenges.Put(ctx, handshakeKey(req.ClientNonce), challenge, s.cfg.ChallengeTTL); err != nil {
		return HandshakeNonceResponse{}, internalError("store handshake challenge", err)
	}
	return HandshakeNonceResponse{
		ServerNonce: serverNonce,
		ExpiresIn:   int64(s.cfg.ChallengeTTL.Seconds()),
	}, nil
}

// InitiateHandshake verifies the client's HMAC-SHA3-512 proof and registers the
// System. No System row is written unless every check passes; a taken
// challenge is restored on any failure other than expiry.
func (s *Service) InitiateHandshake(ctx context.Context, req HandshakeRequest) (HandshakeResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return HandshakeResponse{}, err
	}
	correlation := req.RayID
	if correlation == "" {
		correlation = correlationPrefix(req.ClientNonce)
	}
	key := handshakeKey(req.ClientNonce)
	now := s.nowFn()

	challenge, err := s.challenges.Take(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logFailure(ctx, "handshake_initiate", correlation, req.IP, domain.ErrChallengeInvalid)
			return HandshakeResponse{}, domain.ErrChallengeInvalid
		}
		return HandshakeResponse{}, internalError("take handshake challenge", err)
	}
	if challenge.Kind != domain.ChallengeKindHandshake || challenge.Expired(now) {
		logFailure(ctx, "handshake_initiate", correlation, req.IP, domain.ErrChallengeInvalid)
		return HandshakeResponse{}, domain.ErrChallengeInvalid
	}

	expected := secure.HMACSHA3512(req.ClientNonce+challenge.ServerNonce, s.secrets.ProcessSecret())
	nonceOK := secure.ConstantTimeEquals(req.ServerNonce, challenge.ServerNonce)
	proofOK := secure.ConstantTimeEquals(expected, req.Challenge)
	if !nonceOK || !proofOK {
		s.restoreChallenge(ctx, key, *challenge)
		s.recordFailure(ctx, req.ClientAddr)
		logFailure(ctx, "handshake_initiate", correlation, req.IP, domain.ErrChallengeInvalid)
		return HandshakeResponse{}, domain.ErrChallengeInvalid
	}

	normalized := secure.NormalizeDomain(req.Domain)
	hardwareOK := secure.ConstantTimeEquals(req.HardwareID, challenge.HardwareID)
	domainOK := secure.ConstantTimeEquals(normalized, challenge.Domain)
	if !hardwareOK || !domainOK {
		s.restoreChallenge(ctx, key, *challenge)
		s.recordFailure(ctx, req.ClientAddr)
		logFailure(ctx, "handshake_initiate", correlation, req.IP, domain.ErrIdentityMismatch)
		return HandshakeResponse{}, domain.ErrIdentityMismatch
	}

	resp, err := s.register(ctx, req, normalized, now)
	if err != nil {
		s.restoreChallenge(ctx, key, *challenge)
		logFailure(ctx, "handshake_initiate", correlation, req.IP, err)
		return HandshakeResponse{}, err
	}
	s.clearFailures(ctx, req.ClientAddr)
	logSuccess(ctx, "handshake_initiate", correlation, req.IP, "system_id", resp.SystemID)
	return resp, nil
}

func (s *Service) register(ctx context.Context, req HandshakeRequest, normalizedDomain string, now time.Time) (HandshakeResponse, error) {
	apiKey, err := secure.RandomToken(apiKeyLength)
	if err != nil {
		return HandshakeResponse{}, internalError("generate api key", err)
	}
	apiSecret, err := secure.RandomToken(apiSecretLength)
	if err != nil {
		return HandshakeResponse{}, internalError("generate api secret", err)
	}
	hmacSalt, err := secure.RandomHex(hmacSaltBytes)
	if err != nil {
		return HandshakeResponse{}, internalError("generate hmac salt", err)
	}
	salts, err := randomSalts(5)
	if err != nil {
		return HandshakeResponse{}, internalError("generate system salts", err)
	}
	sealed, err := s.sealer.Seal(apiSecret)
	if err != nil {
		return HandshakeResponse{}, internalError("seal api secret", err)
	}

	system, err := s.systems.RegisterTx(ctx, ports.RegisterSystemParams{
		HardwareID:           req.HardwareID,
		Domain:               normalizedDomain,
		IPAddress:            req.IP,
		ClientNonceSalt:      salts[0],
		ServerNonceSalt:      salts[1],
		RequestCodeSalt:      salts[2],
		HardwareIDSalt:       salts[3],
		ActivationSalt:       salts[4],
		APIKey:               apiKey,
		APISecretSealed:      sealed,
		HMACSalt:             hmacSalt,
		CredentialsExpiresAt: now.Add(s.cfg.CredentialTTL),
		RegisteredAt:         now,
	}, systemRegisteredEvent(now))
	if err != nil {
		return HandshakeResponse{}, internalError("register system", err)
	}

	return HandshakeResponse{
		SystemID:        system.SystemID,
		HandshakeString: apiKey + apiSecret + hmacSalt,
		HandshakeMap:    maps.Clone(HandshakeMap),
		ExpiresIn:       int64(s.cfg.CredentialTTL.Seconds()),
	}, nil
}

func randomSalts(n int) ([]string, error) {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		salt, err := secure.RandomHex(saltBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, salt)
	}
	return out, nil
}
