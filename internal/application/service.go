package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"github.com/go-playground/validator/v10"
)

const serviceName = "license-activation-service"

type Service struct {
	cfg          Config
	systems      ports.SystemRepository
	licenses     ports.LicenseRepository
	challenges   ports.ChallengeStore
	abuse        ports.AbuseStore
	secrets      ports.SecretStore
	sealer       ports.SecretSealer
	statusSigner ports.StatusTokenSigner
	validate     *validator.Validate
	nowFn        func() time.Time
}

type Dependencies struct {
	Config       Config
	Systems      ports.SystemRepository
	Licenses     ports.LicenseRepository
	Challenges   ports.ChallengeStore
	Abuse        ports.AbuseStore
	Secrets      ports.SecretStore
	Sealer       ports.SecretSealer
	StatusSigner ports.StatusTokenSigner
	// Clock defaults to UTC wall time.
	Clock func() time.Time
}

func NewService(deps Dependencies) *Service {
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		cfg:          deps.Config,
		systems:      deps.Systems,
		licenses:     deps.Licenses,
		challenges:   deps.Challenges,
		abuse:        deps.Abuse,
		secrets:      deps.Secrets,
		sealer:       deps.Sealer,
		statusSigner: deps.StatusSigner,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		nowFn:        nowFn,
	}
}

// StatusSigner exposes the token signer for the JWKS endpoint.
func (s *Service) StatusSigner() ports.StatusTokenSigner {
	return s.statusSigner
}

func (s *Service) validateRequest(req any) error {
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return fmt.Errorf("%w: field %s failed %s", domain.ErrInvalidInput, first.Field(), first.Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// restoreChallenge puts a taken challenge back for its remaining lifetime so
// the client may retry until the original expiry.
func (s *Service) restoreChallenge(ctx context.Context, key string, challenge domain.Challenge) {
	remaining := challenge.Remaining(s.nowFn())
	if remaining <= 0 {
		return
	}
	if err := s.challenges.Put(ctx, key, challenge, remaining); err != nil {
		slog.Default().WarnContext(ctx, "failed to restore challenge",
			"service", serviceName,
			"module", "application",
			"layer", "application",
			"operation", "restore_challenge",
			"outcome", "failure",
			"kind", string(challenge.Kind),
			"error", err,
		)
	}
}

func logFailure(ctx context.Context, operation, correlationID, ip string, err error) {
	level := slog.LevelWarn
	if errors.Is(err, domain.ErrInternal) {
		level = slog.LevelError
	}
	slog.Default().Log(ctx, level, "license protocol step failed",
		"service", serviceName,
		"module", "application",
		"layer", "application",
		"operation", operation,
		"outcome", "failure",
		"ray_id", correlationID,
		"ip", ip,
		"error", err,
	)
}

func logSuccess(ctx context.Context, operation, correlationID, ip string, attrs ...any) {
	base := []any{
		"service", serviceName,
		"module", "application",
		"layer", "application",
		"operation", operation,
		"outcome", "success",
		"ray_id", correlationID,
		"ip", ip,
	}
	slog.Default().InfoContext(ctx, "license protocol step completed", append(base, attrs...)...)
}

// correlationPrefix shortens a client nonce for log lines.
func correlationPrefix(value string) string {
	if len(value) > 8 {
		return value[:8]
	}
	return value
}

func internalError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrInternal, op, err)
}
