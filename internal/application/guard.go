package application

import (
	"context"
	"log/slog"

	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
)

const (
	rateKeyPrefix    = "rate:"
	failureKeyPrefix = "fail:"
)

// checkAbuse applies the per-IP request window and then the suspicious-IP set.
// A window allows RateLimitThreshold requests; the next one is rejected.
// Store outages fail open and are logged.
func (s *Service) checkAbuse(ctx context.Context, ip string) error {
	if s.abuse == nil || ip == "" {
		return nil
	}
	if s.cfg.RateLimitThreshold > 0 && s.cfg.RateLimitWindow > 0 {
		count, err := s.abuse.Increment(ctx, rateKeyPrefix+ip, s.cfg.RateLimitWindow)
		if err != nil {
			warnGuard(ctx, "rate_limit", ip, err)
		} else if count > int64(s.cfg.RateLimitThreshold) {
			return domain.ErrRateLimited
		}
	}
	suspicious, err := s.abuse.IsSuspicious(ctx, ip)
	if err != nil {
		warnGuard(ctx, "suspicious_check", ip, err)
		return nil
	}
	if suspicious {
		return domain.ErrForbidden
	}
	return nil
}

// recordFailure counts a failed cryptographic check for ip. Reaching
// FailureThreshold within FailureWindow places the IP on the suspicious set.
func (s *Service) recordFailure(ctx context.Context, ip string) {
	if s.abuse == nil || ip == "" || s.cfg.FailureThreshold <= 0 {
		return
	}
	count, err := s.abuse.Increment(ctx, failureKeyPrefix+ip, s.cfg.FailureWindow)
	if err != nil {
		warnGuard(ctx, "record_failure", ip, err)
		return
	}
	if count < int64(s.cfg.FailureThreshold) {
		return
	}
	if err := s.abuse.MarkSuspicious(ctx, ip, s.cfg.SuspiciousTTL); err != nil {
		warnGuard(ctx, "mark_suspicious", ip, err)
		return
	}
	slog.Default().WarnContext(ctx, "ip marked suspicious",
		"service", serviceName,
		"module", "application",
		"layer", "application",
		"operation", "mark_suspicious",
		"outcome", "blocked",
		"ip", ip,
		"failures", count,
	)
}

func (s *Service) clearFailures(ctx context.Context, ip string) {
	if s.abuse == nil || ip == "" {
		return
	}
	if err := s.abuse.Reset(ctx, failureKeyPrefix+ip); err != nil {
		warnGuard(ctx, "clear_failures", ip, err)
	}
}

func warnGuard(ctx context.Context, operation, ip string, err error) {
	slog.Default().WarnContext(ctx, "abuse guard state unavailable",
		"service", serviceName,
		"module", "application",
		"layer", "application",
		"operation", operation,
		"outcome", "warning",
		"ip", ip,
		"error", err,
	)
}
