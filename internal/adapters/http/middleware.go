package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/application"
	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeySystem    ctxKey = "system"
)

const (
	headerAPIKey        = "X-Api-Key"
	headerTimestamp     = "X-Timestamp"
	headerSignature     = "X-Signature"
	headerClientVersion = "X-Client-Version"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				adapterLog(r.Context()).ErrorContext(r.Context(), "panic recovered",
					"operation", "http_panic_recovery",
					"outcome", "failure",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(payload []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(payload)
	r.bytes += n
	return n, err
}

// loggingMiddleware logs every request and feeds the request metrics. Routes
// are labelled by their chi pattern so path parameters do not explode
// cardinality.
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		statusCode := recorder.statusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}
		outcome := "success"
		if statusCode >= 400 {
			outcome = "failure"
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		h.metrics.observeRequest(r.Method, route, statusCode, elapsed)

		fields := []any{
			"operation", "http_request",
			"outcome", outcome,
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", statusCode,
			"bytes", recorder.bytes,
			"duration_ms", elapsed.Milliseconds(),
			"client_addr", h.clientAddr(r),
		}
		switch {
		case statusCode >= 500:
			adapterLog(r.Context()).ErrorContext(r.Context(), "http request completed", fields...)
		case statusCode >= 400:
			adapterLog(r.Context()).WarnContext(r.Context(), "http request completed", fields...)
		default:
			adapterLog(r.Context()).InfoContext(r.Context(), "http request completed", fields...)
		}
	})
}

// globalRateLimit sheds load process-wide before any per-IP accounting runs.
func globalRateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow() {
				adapterLog(r.Context()).WarnContext(r.Context(), "global rate limit exceeded",
					"operation", "global_rate_limit",
					"outcome", "failure",
					"method", r.Method,
					"path", r.URL.Path,
					"client_addr", remoteHost(r.RemoteAddr),
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authMiddleware verifies the system request signature. The body is read once
// for the signature and replayed to the handler.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			h.writeValidationError(r.Context(), w, r, "authenticate_request", errors.New("request body too large"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		system, err := h.service.AuthenticateRequest(r.Context(), application.SignedRequest{
			APIKey:        r.Header.Get(headerAPIKey),
			Timestamp:     r.Header.Get(headerTimestamp),
			Signature:     r.Header.Get(headerSignature),
			Method:        r.Method,
			Path:          r.URL.Path,
			Body:          body,
			ClientVersion: r.Header.Get(headerClientVersion),
		})
		if err != nil {
			h.writeMappedError(r.Context(), w, r, "authenticate_request", err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeySystem, system)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var errMissingSystem = fmt.Errorf("%w: no authenticated system", domain.ErrUnauthorized)

func systemFromContext(ctx context.Context) (domain.System, bool) {
	system, ok := ctx.Value(ctxKeySystem).(domain.System)
	return system, ok
}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(ctxKeyRequestID)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrChallengeInvalid):
		return http.StatusUnauthorized, "CHALLENGE_INVALID", "challenge is invalid or unknown"
	case errors.Is(err, domain.ErrChallengeExpired):
		return http.StatusGone, "CHALLENGE_EXPIRED", "challenge expired; initiate again"
	case errors.Is(err, domain.ErrIdentityMismatch):
		return http.StatusForbidden, "IDENTITY_MISMATCH", "identity does not match the challenge"
	case errors.Is(err, domain.ErrDomainMismatch):
		return http.StatusForbidden, "DOMAIN_MISMATCH", "domain does not match the challenge"
	case errors.Is(err, domain.ErrInvalidRequestCode):
		return http.StatusUnauthorized, "INVALID_REQUEST_CODE", "request code is invalid"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", "too many requests"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "access denied"
	case errors.Is(err, domain.ErrDomainNotRegistered):
		return http.StatusNotFound, "DOMAIN_NOT_REGISTERED", "domain is not registered"
	case errors.Is(err, domain.ErrLicenseNotFound):
		return http.StatusNotFound, "LICENSE_NOT_FOUND", "license not found"
	case errors.Is(err, domain.ErrLicenseExpired):
		return http.StatusForbidden, "LICENSE_EXPIRED", "license has expired"
	case errors.Is(err, domain.ErrAlreadyActivated):
		return http.StatusConflict, "ALREADY_ACTIVATED", "license is already activated"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT", "conflicting state"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
