package domain

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist.
	// Adapters map storage misses to it so callers never see driver errors.
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")

	// Challenge failures hide which sub-check failed. An unknown nonce, a wrong
	// challenge value and a replay all surface the same way.
	ErrChallengeInvalid   = errors.New("challenge invalid")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrIdentityMismatch   = errors.New("identity mismatch")
	ErrDomainMismatch     = errors.New("domain mismatch")
	ErrInvalidRequestCode = errors.New("invalid request code")

	ErrRateLimited         = errors.New("rate limited")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrDomainNotRegistered = errors.New("domain not registered")
	ErrLicenseNotFound     = errors.New("license not found")
	ErrAlreadyActivated    = errors.New("license already activated")
	ErrLicenseExpired      = errors.New("license expired")

	// ErrInternal marks persistence or transaction failures.
	// It is the only failure a caller should retry as-is.
	ErrInternal = errors.New("internal error")
)
