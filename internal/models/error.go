package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Defense-layer denial errors. Check operations report expected denials
// through tagged result structs; these sentinels exist for callers that
// need an error value (guard short-circuits, HTTP mapping).
var (
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrAccountLocked        = errors.New("account is temporarily locked")
	ErrCSRFValidationFailed = errors.New("csrf validation failed")
	ErrInputRejected        = errors.New("input rejected by security policy")
	ErrIPBlocked            = errors.New("ip address is blocked")
)

// ErrSecurityStoreUnavailable signals that the shared security store could
// not be reached. It never surfaces to clients directly: each component
// translates it according to its fail-open or fail-closed policy.
var ErrSecurityStoreUnavailable = errors.New("security store unavailable")
