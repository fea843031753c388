package service

import "time"

// Kind classifies service errors so the transport layer can pick a status
// code without matching on messages.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthentication
	KindAuthorization
	KindRateLimit
	KindNotFound
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindRateLimit:
		return "rate_limit"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Error is the typed error returned by every auth operation.  Two Errors
// match under errors.Is when kind and message agree, so sentinels keep
// working when a copy carries RetryAfter or Fields.
type Error struct {
	Kind       Kind
	Msg        string
	RetryAfter time.Duration     // set for rate limits and lockouts
	Fields     map[string]string // set for validation failures
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Msg == e.Msg
}

func (e *Error) withRetry(d time.Duration) *Error {
	cp := *e
	if d < 0 {
		d = 0
	}
	cp.RetryAfter = d
	return &cp
}

func newErr(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

var (
	ErrValidation = newErr(KindValidation, "Invalid request")

	ErrInvalidCredentials = newErr(KindAuthentication, "Invalid email or password")
	ErrEmailNotVerified   = newErr(KindAuthorization, "Please verify your email first")
	ErrAccountSuspended   = newErr(KindAuthorization, "Account suspended, please contact support")
	ErrAccountLocked      = newErr(KindAuthorization, "Account temporarily locked due to too many failed login attempts")
	ErrEmailExists        = newErr(KindConflict, "Email already registered")
	ErrUserNotFound       = newErr(KindNotFound, "User not found")

	ErrOtpInvalid         = newErr(KindAuthentication, "Invalid OTP code or expired")
	ErrOtpTooManyAttempts = newErr(KindRateLimit, "Too many failed attempts")
	ErrAlreadyVerified    = newErr(KindConflict, "Email already verified")
	ErrDeliveryFailed     = newErr(KindUnavailable, "Failed to send email, please try again")
	ErrRateLimited        = newErr(KindRateLimit, "Too many requests, please try again later")

	ErrRefreshInvalid   = newErr(KindAuthentication, "Invalid refresh token")
	ErrRefreshExpired   = newErr(KindAuthentication, "Refresh token expired")
	ErrWrongTokenType   = newErr(KindAuthentication, "Invalid token type")
	ErrSessionRevoked   = newErr(KindAuthentication, "Session revoked")
	ErrTokenInvalidated = newErr(KindAuthentication, "Token invalidated")
	ErrAccountInactive  = newErr(KindAuthorization, "Account is not active")
	ErrRoleChanged      = newErr(KindAuthentication, "Token role mismatch")

	ErrResetTokenInvalid = newErr(KindAuthentication, "Invalid or expired reset token")
)

// validationError builds a KindValidation error listing offending fields.
func validationError(fields map[string]string) *Error {
	cp := *ErrValidation
	cp.Fields = fields
	return &cp
}
