package auth

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials = "auth_invalid_credentials"
	TextCodeEmailNotVerified   = "auth_email_not_verified"
	TextCodeDuplicateEmail     = "auth_duplicate_email"
	TextCodeDuplicateAccount   = "auth_duplicate_account"
	TextCodeLinkingNotAllowed  = "auth_linking_not_permitted"
	TextCodeTokenNotFound      = "auth_token_not_found"
	TextCodeTokenExpired       = "auth_token_expired"
	TextCodeTokenAlreadyUsed   = "auth_token_already_used"
	TextCodeSessionNotFound    = "auth_session_not_found"
	TextCodeSessionExpired     = "auth_session_expired"
	TextCodeUnauthorized       = "auth_unauthorized"
	TextCodeForbidden          = "auth_forbidden"
	TextCodeDeletionFailed     = "auth_deletion_failed"
	TextCodeUserNotFound       = "auth_user_not_found"
	TextCodeEmptyPassword      = "auth_empty_password"
	TextCodeValidation         = "auth_validation_error"
)

// ErrInvalidCredentials is returned when the identifier/password pair does
// not resolve to a user. Callers must not learn which half was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrEmailNotVerified blocks password sign-in until the address is confirmed.
var ErrEmailNotVerified = errors.New("email not verified", errors.CategoryAuth).
	WithTextCode(TextCodeEmailNotVerified).
	WithCode(errors.CodeForbidden)

// ErrDuplicateEmail is returned when registering an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(errors.CodeConflict)

// ErrDuplicateAccount is returned when a (provider, provider_account_id)
// pair already belongs to a different user.
var ErrDuplicateAccount = errors.New("credential already linked to another user", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateAccount).
	WithCode(errors.CodeConflict)

// ErrLinkingNotPermitted is returned when trust policy rejects an automatic link.
var ErrLinkingNotPermitted = errors.New("account linking not permitted", errors.CategoryAuth).
	WithTextCode(TextCodeLinkingNotAllowed).
	WithCode(errors.CodeForbidden)

// ErrTokenNotFound is returned for unknown verification tokens. Purpose
// mismatches surface the same error so tokens cannot be probed across flows.
var ErrTokenNotFound = errors.New("verification token not found", errors.CategoryNotFound).
	WithTextCode(TextCodeTokenNotFound).
	WithCode(errors.CodeNotFound)

// ErrTokenExpired is returned when a verification token is past its expiry.
var ErrTokenExpired = errors.New("verification token expired", errors.CategoryValidation).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeBadRequest)

// ErrTokenAlreadyUsed is returned on a second consumption attempt, including
// the loser of a concurrent double-consume race.
var ErrTokenAlreadyUsed = errors.New("verification token already used", errors.CategoryConflict).
	WithTextCode(TextCodeTokenAlreadyUsed).
	WithCode(errors.CodeConflict)

// ErrSessionNotFound is returned for unknown or revoked session ids.
var ErrSessionNotFound = errors.New("session not found", errors.CategoryAuth).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(errors.CodeUnauthorized)

// ErrSessionExpired is returned when a session row exists but is past expiry.
var ErrSessionExpired = errors.New("session expired", errors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(errors.CodeUnauthorized)

// ErrUnauthorized is the guard-level rejection for requests without a
// resolvable session.
var ErrUnauthorized = errors.New("unauthorized", errors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(errors.CodeUnauthorized)

// ErrForbidden is the guard-level rejection for authenticated users without
// the required role.
var ErrForbidden = errors.New("forbidden", errors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(errors.CodeForbidden)

// ErrDeletionFailed wraps any failure inside the cascading delete transaction.
var ErrDeletionFailed = errors.New("account deletion failed", errors.CategoryInternal).
	WithTextCode(TextCodeDeletionFailed).
	WithCode(errors.CodeInternal)

// ErrUserNotFound is returned when a user lookup comes back empty.
var ErrUserNotFound = errors.New("user not found", errors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(errors.CodeNotFound)

// ErrNoEmptyString rejects empty passwords before hashing.
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(errors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the normalized bcrypt mismatch error.
var ErrMismatchedHashAndPassword = errors.New("password does not match", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)
