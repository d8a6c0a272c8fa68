package service

import "errors"

// Token validation failures. They are distinguishable for logging and
// metrics but collapse to a single authentication failure at the boundary.
var (
	ErrCredentialInvalid      = errors.New("credentials rejected by user directory")
	ErrTokenExpired           = errors.New("token expired")
	ErrSignatureInvalid       = errors.New("token signature invalid")
	ErrTokenTypeMismatch      = errors.New("token type mismatch")
	ErrTokenNotFoundOrRevoked = errors.New("token not found or revoked")
	ErrUserInactiveOrNotFound = errors.New("user inactive or not found")
)

// ErrSigningKeyNotInitialized is returned when token operations run before startup completed.
var ErrSigningKeyNotInitialized = errors.New("signing key not initialized")

var authFailures = []struct {
	err    error
	reason string
}{
	{ErrCredentialInvalid, "credential_invalid"},
	{ErrTokenExpired, "token_expired"},
	{ErrSignatureInvalid, "signature_invalid"},
	{ErrTokenTypeMismatch, "token_type_mismatch"},
	{ErrTokenNotFoundOrRevoked, "token_not_found_or_revoked"},
	{ErrUserInactiveOrNotFound, "user_inactive_or_not_found"},
}

// IsAuthFailure reports whether err is one of the token validation failures.
func IsAuthFailure(err error) bool {
	return FailureReason(err) != ""
}

// FailureReason returns a stable label for an authentication failure, or "" for other errors.
func FailureReason(err error) string {
	for _, f := range authFailures {
		if errors.Is(err, f.err) {
			return f.reason
		}
	}
	return ""
}
