package identity

import (
	"github.com/goliatone/go-errors"
)

const (
	// TextCodeInvalidUsername flags a username outside the allowed charset.
	TextCodeInvalidUsername = "identity_invalid_username"
	// TextCodeMissingField flags an absent required request field.
	TextCodeMissingField = "identity_missing_field"
	// TextCodeAccountExists flags a username/email uniqueness conflict.
	TextCodeAccountExists = "identity_account_exists"
	// TextCodeBadCredentials covers both unknown identities and wrong passwords.
	TextCodeBadCredentials = "identity_bad_credentials"
	// TextCodeInvalidToken covers tampered, expired, and digest-mismatched tokens.
	TextCodeInvalidToken = "identity_invalid_token"
	// TextCodeNotAuthenticated flags operations that require an active session.
	TextCodeNotAuthenticated = "identity_not_authenticated"
	// TextCodeNoPendingRegistration flags a delegated signup without a verified email.
	TextCodeNoPendingRegistration = "identity_no_pending_registration"
	// TextCodeNotificationFailed flags a committed operation whose email did not go out.
	TextCodeNotificationFailed = "identity_notification_failed"
	// TextCodeGrantRevokeFailed flags a logout whose upstream revoke call failed.
	TextCodeGrantRevokeFailed = "identity_grant_revoke_failed"
	// TextCodeStaleDigest flags a password write that lost a concurrent update race.
	TextCodeStaleDigest = "identity_stale_digest"
)

// ErrInvalidUsername is returned when a username fails the charset check.
var ErrInvalidUsername = errors.New("invalid username", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidUsername).
	WithCode(errors.CodeBadRequest)

// ErrAccountExists is returned when a username or email is already taken.
var ErrAccountExists = errors.New("account already exists", errors.CategoryConflict).
	WithTextCode(TextCodeAccountExists).
	WithCode(errors.CodeConflict)

// ErrAccountNotFound is returned by the store when no row matches. It is
// surfaced directly only where existence leaks are not a concern; the
// service folds it into ErrBadCredentials or ErrInvalidToken elsewhere.
var ErrAccountNotFound = errors.New("account not found", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound)

// ErrBadCredentials is the single authentication failure. Unknown identity
// and wrong password return the same value to prevent account enumeration.
var ErrBadCredentials = errors.New("bad username or password", errors.CategoryAuth).
	WithTextCode(TextCodeBadCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidToken is the single token verification failure. Tampered
// payloads, wrong kinds, elapsed expiries, and stale digest bindings all
// return the same value so the codec cannot be used as an oracle.
var ErrInvalidToken = errors.New("invalid or expired token", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidToken).
	WithCode(errors.CodeBadRequest)

// ErrNotAuthenticated is returned when an operation requires a session.
var ErrNotAuthenticated = errors.New("not authenticated", errors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(errors.CodeUnauthorized)

// ErrNoPendingRegistration is returned when a delegated signup arrives
// without a provider-verified email in the session.
var ErrNoPendingRegistration = errors.New("no pending delegated registration", errors.CategoryBadInput).
	WithTextCode(TextCodeNoPendingRegistration).
	WithCode(errors.CodeBadRequest)

// ErrNotificationFailed reports an email that could not be delivered after
// the enclosing write already committed. Callers receive it alongside the
// committed result.
var ErrNotificationFailed = errors.New("notification delivery failed", errors.CategoryInternal).
	WithTextCode(TextCodeNotificationFailed).
	WithCode(errors.CodeInternal)

// ErrGrantRevokeFailed reports a delegated-identity revoke failure during
// logout. Local session teardown still happens; this error rides along.
var ErrGrantRevokeFailed = errors.New("failed to revoke delegated grant", errors.CategoryInternal).
	WithTextCode(TextCodeGrantRevokeFailed).
	WithCode(errors.CodeInternal)

// ErrStaleDigest is returned when a conditional digest write finds the
// stored digest changed since it was read, losing the race to a concurrent
// password change.
var ErrStaleDigest = errors.New("password digest changed concurrently", errors.CategoryConflict).
	WithTextCode(TextCodeStaleDigest).
	WithCode(errors.CodeConflict)

// ErrNoEmptyString rejects empty passwords before hashing.
var ErrNoEmptyString = errors.New("value must not be empty", errors.CategoryBadInput).
	WithCode(errors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the hasher's single verification failure.
var ErrMismatchedHashAndPassword = errors.New("mismatched hash and password", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// HTTPStatus maps an error to the response status for the API surface.
func HTTPStatus(err error) int {
	if err == nil {
		return 200
	}

	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.Code > 0 {
		return richErr.Code
	}

	return errors.CodeInternal
}

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.Category == errors.CategoryConflict
	}
	return false
}
