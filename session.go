package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// Session keys. The payload shape {user_id, username, admin} is part of
// the external contract; the remaining keys are internal transients.
const (
	SessionKeyUserID   = "user_id"
	SessionKeyUsername = "username"
	SessionKeyAdmin    = "admin"

	// SessionKeyPendingEmail marks a provider-verified email that does
	// not yet map to a local account. Never persisted outside the session.
	SessionKeyPendingEmail = "pending_oauth_creation"
	// SessionKeyGrant holds the delegated-identity access grant, revoked
	// upstream on logout.
	SessionKeyGrant = "oauth_access_token"
)

// SessionContext is the explicit per-request session object every
// operation receives. The core never reaches into ambient global state.
type SessionContext interface {
	Get(key string) any
	Set(key string, value any)
	Delete(key string)
	// Reset drops every key, starting an empty session.
	Reset() error
	Save() error
}

// SessionManager converts an authenticated account into session state and
// tears it down again, revoking any delegated grant upstream.
type SessionManager struct {
	revoker GrantRevoker
	logger  Logger
}

func NewSessionManager() *SessionManager {
	return &SessionManager{logger: defLogger{}}
}

func (m *SessionManager) WithLogger(logger Logger) *SessionManager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithGrantRevoker wires the delegated identity provider used to revoke
// access grants during Clear.
func (m *SessionManager) WithGrantRevoker(revoker GrantRevoker) *SessionManager {
	m.revoker = revoker
	return m
}

// EstablishOption mutates session state after the account fields are set.
type EstablishOption func(SessionContext)

// WithGrant stores the delegated-identity access grant alongside the
// session so logout can revoke it.
func WithGrant(grant string) EstablishOption {
	return func(sess SessionContext) {
		if grant != "" {
			sess.Set(SessionKeyGrant, grant)
		}
	}
}

// Establish atomically replaces any prior session state with a fresh one
// derived solely from the account row. Caller-supplied flags never reach
// the session, so a request cannot inject privileges.
func (m *SessionManager) Establish(sess SessionContext, account *Account, opts ...EstablishOption) error {
	if account == nil {
		return goerrors.New("cannot establish session without an account", goerrors.CategoryInternal)
	}

	if err := sess.Reset(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reset session")
	}

	sess.Set(SessionKeyUserID, account.ID)
	sess.Set(SessionKeyUsername, account.Username)
	sess.Set(SessionKeyAdmin, account.Admin)

	for _, opt := range opts {
		if opt != nil {
			opt(sess)
		}
	}

	if err := sess.Save(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save session")
	}

	return nil
}

// SetPendingRegistration records a provider-verified email awaiting local
// account creation. A session is either authenticated or pending, never
// both, so any impersonated identity is dropped first; the caller comes
// out anonymous.
func (m *SessionManager) SetPendingRegistration(sess SessionContext, email string) error {
	sess.Delete(SessionKeyUserID)
	sess.Delete(SessionKeyUsername)
	sess.Delete(SessionKeyAdmin)
	sess.Delete(SessionKeyGrant)

	sess.Set(SessionKeyPendingEmail, email)
	if err := sess.Save(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save session")
	}
	return nil
}

// PendingRegistration returns the provider-verified email, if any.
func (m *SessionManager) PendingRegistration(sess SessionContext) (string, bool) {
	email, ok := sess.Get(SessionKeyPendingEmail).(string)
	return email, ok && email != ""
}

// Clear tears the session down. If a delegated grant is present it is
// revoked at the provider first; a revoke failure is reported as
// ErrGrantRevokeFailed but never skips local teardown.
func (m *SessionManager) Clear(ctx context.Context, sess SessionContext) error {
	var revokeErr error

	if grant, ok := sess.Get(SessionKeyGrant).(string); ok && grant != "" && m.revoker != nil {
		if err := m.revoker.RevokeGrant(ctx, grant); err != nil {
			m.logger.Error("delegated grant revoke failed: %v", err)
			revokeErr = goerrors.Wrap(err, ErrGrantRevokeFailed.Category, ErrGrantRevokeFailed.Message).
				WithTextCode(ErrGrantRevokeFailed.TextCode).
				WithCode(ErrGrantRevokeFailed.Code)
		}
	}

	sess.Delete(SessionKeyUserID)
	sess.Delete(SessionKeyUsername)
	sess.Delete(SessionKeyAdmin)
	sess.Delete(SessionKeyGrant)
	sess.Delete(SessionKeyPendingEmail)

	if err := sess.Save(); err != nil {
		if revokeErr != nil {
			return revokeErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save session")
	}

	return revokeErr
}

// CurrentUserID returns the authenticated account id held by the session.
func CurrentUserID(sess SessionContext) (int64, bool) {
	switch v := sess.Get(SessionKeyUserID).(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// IsAuthenticated reports whether the session impersonates an account.
func IsAuthenticated(sess SessionContext) bool {
	_, ok := CurrentUserID(sess)
	return ok
}
