package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// opTimeout bounds every operation's external calls. The source system had
// no timeout semantics; storage or notifier stalls surface as failures
// instead of hanging the request.
const opTimeout = 10 * time.Second

// Service orchestrates account creation, login, logout, password change,
// password reset, and email confirmation. It composes the credential
// hasher, the token codec, the account store, and the session manager.
type Service struct {
	store    AccountStore
	tokens   *TokenService
	sessions *SessionManager
	notifier Notifier
	cfg      Config
	logger   Logger
}

// NewService returns a Service with the development defaults: a logging
// notifier and a session manager without a grant revoker.
func NewService(store AccountStore, cfg Config) *Service {
	logger := defLogger{}
	return &Service{
		store:    store,
		cfg:      cfg,
		tokens:   NewTokenService([]byte(cfg.GetSigningKey()), cfg.GetResetTokenTTL(), logger),
		sessions: NewSessionManager(),
		notifier: NewLogNotifier(logger),
		logger:   logger,
	}
}

func (s *Service) WithLogger(logger Logger) *Service {
	if logger != nil {
		s.logger = logger
		s.tokens = NewTokenService([]byte(s.cfg.GetSigningKey()), s.cfg.GetResetTokenTTL(), logger)
		s.sessions = s.sessions.WithLogger(logger)
	}
	return s
}

func (s *Service) WithNotifier(notifier Notifier) *Service {
	if notifier != nil {
		s.notifier = notifier
	}
	return s
}

// WithGrantRevoker wires the delegated identity provider used during logout.
func (s *Service) WithGrantRevoker(revoker GrantRevoker) *Service {
	s.sessions = s.sessions.WithGrantRevoker(revoker)
	return s
}

func (s *Service) WithSessionManager(sessions *SessionManager) *Service {
	if sessions != nil {
		s.sessions = sessions
	}
	return s
}

// Tokens returns the token codec used by this service.
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// Sessions returns the session manager used by this service.
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// CreateLocalAccount inserts a password-backed account with an unconfirmed
// email and sends the confirmation link. If the mail fails after the row
// committed, the account is returned together with ErrNotificationFailed;
// the insert is not undone.
func (s *Service) CreateLocalAccount(ctx context.Context, username, email, password string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if username == "" || email == "" || password == "" {
		return nil, missingField("username, email and password are required")
	}

	if !ValidUsername(username) {
		return nil, ErrInvalidUsername
	}

	digest, err := HashPassword(password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
	}

	account, err := s.store.CreateLocal(ctx, username, email, digest, false)
	if err != nil {
		return nil, err
	}

	if err := s.sendConfirmation(ctx, account); err != nil {
		s.logger.Error("confirmation email failed after signup for user %d: %v", account.ID, err)
		return account, err
	}

	return account, nil
}

// CreateDelegatedAccount turns a pending delegated registration into a
// local account. The provider already verified the email, so the account
// starts confirmed, and the fresh account is logged in.
func (s *Service) CreateDelegatedAccount(ctx context.Context, sess SessionContext, username string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	email, ok := s.sessions.PendingRegistration(sess)
	if !ok {
		return nil, ErrNoPendingRegistration
	}

	if !ValidUsername(username) {
		return nil, ErrInvalidUsername
	}

	account, err := s.store.CreateDelegated(ctx, username, email)
	if err != nil {
		return nil, err
	}

	// Establish resets the session, which also drops the pending marker.
	if err := s.sessions.Establish(sess, account); err != nil {
		return nil, err
	}

	return account, nil
}

// CompleteDelegatedLogin handles the provider callback after it verified
// an email. An existing account is logged in with the grant attached;
// otherwise the email is parked as a pending registration. The returned
// bool reports whether a session was established.
func (s *Service) CompleteDelegatedLogin(ctx context.Context, sess SessionContext, email, grant string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return false, s.sessions.SetPendingRegistration(sess, email)
		}
		return false, err
	}

	if err := s.sessions.Establish(sess, account, WithGrant(grant)); err != nil {
		return false, err
	}

	return true, nil
}

// Login verifies the password for the account matching identifier
// (username or email) and establishes the session. Unknown identities and
// wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, sess SessionContext, identifier, password string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if identifier == "" || password == "" {
		return nil, missingField("username/email and password are required")
	}

	account, err := s.store.FindByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}

	if !account.HasPassword() {
		// Delegated-only account; only the provider can authenticate it.
		return nil, ErrBadCredentials
	}

	if err := ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		if goerrors.Is(err, ErrMismatchedHashAndPassword) {
			return nil, ErrBadCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "password verification failed")
	}

	if err := s.sessions.Establish(sess, account); err != nil {
		return nil, err
	}

	return account, nil
}

// Logout clears the session. A failed upstream grant revoke comes back as
// ErrGrantRevokeFailed, but local teardown has already happened.
func (s *Service) Logout(ctx context.Context, sess SessionContext) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.sessions.Clear(ctx, sess)
}

// ChangePassword verifies the old password and stores a digest of the new
// one. The write is conditioned on the digest it verified against, so a
// concurrent change fails the operation instead of being clobbered.
func (s *Service) ChangePassword(ctx context.Context, sess SessionContext, oldPassword, newPassword string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	userID, ok := CurrentUserID(sess)
	if !ok {
		return ErrNotAuthenticated
	}

	if oldPassword == "" || newPassword == "" {
		return missingField("old and new passwords are required")
	}

	account, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return ErrBadCredentials
		}
		return err
	}

	if !account.HasPassword() {
		return ErrBadCredentials
	}

	if err := ComparePasswordAndHash(oldPassword, account.PasswordHash); err != nil {
		if goerrors.Is(err, ErrMismatchedHashAndPassword) {
			return ErrBadCredentials
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "password verification failed")
	}

	newDigest, err := HashPassword(newPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	return s.store.UpdateDigest(ctx, userID, account.PasswordHash, newDigest)
}

// RequestEmailConfirmation re-sends the confirmation link to the
// authenticated account's email.
func (s *Service) RequestEmailConfirmation(ctx context.Context, sess SessionContext) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	userID, ok := CurrentUserID(sess)
	if !ok {
		return ErrNotAuthenticated
	}

	account, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	return s.sendConfirmation(ctx, account)
}

// ConfirmEmail verifies a confirmation token and flips the account's
// confirmed flag. The flag never flips back.
func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	subjectID, err := s.tokens.Verify(TokenKindConfirm, token, "")
	if err != nil {
		return ErrInvalidToken
	}

	if err := s.store.MarkConfirmed(ctx, subjectID); err != nil {
		if goerrors.IsNotFound(err) {
			return ErrInvalidToken
		}
		return err
	}

	return nil
}

// RequestPasswordReset sends a reset link if an account with that email
// exists. It reports success either way so the endpoint cannot be used to
// probe which emails are registered; even notifier failures are only
// logged here.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if email == "" {
		return missingField("email is required")
	}

	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			s.logger.Debug("password reset requested for unknown email %s", email)
			return nil
		}
		return err
	}

	token, err := s.tokens.Mint(TokenKindReset, account.ID, account.PasswordHash)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mint reset token")
	}

	link := resetLink(s.cfg.GetSiteURL(), account.ID, token)
	if err := s.notifier.Send(ctx, account.Email, resetEmailSubject, resetEmailBody(link)); err != nil {
		s.logger.Error("reset email failed for user %d: %v", account.ID, err)
	}

	return nil
}

// ResetPassword verifies a reset token against the account's current
// digest and stores the new one. Unknown ids, stale tokens, and tokens
// outlived by a concurrent password change all fail the same way.
func (s *Service) ResetPassword(ctx context.Context, userID int64, newPassword, token string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if userID <= 0 || newPassword == "" || token == "" {
		return missingField("user_id, password and token are required")
	}

	account, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return ErrInvalidToken
		}
		return err
	}

	subjectID, err := s.tokens.Verify(TokenKindReset, token, account.PasswordHash)
	if err != nil || subjectID != userID {
		return ErrInvalidToken
	}

	newDigest, err := HashPassword(newPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	if err := s.store.UpdateDigest(ctx, userID, account.PasswordHash, newDigest); err != nil {
		if goerrors.Is(err, ErrStaleDigest) || goerrors.IsNotFound(err) || IsConflict(err) {
			return ErrInvalidToken
		}
		return err
	}

	return nil
}

func (s *Service) sendConfirmation(ctx context.Context, account *Account) error {
	token, err := s.tokens.Mint(TokenKindConfirm, account.ID, "")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mint confirmation token")
	}

	link := confirmLink(s.cfg.GetSiteURL(), token)
	if err := s.notifier.Send(ctx, account.Email, confirmEmailSubject, confirmEmailBody(link)); err != nil {
		return goerrors.Wrap(err, ErrNotificationFailed.Category, ErrNotificationFailed.Message).
			WithTextCode(ErrNotificationFailed.TextCode).
			WithCode(ErrNotificationFailed.Code)
	}

	return nil
}

func missingField(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithTextCode(TextCodeMissingField).
		WithCode(goerrors.CodeBadRequest)
}
