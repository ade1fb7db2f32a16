package identity

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds identity options
type Config interface {
	GetSigningKey() string
	GetResetTokenTTL() time.Duration
	GetSiteURL() string
}

// AccountStore is the narrow storage interface the service depends on.
// Every write is atomic: it either fully commits or the caller observes an
// error and no state changed. Uniqueness violations surface as
// ErrAccountExists, distinguishable from generic storage failure.
type AccountStore interface {
	FindByID(ctx context.Context, id int64) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*Account, error)

	// CreateLocal inserts a password-backed account. Insertion and
	// generated-id retrieval happen in one unit of work.
	CreateLocal(ctx context.Context, username, email, digest string, confirmed bool) (*Account, error)
	// CreateDelegated inserts an account with no digest and a
	// provider-verified email, so email_confirmed starts true.
	CreateDelegated(ctx context.Context, username, email string) (*Account, error)

	// UpdateDigest writes newDigest only while the stored digest still
	// equals oldDigest; otherwise it returns ErrStaleDigest. oldDigest ""
	// matches accounts that have no digest yet.
	UpdateDigest(ctx context.Context, id int64, oldDigest, newDigest string) error
	MarkConfirmed(ctx context.Context, id int64) error
}

// Notifier delivers outbound mail. Failures must propagate as errors; the
// caller decides whether they abort or ride along with a committed write.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// GrantRevoker revokes a delegated-identity access grant upstream.
type GrantRevoker interface {
	RevokeGrant(ctx context.Context, grant string) error
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, digest string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
