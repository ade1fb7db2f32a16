package identity

import (
	"github.com/uptrace/bun"
)

// Account is the persisted account row. PasswordHash is empty for
// delegated-identity accounts until a password is set; such accounts can
// only authenticate through the provider.
type Account struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID             int64  `bun:"user_id,pk,autoincrement" json:"user_id,omitempty"`
	Username       string `bun:"username,notnull,unique" json:"username,omitempty"`
	Email          string `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash   string `bun:"hash,nullzero" json:"-"`
	EmailConfirmed bool   `bun:"email_confirmed,notnull,default:false" json:"email_confirmed"`
	Admin          bool   `bun:"admin,notnull,default:false" json:"admin"`
}

// HasPassword reports whether the account can authenticate locally.
func (a *Account) HasPassword() bool {
	return a != nil && a.PasswordHash != ""
}

// ValidUsername checks the username charset: letters, digits, and the
// three separators `-`, `_`, `.`. Empty usernames are rejected.
func ValidUsername(username string) bool {
	if username == "" {
		return false
	}

	for _, c := range username {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}

	return true
}
