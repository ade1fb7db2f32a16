package identity

import (
	"context"
	"database/sql"
	"net/mail"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type accounts struct {
	db *bun.DB
}

var _ AccountStore = (*accounts)(nil)

// NewAccountStore returns the Bun-backed AccountStore.
func NewAccountStore(db *bun.DB) AccountStore {
	return &accounts{db: db}
}

// InitAccountSchema creates the users table for embedded deployments and
// tests. Production setups run migrations instead.
func InitAccountSchema(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*Account)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (a *accounts) FindByID(ctx context.Context, id int64) (*Account, error) {
	record := &Account{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", id).
		Limit(1).
		Scan(ctx)

	if err != nil {
		return nil, wrapLookupErr(err, map[string]any{"user_id": id})
	}
	return record, nil
}

func (a *accounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	record := &Account{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)

	if err != nil {
		return nil, wrapLookupErr(err, map[string]any{"email": email})
	}
	return record, nil
}

// FindByUsernameOrEmail resolves the identifier column the way a login
// form supplies it: anything that parses as a mail address is tried as an
// email first, then as a username.
func (a *accounts) FindByUsernameOrEmail(ctx context.Context, identifier string) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	columns := []string{"username"}
	if isEmail(identifier) {
		columns = []string{"email", "username"}
	}

	for _, column := range columns {
		record := &Account{}
		err := a.db.NewSelect().
			Model(record).
			Where("?TableAlias."+column+" = ?", identifier).
			Limit(1).
			Scan(ctx)

		if err == nil {
			return record, nil
		}
		if !isNoRows(err) {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "account lookup failed")
		}
	}

	return nil, ErrAccountNotFound
}

func (a *accounts) CreateLocal(ctx context.Context, username, email, digest string, confirmed bool) (*Account, error) {
	record := &Account{
		Username:       username,
		Email:          email,
		PasswordHash:   digest,
		EmailConfirmed: confirmed,
	}
	return a.insert(ctx, record)
}

func (a *accounts) CreateDelegated(ctx context.Context, username, email string) (*Account, error) {
	record := &Account{
		Username:       username,
		Email:          email,
		EmailConfirmed: true,
	}
	return a.insert(ctx, record)
}

// insert runs inside a transaction so the row and its generated id are
// observed as one unit; concurrent creations never cross-read ids.
func (a *accounts) insert(ctx context.Context, record *Account) (*Account, error) {
	err := a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(record).Exec(ctx)
		return err
	})

	if err != nil {
		if isUniqueViolation(err) {
			return nil, goerrors.Wrap(err, ErrAccountExists.Category, ErrAccountExists.Message).
				WithTextCode(ErrAccountExists.TextCode).
				WithCode(ErrAccountExists.Code).
				WithMetadata(map[string]any{"username": record.Username})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "account insert failed")
	}

	return record, nil
}

func (a *accounts) UpdateDigest(ctx context.Context, id int64, oldDigest, newDigest string) error {
	q := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("hash = ?", newDigest).
		Where("user_id = ?", id)

	// The write is conditioned on the digest read earlier still matching,
	// so two concurrent password changes cannot silently clobber each other.
	if oldDigest == "" {
		q = q.Where("(hash IS NULL OR hash = '')")
	} else {
		q = q.Where("hash = ?", oldDigest)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "digest update failed")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "digest update failed")
	}
	if affected == 0 {
		if exists, err := a.exists(ctx, id); err == nil && !exists {
			return ErrAccountNotFound
		}
		return ErrStaleDigest
	}

	return nil
}

func (a *accounts) MarkConfirmed(ctx context.Context, id int64) error {
	res, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("email_confirmed = ?", true).
		Where("user_id = ?", id).
		Exec(ctx)

	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "confirm flag update failed")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "confirm flag update failed")
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (a *accounts) exists(ctx context.Context, id int64) (bool, error) {
	return a.db.NewSelect().
		Model((*Account)(nil)).
		Where("user_id = ?", id).
		Exists(ctx)
}

func wrapLookupErr(err error, metadata map[string]any) error {
	if err == nil {
		return nil
	}
	if isNoRows(err) {
		return goerrors.New(ErrAccountNotFound.Message, ErrAccountNotFound.Category).
			WithCode(ErrAccountNotFound.Code).
			WithMetadata(metadata)
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "account lookup failed")
}

func isNoRows(err error) bool {
	return goerrors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "no rows in result set")
}

// isUniqueViolation matches the sqlite and postgres unique-constraint
// messages so the store works under either dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func isEmail(identifier string) bool {
	_, err := mail.ParseAddress(identifier)
	return err == nil
}
