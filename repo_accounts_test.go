package identity_test

import (
	"context"
	"database/sql"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	identity "github.com/wikirun/go-identity"
)

func newTestStore(t *testing.T) identity.AccountStore {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { sqldb.Close() })

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, identity.InitAccountSchema(context.Background(), db))

	return identity.NewAccountStore(db)
}

func TestAccountStoreCreateAndFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account, err := store.CreateLocal(ctx, "echoingsins", "echo@example.com", "digest-1", false)
	require.NoError(t, err)
	require.NotZero(t, account.ID)
	assert.False(t, account.EmailConfirmed)

	byID, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "echoingsins", byID.Username)
	assert.Equal(t, "digest-1", byID.PasswordHash)

	byEmail, err := store.FindByEmail(ctx, "echo@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byEmail.ID)

	byUsername, err := store.FindByUsernameOrEmail(ctx, "echoingsins")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byUsername.ID)

	byIdentifierEmail, err := store.FindByUsernameOrEmail(ctx, "echo@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byIdentifierEmail.ID)
}

func TestAccountStoreLookupMisses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.FindByID(ctx, 999)
	assert.True(t, goerrors.IsNotFound(err))

	_, err = store.FindByEmail(ctx, "nobody@example.com")
	assert.True(t, goerrors.IsNotFound(err))

	_, err = store.FindByUsernameOrEmail(ctx, "nobody")
	assert.True(t, goerrors.IsNotFound(err))
}

func TestAccountStoreRejectsDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateLocal(ctx, "taken", "taken@example.com", "digest", false)
	require.NoError(t, err)

	tests := []struct {
		name     string
		username string
		email    string
	}{
		{
			name:     "duplicate username",
			username: "taken",
			email:    "other@example.com",
		},
		{
			name:     "duplicate email",
			username: "other",
			email:    "taken@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateLocal(ctx, tt.username, tt.email, "digest", false)
			require.Error(t, err)
			assert.True(t, identity.IsConflict(err))

			// The failed insert must not have left a row behind.
			_, err = store.FindByUsernameOrEmail(ctx, tt.username+tt.email)
			assert.True(t, goerrors.IsNotFound(err))
		})
	}
}

func TestAccountStoreCreateDelegated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account, err := store.CreateDelegated(ctx, "delegated", "delegated@example.com")
	require.NoError(t, err)
	assert.True(t, account.EmailConfirmed)
	assert.False(t, account.HasPassword())
}

func TestAccountStoreUpdateDigest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account, err := store.CreateLocal(ctx, "changer", "changer@example.com", "digest-old", false)
	require.NoError(t, err)

	require.NoError(t, store.UpdateDigest(ctx, account.ID, "digest-old", "digest-new"))

	reloaded, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "digest-new", reloaded.PasswordHash)

	// A writer still holding the old digest has lost the race.
	err = store.UpdateDigest(ctx, account.ID, "digest-old", "digest-racy")
	assert.Equal(t, identity.ErrStaleDigest, err)

	reloaded, err = store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "digest-new", reloaded.PasswordHash)

	err = store.UpdateDigest(ctx, 999, "digest-old", "digest-new")
	assert.True(t, goerrors.IsNotFound(err))
}

func TestAccountStoreUpdateDigestFromEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account, err := store.CreateDelegated(ctx, "delegated", "delegated@example.com")
	require.NoError(t, err)

	// Empty oldDigest matches the account that never had a password.
	require.NoError(t, store.UpdateDigest(ctx, account.ID, "", "digest-first"))

	reloaded, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "digest-first", reloaded.PasswordHash)
}

func TestAccountStoreMarkConfirmed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account, err := store.CreateLocal(ctx, "pending", "pending@example.com", "digest", false)
	require.NoError(t, err)

	require.NoError(t, store.MarkConfirmed(ctx, account.ID))

	reloaded, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.EmailConfirmed)

	// Idempotent on an already confirmed account.
	require.NoError(t, store.MarkConfirmed(ctx, account.ID))

	err = store.MarkConfirmed(ctx, 999)
	assert.True(t, goerrors.IsNotFound(err))
}
