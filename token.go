package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind tags the two token families the codec mints.
type TokenKind string

const (
	// TokenKindConfirm marks email confirmation tokens. They carry no
	// practical expiry.
	TokenKindConfirm TokenKind = "confirm"
	// TokenKindReset marks password reset tokens. They expire after the
	// configured TTL and are signed with the account's current digest
	// folded into the key, so a password change invalidates them.
	TokenKindReset TokenKind = "reset"
)

type tokenClaims struct {
	jwt.RegisteredClaims
	Kind string `json:"knd"`
}

// TokenService mints and verifies the stateless confirmation and reset
// tokens. No issued token is stored server-side; expiry and key-material
// binding are the only invalidation mechanisms.
type TokenService struct {
	secret   []byte
	resetTTL time.Duration
	logger   Logger
}

// NewTokenService creates a new TokenService instance
func NewTokenService(secret []byte, resetTTL time.Duration, logger Logger) *TokenService {
	if logger == nil {
		logger = defLogger{}
	}
	if resetTTL <= 0 {
		resetTTL = DefaultResetTokenTTL
	}
	return &TokenService{
		secret:   secret,
		resetTTL: resetTTL,
		logger:   logger,
	}
}

// Mint signs a token of the given kind for subjectID. keyMaterial is empty
// for confirmation tokens and the account's current password digest for
// reset tokens.
func (ts *TokenService) Mint(kind TokenKind, subjectID int64, keyMaterial string) (string, error) {
	now := time.Now()
	claims := &tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.FormatInt(subjectID, 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
		Kind: string(kind),
	}

	if kind == TokenKindReset {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ts.resetTTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ts.signingKeyFor(keyMaterial))
}

// Verify recomputes the signature with the supplied key material and
// returns the subject id only if the signature, kind, and expiry all check
// out. Every failure collapses to ErrInvalidToken so callers cannot tell
// tampering, a wrong kind, a stale digest binding, and expiry apart.
func (ts *TokenService) Verify(kind TokenKind, tokenString, keyMaterial string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return ts.signingKeyFor(keyMaterial), nil
	})

	if err != nil {
		ts.logger.Debug("%s token verification failed: %v", kind, err)
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return 0, ErrInvalidToken
	}

	if claims.Kind != string(kind) {
		return 0, ErrInvalidToken
	}

	subjectID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}

	return subjectID, nil
}

// signingKeyFor derives the HMAC key from the server secret and the
// per-token key material.
func (ts *TokenService) signingKeyFor(keyMaterial string) []byte {
	mac := hmac.New(sha256.New, ts.secret)
	mac.Write([]byte(keyMaterial))
	return mac.Sum(nil)
}
