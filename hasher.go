package identity

import (
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword will generate a password digest. The password is reduced
// through SHA-256 first so arbitrary-length inputs fit bcrypt's 72-byte
// limit; bcrypt supplies a fresh random salt per call.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword(prehash(password), passwordHashCost())
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext password against
// the stored digest. The comparison is constant time and the error never
// says why the check failed.
func ComparePasswordAndHash(password, digest string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(digest), prehash(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return sum[:]
}
