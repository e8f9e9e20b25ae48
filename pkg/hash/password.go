// Package hash wraps bcrypt for storing account passwords.
package hash

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// minPasswordLen matches the register validator; hashing anything
	// shorter means the request skipped validation.
	minPasswordLen = 8
	bcryptCost     = 12
)

// Hash derives a salted bcrypt digest from an account password.
func Hash(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(digest), nil
}

// Compare reports whether password matches the stored digest. A nil
// return means the credentials are valid.
func Compare(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
