package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
)

func HashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(plain, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

// HashPIN validates a 4-6 digit transaction PIN and hashes it.
func HashPIN(pin string) (string, error) {
	if len(pin) < 4 || len(pin) > 6 {
		return "", apperrors.Validation("pin must be 4 to 6 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return "", apperrors.Validation("pin must be 4 to 6 digits")
		}
	}
	return HashPassword(pin)
}

// CheckPIN passes when no PIN is set, otherwise pin must match hash.
func CheckPIN(pin, hash string) error {
	if hash == "" {
		return nil
	}
	if pin == "" || VerifyPassword(pin, hash) != nil {
		return apperrors.ErrInvalidPIN
	}
	return nil
}
