package models

import (
	"strings"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) Validate() error {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if len(u.Username) < 3 {
		return apperrors.Validation("username too short")
	}
	if !strings.Contains(u.Email, "@") {
		return apperrors.Validation("invalid email")
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}
