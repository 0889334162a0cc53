package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
)

func TestTokenPair(t *testing.T) {
	tm := NewTokenManager("a-secret", "r-secret", "wallet-ledger", time.Minute, time.Hour)
	pair, err := tm.GeneratePair("u1", "admin")
	require.NoError(t, err)

	c, err := tm.ParseAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.UserID)
	assert.Equal(t, "admin", c.Role)

	_, err = tm.ParseAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	r, err := tm.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TokenRefresh, r.Type)
}

func TestTokenExpiryAndIssuer(t *testing.T) {
	tm := NewTokenManager("a", "r", "wallet-ledger", time.Minute, time.Hour)
	pair, err := tm.GeneratePair("u1", "user")
	require.NoError(t, err)

	tm.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = tm.ParseAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewTokenManager("a", "r", "someone-else", time.Minute, time.Hour)
	_, err = other.ParseRefresh(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPIN(t *testing.T) {
	_, err := HashPIN("12a4")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = HashPIN("123")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	h, err := HashPIN("1234")
	require.NoError(t, err)
	assert.NoError(t, CheckPIN("1234", h))
	assert.ErrorIs(t, CheckPIN("4321", h), apperrors.ErrInvalidPIN)
	assert.ErrorIs(t, CheckPIN("", h), apperrors.ErrInvalidPIN)
	assert.NoError(t, CheckPIN("", ""))
}
