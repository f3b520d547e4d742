package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestGenerateAndValidate(t *testing.T) {
	s := NewJWTService(secret, time.Hour)
	token, err := s.GenerateAccessToken(42, "ada")
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.UserID)
	require.Equal(t, "ada", claims.Username)

	claims, err = ParseUserToken(token, secret)
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.UserID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService(secret, time.Hour).GenerateAccessToken(1, "a")
	require.NoError(t, err)

	_, err = NewJWTService("another-secret-another-secret-xx", time.Hour).ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseUserToken("not-a-token", secret)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpired(t *testing.T) {
	s := NewJWTService(secret, time.Hour)
	s.accessExpire = -time.Minute
	token, err := s.GenerateAccessToken(1, "a")
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	require.ErrorIs(t, err, ErrExpiredToken)
}
