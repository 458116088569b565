package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewIdentityService_ShortSecret(t *testing.T) {
	_, err := NewIdentityService("short", "", 24)
	assert.Error(t, err)
}

func TestIdentityService_RoundTrip(t *testing.T) {
	// Arrange
	s, err := NewIdentityService(testSecret, "auth.example.com", 1)
	require.NoError(t, err)

	// Act
	token, err := s.GenerateToken(42, "user@example.com")
	require.NoError(t, err)
	userID, err := s.ResolveUser(token)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)
}

func TestIdentityService_Expired(t *testing.T) {
	s, err := NewIdentityService(testSecret, "", 1)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := s.GenerateToken(42, "")
	require.NoError(t, err)

	_, err = s.ResolveUser(token)
	assert.ErrorIs(t, err, apperrors.ErrExpiredToken)
}

func TestIdentityService_WrongSecret(t *testing.T) {
	issuer, err := NewIdentityService("ffffffffffffffffffffffffffffffff", "", 1)
	require.NoError(t, err)
	verifier, err := NewIdentityService(testSecret, "", 1)
	require.NoError(t, err)

	token, err := issuer.GenerateToken(42, "")
	require.NoError(t, err)

	_, err = verifier.ResolveUser(token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestIdentityService_SubjectOnly(t *testing.T) {
	// Токен внешнего сервиса без user_id
	s, err := NewIdentityService(testSecret, "", 1)
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "17",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	userID, err := s.ResolveUser(signed)

	require.NoError(t, err)
	assert.Equal(t, uint(17), userID)
}

func TestIdentityService_RejectsNoneAlgorithm(t *testing.T) {
	s, err := NewIdentityService(testSecret, "", 1)
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, IdentityClaims{UserID: 1})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = s.ResolveUser(signed)

	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestIdentityService_EmptyToken(t *testing.T) {
	s, err := NewIdentityService(testSecret, "", 1)
	require.NoError(t, err)

	_, err = s.ResolveUser("")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
