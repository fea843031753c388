package utils

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	for _, pw := range []string{"P@ssw0rd1", "correct horse battery staple", "ü-ñícode-1A"} {
		hash, err := HashPassword(pw, bcrypt.MinCost)
		require.NoError(t, err)
		assert.NotEqual(t, pw, hash)
		assert.True(t, VerifyPassword(hash, pw))
		assert.False(t, VerifyPassword(hash, pw+"x"))
	}
}

func TestHashIsSalted(t *testing.T) {
	a, err := HashPassword("same-password", bcrypt.MinCost)
	require.NoError(t, err)
	b, err := HashPassword("same-password", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	assert.False(t, VerifyPassword("not-a-hash", "anything"))
	assert.False(t, VerifyPassword("", ""))
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("123456", "123456"))
	assert.False(t, ConstantTimeEqual("123456", "123457"))
	assert.False(t, ConstantTimeEqual("123456", "12345"))
}

func TestRandomDigits(t *testing.T) {
	re := regexp.MustCompile(`^[0-9]{6}$`)
	for i := 0; i < 200; i++ {
		code, err := RandomDigits(6)
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
	_, err := RandomDigits(0)
	assert.Error(t, err)
}

func TestRandomHex(t *testing.T) {
	s, err := RandomHex(32)
	require.NoError(t, err)
	assert.Len(t, s, 64)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("access-secret", 42, "a@x.com", "CUSTOMER", time.Minute)
	require.NoError(t, err)

	claims, err := ParseAccessToken("access-secret", tok.Token)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, TokenTypeAccess, claims.Type)

	_, err = ParseAccessToken("other-secret", tok.Token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshTokenClaims(t *testing.T) {
	tok, err := NewRefreshToken("refresh-secret", 7, "SELLER", "jti-1", 3, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "jti-1", tok.JTI)

	claims, err := ParseRefreshToken("refresh-secret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, claims.Type)
	assert.Equal(t, "jti-1", claims.ID)
	assert.Equal(t, int64(3), claims.Version)
	assert.Equal(t, "SELLER", claims.Role)
}

func TestExpiredTokenIsDistinct(t *testing.T) {
	tok, err := NewRefreshToken("refresh-secret", 7, "SELLER", "jti-1", 3, -time.Minute)
	require.NoError(t, err)

	_, err = ParseRefreshToken("refresh-secret", tok.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = ParseRefreshToken("refresh-secret", "garbage")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
