package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier("", "")
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestVerifier_IssueAndValidate(t *testing.T) {
	v, err := NewVerifier("secret", "identity")
	require.NoError(t, err)

	token, err := v.Issue("u1", []string{"admin"}, time.Minute)
	require.NoError(t, err)

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.True(t, claims.HasRole("admin"))
	assert.False(t, claims.HasRole("moderator"))
}

func TestVerifier_RejectsBadTokens(t *testing.T) {
	v, err := NewVerifier("secret", "identity")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewVerifier("other", "identity")
		require.NoError(t, err)
		token, err := other.Issue("u1", nil, time.Minute)
		require.NoError(t, err)

		_, err = v.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewVerifier("secret", "someone-else")
		require.NoError(t, err)
		token, err := other.Issue("u1", nil, time.Minute)
		require.NoError(t, err)

		_, err = v.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := v.Issue("u1", nil, time.Minute)
		require.NoError(t, err)

		v.now = func() time.Time { return time.Now().Add(time.Hour) }
		defer func() { v.now = time.Now }()

		_, err = v.Validate(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("refresh token", func(t *testing.T) {
		claims := &Claims{
			RegisteredClaims: gojwt.RegisteredClaims{
				Issuer:    "identity",
				ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
			UserID: "u1",
			Type:   "refresh",
		}
		token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = v.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
