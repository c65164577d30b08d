package gameserver

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims tokenClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(sub string) tokenClaims {
	return tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name:  "Alice",
		Email: "alice@example.com",
	}
}

func TestVerifyToken(t *testing.T) {
	a := NewAuthenticator("secret")

	ident, err := a.Verify(signToken(t, "secret", validClaims("user-1")))
	require.NoError(t, err)
	assert.Equal(t, "user-1", ident.UserID)
	assert.Equal(t, "Alice", ident.DisplayName)
	assert.Equal(t, "alice@example.com", ident.Email)
}

func TestVerifyFallsBackToSubjectName(t *testing.T) {
	a := NewAuthenticator("secret")
	claims := validClaims("user-2")
	claims.Name = ""

	ident, err := a.Verify(signToken(t, "secret", claims))
	require.NoError(t, err)
	assert.Equal(t, "user-2", ident.DisplayName)
}

func TestVerifyRejections(t *testing.T) {
	a := NewAuthenticator("secret")

	t.Run("wrong secret", func(t *testing.T) {
		_, err := a.Verify(signToken(t, "other", validClaims("user-1")))
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		claims := validClaims("user-1")
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		_, err := a.Verify(signToken(t, "secret", claims))
		assert.Error(t, err)
	})

	t.Run("no expiry", func(t *testing.T) {
		claims := validClaims("user-1")
		claims.ExpiresAt = nil
		_, err := a.Verify(signToken(t, "secret", claims))
		assert.Error(t, err)
	})

	t.Run("no subject", func(t *testing.T) {
		_, err := a.Verify(signToken(t, "secret", validClaims("")))
		assert.Error(t, err)
	})

	t.Run("unsigned algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims("user-1")).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = a.Verify(token)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := a.Verify("not.a.token")
		assert.Error(t, err)
	})
}
