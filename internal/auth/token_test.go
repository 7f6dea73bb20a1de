// ABOUTME: Tests for JWT verification and principal derivation
// ABOUTME: Covers valid tokens, expiration, wrong secrets, and missing claims

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_Example9"

func TestVerify_ValidToken(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate(testIssuer, "sub-alice", time.Hour)
	require.NoError(t, err)

	principal, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1_Example9|sub-alice", principal)
}

func TestVerify_ExpiredToken(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate(testIssuer, "sub-alice", -time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	signer := NewJWTVerifier([]byte("secret-a"))
	verifier := NewJWTVerifier([]byte("secret-b"))

	token, err := signer.Generate(testIssuer, "sub-alice", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	_, err := v.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_MissingClaims(t *testing.T) {
	secret := []byte("test-secret")
	v := NewJWTVerifier(secret)

	sign := func(claims jwt.MapClaims) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		s, err := token.SignedString(secret)
		require.NoError(t, err)
		return s
	}

	_, err := v.Verify(sign(jwt.MapClaims{"iss": testIssuer}))
	assert.ErrorIs(t, err, ErrMissingClaim)

	_, err = v.Verify(sign(jwt.MapClaims{"sub": "sub-alice"}))
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestPrincipal(t *testing.T) {
	assert.Equal(t, "pool-1|sub-9", Principal("https://idp.example.com/pool-1", "sub-9"))
	// An issuer with no path still yields a usable principal
	assert.Equal(t, "issuer|sub", Principal("issuer", "sub"))
}
