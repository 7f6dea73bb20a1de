// ABOUTME: JWT verification and principal derivation for API requests
// ABOUTME: Principals are pool-scoped: {userPoolId}|{sub} from the token claims

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Verifier extracts an authenticated principal from a bearer token.
type Verifier interface {
	Verify(tokenString string) (principal string, err error)
}

// JWTVerifier implements Verifier using HS256 signed JWTs. The
// principal is "{poolId}|{sub}", where the pool id is the last path
// segment of the issuer claim, so the same sub in two user pools names
// two different principals.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and derives the principal from the "iss"
// and "sub" claims.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	iss, ok := claims["iss"].(string)
	if !ok || iss == "" {
		return "", fmt.Errorf("%w: iss", ErrMissingClaim)
	}

	return Principal(iss, sub), nil
}

// Generate creates a token for the given issuer and subject with
// expiration. Used by the token subcommand and tests.
func (v *JWTVerifier) Generate(issuer, sub string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Principal builds the pool-scoped principal identifier from an issuer
// URL and a subject.
func Principal(issuer, sub string) string {
	segments := strings.Split(issuer, "/")
	poolID := segments[len(segments)-1]
	return poolID + "|" + sub
}
