package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrBearerInvalid is returned by ParseBearer for any unusable bearer token.
var ErrBearerInvalid = errors.New("invalid bearer token")

// BearerClaims wraps a session token in a signed envelope.
// The session token inside must still pass SessionManager.Validate.
type BearerClaims struct {
	jwt.RegisteredClaims
	Token string `json:"tok"`
}

// SignBearer creates an HS256 JWT carrying the session's uuid, token and expiry.
func SignBearer(s *Session, secret string) (string, error) {
	claims := BearerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UUID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
		Token: s.Token,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing bearer token: %w", err)
	}
	return signed, nil
}

// ParseBearer validates a bearer JWT's signature and expiry and returns the
// token claim it carries.
func ParseBearer(tokenString, secret string) (TokenClaim, error) {
	token, err := jwt.ParseWithClaims(tokenString, &BearerClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return TokenClaim{}, fmt.Errorf("%w: %w", ErrBearerInvalid, err)
	}

	claims, ok := token.Claims.(*BearerClaims)
	if !ok || !token.Valid {
		return TokenClaim{}, ErrBearerInvalid
	}

	if claims.Subject == "" {
		return TokenClaim{}, fmt.Errorf("%w: missing subject", ErrBearerInvalid)
	}
	if claims.Token == "" {
		return TokenClaim{}, fmt.Errorf("%w: missing session token", ErrBearerInvalid)
	}

	return TokenClaim{UUID: claims.Subject, Token: claims.Token}, nil
}
