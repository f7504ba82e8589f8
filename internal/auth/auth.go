// Package auth verifies who is calling: the trusted controller, identified
// by a configured key, or a participant holding a signed token.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/talgya/outposts/internal/outpost"
)

const defaultIssuer = "outposts"

// ControllerKey is the configured identity of the trusted controller.
type ControllerKey string

// IsController reports whether caller presented the controller identity.
// An empty key authorizes nobody.
func (k ControllerKey) IsController(caller string) bool {
	if k == "" || caller == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(k), []byte(caller)) == 1
}

// Claims are the participant token claims. The subject is the participant's authority.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies participant tokens (HS256).
type TokenIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenIssuer returns an issuer signing with secret.
func NewTokenIssuer(secret []byte) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 bytes")
	}
	return &TokenIssuer{secret: secret, issuer: defaultIssuer, now: time.Now}, nil
}

// Issue returns a signed token naming owner as the participant authority.
func (ti *TokenIssuer) Issue(owner string, ttl time.Duration) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("%w: empty owner", outpost.ErrInvalidIdentity)
	}
	now := ti.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner,
			Issuer:    ti.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
}

// Verify checks the token and returns the participant authority it names.
func (ti *TokenIssuer) Verify(token string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return ti.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", outpost.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", outpost.ErrUnauthorized)
	}
	return claims.Subject, nil
}
