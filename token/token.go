// Package token issues and verifies the short-lived bearer tokens used
// for a client's broker subscription, signed HS256 with the server's
// signing key. The key is not handed to the eventbus, and neither
// NatsBus nor SoloBus checks these tokens.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const ttl = 24 * time.Hour

// Issuer mints and verifies bearer tokens signed with a single key.
// Only Verify checks them; the event bus broker is not configured with
// the key.
type Issuer struct {
	key []byte
}

func NewIssuer(key []byte) *Issuer {
	return &Issuer{key: key}
}

// Claims is the decoded payload of an issued token: subject (user id),
// issued-at and expiry.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issue mints a token for userID, valid for 24h from now.
func (iss *Issuer) Issue(userID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(iss.key)
}

// Verify checks the signature and expiry of a token and returns its
// claims.
func (iss *Issuer) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("token: unexpected signing method %v", t.Header["alg"])
		}
		return iss.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("token: invalid: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("token: malformed claims")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token: missing subject")
	}

	out := &Claims{Subject: sub}
	if iat, ok := claims["iat"].(float64); ok {
		out.IssuedAt = time.Unix(int64(iat), 0).UTC()
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	return out, nil
}
