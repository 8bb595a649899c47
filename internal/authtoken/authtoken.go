// Package authtoken reads claims from auth tokens without verifying them. The
// server is the only party that verifies; the client uses claims to report who
// it is authenticated as and when that expires.
package authtoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmpty     = errors.New("authtoken: empty token")
	ErrMalformed = errors.New("authtoken: malformed token")
)

// Claims is the subset of registered claims the session reports.
type Claims struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (c Claims) HasExpiry() bool {
	return !c.ExpiresAt.IsZero()
}

// Expired reports whether the token is past its expiry at now. Tokens without
// an expiry never expire.
func (c Claims) Expired(now time.Time) bool {
	return c.HasExpiry() && !now.Before(c.ExpiresAt)
}

// Inspect parses token as a JWT and returns its registered claims. Opaque
// tokens such as legacy database secrets fail with ErrMalformed.
func Inspect(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrEmpty
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var out Claims
	if out.Subject, err = parsed.Claims.GetSubject(); err != nil {
		return Claims{}, fmt.Errorf("%w: sub: %v", ErrMalformed, err)
	}
	if out.Issuer, err = parsed.Claims.GetIssuer(); err != nil {
		return Claims{}, fmt.Errorf("%w: iss: %v", ErrMalformed, err)
	}
	iat, err := parsed.Claims.GetIssuedAt()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: iat: %v", ErrMalformed, err)
	}
	if iat != nil {
		out.IssuedAt = iat.Time
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: exp: %v", ErrMalformed, err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
