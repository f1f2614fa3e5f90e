// Package credtoken inspects the bearer credential locally. The platform
// issues JWT access tokens; the client never verifies signatures (that is
// the server's job) but it can read claims to key the push channel and to
// short-circuit startup verification for credentials that are long expired.
package credtoken

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// expirySlack keeps a token that expired moments ago on the network
// verification path, so clock skew cannot fake a local 401.
const expirySlack = 5 * time.Minute

// Claims are the credential claims the client core consumes.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Parse decodes the credential's claims without verifying its signature.
func Parse(credential string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	var claims jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(credential, &claims); err != nil {
		return nil, errors.Wrap(err, "[credtoken.Parse] parsing credential")
	}

	c := &Claims{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		c.ExpiresAt = claims.ExpiresAt.Time
	}
	return c, nil
}

// Expired reports whether the credential is unambiguously past its expiry.
// Unparseable credentials and credentials without an exp claim report
// false: only the server can reject those.
func Expired(credential string, now time.Time) bool {
	claims, err := Parse(credential)
	if err != nil || claims.ExpiresAt.IsZero() {
		return false
	}
	return now.After(claims.ExpiresAt.Add(expirySlack))
}
