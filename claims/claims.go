// Package claims reads the claims of access tokens issued by the identity provider.
//
// The console is not the token authority: tokens are parsed without signature
// verification, only to learn which roles the session carries. The registry API
// verifies every token it receives.
package claims

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned when the token cannot be parsed as a JWT
	ErrMalformedToken = errors.New("malformed token")

	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")
)

// Access lists the roles granted by a realm or a client
type Access struct {
	Roles []string `json:"roles"`
}

// Claims represents the claims carried by an access token
type Claims struct {
	jwt.RegisteredClaims
	PreferredUsername string            `json:"preferred_username"`
	Email             string            `json:"email"`
	RealmAccess       Access            `json:"realm_access"`
	ResourceAccess    map[string]Access `json:"resource_access"`
	Roles             []string          `json:"roles"`
}

// Parse parses a token without validating its signature or expiry
func Parse(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	c := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenString, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return c, nil
}

// RolesFor returns the roles granted to clientID, followed by realm roles and
// top-level roles. Duplicates are dropped; first occurrence wins.
func (c *Claims) RolesFor(clientID string) []string {
	var sources [][]string
	if access, ok := c.ResourceAccess[clientID]; ok {
		sources = append(sources, access.Roles)
	}
	sources = append(sources, c.RealmAccess.Roles, c.Roles)

	seen := make(map[string]struct{})
	roles := make([]string, 0)
	for _, src := range sources {
		for _, r := range src {
			if r == "" {
				continue
			}
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			roles = append(roles, r)
		}
	}
	return roles
}

// ExtractRoles extracts the roles for clientID from a token (fast path)
func ExtractRoles(tokenString, clientID string) ([]string, error) {
	c, err := Parse(tokenString)
	if err != nil {
		return nil, err
	}
	return c.RolesFor(clientID), nil
}

// ExpiresAt returns the token expiry
func ExpiresAt(tokenString string) (time.Time, error) {
	c, err := Parse(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	if c.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: exp", ErrMissingClaim)
	}
	return c.ExpiresAt.Time, nil
}

// Subject returns the preferred username, falling back to the subject claim
func Subject(tokenString string) (string, error) {
	c, err := Parse(tokenString)
	if err != nil {
		return "", err
	}
	if c.PreferredUsername != "" {
		return c.PreferredUsername, nil
	}
	if c.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return c.Subject, nil
}
