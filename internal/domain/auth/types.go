// Package auth contains the domain types and logic for route
// authentication and service authorization: validating incoming bearer
// tokens, re-issuing the short-lived identity token forwarded to
// backends, and checking actor permissions against service policies.
package auth

import (
	"time"
)

// Claims is the validated content of a bearer token.
type Claims struct {
	// JTI is the token's unique identifier, the revocation key.
	JTI string
	// Subject identifies the authenticated principal.
	Subject string
	// Issuer is the token's iss claim.
	Issuer string
	// Audience is the token's aud claim.
	Audience string
	// IssuedAt, NotBefore and ExpiresAt are the token's time bounds.
	IssuedAt  time.Time
	NotBefore time.Time
	ExpiresAt time.Time
	// Extra holds any additional claims, keyed by claim name. A
	// configured subset of these is forwarded on the re-issued token.
	Extra map[string]any
}

// AussieToken is the short-lived signed identity the gateway re-issues
// and forwards to backends in place of the client's original token.
type AussieToken struct {
	// JWS is the compact serialization placed on the Authorization header.
	JWS string
	// Subject is the forwarded principal.
	Subject string
	// ExpiresAt bounds the token's validity.
	ExpiresAt time.Time
	// Claims is the full claim set the token carries.
	Claims map[string]any
}

// ResultKind discriminates the outcomes of route authentication.
type ResultKind int

const (
	// ResultNotRequired means the endpoint does not require auth.
	ResultNotRequired ResultKind = iota
	// ResultAuthenticated carries the re-issued token.
	ResultAuthenticated
	// ResultUnauthorized means the token was missing, invalid, expired,
	// or revoked.
	ResultUnauthorized
	// ResultForbidden means the token was valid but access is denied.
	ResultForbidden
)

// Result is the outcome of RouteAuthService.Authenticate.
type Result struct {
	Kind   ResultKind
	Token  *AussieToken
	Reason string
}

// HasPermission reports whether the permission set contains wanted or
// the wildcard.
func HasPermission(permissions []string, wanted string) bool {
	for _, p := range permissions {
		if p == wanted || p == PermissionWildcard {
			return true
		}
	}
	return false
}

// PermissionWildcard grants every operation.
const PermissionWildcard = "*"
