package auth

import (
	"context"
	"errors"
)

// ErrTokenInvalid is returned by validators for tokens that fail
// signature, issuer, audience, or time-bound checks.
var ErrTokenInvalid = errors.New("invalid token")

// TokenValidator verifies an incoming bearer token and returns its
// claims. Implementations check signature, issuer, audience, exp and
// nbf; any failure surfaces as ErrTokenInvalid (possibly wrapped).
type TokenValidator interface {
	Validate(ctx context.Context, rawJWS string) (*Claims, error)
}

// IssueRequest is the input to TokenIssuer.Issue.
type IssueRequest struct {
	// Subject becomes the sub claim.
	Subject string
	// OriginalIssuer becomes the original_iss claim.
	OriginalIssuer string
	// Audience becomes the aud claim.
	Audience string
	// Forwarded claims copied from the client token, keyed by claim
	// name. Reserved claim names are ignored by issuers.
	Forwarded map[string]any
}

// TokenIssuer signs short-lived forwarded identity tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, req IssueRequest) (*AussieToken, error)
}

// RevocationChecker reports whether a validated token has been revoked.
// Implemented by the revocation pipeline.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, claims *Claims) (bool, error)
}
