package token

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/auth"
)

// reservedClaims cannot be overridden by forwarded claims.
var reservedClaims = map[string]bool{
	"iss": true, "sub": true, "aud": true, "exp": true,
	"iat": true, "nbf": true, "jti": true, "original_iss": true,
}

// Issuer mints the short-lived forwarded identity tokens.
type Issuer struct {
	priv   ed25519.PrivateKey
	kid    string
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

var _ auth.TokenIssuer = (*Issuer)(nil)

// NewIssuer creates an Issuer signing with the given key. issuer
// becomes the iss claim; ttl bounds each token's validity.
func NewIssuer(priv ed25519.PrivateKey, kid, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{priv: priv, kid: kid, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for the request. Forwarded claims that collide
// with reserved claim names are dropped.
func (i *Issuer) Issue(_ context.Context, req auth.IssueRequest) (*auth.AussieToken, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	claims := map[string]any{
		"iss":          i.issuer,
		"sub":          req.Subject,
		"original_iss": req.OriginalIssuer,
		"aud":          req.Audience,
		"iat":          now.Unix(),
		"exp":          expiresAt.Unix(),
		"jti":          uuid.NewString(),
	}
	for name, value := range req.Forwarded {
		if !reservedClaims[name] {
			claims[name] = value
		}
	}

	jws, err := signCompact(i.priv, i.kid, claims)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &auth.AussieToken{
		JWS:       jws,
		Subject:   req.Subject,
		ExpiresAt: expiresAt,
		Claims:    claims,
	}, nil
}
