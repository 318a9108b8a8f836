package token

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/auth"
)

// ValidatorConfig constrains what the validator accepts.
type ValidatorConfig struct {
	// Issuer, when set, must match the token's iss claim exactly.
	Issuer string
	// Audience, when set, must match the token's aud claim exactly.
	Audience string
	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

// Validator verifies incoming bearer tokens against a trusted Ed25519
// public key.
type Validator struct {
	pub ed25519.PublicKey
	cfg ValidatorConfig
	now func() time.Time
}

var _ auth.TokenValidator = (*Validator)(nil)

// NewValidator creates a Validator trusting the given public key.
func NewValidator(pub ed25519.PublicKey, cfg ValidatorConfig) *Validator {
	return &Validator{pub: pub, cfg: cfg, now: time.Now}
}

// Validate checks signature, issuer, audience, and time bounds. All
// failures wrap auth.ErrTokenInvalid so callers need no knowledge of
// the token format.
func (v *Validator) Validate(_ context.Context, rawJWS string) (*auth.Claims, error) {
	payload, err := verifyCompact(v.pub, rawJWS)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrTokenInvalid, err)
	}

	claims := &auth.Claims{
		JTI:      stringClaim(payload, "jti"),
		Subject:  stringClaim(payload, "sub"),
		Issuer:   stringClaim(payload, "iss"),
		Audience: stringClaim(payload, "aud"),
	}
	if exp, ok := numericClaim(payload, "exp"); ok {
		claims.ExpiresAt = time.Unix(exp, 0)
	}
	if iat, ok := numericClaim(payload, "iat"); ok {
		claims.IssuedAt = time.Unix(iat, 0)
	}
	if nbf, ok := numericClaim(payload, "nbf"); ok {
		claims.NotBefore = time.Unix(nbf, 0)
	}

	now := v.now()
	if claims.ExpiresAt.IsZero() || now.After(claims.ExpiresAt.Add(v.cfg.Leeway)) {
		return nil, fmt.Errorf("%w: expired", auth.ErrTokenInvalid)
	}
	if !claims.NotBefore.IsZero() && now.Add(v.cfg.Leeway).Before(claims.NotBefore) {
		return nil, fmt.Errorf("%w: not yet valid", auth.ErrTokenInvalid)
	}
	if v.cfg.Issuer != "" && claims.Issuer != v.cfg.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", auth.ErrTokenInvalid)
	}
	if v.cfg.Audience != "" && claims.Audience != v.cfg.Audience {
		return nil, fmt.Errorf("%w: audience mismatch", auth.ErrTokenInvalid)
	}

	extra := make(map[string]any)
	for name, value := range payload {
		if !reservedClaims[name] {
			extra[name] = value
		}
	}
	if len(extra) > 0 {
		claims.Extra = extra
	}
	return claims, nil
}

func stringClaim(payload map[string]any, name string) string {
	s, _ := payload[name].(string)
	return s
}

func numericClaim(payload map[string]any, name string) (int64, bool) {
	switch n := payload[name].(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
