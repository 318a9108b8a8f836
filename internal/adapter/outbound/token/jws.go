// Package token implements the TokenValidator and TokenIssuer ports
// with Ed25519-signed compact JWS tokens.
package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed is returned for input that is not a three-part
	// compact serialization.
	ErrMalformed = errors.New("malformed token")
	// ErrBadSignature is returned when signature verification fails.
	ErrBadSignature = errors.New("bad signature")
	// ErrUnsupportedAlg is returned for any alg other than EdDSA.
	ErrUnsupportedAlg = errors.New("unsupported algorithm")
)

type joseHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
	Kid string `json:"kid,omitempty"`
}

// signCompact produces the compact serialization of claims signed with
// the Ed25519 private key.
func signCompact(priv ed25519.PrivateKey, kid string, claims map[string]any) (string, error) {
	headerJSON, err := json.Marshal(joseHeader{Alg: "EdDSA", Typ: "JWT", Kid: kid})
	if err != nil {
		return "", fmt.Errorf("encode header: %w", err)
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(headerJSON) + "." + enc.EncodeToString(payloadJSON)
	sig := ed25519.Sign(priv, []byte(signingInput))
	return signingInput + "." + enc.EncodeToString(sig), nil
}

// verifyCompact checks the signature and returns the decoded claims.
func verifyCompact(pub ed25519.PublicKey, raw string) (map[string]any, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}
	enc := base64.RawURLEncoding

	headerJSON, err := enc.DecodeString(parts[0])
	if err != nil {
		return nil, ErrMalformed
	}
	var header joseHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, ErrMalformed
	}
	if header.Alg != "EdDSA" {
		return nil, ErrUnsupportedAlg
	}

	sig, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformed
	}
	signingInput := parts[0] + "." + parts[1]
	if !ed25519.Verify(pub, []byte(signingInput), sig) {
		return nil, ErrBadSignature
	}

	payloadJSON, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformed
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, ErrMalformed
	}
	return claims, nil
}
