package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned when an actor API key is unknown, expired,
// or revoked.
var ErrInvalidKey = errors.New("invalid api key")

// ErrUnknownHashType is returned when a stored hash has an unrecognized
// format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Actor is an authenticated admin-surface principal and the permissions
// its key grants.
type Actor struct {
	ID          string
	Permissions []string
}

// ActorKey is a stored API key record.
type ActorKey struct {
	// Hash is the stored key hash: Argon2id PHC, "sha256:" prefixed
	// hex, or legacy bare hex.
	Hash        string
	ActorID     string
	Permissions []string
	Revoked     bool
	ExpiresAt   time.Time
}

// Expired reports whether the key has an expiry in the past.
func (k *ActorKey) Expired() bool {
	return !k.ExpiresAt.IsZero() && time.Now().After(k.ExpiresAt)
}

// ActorKeyStore persists actor keys.
type ActorKeyStore interface {
	// GetActorKey looks up a key by its SHA-256 hex hash.
	GetActorKey(ctx context.Context, hash string) (*ActorKey, error)
	// ListActorKeys returns every stored key.
	ListActorKeys(ctx context.Context) ([]*ActorKey, error)
}

// APIKeyService resolves raw actor API keys to actors and their
// permission sets.
type APIKeyService struct {
	store ActorKeyStore
}

// NewAPIKeyService creates an APIKeyService backed by the given store.
func NewAPIKeyService(store ActorKeyStore) *APIKeyService {
	return &APIKeyService{store: store}
}

// Validate checks a raw key and returns the actor it authenticates.
// Returns ErrInvalidKey for unknown, expired, or revoked keys.
//
// SHA-256 hashes are looked up directly; Argon2id hashes require
// iterating the stored keys and verifying each.
func (s *APIKeyService) Validate(ctx context.Context, rawKey string) (*Actor, error) {
	if key, err := s.store.GetActorKey(ctx, HashKey(rawKey)); err == nil {
		return s.resolve(key)
	}

	keys, err := s.store.ListActorKeys(ctx)
	if err != nil {
		return nil, ErrInvalidKey
	}
	for _, candidate := range keys {
		match, verifyErr := VerifyKey(rawKey, candidate.Hash)
		if verifyErr != nil {
			continue
		}
		if match {
			return s.resolve(candidate)
		}
	}
	return nil, ErrInvalidKey
}

func (s *APIKeyService) resolve(key *ActorKey) (*Actor, error) {
	if key.Revoked || key.Expired() {
		return nil, ErrInvalidKey
	}
	return &Actor{ID: key.ActorID, Permissions: key.Permissions}, nil
}

// HashKey returns the SHA-256 hex hash of the raw key. Used for
// direct lookup of config-seeded keys.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// argon2idParams follows the OWASP minimum for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns an Argon2id hash of the raw key in PHC
// format, with a random salt.
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the algorithm of a stored hash: "argon2id"
// for PHC format, "sha256" for prefixed or bare hex, else "unknown".
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyKey verifies a raw key against a stored hash of any supported
// format. Returns ErrUnknownHashType for unrecognized formats.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case "argon2id":
		return safeArgon2idCompare(rawKey, storedHash)
	case "sha256":
		expected := strings.TrimPrefix(storedHash, "sha256:")
		computed := HashKey(rawKey)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery. The underlying library panics on malformed PHC parameters
// such as t=0 or p=0.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
