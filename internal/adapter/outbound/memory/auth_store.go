// Package memory provides in-memory implementations of outbound ports,
// suitable for single-instance deployments and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/auth"
)

// ErrKeyNotFound is returned for unknown actor key hashes.
var ErrKeyNotFound = errors.New("actor key not found")

// ActorKeyStore implements auth.ActorKeyStore with in-memory maps.
// Thread-safe. Keys are seeded from configuration at boot.
type ActorKeyStore struct {
	keys map[string]*auth.ActorKey // hash -> key
	mu   sync.RWMutex
}

var _ auth.ActorKeyStore = (*ActorKeyStore)(nil)

// NewActorKeyStore creates an empty in-memory actor key store.
func NewActorKeyStore() *ActorKeyStore {
	return &ActorKeyStore{keys: make(map[string]*auth.ActorKey)}
}

// GetActorKey retrieves a key by its hash. Returns ErrKeyNotFound for
// unknown hashes.
func (s *ActorKeyStore) GetActorKey(_ context.Context, hash string) (*auth.ActorKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return copyKey(key), nil
}

// ListActorKeys returns every stored key.
func (s *ActorKeyStore) ListActorKeys(_ context.Context) ([]*auth.ActorKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*auth.ActorKey, 0, len(s.keys))
	for _, key := range s.keys {
		out = append(out, copyKey(key))
	}
	return out, nil
}

// AddKey stores a key, keyed by its hash.
func (s *ActorKeyStore) AddKey(key *auth.ActorKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.Hash] = copyKey(key)
}

// copyKey clones a record so callers cannot mutate stored state.
func copyKey(key *auth.ActorKey) *auth.ActorKey {
	out := *key
	out.Permissions = append([]string(nil), key.Permissions...)
	return &out
}
