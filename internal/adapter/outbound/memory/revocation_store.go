package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/revocation"
)

// revokedToken is a token revocation record with its lifetime.
type revokedToken struct {
	expiresAt time.Time
}

// revokedUser is a user revoke-all record with its lifetime.
type revokedUser struct {
	issuedBefore time.Time
	expiresAt    time.Time
}

// RevocationStore implements revocation.Repository in memory. Expired
// records are dropped lazily on read; no sweep goroutine is needed at
// single-instance scale.
type RevocationStore struct {
	tokens map[string]revokedToken
	users  map[string]revokedUser
	mu     sync.RWMutex
	now    func() time.Time
}

var _ revocation.Repository = (*RevocationStore)(nil)

// NewRevocationStore creates an empty in-memory revocation store.
func NewRevocationStore() *RevocationStore {
	return &RevocationStore{
		tokens: make(map[string]revokedToken),
		users:  make(map[string]revokedUser),
		now:    time.Now,
	}
}

// IsTokenRevoked reports whether the JTI has a live record.
func (s *RevocationStore) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	rec, ok := s.tokens[jti]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if s.now().After(rec.expiresAt) {
		s.mu.Lock()
		delete(s.tokens, jti)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// UserRevokedBefore returns the user's revoke-all cutoff, if live.
func (s *RevocationStore) UserRevokedBefore(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.RLock()
	rec, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false, nil
	}
	if s.now().After(rec.expiresAt) {
		s.mu.Lock()
		delete(s.users, userID)
		s.mu.Unlock()
		return time.Time{}, false, nil
	}
	return rec.issuedBefore, true, nil
}

// RevokeToken writes a token revocation living for ttl.
func (s *RevocationStore) RevokeToken(_ context.Context, jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[jti] = revokedToken{expiresAt: s.now().Add(ttl)}
	return nil
}

// RevokeUser writes a user revoke-all record living for ttl.
func (s *RevocationStore) RevokeUser(_ context.Context, userID string, issuedBefore time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = revokedUser{issuedBefore: issuedBefore, expiresAt: s.now().Add(ttl)}
	return nil
}

// ListRevoked returns the currently live revocations.
func (s *RevocationStore) ListRevoked(_ context.Context) ([]string, []revocation.UserRevocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var jtis []string
	for jti, rec := range s.tokens {
		if now.Before(rec.expiresAt) {
			jtis = append(jtis, jti)
		}
	}
	var users []revocation.UserRevocation
	for id, rec := range s.users {
		if now.Before(rec.expiresAt) {
			users = append(users, revocation.UserRevocation{UserID: id, IssuedBefore: rec.issuedBefore})
		}
	}
	return jtis, users, nil
}
