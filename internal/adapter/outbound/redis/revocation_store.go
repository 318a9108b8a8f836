package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/revocation"
)

const (
	tokenKeyPrefix = "revocation:token:"
	userKeyPrefix  = "revocation:user:"
)

// RevocationStore implements revocation.Repository on Redis. Records
// carry a native TTL so expiry needs no scan job.
type RevocationStore struct {
	client goredis.UniversalClient
}

var _ revocation.Repository = (*RevocationStore)(nil)

// NewRevocationStore creates a Redis-backed revocation store.
func NewRevocationStore(client goredis.UniversalClient) *RevocationStore {
	return &RevocationStore{client: client}
}

// IsTokenRevoked reports whether the JTI has a live record.
func (s *RevocationStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, tokenKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return n > 0, nil
}

// UserRevokedBefore returns the user's revoke-all cutoff, if present.
func (s *RevocationStore) UserRevokedBefore(ctx context.Context, userID string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, userKeyPrefix+userID).Result()
	if err == goredis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("check user revocation: %w", err)
	}
	millis, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse user revocation cutoff: %w", err)
	}
	return time.UnixMilli(millis), true, nil
}

// RevokeToken writes a token revocation living for ttl.
func (s *RevocationStore) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if err := s.client.Set(ctx, tokenKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("store token revocation: %w", err)
	}
	return nil
}

// RevokeUser writes a user revoke-all record living for ttl. The value
// is the cutoff in unix milliseconds.
func (s *RevocationStore) RevokeUser(ctx context.Context, userID string, issuedBefore time.Time, ttl time.Duration) error {
	val := strconv.FormatInt(issuedBefore.UnixMilli(), 10)
	if err := s.client.Set(ctx, userKeyPrefix+userID, val, ttl).Err(); err != nil {
		return fmt.Errorf("store user revocation: %w", err)
	}
	return nil
}

// ListRevoked streams the live revocation set for filter rebuilds.
func (s *RevocationStore) ListRevoked(ctx context.Context) ([]string, []revocation.UserRevocation, error) {
	tokenKeys, err := s.scanKeys(ctx, tokenKeyPrefix)
	if err != nil {
		return nil, nil, err
	}
	jtis := make([]string, 0, len(tokenKeys))
	for _, key := range tokenKeys {
		jtis = append(jtis, strings.TrimPrefix(key, tokenKeyPrefix))
	}

	userKeys, err := s.scanKeys(ctx, userKeyPrefix)
	if err != nil {
		return nil, nil, err
	}
	users := make([]revocation.UserRevocation, 0, len(userKeys))
	for _, key := range userKeys {
		userID := strings.TrimPrefix(key, userKeyPrefix)
		cutoff, found, err := s.UserRevokedBefore(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		// The record may expire between scan and read.
		if found {
			users = append(users, revocation.UserRevocation{UserID: userID, IssuedBefore: cutoff})
		}
	}
	return jtis, users, nil
}

func (s *RevocationStore) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scan revocations: %w", err)
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}
