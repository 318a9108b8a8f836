package revocation

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/auth"
)

// Config tunes the revocation pipeline.
type Config struct {
	// CheckThreshold skips the pipeline entirely for tokens expiring
	// within this window. The residual risk is bounded by the
	// threshold.
	CheckThreshold time.Duration
	// UserRevocationEnabled adds the revoke-all-for-user check.
	UserRevocationEnabled bool
	// FailClosed rejects tokens when the store check fails. The
	// default is fail-open: store outages must not take down the
	// authentication path.
	FailClosed bool
	// CacheTTL and CacheMaxEntries size the per-instance cache.
	CacheTTL        time.Duration
	CacheMaxEntries int
	// RebuildInterval is the period between full filter rebuilds.
	RebuildInterval time.Duration
	// ExpectedRevocations sizes the bloom filter at boot, before the
	// first rebuild reports the real count.
	ExpectedRevocations int
}

// SetDefaults fills zero-valued fields.
func (c *Config) SetDefaults() {
	if c.CheckThreshold == 0 {
		c.CheckThreshold = 30 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Minute
	}
	if c.CacheMaxEntries == 0 {
		c.CacheMaxEntries = 10000
	}
	if c.RebuildInterval == 0 {
		c.RebuildInterval = 5 * time.Minute
	}
	if c.ExpectedRevocations == 0 {
		c.ExpectedRevocations = minBloomCapacity
	}
}

// Checker runs the tiered revocation check: TTL shortcut, bloom
// filter, local cache, then the remote store. It implements
// auth.RevocationChecker.
type Checker struct {
	repo   Repository
	filter *swappableFilter
	cache  *decisionCache
	cfg    Config
	logger *slog.Logger
}

var _ auth.RevocationChecker = (*Checker)(nil)

// NewChecker creates a Checker. The filter starts empty; callers run
// an initial rebuild asynchronously so boot does not block on the
// store.
func NewChecker(repo Repository, cfg Config, logger *slog.Logger) *Checker {
	cfg.SetDefaults()
	return &Checker{
		repo:   repo,
		filter: newSwappableFilter(cfg.ExpectedRevocations),
		cache:  newDecisionCache(cfg.CacheMaxEntries, cfg.CacheTTL),
		cfg:    cfg,
		logger: logger.With("component", "revocation_checker"),
	}
}

// IsRevoked reports whether the token's claims are revoked.
func (c *Checker) IsRevoked(ctx context.Context, claims *auth.Claims) (bool, error) {
	// Tier 1: tokens about to expire are not worth a store round trip.
	if time.Until(claims.ExpiresAt) < c.cfg.CheckThreshold {
		return false, nil
	}

	// Tier 2: a negative filter answer is definitive.
	if !c.filter.Contains(claims.JTI) {
		if !c.cfg.UserRevocationEnabled || !c.filter.Contains(userMember(claims.Subject)) {
			return false, nil
		}
	}

	// Tier 3: per-instance cache of store answers.
	if revoked, ok := c.cache.Get(claims.JTI); ok {
		return revoked, nil
	}

	// Tier 4: the store is authoritative.
	revoked, err := c.checkStore(ctx, claims)
	if err != nil {
		if c.cfg.FailClosed {
			return false, err
		}
		c.logger.Warn("revocation store check failed, failing open", "jti", claims.JTI, "error", err)
		return false, nil
	}
	c.cache.Put(claims.JTI, revoked)
	return revoked, nil
}

func (c *Checker) checkStore(ctx context.Context, claims *auth.Claims) (bool, error) {
	revoked, err := c.repo.IsTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return false, err
	}
	if revoked {
		return true, nil
	}
	if c.cfg.UserRevocationEnabled {
		cutoff, found, err := c.repo.UserRevokedBefore(ctx, claims.Subject)
		if err != nil {
			return false, err
		}
		if found && claims.IssuedAt.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// Rebuild streams the live revocation set from the store into a
// freshly sized filter and swaps it in. On store failure the existing
// filter keeps serving.
func (c *Checker) Rebuild(ctx context.Context) error {
	jtis, users, err := c.repo.ListRevoked(ctx)
	if err != nil {
		c.logger.Warn("filter rebuild failed, keeping current filter", "error", err)
		return err
	}
	fresh := newBloomFilter(len(jtis) + len(users))
	for _, jti := range jtis {
		fresh.Add(jti)
	}
	for _, u := range users {
		fresh.Add(userMember(u.UserID))
	}
	c.filter.Swap(fresh)
	c.logger.Info("revocation filter rebuilt", "tokens", len(jtis), "users", len(users))
	return nil
}

// observe folds a revocation event into the filter and cache. Called
// by the local mutation path and by the bus subscriber.
func (c *Checker) observe(event Event) {
	switch event.Kind {
	case EventTokenRevoked:
		c.filter.Add(event.JTI)
		c.cache.Invalidate(event.JTI)
	case EventUserRevoked:
		c.filter.Add(userMember(event.UserID))
	}
}

// userMember namespaces user IDs inside the shared filter so a JTI can
// never collide with a user ID textually.
func userMember(userID string) string {
	return "user:" + userID
}
