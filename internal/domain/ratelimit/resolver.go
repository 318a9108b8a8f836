package ratelimit

import (
	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
)

// Defaults are platform-level limit values for one traffic class.
type Defaults struct {
	RequestsPerWindow int64
	WindowSeconds     int64
	BurstCapacity     int64
}

// PlatformConfig carries the platform defaults and the hard ceiling every
// resolved limit is clamped to.
type PlatformConfig struct {
	HTTP                Defaults
	WebSocketConnection Defaults
	WebSocketMessage    Defaults
	// MaxRequestsPerWindow caps both RequestsPerWindow and BurstCapacity
	// of every resolved limit. Zero means no ceiling.
	MaxRequestsPerWindow int64
}

// Resolver produces the EffectiveLimit for a route by layering platform
// defaults, service overrides, and endpoint overrides, then clamping to
// the platform ceiling.
type Resolver struct {
	cfg PlatformConfig
}

// NewResolver creates a Resolver.
func NewResolver(cfg PlatformConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve computes the limit for a service/endpoint pair. Either may be
// nil: a nil service yields the platform default, a nil endpoint skips
// the endpoint layer (service-only matches in pass-through mode).
func (r *Resolver) Resolve(keyType KeyType, svc *registry.ServiceRegistration, ep *registry.EndpointConfig) EffectiveLimit {
	limit := r.platformDefault(keyType)

	if svc != nil && svc.RateLimitConfig != nil {
		applyOverride(&limit, r.serviceOverride(keyType, svc.RateLimitConfig))
	}
	if ep != nil && ep.RateLimitOverride != nil {
		applyOverride(&limit, ep.RateLimitOverride)
	}

	return r.clamp(limit)
}

// EndpointScope returns the Key.EndpointID for a matched endpoint. Only
// endpoints carrying their own override get a dedicated bucket; everything
// else accounts at service granularity.
func EndpointScope(ep *registry.EndpointConfig) string {
	if ep == nil || ep.RateLimitOverride == nil {
		return ""
	}
	return ep.PathPattern
}

func (r *Resolver) platformDefault(keyType KeyType) EffectiveLimit {
	var d Defaults
	switch keyType {
	case KeyTypeWSConnection:
		d = r.cfg.WebSocketConnection
	case KeyTypeWSMessage:
		d = r.cfg.WebSocketMessage
	default:
		d = r.cfg.HTTP
	}
	return EffectiveLimit{
		RequestsPerWindow: d.RequestsPerWindow,
		WindowSeconds:     d.WindowSeconds,
		BurstCapacity:     d.BurstCapacity,
	}
}

func (r *Resolver) serviceOverride(keyType KeyType, cfg *registry.ServiceRateLimitConfig) *registry.EndpointRateLimitConfig {
	switch keyType {
	case KeyTypeWSConnection:
		return cfg.WebSocketConnection
	case KeyTypeWSMessage:
		return cfg.WebSocketMessage
	default:
		return cfg.HTTP
	}
}

// applyOverride overlays non-nil fields; absent fields inherit.
func applyOverride(limit *EffectiveLimit, override *registry.EndpointRateLimitConfig) {
	if override == nil {
		return
	}
	if override.RequestsPerWindow != nil {
		limit.RequestsPerWindow = *override.RequestsPerWindow
	}
	if override.WindowSeconds != nil {
		limit.WindowSeconds = *override.WindowSeconds
	}
	if override.BurstCapacity != nil {
		limit.BurstCapacity = *override.BurstCapacity
	}
}

// clamp enforces the platform ceiling and the burst >= requests >= 0
// invariant.
func (r *Resolver) clamp(limit EffectiveLimit) EffectiveLimit {
	if limit.RequestsPerWindow < 0 {
		limit.RequestsPerWindow = 0
	}
	if limit.WindowSeconds < 1 {
		limit.WindowSeconds = 1
	}
	if max := r.cfg.MaxRequestsPerWindow; max > 0 {
		if limit.RequestsPerWindow > max {
			limit.RequestsPerWindow = max
		}
		if limit.BurstCapacity > max {
			limit.BurstCapacity = max
		}
	}
	if limit.BurstCapacity < limit.RequestsPerWindow {
		limit.BurstCapacity = limit.RequestsPerWindow
	}
	return limit
}
