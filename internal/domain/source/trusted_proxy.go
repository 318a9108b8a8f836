// Package source resolves the logical client identity behind a request:
// which peer spoke to us, whether that peer's forwarding headers may be
// trusted, and the client IP / host the policy layers should act on.
package source

import (
	"log/slog"
	"net"
	"strings"
)

// TrustedProxies decides whether forwarding headers from a socket peer may
// be trusted. Patterns are exact IP literals or CIDR ranges (IPv4 and IPv6).
// Hostnames are never resolved; invalid entries are logged and skipped.
type TrustedProxies struct {
	enabled  bool
	ips      []net.IP
	networks []*net.IPNet
}

// NewTrustedProxies compiles the configured patterns. When enabled is
// false every peer is trusted, matching a deployment where the gateway sits
// behind a known load balancer fleet.
func NewTrustedProxies(enabled bool, patterns []string, logger *slog.Logger) *TrustedProxies {
	tp := &TrustedProxies{enabled: enabled}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if strings.Contains(pattern, "/") {
			_, network, err := net.ParseCIDR(pattern)
			if err != nil {
				logger.Warn("ignoring invalid trusted proxy CIDR", "pattern", pattern, "error", err)
				continue
			}
			tp.networks = append(tp.networks, network)
			continue
		}
		ip := net.ParseIP(pattern)
		if ip == nil {
			logger.Warn("ignoring invalid trusted proxy entry", "pattern", pattern)
			continue
		}
		tp.ips = append(tp.ips, ip)
	}
	return tp
}

// Trusts reports whether forwarding headers from peerIP may be honored.
func (tp *TrustedProxies) Trusts(peerIP string) bool {
	if !tp.enabled {
		return true
	}
	ip := net.ParseIP(strings.TrimSpace(peerIP))
	if ip == nil {
		return false
	}
	for _, trusted := range tp.ips {
		if trusted.Equal(ip) {
			return true
		}
	}
	for _, network := range tp.networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
