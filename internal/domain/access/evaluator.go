// Package access evaluates whether a source may reach a private endpoint.
// Public endpoints are always allowed; private endpoints require the
// source to match at least one allow list (IP/CIDR, exact domain, or
// wildcard subdomain). Per-service lists, when present, fully replace the
// corresponding global list.
package access

import (
	"log/slog"
	"net"
	"strings"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/source"
)

// Config is the platform-wide allow list applied when a service carries
// no override for a category.
type Config struct {
	AllowedIPs        []string
	AllowedDomains    []string
	AllowedSubdomains []string
}

// Evaluator applies visibility-based access control.
type Evaluator struct {
	global Config
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator with the platform allow lists.
func NewEvaluator(global Config, logger *slog.Logger) *Evaluator {
	return &Evaluator{global: global, logger: logger}
}

// Allowed reports whether src may reach an endpoint with the given
// visibility on the given service. svc may be nil (no per-service
// overrides).
func (e *Evaluator) Allowed(src source.Identifier, visibility registry.Visibility, svc *registry.ServiceRegistration) bool {
	if visibility == registry.VisibilityPublic {
		return true
	}

	ips := e.global.AllowedIPs
	domains := e.global.AllowedDomains
	subdomains := e.global.AllowedSubdomains
	if svc != nil && svc.AccessConfig != nil {
		// A present per-service list replaces the global list of that
		// category; absent lists keep the global value.
		if svc.AccessConfig.AllowedIPs != nil {
			ips = svc.AccessConfig.AllowedIPs
		}
		if svc.AccessConfig.AllowedDomains != nil {
			domains = svc.AccessConfig.AllowedDomains
		}
		if svc.AccessConfig.AllowedSubdomains != nil {
			subdomains = svc.AccessConfig.AllowedSubdomains
		}
	}

	if e.ipAllowed(src.IP, ips) {
		return true
	}
	if src.Host != "" {
		if domainAllowed(src.Host, domains) {
			return true
		}
		if subdomainAllowed(src.Host, subdomains) {
			return true
		}
	}
	return false
}

// ipAllowed matches a source IP against exact-IP and CIDR patterns.
// Cross-family comparisons never match; malformed patterns are skipped.
func (e *Evaluator) ipAllowed(rawIP string, patterns []string) bool {
	ip := net.ParseIP(rawIP)
	if ip == nil {
		return false
	}
	v4 := ip.To4() != nil
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if strings.Contains(pattern, "/") {
			patternIP, network, err := net.ParseCIDR(pattern)
			if err != nil {
				e.logger.Debug("ignoring malformed IP pattern", "pattern", pattern, "error", err)
				continue
			}
			if (patternIP.To4() != nil) != v4 {
				continue
			}
			if network.Contains(ip) {
				return true
			}
			continue
		}
		exact := net.ParseIP(pattern)
		if exact == nil {
			e.logger.Debug("ignoring malformed IP pattern", "pattern", pattern)
			continue
		}
		if exact.Equal(ip) {
			return true
		}
	}
	return false
}

// domainAllowed matches the source host exactly, case-insensitively.
func domainAllowed(host string, patterns []string) bool {
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if strings.EqualFold(host, pattern) {
			return true
		}
	}
	return false
}

// subdomainAllowed matches "*.base.example" against strict subdomains of
// base.example: "a.base.example" matches, "base.example" does not.
func subdomainAllowed(host string, patterns []string) bool {
	lower := strings.ToLower(host)
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(strings.ToLower(pattern))
		if !strings.HasPrefix(pattern, "*.") {
			continue
		}
		base := pattern[2:]
		if base == "" {
			continue
		}
		if strings.HasSuffix(lower, "."+base) && len(lower) > len(base)+1 {
			return true
		}
	}
	return false
}
