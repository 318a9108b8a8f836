// Package config holds the gateway configuration schema: file plus
// environment loading via viper, defaults, and validation.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that also accepts ISO-8601 forms
// ("PT30S", "PT24H", "P1D") alongside Go forms ("30s", "24h").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalText parses Go or ISO-8601 duration syntax.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	if s[0] == 'P' || s[0] == 'p' {
		parsed, err := parseISO8601Duration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// parseISO8601Duration handles the PnDTnHnMnS subset. Years and months
// are rejected: they have no fixed length.
func parseISO8601Duration(s string) (time.Duration, error) {
	upper := strings.ToUpper(s)
	rest, ok := strings.CutPrefix(upper, "P")
	if !ok {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}

	datePart, timePart, hasTime := strings.Cut(rest, "T")

	var total time.Duration
	consume := func(part string, units map[byte]time.Duration) error {
		start := 0
		for i := 0; i < len(part); i++ {
			unit, ok := units[part[i]]
			if !ok {
				continue
			}
			value, err := strconv.ParseFloat(part[start:i], 64)
			if err != nil {
				return fmt.Errorf("invalid ISO-8601 duration %q: %v", s, err)
			}
			total += time.Duration(value * float64(unit))
			start = i + 1
		}
		if start != len(part) {
			return fmt.Errorf("invalid ISO-8601 duration %q: trailing %q", s, part[start:])
		}
		return nil
	}

	if err := consume(datePart, map[byte]time.Duration{'D': 24 * time.Hour}); err != nil {
		return 0, err
	}
	if hasTime {
		if timePart == "" {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: empty time part", s)
		}
		err := consume(timePart, map[byte]time.Duration{
			'H': time.Hour,
			'M': time.Minute,
			'S': time.Second,
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Config is the top-level gateway configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Mode selects routing: "gateway" matches endpoint patterns across
	// the full registered set, "passthrough" dispatches on a
	// /{serviceId}/ prefix.
	Mode string `yaml:"mode" mapstructure:"mode" validate:"oneof=gateway passthrough"`

	// Proxy tunes upstream forwarding.
	Proxy ProxyConfig `yaml:"proxy" mapstructure:"proxy"`

	// TrustedProxies controls whose forwarding headers are believed.
	TrustedProxies TrustedProxiesConfig `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`

	// Limits bounds request sizes. Zero disables a bound.
	Limits LimitsConfig `yaml:"limits" mapstructure:"limits"`

	// Access is the platform-wide allow list for private endpoints.
	Access AccessConfig `yaml:"access" mapstructure:"access"`

	// Registry configures the service registration store and snapshot.
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`

	// Auth configures route authentication and token re-issue.
	// Disabled when no signing key is set; authRequired routes then
	// refuse with 401.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Revocation tunes the token revocation pipeline. Only effective
	// with auth enabled and a redis address configured.
	Revocation RevocationConfig `yaml:"revocation" mapstructure:"revocation"`

	// RateLimit configures the limiter backend and platform defaults.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// WebSocket tunes relay sessions.
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`

	// Redis is shared by the redis limiter and the revocation store.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// Admin configures the registration API surface.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Tracing enables the stdout span exporter.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// TracingConfig controls the otel SDK wiring.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// ServerConfig configures the inbound listener.
type ServerConfig struct {
	// ListenAddr is the host:port the gateway binds.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr" validate:"required,hostname_port"`
	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file"`
	// LogLevel is the slog level: debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// ProxyConfig tunes upstream forwarding.
type ProxyConfig struct {
	// RequestTimeout bounds each upstream round trip.
	RequestTimeout Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	// MaxResponseBytes caps how much upstream body is buffered. Zero
	// means no cap.
	MaxResponseBytes int64 `yaml:"max_response_bytes" mapstructure:"max_response_bytes" validate:"gte=0"`
	// MaxIdleConnsPerHost tunes the backend connection pool.
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host" validate:"gte=0"`
	// ForwardedStyle selects the forwarding headers written toward
	// backends: "rfc7239" or "legacy" (X-Forwarded-*).
	ForwardedStyle string `yaml:"forwarded_style" mapstructure:"forwarded_style" validate:"oneof=rfc7239 legacy"`
}

// TrustedProxiesConfig controls forwarding-header trust.
type TrustedProxiesConfig struct {
	// Enabled turns the peer check on. Disabled trusts every peer's
	// headers.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Proxies lists trusted peer IPs or CIDRs.
	Proxies []string `yaml:"proxies" mapstructure:"proxies"`
}

// LimitsConfig bounds request sizes.
type LimitsConfig struct {
	MaxBodyBytes        int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes" validate:"gte=0"`
	MaxHeaderBytes      int64 `yaml:"max_header_bytes" mapstructure:"max_header_bytes" validate:"gte=0"`
	MaxTotalHeaderBytes int64 `yaml:"max_total_header_bytes" mapstructure:"max_total_header_bytes" validate:"gte=0"`
}

// AccessConfig is the platform fallback allow list.
type AccessConfig struct {
	AllowedIPs        []string `yaml:"allowed_ips" mapstructure:"allowed_ips"`
	AllowedDomains    []string `yaml:"allowed_domains" mapstructure:"allowed_domains"`
	AllowedSubdomains []string `yaml:"allowed_subdomains" mapstructure:"allowed_subdomains"`
}

// RegistryConfig configures the registration store and route snapshot.
type RegistryConfig struct {
	// Store is "memory" or "sqlite".
	Store string `yaml:"store" mapstructure:"store" validate:"oneof=memory sqlite"`
	// SQLitePath is the database file for the sqlite store.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	// RoutesTTL bounds route snapshot staleness.
	RoutesTTL Duration `yaml:"routes_ttl" mapstructure:"routes_ttl"`
	// JitterFactor spreads refresh stampedes across instances.
	JitterFactor float64 `yaml:"jitter_factor" mapstructure:"jitter_factor" validate:"gte=0,lte=1"`
	// SeedFile, when set, is a YAML file of service registrations
	// loaded at boot.
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`
}

// AuthConfig configures route authentication.
type AuthConfig struct {
	// SigningKeySeed is the base64 Ed25519 seed (32 bytes) used to
	// sign re-issued tokens and verify client tokens. Empty disables
	// authentication.
	SigningKeySeed string `yaml:"signing_key_seed" mapstructure:"signing_key_seed"`
	// KeyID is carried in the JWS header of re-issued tokens.
	KeyID string `yaml:"key_id" mapstructure:"key_id"`
	// Issuer is the iss claim minted and required.
	Issuer string `yaml:"issuer" mapstructure:"issuer"`
	// TokenTTL bounds re-issued tokens.
	TokenTTL Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
	// Leeway tolerates clock skew when validating exp/nbf.
	Leeway Duration `yaml:"leeway" mapstructure:"leeway"`
	// ForwardedClaims are copied from the client token onto the
	// re-issued token.
	ForwardedClaims []string `yaml:"forwarded_claims" mapstructure:"forwarded_claims"`
	// AdminPermission is the claim granting registry create/update
	// authority under the default policy.
	AdminPermission string `yaml:"admin_permission" mapstructure:"admin_permission"`
}

// RevocationConfig tunes the revocation pipeline.
type RevocationConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// FailClosed rejects tokens when the store check fails.
	FailClosed bool `yaml:"fail_closed" mapstructure:"fail_closed"`
	// UserRevocationEnabled adds the revoke-all-for-user check.
	UserRevocationEnabled bool     `yaml:"user_revocation_enabled" mapstructure:"user_revocation_enabled"`
	CheckThreshold        Duration `yaml:"check_threshold" mapstructure:"check_threshold"`
	CacheTTL              Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	CacheMaxEntries       int      `yaml:"cache_max_entries" mapstructure:"cache_max_entries" validate:"gte=0"`
	RebuildInterval       Duration `yaml:"rebuild_interval" mapstructure:"rebuild_interval"`
	ExpectedRevocations   int      `yaml:"expected_revocations" mapstructure:"expected_revocations" validate:"gte=0"`
}

// LimitDefaults is one platform default limit.
type LimitDefaults struct {
	RequestsPerWindow int64 `yaml:"requests_per_window" mapstructure:"requests_per_window" validate:"gte=0"`
	WindowSeconds     int64 `yaml:"window_seconds" mapstructure:"window_seconds" validate:"gte=0"`
	BurstCapacity     int64 `yaml:"burst_capacity" mapstructure:"burst_capacity" validate:"gte=0"`
}

// RateLimitConfig configures the limiter.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=memory redis"`
	// Algorithm is token_bucket, fixed_window, or sliding_window.
	Algorithm string `yaml:"algorithm" mapstructure:"algorithm" validate:"oneof=token_bucket fixed_window sliding_window"`
	// CleanupInterval and MaxIdle tune the memory backend's sweep.
	CleanupInterval Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	MaxIdle         Duration `yaml:"max_idle" mapstructure:"max_idle"`

	HTTP                LimitDefaults `yaml:"http" mapstructure:"http"`
	WebSocketConnection LimitDefaults `yaml:"websocket_connection" mapstructure:"websocket_connection"`
	WebSocketMessage    LimitDefaults `yaml:"websocket_message" mapstructure:"websocket_message"`

	// MaxRequestsPerWindow is the platform ceiling every resolved
	// limit is clamped to. Zero means no ceiling.
	MaxRequestsPerWindow int64 `yaml:"max_requests_per_window" mapstructure:"max_requests_per_window" validate:"gte=0"`
}

// WebSocketConfig tunes relay sessions. Zero disables a rule.
type WebSocketConfig struct {
	IdleTimeout  Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxLifetime  Duration `yaml:"max_lifetime" mapstructure:"max_lifetime"`
	PingInterval Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PingTimeout  Duration `yaml:"ping_timeout" mapstructure:"ping_timeout"`
	// MaxConnections caps concurrent sessions per instance.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections" validate:"gte=0"`
}

// RedisConfig locates the shared redis instance.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"gte=0"`
}

// APIKeyConfig seeds one actor key for the admin surface. The hash is
// an Argon2id PHC string, "sha256:" prefixed hex, or bare SHA-256 hex
// of the raw key.
type APIKeyConfig struct {
	Hash        string   `yaml:"hash" mapstructure:"hash" validate:"required"`
	ActorID     string   `yaml:"actor_id" mapstructure:"actor_id" validate:"required"`
	Permissions []string `yaml:"permissions" mapstructure:"permissions"`
}

// AdminConfig configures the registration API.
type AdminConfig struct {
	Enabled bool           `yaml:"enabled" mapstructure:"enabled"`
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// SetDefaults fills zero-valued fields with working defaults.
func (c *Config) SetDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Mode == "" {
		c.Mode = "gateway"
	}
	if c.Proxy.RequestTimeout == 0 {
		c.Proxy.RequestTimeout = Duration(30 * time.Second)
	}
	if c.Proxy.ForwardedStyle == "" {
		c.Proxy.ForwardedStyle = "rfc7239"
	}
	if c.Registry.Store == "" {
		c.Registry.Store = "memory"
	}
	if c.Registry.RoutesTTL == 0 {
		c.Registry.RoutesTTL = Duration(30 * time.Second)
	}
	if c.Registry.JitterFactor == 0 {
		c.Registry.JitterFactor = 0.1
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = Duration(5 * time.Minute)
	}
	if c.Auth.KeyID == "" {
		c.Auth.KeyID = "aussie-gate"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "aussie-gate"
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}
	if c.RateLimit.Algorithm == "" {
		c.RateLimit.Algorithm = "fixed_window"
	}
	if c.RateLimit.CleanupInterval == 0 {
		c.RateLimit.CleanupInterval = Duration(time.Minute)
	}
	if c.RateLimit.MaxIdle == 0 {
		c.RateLimit.MaxIdle = Duration(10 * time.Minute)
	}
}

// AuthEnabled reports whether route authentication is configured.
func (c *Config) AuthEnabled() bool {
	return c.Auth.SigningKeySeed != ""
}

// TLSEnabled reports whether the listener terminates TLS.
func (c *Config) TLSEnabled() bool {
	return c.Server.TLSCertFile != "" && c.Server.TLSKeyFile != ""
}
