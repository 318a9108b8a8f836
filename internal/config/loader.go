package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// InitViper points viper at the configuration file and wires the
// environment prefix. An empty configFile searches the standard
// locations for aussie-gate.yaml/.yml; the explicit extension keeps
// viper from matching the binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// Nothing found: leave name/type set so ReadInConfig returns
		// ConfigFileNotFoundError, which Load tolerates.
		viper.SetConfigName("aussie-gate")
		viper.SetConfigType("yaml")
	}

	// AUSSIE_GATE_SERVER_LISTEN_ADDR overrides server.listen_addr.
	viper.SetEnvPrefix("AUSSIE_GATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches the working directory, ~/.aussie-gate, and
// /etc/aussie-gate for a config file with a YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".aussie-gate"),
		"/etc/aussie-gate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "aussie-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the scalar keys so environment overrides work
// without a config file. Array-valued keys (admin.api_keys, access
// lists) stay file-only.
func bindNestedEnvKeys() {
	for _, key := range []string{
		"mode",
		"server.listen_addr",
		"server.tls_cert_file",
		"server.tls_key_file",
		"server.log_level",
		"proxy.request_timeout",
		"proxy.max_response_bytes",
		"proxy.max_idle_conns_per_host",
		"proxy.forwarded_style",
		"trusted_proxies.enabled",
		"limits.max_body_bytes",
		"limits.max_header_bytes",
		"limits.max_total_header_bytes",
		"registry.store",
		"registry.sqlite_path",
		"registry.routes_ttl",
		"registry.jitter_factor",
		"registry.seed_file",
		"auth.signing_key_seed",
		"auth.key_id",
		"auth.issuer",
		"auth.token_ttl",
		"auth.leeway",
		"auth.admin_permission",
		"revocation.enabled",
		"revocation.fail_closed",
		"revocation.rebuild_interval",
		"rate_limit.enabled",
		"rate_limit.backend",
		"rate_limit.algorithm",
		"rate_limit.cleanup_interval",
		"websocket.idle_timeout",
		"websocket.max_lifetime",
		"websocket.ping_interval",
		"websocket.ping_timeout",
		"websocket.max_connections",
		"redis.addr",
		"redis.password",
		"redis.db",
		"admin.enabled",
		"tracing.enabled",
	} {
		_ = viper.BindEnv(key)
	}
}

// Load reads the configuration, applies defaults, and validates.
// A missing config file is not an error; environment variables alone
// can configure the gateway.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	err := viper.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// FileUsed returns the path of the loaded config file, empty when the
// gateway runs on environment variables only.
func FileUsed() string {
	return viper.ConfigFileUsed()
}
