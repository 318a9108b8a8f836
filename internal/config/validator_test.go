package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

// validConfig returns a config that passes validation, for tests to
// break one field at a time.
func validConfig() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

func testSeed(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(priv.Seed())
}

func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate_FieldRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"bad listen addr",
			func(c *Config) { c.Server.ListenAddr = "not a hostport" },
			"host:port",
		},
		{
			"bad mode",
			func(c *Config) { c.Mode = "hybrid" },
			"one of",
		},
		{
			"bad log level",
			func(c *Config) { c.Server.LogLevel = "verbose" },
			"one of",
		},
		{
			"bad algorithm",
			func(c *Config) { c.RateLimit.Algorithm = "leaky_bucket" },
			"one of",
		},
		{
			"negative jitter",
			func(c *Config) { c.Registry.JitterFactor = -0.5 },
			">= 0",
		},
		{
			"api key missing actor",
			func(c *Config) {
				c.Admin.APIKeys = []APIKeyConfig{{Hash: "abc"}}
			},
			"required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CrossFieldRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, c *Config)
		wantErr string
	}{
		{
			"tls cert without key",
			func(_ *testing.T, c *Config) { c.Server.TLSCertFile = "/etc/cert.pem" },
			"must be set together",
		},
		{
			"sqlite without path",
			func(_ *testing.T, c *Config) { c.Registry.Store = "sqlite" },
			"sqlite_path",
		},
		{
			"redis limiter without addr",
			func(_ *testing.T, c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.Backend = "redis"
			},
			"redis.addr",
		},
		{
			"revocation without redis",
			func(t *testing.T, c *Config) {
				c.Auth.SigningKeySeed = testSeed(t)
				c.Revocation.Enabled = true
			},
			"redis.addr",
		},
		{
			"revocation without auth",
			func(_ *testing.T, c *Config) {
				c.Revocation.Enabled = true
				c.Redis.Addr = "localhost:6379"
			},
			"signing_key_seed",
		},
		{
			"seed not base64",
			func(_ *testing.T, c *Config) { c.Auth.SigningKeySeed = "not!!base64" },
			"base64",
		},
		{
			"seed wrong length",
			func(_ *testing.T, c *Config) {
				c.Auth.SigningKeySeed = base64.StdEncoding.EncodeToString([]byte("short"))
			},
			"32 bytes",
		},
		{
			"burst below rate",
			func(_ *testing.T, c *Config) {
				c.RateLimit.HTTP = LimitDefaults{RequestsPerWindow: 100, WindowSeconds: 60, BurstCapacity: 10}
			},
			"burst_capacity",
		},
		{
			"rate without window",
			func(_ *testing.T, c *Config) {
				c.RateLimit.WebSocketMessage = LimitDefaults{RequestsPerWindow: 50}
			},
			"window_seconds",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(t, cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ValidSigningSeed(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.SigningKeySeed = testSeed(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid seed rejected: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("AuthEnabled = false with a seed configured")
	}
}
