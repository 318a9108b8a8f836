package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDuration_UnmarshalText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"PT30S", 30 * time.Second, false},
		{"PT5M", 5 * time.Minute, false},
		{"PT24H", 24 * time.Hour, false},
		{"PT1H30M", 90 * time.Minute, false},
		{"P1D", 24 * time.Hour, false},
		{"P1DT12H", 36 * time.Hour, false},
		{"PT0.5S", 500 * time.Millisecond, false},
		{"pt10s", 10 * time.Second, false},
		{"", 0, false},
		{"banana", 0, true},
		{"P", 0, false},
		{"PT", 0, true},
		{"P1Y", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			var d Duration
			err := d.UnmarshalText([]byte(tt.in))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("UnmarshalText(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("UnmarshalText(%q): %v", tt.in, err)
			}
			if d.Std() != tt.want {
				t.Errorf("parsed %v, want %v", d.Std(), tt.want)
			}
		})
	}
}

func TestSetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.ListenAddr != "127.0.0.1:8080" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Mode != "gateway" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Proxy.RequestTimeout.Std() != 30*time.Second {
		t.Errorf("request timeout = %v", cfg.Proxy.RequestTimeout.Std())
	}
	if cfg.Proxy.ForwardedStyle != "rfc7239" {
		t.Errorf("forwarded style = %q", cfg.Proxy.ForwardedStyle)
	}
	if cfg.Registry.Store != "memory" {
		t.Errorf("registry store = %q", cfg.Registry.Store)
	}
	if cfg.RateLimit.Algorithm != "fixed_window" {
		t.Errorf("algorithm = %q", cfg.RateLimit.Algorithm)
	}
	if cfg.Auth.TokenTTL.Std() != 5*time.Minute {
		t.Errorf("token ttl = %v", cfg.Auth.TokenTTL.Std())
	}
}

func TestSetDefaults_PreservesExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Config{Mode: "passthrough"}
	cfg.Server.ListenAddr = "0.0.0.0:9999"
	cfg.SetDefaults()

	if cfg.Mode != "passthrough" {
		t.Errorf("mode = %q, want passthrough", cfg.Mode)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:9999" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aussie-gate.yaml")
	content := `
mode: passthrough
server:
  listen_addr: "0.0.0.0:8443"
  log_level: debug
proxy:
  request_timeout: PT45S
registry:
  store: sqlite
  sqlite_path: ` + filepath.Join(dir, "registry.db") + `
  routes_ttl: 1m
rate_limit:
  enabled: true
  algorithm: token_bucket
  http:
    requests_per_window: 100
    window_seconds: 60
    burst_capacity: 150
websocket:
  idle_timeout: PT5M
  max_connections: 500
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	viper.Reset()
	t.Cleanup(viper.Reset)
	InitViper(path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "passthrough" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:8443" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Proxy.RequestTimeout.Std() != 45*time.Second {
		t.Errorf("request timeout = %v", cfg.Proxy.RequestTimeout.Std())
	}
	if cfg.Registry.Store != "sqlite" {
		t.Errorf("store = %q", cfg.Registry.Store)
	}
	if cfg.RateLimit.HTTP.BurstCapacity != 150 {
		t.Errorf("burst = %d", cfg.RateLimit.HTTP.BurstCapacity)
	}
	if cfg.WebSocket.IdleTimeout.Std() != 5*time.Minute {
		t.Errorf("idle timeout = %v", cfg.WebSocket.IdleTimeout.Std())
	}
	if cfg.WebSocket.MaxConnections != 500 {
		t.Errorf("max connections = %d", cfg.WebSocket.MaxConnections)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("AUSSIE_GATE_SERVER_LISTEN_ADDR", "127.0.0.1:7777")
	t.Setenv("AUSSIE_GATE_RATE_LIMIT_ALGORITHM", "sliding_window")

	InitViper("")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:7777" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.RateLimit.Algorithm != "sliding_window" {
		t.Errorf("algorithm = %q", cfg.RateLimit.Algorithm)
	}
}
