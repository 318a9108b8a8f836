package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ed25519SeedLen is the decoded length a signing key seed must have.
const ed25519SeedLen = 32

// Validate runs struct-tag validation plus the cross-field rules the
// tags cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateTLS(); err != nil {
		return err
	}
	if err := c.validateStores(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateLimitDefaults(); err != nil {
		return err
	}
	return nil
}

// validateTLS requires cert and key together.
func (c *Config) validateTLS() error {
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return errors.New("server: tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

// validateStores checks backend selections against their settings.
func (c *Config) validateStores() error {
	if c.Registry.Store == "sqlite" && c.Registry.SQLitePath == "" {
		return errors.New("registry: sqlite store requires sqlite_path")
	}
	if c.RateLimit.Enabled && c.RateLimit.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("rate_limit: redis backend requires redis.addr")
	}
	if c.Revocation.Enabled && c.Redis.Addr == "" {
		return errors.New("revocation: requires redis.addr")
	}
	return nil
}

// validateAuth checks the signing key seed decodes to an Ed25519 seed.
func (c *Config) validateAuth() error {
	if c.Auth.SigningKeySeed == "" {
		if c.Revocation.Enabled {
			return errors.New("revocation: requires auth.signing_key_seed")
		}
		return nil
	}
	seed, err := base64.StdEncoding.DecodeString(c.Auth.SigningKeySeed)
	if err != nil {
		return fmt.Errorf("auth: signing_key_seed is not valid base64: %w", err)
	}
	if len(seed) != ed25519SeedLen {
		return fmt.Errorf("auth: signing_key_seed must decode to %d bytes, got %d", ed25519SeedLen, len(seed))
	}
	return nil
}

// validateLimitDefaults enforces burst >= rate on every configured
// platform default.
func (c *Config) validateLimitDefaults() error {
	for _, entry := range []struct {
		name string
		def  LimitDefaults
	}{
		{"http", c.RateLimit.HTTP},
		{"websocket_connection", c.RateLimit.WebSocketConnection},
		{"websocket_message", c.RateLimit.WebSocketMessage},
	} {
		if entry.def.BurstCapacity != 0 && entry.def.BurstCapacity < entry.def.RequestsPerWindow {
			return fmt.Errorf("rate_limit.%s: burst_capacity must be >= requests_per_window", entry.name)
		}
		if entry.def.RequestsPerWindow > 0 && entry.def.WindowSeconds == 0 {
			return fmt.Errorf("rate_limit.%s: requests_per_window requires window_seconds", entry.name)
		}
	}
	return nil
}

// formatValidationErrors turns validator errors into one readable
// message per failing field.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatSingleValidationError(e))
	}
	return errors.New(strings.Join(messages, "; "))
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
