package cmd

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aussie-Gate/Aussiegate/internal/adapter/inbound/admin"
	httpadapter "github.com/Aussie-Gate/Aussiegate/internal/adapter/inbound/http"
	"github.com/Aussie-Gate/Aussiegate/internal/adapter/inbound/ws"
	"github.com/Aussie-Gate/Aussiegate/internal/adapter/outbound/httpclient"
	"github.com/Aussie-Gate/Aussiegate/internal/adapter/outbound/memory"
	redisadapter "github.com/Aussie-Gate/Aussiegate/internal/adapter/outbound/redis"
	"github.com/Aussie-Gate/Aussiegate/internal/adapter/outbound/sqlite"
	"github.com/Aussie-Gate/Aussiegate/internal/adapter/outbound/token"
	"github.com/Aussie-Gate/Aussiegate/internal/config"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/access"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/auth"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/proxy"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/ratelimit"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/revocation"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/source"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/validation"
	"github.com/Aussie-Gate/Aussiegate/internal/service"
	"github.com/Aussie-Gate/Aussiegate/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the Aussie Gate server.

The gateway listens on server.listen_addr and routes requests to
backend services registered in the service registry. Registrations
come from the admin API, an optional seed file, or a persistent
SQLite store.

Examples:
  # Start with config file settings
  aussie-gate serve

  # Start with a specific config file
  aussie-gate --config /path/to/config.yaml serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	if file := config.FileUsed(); file != "" {
		logger.Info("loaded config", "file", file)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	return run(ctx, cfg, logger)
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTracing, err := tracing.Init("aussie-gate", Version, cfg.Tracing.Enabled)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// Registration store.
	var repo registry.Repository
	switch cfg.Registry.Store {
	case "sqlite":
		store, err := sqlite.Open(cfg.Registry.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		defer store.Close()
		repo = store
		logger.Info("using sqlite registration store", "path", cfg.Registry.SQLitePath)
	default:
		repo = memory.NewRegistrationStore()
	}

	if cfg.Registry.SeedFile != "" {
		if err := seedRegistrations(ctx, repo, cfg.Registry.SeedFile, logger); err != nil {
			return err
		}
	}

	authorizer := auth.NewServiceAuthorizer(cfg.Auth.AdminPermission, logger)
	reg := registry.New(repo, authorizer, registry.Config{
		ServiceRoutesTTL: cfg.Registry.RoutesTTL.Std(),
		JitterFactor:     cfg.Registry.JitterFactor,
	}, logger)

	// Shared Redis client for the rate limiter and revocation store.
	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		algorithm := ratelimit.Algorithm(cfg.RateLimit.Algorithm)
		switch cfg.RateLimit.Backend {
		case "redis":
			limiter = redisadapter.NewRateLimiter(redisClient, algorithm)
			logger.Info("using redis rate limiter", "algorithm", algorithm, "addr", cfg.Redis.Addr)
		default:
			mem := memory.NewRateLimiterWithConfig(algorithm,
				cfg.RateLimit.CleanupInterval.Std(), cfg.RateLimit.MaxIdle.Std())
			mem.StartCleanup(ctx)
			limiter = mem
			logger.Info("using in-memory rate limiter", "algorithm", algorithm)
		}
	}

	routeAuth, err := buildRouteAuth(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}

	var headerBuilder proxy.ForwardedHeaderBuilder = proxy.RFC7239Builder{}
	if cfg.Proxy.ForwardedStyle == "legacy" {
		headerBuilder = proxy.LegacyForwardedBuilder{}
	}

	mode := service.ModeGateway
	if cfg.Mode == "passthrough" {
		mode = service.ModePassThrough
	}

	gateway := service.NewGatewayService(
		mode,
		source.NewExtractor(source.NewTrustedProxies(cfg.TrustedProxies.Enabled, cfg.TrustedProxies.Proxies, logger)),
		validation.NewSizeValidator(validation.Limits{
			MaxBodySize:         cfg.Limits.MaxBodyBytes,
			MaxHeaderSize:       cfg.Limits.MaxHeaderBytes,
			MaxTotalHeadersSize: cfg.Limits.MaxTotalHeaderBytes,
		}),
		reg,
		access.NewEvaluator(access.Config{
			AllowedIPs:        cfg.Access.AllowedIPs,
			AllowedDomains:    cfg.Access.AllowedDomains,
			AllowedSubdomains: cfg.Access.AllowedSubdomains,
		}, logger),
		routeAuth,
		ratelimit.NewResolver(platformLimits(cfg)),
		limiter,
		proxy.NewPreparer(headerBuilder),
		httpclient.NewForwarder(httpclient.Config{
			RequestTimeout:      cfg.Proxy.RequestTimeout.Std(),
			MaxResponseBytes:    cfg.Proxy.MaxResponseBytes,
			MaxIdleConnsPerHost: cfg.Proxy.MaxIdleConnsPerHost,
		}, logger),
		logger,
	)

	promRegistry := httpadapter.DefaultRegistry()
	metrics := httpadapter.NewMetrics(promRegistry)
	metrics.RegisteredServices.Set(float64(len(reg.Services())))

	wsService := service.NewWebSocketService(gateway, service.WebSocketConfig{
		IdleTimeout:    cfg.WebSocket.IdleTimeout.Std(),
		MaxLifetime:    cfg.WebSocket.MaxLifetime.Std(),
		PingInterval:   cfg.WebSocket.PingInterval.Std(),
		PingTimeout:    cfg.WebSocket.PingTimeout.Std(),
		MaxConnections: cfg.WebSocket.MaxConnections,
	})
	wsHandler := ws.NewHandler(wsService, metrics.ActiveWebSockets, logger)
	gatewayHandler := httpadapter.NewGatewayHandler(gateway, wsHandler, metrics, logger)

	opts := []httpadapter.Option{
		httpadapter.WithAddr(cfg.Server.ListenAddr),
		httpadapter.WithLogger(logger),
		httpadapter.WithHealthChecker(httpadapter.NewHealthChecker(repo, limiter, Version)),
	}
	if cfg.TLSEnabled() {
		opts = append(opts, httpadapter.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	if cfg.Admin.Enabled {
		keyStore := memory.NewActorKeyStore()
		for _, key := range cfg.Admin.APIKeys {
			keyStore.AddKey(&auth.ActorKey{
				Hash:        key.Hash,
				ActorID:     key.ActorID,
				Permissions: key.Permissions,
			})
		}
		adminHandler := admin.NewHandler(reg, auth.NewAPIKeyService(keyStore), logger)
		opts = append(opts, httpadapter.WithAdminHandler(adminHandler.Routes()))
		logger.Info("admin API enabled", "keys", len(cfg.Admin.APIKeys))
	}

	transport := httpadapter.NewTransport(gatewayHandler, metrics, promRegistry, opts...)
	logger.Info("gateway starting",
		"addr", cfg.Server.ListenAddr,
		"mode", cfg.Mode,
		"auth", cfg.AuthEnabled(),
		"rate_limit", cfg.RateLimit.Enabled)
	if err := transport.Start(ctx); err != nil {
		return err
	}

	logger.Info("aussie-gate stopped")
	return nil
}

// buildRouteAuth assembles token validation, re-issuance, and
// revocation checking. With no signing seed configured, routes that
// require auth reject every request; everything else passes through.
func buildRouteAuth(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, logger *slog.Logger) (*auth.RouteAuthService, error) {
	if !cfg.AuthEnabled() {
		return auth.NewRouteAuthService(nil, nil, nil, auth.RouteAuthConfig{}, logger), nil
	}

	seed, err := base64.StdEncoding.DecodeString(cfg.Auth.SigningKeySeed)
	if err != nil {
		return nil, fmt.Errorf("decode signing key seed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)

	issuer := token.NewIssuer(priv, cfg.Auth.KeyID, cfg.Auth.Issuer, cfg.Auth.TokenTTL.Std())
	validator := token.NewValidator(priv.Public().(ed25519.PublicKey), token.ValidatorConfig{
		Issuer: cfg.Auth.Issuer,
		Leeway: cfg.Auth.Leeway.Std(),
	})

	var checker auth.RevocationChecker = notRevoked{}
	if cfg.Revocation.Enabled {
		store := redisadapter.NewRevocationStore(redisClient)
		bus := redisadapter.NewEventBus(redisClient, logger)
		revCfg := revocation.Config{
			CheckThreshold:        cfg.Revocation.CheckThreshold.Std(),
			UserRevocationEnabled: cfg.Revocation.UserRevocationEnabled,
			FailClosed:            cfg.Revocation.FailClosed,
			CacheTTL:              cfg.Revocation.CacheTTL.Std(),
			CacheMaxEntries:       cfg.Revocation.CacheMaxEntries,
			RebuildInterval:       cfg.Revocation.RebuildInterval.Std(),
			ExpectedRevocations:   cfg.Revocation.ExpectedRevocations,
		}
		revChecker := revocation.NewChecker(store, revCfg, logger)
		revoker := revocation.NewRevoker(store, bus, revChecker, logger)
		if err := revoker.Start(ctx); err != nil {
			return nil, fmt.Errorf("start revocation: %w", err)
		}
		checker = revChecker
		logger.Info("token revocation enabled",
			"fail_closed", cfg.Revocation.FailClosed,
			"user_revocation", cfg.Revocation.UserRevocationEnabled)
	}

	return auth.NewRouteAuthService(validator, issuer, checker, auth.RouteAuthConfig{
		ForwardedClaims: cfg.Auth.ForwardedClaims,
	}, logger), nil
}

// platformLimits maps the rate limit section of the config onto the
// resolver's platform defaults.
func platformLimits(cfg *config.Config) ratelimit.PlatformConfig {
	return ratelimit.PlatformConfig{
		HTTP: ratelimit.Defaults{
			RequestsPerWindow: cfg.RateLimit.HTTP.RequestsPerWindow,
			WindowSeconds:     cfg.RateLimit.HTTP.WindowSeconds,
			BurstCapacity:     cfg.RateLimit.HTTP.BurstCapacity,
		},
		WebSocketConnection: ratelimit.Defaults{
			RequestsPerWindow: cfg.RateLimit.WebSocketConnection.RequestsPerWindow,
			WindowSeconds:     cfg.RateLimit.WebSocketConnection.WindowSeconds,
			BurstCapacity:     cfg.RateLimit.WebSocketConnection.BurstCapacity,
		},
		WebSocketMessage: ratelimit.Defaults{
			RequestsPerWindow: cfg.RateLimit.WebSocketMessage.RequestsPerWindow,
			WindowSeconds:     cfg.RateLimit.WebSocketMessage.WindowSeconds,
			BurstCapacity:     cfg.RateLimit.WebSocketMessage.BurstCapacity,
		},
		MaxRequestsPerWindow: cfg.RateLimit.MaxRequestsPerWindow,
	}
}

// notRevoked satisfies the revocation port when no revocation backend
// is configured.
type notRevoked struct{}

func (notRevoked) IsRevoked(context.Context, *auth.Claims) (bool, error) {
	return false, nil
}

// seedRegistrations loads service registrations from a YAML file into
// the repository at boot. Seeding bypasses the version check so the
// same file can be applied on every restart.
func seedRegistrations(ctx context.Context, repo registry.Repository, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed struct {
		Services []*registry.ServiceRegistration `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for _, svc := range seed.Services {
		if err := registry.ValidateRegistration(svc); err != nil {
			return fmt.Errorf("seed file %s: service %q: %w", path, svc.ServiceID, err)
		}
		if err := repo.Save(ctx, svc); err != nil {
			return fmt.Errorf("seed service %q: %w", svc.ServiceID, err)
		}
	}
	logger.Info("seeded service registrations", "file", path, "count", len(seed.Services))
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
