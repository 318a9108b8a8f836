package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Aussie-Gate/Aussiegate/internal/adapter/outbound/memory"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/access"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/auth"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/proxy"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/ratelimit"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/route"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/source"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/validation"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func boolPtr(v bool) *bool { return &v }

func int64Ptr(v int64) *int64 { return &v }

type allowAll struct{}

func (allowAll) CanCreateService([]string) bool { return true }
func (allowAll) IsAuthorizedForService(*registry.ServiceRegistration, registry.Operation, []string) bool {
	return true
}

type fakeProxyClient struct {
	mu       sync.Mutex
	prepared *proxy.PreparedProxyRequest
	resp     *proxy.ProxyResponse
	err      error
}

func (c *fakeProxyClient) Forward(_ context.Context, prepared *proxy.PreparedProxyRequest) (*proxy.ProxyResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepared = prepared
	if c.err != nil {
		return nil, c.err
	}
	if c.resp != nil {
		return c.resp, nil
	}
	return &proxy.ProxyResponse{Status: http.StatusOK, Header: http.Header{}, Body: []byte("ok")}, nil
}

func (c *fakeProxyClient) lastPrepared() *proxy.PreparedProxyRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prepared
}

type stubValidator struct {
	claims *auth.Claims
	err    error
}

func (s stubValidator) Validate(context.Context, string) (*auth.Claims, error) {
	return s.claims, s.err
}

type stubIssuer struct{}

func (stubIssuer) Issue(_ context.Context, req auth.IssueRequest) (*auth.AussieToken, error) {
	return &auth.AussieToken{JWS: "minted." + req.Audience, Subject: req.Subject}, nil
}

type stubRevocation struct {
	revoked bool
	err     error
}

func (s stubRevocation) IsRevoked(context.Context, *auth.Claims) (bool, error) {
	return s.revoked, s.err
}

type failingLimiter struct{}

func (failingLimiter) CheckAndConsume(context.Context, ratelimit.Key, ratelimit.EffectiveLimit) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("limiter backend down")
}
func (failingLimiter) GetStatus(context.Context, ratelimit.Key, ratelimit.EffectiveLimit) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("limiter backend down")
}
func (failingLimiter) Reset(context.Context, ratelimit.Key) error            { return nil }
func (failingLimiter) RemoveKeysMatching(context.Context, string) error      { return nil }
func (failingLimiter) Enabled() bool                                         { return true }

// pipelineOpts collects the collaborators a test wants to vary; zero
// values get working defaults.
type pipelineOpts struct {
	mode      Mode
	limiter   ratelimit.Limiter
	client    *fakeProxyClient
	access    access.Config
	limits    validation.Limits
	routeAuth *auth.RouteAuthService
	platform  ratelimit.PlatformConfig
}

func newPipeline(t *testing.T, opts pipelineOpts, services ...*registry.ServiceRegistration) (*GatewayService, *fakeProxyClient) {
	t.Helper()
	logger := discardLogger()

	store := memory.NewRegistrationStore()
	for _, svc := range services {
		if err := store.Save(context.Background(), svc); err != nil {
			t.Fatalf("seed service %s: %v", svc.ServiceID, err)
		}
	}
	reg := registry.New(store, allowAll{}, registry.Config{ServiceRoutesTTL: time.Minute}, logger)

	if opts.mode == "" {
		opts.mode = ModeGateway
	}
	if opts.client == nil {
		opts.client = &fakeProxyClient{}
	}
	if opts.routeAuth == nil {
		opts.routeAuth = auth.NewRouteAuthService(
			stubValidator{claims: &auth.Claims{Subject: "user-1", Issuer: "idp"}},
			stubIssuer{}, stubRevocation{}, auth.RouteAuthConfig{}, logger)
	}
	if opts.platform == (ratelimit.PlatformConfig{}) {
		opts.platform = ratelimit.PlatformConfig{
			HTTP: ratelimit.Defaults{RequestsPerWindow: 100, WindowSeconds: 60, BurstCapacity: 100},
		}
	}

	gw := NewGatewayService(
		opts.mode,
		source.NewExtractor(source.NewTrustedProxies(false, nil, logger)),
		validation.NewSizeValidator(opts.limits),
		reg,
		access.NewEvaluator(opts.access, logger),
		opts.routeAuth,
		ratelimit.NewResolver(opts.platform),
		opts.limiter,
		proxy.NewPreparer(proxy.RFC7239Builder{}),
		opts.client,
		logger,
	)
	return gw, opts.client
}

func orderService() *registry.ServiceRegistration {
	return &registry.ServiceRegistration{
		ServiceID:         "orders",
		BaseURL:           "http://orders.internal:9000",
		Version:           1,
		DefaultVisibility: registry.VisibilityPublic,
		Endpoints: []registry.EndpointConfig{
			{
				PathPattern:         "/v1/orders/{id}",
				Methods:             route.MethodSet{"GET"},
				Visibility:          registry.VisibilityPublic,
				PathRewriteTemplate: "/internal/orders/{id}",
			},
		},
		RegisteredAt: time.Unix(1700000000, 0),
	}
}

func getRequest(path string) *proxy.GatewayRequest {
	return &proxy.GatewayRequest{
		Method:     http.MethodGet,
		Path:       path,
		Header:     http.Header{},
		Scheme:     "http",
		Host:       "gw.example.com",
		RemoteAddr: "203.0.113.9:51000",
	}
}

func TestHandle_ForwardsMatchedRoute(t *testing.T) {
	t.Parallel()

	gw, client := newPipeline(t, pipelineOpts{}, orderService())

	req := getRequest("/v1/orders/42")
	req.RawQuery = "expand=lines"
	result := gw.Handle(context.Background(), req)

	success, ok := result.(proxy.Success)
	if !ok {
		t.Fatalf("result = %#v, want Success", result)
	}
	if success.Status != http.StatusOK || string(success.Body) != "ok" {
		t.Errorf("Success = %d %q", success.Status, success.Body)
	}

	prepared := client.lastPrepared()
	if prepared == nil {
		t.Fatal("nothing forwarded")
	}
	// Path variables flow through the rewrite template and the query
	// survives.
	want := "http://orders.internal:9000/internal/orders/42?expand=lines"
	if prepared.TargetURI != want {
		t.Errorf("TargetURI = %q, want %q", prepared.TargetURI, want)
	}
	if prepared.Method != http.MethodGet {
		t.Errorf("Method = %q", prepared.Method)
	}
	if got := prepared.Header.Get("Host"); got != "orders.internal:9000" {
		t.Errorf("Host = %q", got)
	}
}

func TestHandle_RouteNotFound(t *testing.T) {
	t.Parallel()

	gw, _ := newPipeline(t, pipelineOpts{}, orderService())

	if _, ok := gw.Handle(context.Background(), getRequest("/v1/unknown")).(proxy.RouteNotFound); !ok {
		t.Error("unmatched path should be RouteNotFound")
	}

	// Matching path, wrong method.
	req := getRequest("/v1/orders/42")
	req.Method = http.MethodDelete
	if _, ok := gw.Handle(context.Background(), req).(proxy.RouteNotFound); !ok {
		t.Error("method mismatch should be RouteNotFound")
	}
}

func TestHandle_SizeViolation(t *testing.T) {
	t.Parallel()

	gw, client := newPipeline(t, pipelineOpts{
		limits: validation.Limits{MaxBodySize: 10},
	}, orderService())

	req := getRequest("/v1/orders/42")
	req.Body = []byte(strings.Repeat("x", 11))
	result := gw.Handle(context.Background(), req)

	invalid, ok := result.(proxy.Invalid)
	if !ok {
		t.Fatalf("result = %#v, want Invalid", result)
	}
	if invalid.SuggestedStatus != http.StatusRequestEntityTooLarge {
		t.Errorf("SuggestedStatus = %d, want 413", invalid.SuggestedStatus)
	}
	if client.lastPrepared() != nil {
		t.Error("oversized request must not reach the backend")
	}
}

func TestHandle_PrivateEndpointAccess(t *testing.T) {
	t.Parallel()

	svc := orderService()
	svc.Endpoints[0].Visibility = registry.VisibilityPrivate
	gw, client := newPipeline(t, pipelineOpts{
		access: access.Config{AllowedIPs: []string{"10.0.0.0/8"}},
	}, svc)

	req := getRequest("/v1/orders/42")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	if _, ok := gw.Handle(context.Background(), req).(proxy.AccessDenied); !ok {
		t.Error("source outside the allow list should be AccessDenied")
	}
	if client.lastPrepared() != nil {
		t.Error("denied request must not reach the backend")
	}

	req = getRequest("/v1/orders/42")
	req.Header.Set("X-Forwarded-For", "10.1.2.3")
	if _, ok := gw.Handle(context.Background(), req).(proxy.Success); !ok {
		t.Error("allow-listed source should pass")
	}
}

func TestHandle_AuthRequired(t *testing.T) {
	t.Parallel()

	authedService := func() *registry.ServiceRegistration {
		svc := orderService()
		svc.Endpoints[0].AuthRequired = boolPtr(true)
		svc.Endpoints[0].Audience = "orders-backend"
		return svc
	}

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()
		gw, _ := newPipeline(t, pipelineOpts{}, authedService())
		result := gw.Handle(context.Background(), getRequest("/v1/orders/42"))
		if _, ok := result.(proxy.Unauthorized); !ok {
			t.Errorf("result = %#v, want Unauthorized", result)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		t.Parallel()
		routeAuth := auth.NewRouteAuthService(
			stubValidator{err: auth.ErrTokenInvalid},
			stubIssuer{}, stubRevocation{}, auth.RouteAuthConfig{}, discardLogger())
		gw, _ := newPipeline(t, pipelineOpts{routeAuth: routeAuth}, authedService())
		req := getRequest("/v1/orders/42")
		req.Header.Set("Authorization", "Bearer garbage")
		if _, ok := gw.Handle(context.Background(), req).(proxy.Unauthorized); !ok {
			t.Error("invalid token should be Unauthorized")
		}
	})

	t.Run("revoked token", func(t *testing.T) {
		t.Parallel()
		routeAuth := auth.NewRouteAuthService(
			stubValidator{claims: &auth.Claims{Subject: "user-1"}},
			stubIssuer{}, stubRevocation{revoked: true}, auth.RouteAuthConfig{}, discardLogger())
		gw, _ := newPipeline(t, pipelineOpts{routeAuth: routeAuth}, authedService())
		req := getRequest("/v1/orders/42")
		req.Header.Set("Authorization", "Bearer revoked")
		if _, ok := gw.Handle(context.Background(), req).(proxy.Unauthorized); !ok {
			t.Error("revoked token should be Unauthorized")
		}
	})

	t.Run("valid token is re-issued toward the backend", func(t *testing.T) {
		t.Parallel()
		gw, client := newPipeline(t, pipelineOpts{}, authedService())
		req := getRequest("/v1/orders/42")
		req.Header.Set("Authorization", "Bearer client-token")
		if _, ok := gw.Handle(context.Background(), req).(proxy.Success); !ok {
			t.Fatal("valid token should pass")
		}
		prepared := client.lastPrepared()
		if got := prepared.Header.Get("Authorization"); got != "Bearer minted.orders-backend" {
			t.Errorf("forwarded Authorization = %q, want the re-issued token", got)
		}
	})
}

func TestHandle_RateLimited(t *testing.T) {
	t.Parallel()

	gw, _ := newPipeline(t, pipelineOpts{
		limiter: memory.NewRateLimiter(ratelimit.AlgorithmFixedWindow),
		platform: ratelimit.PlatformConfig{
			HTTP: ratelimit.Defaults{RequestsPerWindow: 2, WindowSeconds: 60, BurstCapacity: 2},
		},
	}, orderService())

	req := getRequest("/v1/orders/42")
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	for i := 0; i < 2; i++ {
		if _, ok := gw.Handle(context.Background(), req).(proxy.Success); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	result := gw.Handle(context.Background(), req)
	limited, ok := result.(proxy.RateLimited)
	if !ok {
		t.Fatalf("result = %#v, want RateLimited", result)
	}
	if limited.Decision.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", limited.Decision.RetryAfter)
	}

	// Another client has its own bucket.
	other := getRequest("/v1/orders/42")
	other.Header.Set("X-Forwarded-For", "198.51.100.8")
	if _, ok := gw.Handle(context.Background(), other).(proxy.Success); !ok {
		t.Error("a different client should not share the exhausted bucket")
	}
}

func TestHandle_EndpointScopedRateLimit(t *testing.T) {
	t.Parallel()

	svc := orderService()
	svc.Endpoints = append(svc.Endpoints, registry.EndpointConfig{
		PathPattern: "/v1/reports",
		Methods:     route.MethodSet{"GET"},
		Visibility:  registry.VisibilityPublic,
		RateLimitOverride: &registry.EndpointRateLimitConfig{
			RequestsPerWindow: int64Ptr(1),
			WindowSeconds:     int64Ptr(60),
			BurstCapacity:     int64Ptr(1),
		},
	})

	gw, _ := newPipeline(t, pipelineOpts{
		limiter: memory.NewRateLimiter(ratelimit.AlgorithmFixedWindow),
	}, svc)

	reports := getRequest("/v1/reports")
	if _, ok := gw.Handle(context.Background(), reports).(proxy.Success); !ok {
		t.Fatal("first report request should be allowed")
	}
	if _, ok := gw.Handle(context.Background(), reports).(proxy.RateLimited); !ok {
		t.Fatal("override of 1 per window should reject the second report request")
	}

	// The exhausted override bucket must not bleed into the service's
	// other endpoints for the same client.
	for i := 0; i < 3; i++ {
		if _, ok := gw.Handle(context.Background(), getRequest("/v1/orders/42")).(proxy.Success); !ok {
			t.Fatalf("order request %d should account in its own bucket", i+1)
		}
	}
}

func TestHandle_LimiterFailureAllows(t *testing.T) {
	t.Parallel()

	gw, _ := newPipeline(t, pipelineOpts{limiter: failingLimiter{}}, orderService())
	if _, ok := gw.Handle(context.Background(), getRequest("/v1/orders/42")).(proxy.Success); !ok {
		t.Error("limiter outage should fail open")
	}
}

func TestHandle_UpstreamOutcomes(t *testing.T) {
	t.Parallel()

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		client := &fakeProxyClient{err: proxy.ErrUpstreamTimeout}
		gw, _ := newPipeline(t, pipelineOpts{client: client}, orderService())
		if res := gw.Handle(context.Background(), getRequest("/v1/orders/42")); res != (proxy.GatewayTimeout{}) {
			t.Errorf("result = %#v, want GatewayTimeout", res)
		}
	})

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()
		client := &fakeProxyClient{err: errors.New("connection refused")}
		gw, _ := newPipeline(t, pipelineOpts{client: client}, orderService())
		if _, ok := gw.Handle(context.Background(), getRequest("/v1/orders/42")).(proxy.UpstreamError); !ok {
			t.Error("transport error should be UpstreamError")
		}
	})
}

func TestHandle_PassThrough(t *testing.T) {
	t.Parallel()

	t.Run("reserved prefix", func(t *testing.T) {
		t.Parallel()
		gw, _ := newPipeline(t, pipelineOpts{mode: ModePassThrough}, orderService())
		for _, path := range []string{"/admin/anything", "/Gateway/x", "/q"} {
			if _, ok := gw.Handle(context.Background(), getRequest(path)).(proxy.ReservedPath); !ok {
				t.Errorf("%s should be ReservedPath", path)
			}
		}
	})

	t.Run("unknown service", func(t *testing.T) {
		t.Parallel()
		gw, _ := newPipeline(t, pipelineOpts{mode: ModePassThrough}, orderService())
		result := gw.Handle(context.Background(), getRequest("/billing/v1/invoices"))
		nf, ok := result.(proxy.ServiceNotFound)
		if !ok {
			t.Fatalf("result = %#v, want ServiceNotFound", result)
		}
		if nf.ServiceID != "billing" {
			t.Errorf("ServiceID = %q", nf.ServiceID)
		}
	})

	t.Run("endpoint match inside the service", func(t *testing.T) {
		t.Parallel()
		gw, client := newPipeline(t, pipelineOpts{mode: ModePassThrough}, orderService())
		result := gw.Handle(context.Background(), getRequest("/orders/v1/orders/42"))
		if _, ok := result.(proxy.Success); !ok {
			t.Fatalf("result = %#v, want Success", result)
		}
		want := "http://orders.internal:9000/internal/orders/42"
		if got := client.lastPrepared().TargetURI; got != want {
			t.Errorf("TargetURI = %q, want %q", got, want)
		}
	})

	t.Run("fallback forwards the remainder", func(t *testing.T) {
		t.Parallel()
		gw, client := newPipeline(t, pipelineOpts{mode: ModePassThrough}, orderService())
		result := gw.Handle(context.Background(), getRequest("/orders/healthz"))
		if _, ok := result.(proxy.Success); !ok {
			t.Fatalf("result = %#v, want Success", result)
		}
		want := "http://orders.internal:9000/healthz"
		if got := client.lastPrepared().TargetURI; got != want {
			t.Errorf("TargetURI = %q, want %q", got, want)
		}
	})
}
