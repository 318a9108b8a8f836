package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Aussie-Gate/Aussiegate/internal/adapter/outbound/memory"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/proxy"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/ratelimit"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/route"
)

func chatService() *registry.ServiceRegistration {
	return &registry.ServiceRegistration{
		ServiceID:         "chat",
		BaseURL:           "https://chat.internal",
		Version:           1,
		DefaultVisibility: registry.VisibilityPublic,
		Endpoints: []registry.EndpointConfig{
			{
				PathPattern:  "/ws/rooms/{room}",
				Methods:      route.MethodSet{"GET"},
				EndpointType: registry.EndpointWebSocket,
			},
			{
				PathPattern: "/v1/rooms",
				Methods:     route.MethodSet{"GET"},
			},
		},
		RegisteredAt: time.Unix(1700000000, 0),
	}
}

func newWSService(t *testing.T, opts pipelineOpts, services ...*registry.ServiceRegistration) *WebSocketService {
	t.Helper()
	gw, _ := newPipeline(t, opts, services...)
	return NewWebSocketService(gw, WebSocketConfig{
		IdleTimeout: time.Minute,
		MaxLifetime: time.Hour,
	})
}

func upgradeRequest(path string) *proxy.GatewayRequest {
	req := getRequest(path)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Sec-WebSocket-Version", "13")
	return req
}

func TestUpgrade_Authorized(t *testing.T) {
	t.Parallel()

	ws := newWSService(t, pipelineOpts{}, chatService())
	req := upgradeRequest("/ws/rooms/lobby")
	req.RawQuery = "since=0"

	authz, refusal := ws.Upgrade(context.Background(), req)
	if refusal != nil {
		t.Fatalf("refusal = %#v, want authorization", refusal)
	}
	// https base maps onto wss, the matched path and query carry over.
	if authz.BackendURI != "wss://chat.internal/ws/rooms/lobby?since=0" {
		t.Errorf("BackendURI = %q", authz.BackendURI)
	}
	if authz.ConnectionID == "" {
		t.Error("ConnectionID must be set")
	}
	if authz.Token != nil {
		t.Error("unauthenticated route should carry no token")
	}
}

func TestUpgrade_PlainHTTPScheme(t *testing.T) {
	t.Parallel()

	svc := chatService()
	svc.BaseURL = "http://chat.internal:8080"
	ws := newWSService(t, pipelineOpts{}, svc)

	authz, refusal := ws.Upgrade(context.Background(), upgradeRequest("/ws/rooms/lobby"))
	if refusal != nil {
		t.Fatalf("refusal = %#v", refusal)
	}
	if authz.BackendURI != "ws://chat.internal:8080/ws/rooms/lobby" {
		t.Errorf("BackendURI = %q", authz.BackendURI)
	}
}

func TestUpgrade_NotWebSocketEndpoint(t *testing.T) {
	t.Parallel()

	ws := newWSService(t, pipelineOpts{}, chatService())
	_, refusal := ws.Upgrade(context.Background(), upgradeRequest("/v1/rooms"))
	if _, ok := refusal.(proxy.NotWebSocket); !ok {
		t.Errorf("refusal = %#v, want NotWebSocket", refusal)
	}
}

func TestUpgrade_RouteNotFound(t *testing.T) {
	t.Parallel()

	ws := newWSService(t, pipelineOpts{}, chatService())
	_, refusal := ws.Upgrade(context.Background(), upgradeRequest("/ws/nowhere"))
	if _, ok := refusal.(proxy.RouteNotFound); !ok {
		t.Errorf("refusal = %#v, want RouteNotFound", refusal)
	}
}

func TestUpgrade_AuthRequired(t *testing.T) {
	t.Parallel()

	svc := chatService()
	svc.Endpoints[0].AuthRequired = boolPtr(true)
	svc.Endpoints[0].Audience = "chat-backend"
	ws := newWSService(t, pipelineOpts{}, svc)

	_, refusal := ws.Upgrade(context.Background(), upgradeRequest("/ws/rooms/lobby"))
	if _, ok := refusal.(proxy.Unauthorized); !ok {
		t.Fatalf("refusal = %#v, want Unauthorized", refusal)
	}

	req := upgradeRequest("/ws/rooms/lobby")
	req.Header.Set("Authorization", "Bearer client-token")
	authz, refusal := ws.Upgrade(context.Background(), req)
	if refusal != nil {
		t.Fatalf("refusal = %#v", refusal)
	}
	if authz.Token == nil || authz.Token.JWS != "minted.chat-backend" {
		t.Errorf("Token = %+v, want the re-issued token", authz.Token)
	}
}

func TestUpgrade_ConnectionRateLimited(t *testing.T) {
	t.Parallel()

	ws := newWSService(t, pipelineOpts{
		limiter: memory.NewRateLimiter(ratelimit.AlgorithmFixedWindow),
		platform: ratelimit.PlatformConfig{
			WebSocketConnection: ratelimit.Defaults{RequestsPerWindow: 1, WindowSeconds: 60, BurstCapacity: 1},
			WebSocketMessage:    ratelimit.Defaults{RequestsPerWindow: 100, WindowSeconds: 60, BurstCapacity: 100},
		},
	}, chatService())

	req := upgradeRequest("/ws/rooms/lobby")
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	if _, refusal := ws.Upgrade(context.Background(), req); refusal != nil {
		t.Fatalf("first upgrade refused: %#v", refusal)
	}
	_, refusal := ws.Upgrade(context.Background(), req)
	if _, ok := refusal.(proxy.RateLimited); !ok {
		t.Errorf("refusal = %#v, want RateLimited", refusal)
	}
}

func TestMessageAllowed_PerConnectionBucket(t *testing.T) {
	t.Parallel()

	limiter := memory.NewRateLimiter(ratelimit.AlgorithmFixedWindow)
	ws := newWSService(t, pipelineOpts{
		limiter: limiter,
		platform: ratelimit.PlatformConfig{
			WebSocketConnection: ratelimit.Defaults{RequestsPerWindow: 100, WindowSeconds: 60, BurstCapacity: 100},
			WebSocketMessage:    ratelimit.Defaults{RequestsPerWindow: 2, WindowSeconds: 60, BurstCapacity: 2},
		},
	}, chatService())

	ctx := context.Background()
	a, refusal := ws.Upgrade(ctx, upgradeRequest("/ws/rooms/lobby"))
	if refusal != nil {
		t.Fatalf("refusal = %#v", refusal)
	}
	b, refusal := ws.Upgrade(ctx, upgradeRequest("/ws/rooms/lobby"))
	if refusal != nil {
		t.Fatalf("refusal = %#v", refusal)
	}

	for i := 0; i < 2; i++ {
		if d := ws.MessageAllowed(ctx, a); !d.Allowed {
			t.Fatalf("message %d on session a should be allowed", i+1)
		}
	}
	if d := ws.MessageAllowed(ctx, a); d.Allowed {
		t.Error("third message on session a should be denied")
	}
	// Sessions do not share buckets.
	if d := ws.MessageAllowed(ctx, b); !d.Allowed {
		t.Error("session b has its own bucket")
	}

	// Disconnect cleanup frees the bucket namespace.
	ws.ReleaseConnection(ctx, a)
	if d := ws.MessageAllowed(ctx, a); !d.Allowed {
		t.Error("released session should start a fresh bucket")
	}
}

func TestUpgrade_PrivateEndpointAccess(t *testing.T) {
	t.Parallel()

	svc := chatService()
	svc.Endpoints[0].Visibility = registry.VisibilityPrivate
	ws := newWSService(t, pipelineOpts{}, svc)

	req := upgradeRequest("/ws/rooms/lobby")
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	_, refusal := ws.Upgrade(context.Background(), req)
	if _, ok := refusal.(proxy.AccessDenied); !ok {
		t.Errorf("refusal = %#v, want AccessDenied", refusal)
	}
}

func TestUpgrade_MethodMustBeGet(t *testing.T) {
	t.Parallel()

	ws := newWSService(t, pipelineOpts{}, chatService())
	req := upgradeRequest("/ws/rooms/lobby")
	req.Method = http.MethodPost
	_, refusal := ws.Upgrade(context.Background(), req)
	if _, ok := refusal.(proxy.RouteNotFound); !ok {
		t.Errorf("refusal = %#v, want RouteNotFound", refusal)
	}
}
