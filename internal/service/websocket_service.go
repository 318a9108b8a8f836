package service

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/auth"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/proxy"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/ratelimit"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/route"
)

// WebSocketConfig tunes session lifecycle enforcement. Zero durations
// disable the corresponding check.
type WebSocketConfig struct {
	// IdleTimeout closes sessions with no traffic in either direction.
	IdleTimeout time.Duration
	// MaxLifetime is a hard session cap regardless of activity.
	MaxLifetime time.Duration
	// PingInterval enables client liveness probing when positive.
	PingInterval time.Duration
	// PingTimeout is how long to wait for a pong after a ping.
	PingTimeout time.Duration
	// MaxConnections caps concurrent sessions per instance. Zero means
	// unlimited.
	MaxConnections int
}

// WebSocketAuthorization is a granted upgrade: where to connect, the
// token to present upstream, and the per-connection message bucket.
type WebSocketAuthorization struct {
	// BackendURI is the ws(s) URI of the upstream endpoint.
	BackendURI string
	// Token is the re-issued backend token, nil when the route required
	// no authentication.
	Token *auth.AussieToken
	// Match is the resolved route.
	Match *registry.RouteMatch
	// ConnectionID uniquely identifies this session; message buckets are
	// keyed under it so disconnect cleanup stays scoped.
	ConnectionID string

	messageKey   ratelimit.Key
	messageLimit ratelimit.EffectiveLimit
}

// WebSocketService runs the upgrade decision pipeline: the same source,
// size, route, access, auth, and rate-limit chain as the HTTP pipeline,
// terminating in an upgrade authorization instead of a forward.
type WebSocketService struct {
	gw  *GatewayService
	cfg WebSocketConfig
}

// NewWebSocketService creates a WebSocketService sharing the HTTP
// pipeline's collaborators.
func NewWebSocketService(gw *GatewayService, cfg WebSocketConfig) *WebSocketService {
	return &WebSocketService{gw: gw, cfg: cfg}
}

// Config exposes the session lifecycle settings to the relay adapter.
func (s *WebSocketService) Config() WebSocketConfig { return s.cfg }

// Upgrade decides one upgrade request. Exactly one return value is
// non-nil: an authorization, or the refusal to render.
func (s *WebSocketService) Upgrade(ctx context.Context, req *proxy.GatewayRequest) (*WebSocketAuthorization, proxy.GatewayResult) {
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = s.gw.logger
	}

	req.Source = s.gw.extractor.Extract(req.Header, req.RemoteAddr, req.Host)
	req.Path = route.NormalizePath(req.Path)

	if violation := s.gw.sizes.Validate(req.Header, int64(len(req.Body))); violation != nil {
		return nil, proxy.Invalid{Reason: violation.Reason, SuggestedStatus: violation.SuggestedStatus}
	}

	match, refusal := s.gw.resolveRoute(ctx, req)
	if refusal != nil {
		return nil, refusal
	}
	if match.Endpoint == nil || match.Endpoint.EndpointType != registry.EndpointWebSocket {
		return nil, proxy.NotWebSocket{Path: req.Path}
	}

	visibility := match.Visibility(req.Method)
	if !s.gw.access.Allowed(req.Source, visibility, match.Service) {
		return nil, proxy.AccessDenied{Reason: "source not allowed for private endpoint"}
	}

	authResult := s.gw.routeAuth.Authenticate(ctx, req.Header.Get("Authorization"), match)
	switch authResult.Kind {
	case auth.ResultUnauthorized:
		return nil, proxy.Unauthorized{Reason: authResult.Reason}
	case auth.ResultForbidden:
		return nil, proxy.Forbidden{Reason: authResult.Reason}
	}

	if refusal := s.checkConnectionLimit(ctx, req, match, logger); refusal != nil {
		return nil, refusal
	}

	backendURI, err := websocketBackendURI(match.Service.BaseURL, match.TargetPath, req.RawQuery)
	if err != nil {
		logger.Error("backend uri derivation failed", "error", err, "service_id", match.Service.ServiceID)
		return nil, proxy.UpstreamError{Message: "invalid upstream target"}
	}

	connectionID := uuid.NewString()
	return &WebSocketAuthorization{
		BackendURI:   backendURI,
		Token:        authResult.Token,
		Match:        match,
		ConnectionID: connectionID,
		messageKey: ratelimit.Key{
			Type:      ratelimit.KeyTypeWSMessage,
			ClientID:  connectionID,
			ServiceID: match.Service.ServiceID,
		},
		messageLimit: s.gw.resolver.Resolve(ratelimit.KeyTypeWSMessage, match.Service, match.Endpoint),
	}, nil
}

// MessageAllowed consumes one unit from the session's message bucket.
// Limiter outages fail open, same as the HTTP pipeline.
func (s *WebSocketService) MessageAllowed(ctx context.Context, authz *WebSocketAuthorization) ratelimit.Decision {
	if s.gw.limiter == nil || !s.gw.limiter.Enabled() {
		return ratelimit.Decision{Allowed: true}
	}
	decision, err := s.gw.limiter.CheckAndConsume(ctx, authz.messageKey, authz.messageLimit)
	if err != nil {
		s.gw.logger.Warn("message rate limit check failed, allowing",
			"key", authz.messageKey.String(), "error", err)
		return ratelimit.Decision{Allowed: true}
	}
	return decision
}

// ReleaseConnection drops the session's message buckets on disconnect.
func (s *WebSocketService) ReleaseConnection(ctx context.Context, authz *WebSocketAuthorization) {
	if s.gw.limiter == nil || !s.gw.limiter.Enabled() {
		return
	}
	if err := s.gw.limiter.RemoveKeysMatching(ctx, authz.messageKey.ConnectionPrefix()); err != nil {
		s.gw.logger.Warn("message bucket cleanup failed",
			"connection_id", authz.ConnectionID, "error", err)
	}
}

// checkConnectionLimit accounts upgrade attempts against the
// per-client connection bucket.
func (s *WebSocketService) checkConnectionLimit(ctx context.Context, req *proxy.GatewayRequest, match *registry.RouteMatch, logger *slog.Logger) proxy.GatewayResult {
	if s.gw.limiter == nil || !s.gw.limiter.Enabled() {
		return nil
	}
	limit := s.gw.resolver.Resolve(ratelimit.KeyTypeWSConnection, match.Service, match.Endpoint)
	key := ratelimit.Key{
		Type:       ratelimit.KeyTypeWSConnection,
		ClientID:   req.Source.IP,
		ServiceID:  match.Service.ServiceID,
		EndpointID: ratelimit.EndpointScope(match.Endpoint),
	}
	decision, err := s.gw.limiter.CheckAndConsume(ctx, key, limit)
	if err != nil {
		logger.Warn("connection rate limit check failed, allowing upgrade", "key", key.String(), "error", err)
		return nil
	}
	if !decision.Allowed {
		return proxy.RateLimited{Decision: decision}
	}
	return nil
}

// websocketBackendURI maps the service base URL onto the ws scheme and
// joins the rewritten path, carrying the query through.
func websocketBackendURI(baseURL, targetPath, rawQuery string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	}

	joined := strings.TrimSuffix(base.Path, "/")
	if !strings.HasPrefix(targetPath, "/") {
		targetPath = "/" + targetPath
	}
	base.Path = joined + targetPath
	base.RawQuery = rawQuery
	return base.String(), nil
}
