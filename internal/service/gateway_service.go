// Package service orchestrates the request pipeline over the domain
// components: source extraction, access control, routing,
// authentication, rate limiting, and forwarding.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Aussie-Gate/Aussiegate/internal/ctxkey"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/access"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/auth"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/proxy"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/ratelimit"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/route"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/source"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/validation"
)

// Mode selects how requests are dispatched to services.
type Mode string

const (
	// ModeGateway matches endpoint patterns across the whole
	// registered set.
	ModeGateway Mode = "gateway"
	// ModePassThrough dispatches on an explicit /{serviceId}/ prefix.
	ModePassThrough Mode = "passthrough"
)

// loggerFromContext retrieves the request-enriched logger placed in
// context by the HTTP middleware.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// GatewayService is the pipeline driver: one pass per request, every
// terminal condition a typed GatewayResult.
type GatewayService struct {
	mode      Mode
	extractor *source.Extractor
	sizes     *validation.SizeValidator
	registry  *registry.Registry
	access    *access.Evaluator
	routeAuth *auth.RouteAuthService
	resolver  *ratelimit.Resolver
	limiter   ratelimit.Limiter
	preparer  *proxy.Preparer
	client    proxy.ProxyClient
	logger    *slog.Logger
}

// NewGatewayService wires the pipeline.
func NewGatewayService(
	mode Mode,
	extractor *source.Extractor,
	sizes *validation.SizeValidator,
	reg *registry.Registry,
	accessEval *access.Evaluator,
	routeAuth *auth.RouteAuthService,
	resolver *ratelimit.Resolver,
	limiter ratelimit.Limiter,
	preparer *proxy.Preparer,
	client proxy.ProxyClient,
	logger *slog.Logger,
) *GatewayService {
	return &GatewayService{
		mode:      mode,
		extractor: extractor,
		sizes:     sizes,
		registry:  reg,
		access:    accessEval,
		routeAuth: routeAuth,
		resolver:  resolver,
		limiter:   limiter,
		preparer:  preparer,
		client:    client,
		logger:    logger.With("component", "gateway"),
	}
}

// Handle runs one request through the pipeline and returns its
// outcome. It never returns an error; failures are typed results.
func (s *GatewayService) Handle(ctx context.Context, req *proxy.GatewayRequest) proxy.GatewayResult {
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = s.logger
	}

	req.Source = s.extractor.Extract(req.Header, req.RemoteAddr, req.Host)
	req.Path = route.NormalizePath(req.Path)

	if violation := s.sizes.Validate(req.Header, int64(len(req.Body))); violation != nil {
		return proxy.Invalid{Reason: violation.Reason, SuggestedStatus: violation.SuggestedStatus}
	}

	match, result := s.resolveRoute(ctx, req)
	if result != nil {
		return result
	}

	visibility := match.Visibility(req.Method)
	if !s.access.Allowed(req.Source, visibility, match.Service) {
		logger.Debug("access denied",
			"client_ip", req.Source.IP,
			"service_id", match.Service.ServiceID,
			"path", req.Path)
		return proxy.AccessDenied{Reason: "source not allowed for private endpoint"}
	}

	authResult := s.routeAuth.Authenticate(ctx, req.Header.Get("Authorization"), match)
	switch authResult.Kind {
	case auth.ResultUnauthorized:
		return proxy.Unauthorized{Reason: authResult.Reason}
	case auth.ResultForbidden:
		return proxy.Forbidden{Reason: authResult.Reason}
	}

	if result := s.checkRateLimit(ctx, req, match, logger); result != nil {
		return result
	}

	prepared, err := s.preparer.Prepare(req, match, authResult.Token, proxy.PrepareOptions{})
	if err != nil {
		logger.Error("request preparation failed", "error", err, "service_id", match.Service.ServiceID)
		return proxy.UpstreamError{Message: "invalid upstream target"}
	}

	resp, err := s.client.Forward(ctx, prepared)
	if err != nil {
		logger.Warn("upstream forward failed",
			"service_id", match.Service.ServiceID,
			"target", prepared.TargetURI,
			"error", err)
	}
	return proxy.Classify(resp, err)
}

// resolveRoute finds the route per the active mode. A non-nil result
// terminates the pipeline.
func (s *GatewayService) resolveRoute(ctx context.Context, req *proxy.GatewayRequest) (*registry.RouteMatch, proxy.GatewayResult) {
	if s.mode == ModePassThrough {
		return s.resolvePassThrough(ctx, req)
	}

	lookup, err := s.registry.FindRouteAsync(ctx, req.Path, req.Method)
	if err != nil {
		// Stale snapshot already served; only a cold empty registry
		// reaches here.
		return nil, proxy.RouteNotFound{Path: req.Path}
	}
	if lookup.Match != nil {
		return lookup.Match, nil
	}
	// Gateway mode treats "known service, unknown endpoint" as not
	// found; the service association is only meaningful in
	// pass-through mode.
	return nil, proxy.RouteNotFound{Path: req.Path}
}

// resolvePassThrough dispatches /{serviceId}/rest paths.
func (s *GatewayService) resolvePassThrough(ctx context.Context, req *proxy.GatewayRequest) (*registry.RouteMatch, proxy.GatewayResult) {
	serviceID, rest := splitFirstSegment(req.Path)
	if serviceID == "" {
		return nil, proxy.RouteNotFound{Path: req.Path}
	}
	if registry.IsReservedServiceID(serviceID) {
		return nil, proxy.ReservedPath{Path: req.Path}
	}

	svc, err := s.registry.FindServiceAsync(ctx, serviceID)
	if err != nil || svc == nil {
		return nil, proxy.ServiceNotFound{ServiceID: serviceID}
	}

	lookup, err := s.registry.FindRouteAsync(ctx, rest, req.Method)
	if err == nil && lookup.Match != nil && lookup.Match.Service.ServiceID == svc.ServiceID {
		return lookup.Match, nil
	}
	// No endpoint claimed the remainder; forward it to the service's
	// base URL under service-level policy.
	return registry.FallbackMatch(svc, rest), nil
}

// checkRateLimit resolves the effective limit and consumes one unit. A
// non-nil result terminates the pipeline.
func (s *GatewayService) checkRateLimit(ctx context.Context, req *proxy.GatewayRequest, match *registry.RouteMatch, logger *slog.Logger) proxy.GatewayResult {
	if s.limiter == nil || !s.limiter.Enabled() {
		return nil
	}

	limit := s.resolver.Resolve(ratelimit.KeyTypeHTTP, match.Service, match.Endpoint)
	key := ratelimit.Key{
		Type:       ratelimit.KeyTypeHTTP,
		ClientID:   req.Source.IP,
		ServiceID:  match.Service.ServiceID,
		EndpointID: ratelimit.EndpointScope(match.Endpoint),
	}
	decision, err := s.limiter.CheckAndConsume(ctx, key, limit)
	if err != nil {
		// Fail open: limiter outages must not take down the data path.
		logger.Warn("rate limit check failed, allowing request", "key", key.String(), "error", err)
		return nil
	}
	if !decision.Allowed {
		return proxy.RateLimited{Decision: decision}
	}
	return nil
}

// splitFirstSegment splits a normalized path into its first segment
// and the remainder (always starting with "/").
func splitFirstSegment(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", "/"
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i], trimmed[i:]
	}
	return trimmed, "/"
}
