package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
)

// RouteAuthConfig tunes the route authentication service.
type RouteAuthConfig struct {
	// ForwardedClaims names the extra claims copied from the client
	// token onto the re-issued token.
	ForwardedClaims []string
}

// RouteAuthService authenticates requests against a matched route:
// it validates the client's bearer token, runs the revocation check,
// and re-issues the short-lived token forwarded to the backend.
type RouteAuthService struct {
	validator  TokenValidator
	issuer     TokenIssuer
	revocation RevocationChecker
	cfg        RouteAuthConfig
	logger     *slog.Logger
}

// NewRouteAuthService creates a RouteAuthService.
func NewRouteAuthService(validator TokenValidator, issuer TokenIssuer, revocation RevocationChecker, cfg RouteAuthConfig, logger *slog.Logger) *RouteAuthService {
	return &RouteAuthService{
		validator:  validator,
		issuer:     issuer,
		revocation: revocation,
		cfg:        cfg,
		logger:     logger.With("component", "route_auth"),
	}
}

// Authenticate decides the auth outcome for a request on a matched
// route. authorization is the raw Authorization header value.
func (s *RouteAuthService) Authenticate(ctx context.Context, authorization string, route *registry.RouteMatch) Result {
	if !route.AuthRequired() {
		return Result{Kind: ResultNotRequired}
	}

	raw, ok := bearerToken(authorization)
	if !ok {
		return Result{Kind: ResultUnauthorized, Reason: "missing bearer token"}
	}

	claims, err := s.validator.Validate(ctx, raw)
	if err != nil {
		s.logger.Debug("token validation failed", "error", err)
		return Result{Kind: ResultUnauthorized, Reason: "invalid token"}
	}

	revoked, err := s.revocation.IsRevoked(ctx, claims)
	if err != nil {
		s.logger.Warn("revocation check failed", "jti", claims.JTI, "error", err)
		return Result{Kind: ResultUnauthorized, Reason: "revocation check failed"}
	}
	if revoked {
		return Result{Kind: ResultUnauthorized, Reason: "revoked"}
	}

	token, err := s.issuer.Issue(ctx, IssueRequest{
		Subject:        claims.Subject,
		OriginalIssuer: claims.Issuer,
		Audience:       s.audience(route),
		Forwarded:      s.forwardedClaims(claims),
	})
	if err != nil {
		s.logger.Error("token re-issue failed", "subject", claims.Subject, "error", err)
		return Result{Kind: ResultUnauthorized, Reason: "token issue failed"}
	}

	return Result{Kind: ResultAuthenticated, Token: token}
}

// audience picks the endpoint's configured audience, falling back to
// the service ID.
func (s *RouteAuthService) audience(route *registry.RouteMatch) string {
	if route.Endpoint != nil && route.Endpoint.Audience != "" {
		return route.Endpoint.Audience
	}
	return route.Service.ServiceID
}

func (s *RouteAuthService) forwardedClaims(claims *Claims) map[string]any {
	if len(s.cfg.ForwardedClaims) == 0 || len(claims.Extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.cfg.ForwardedClaims))
	for _, name := range s.cfg.ForwardedClaims {
		if v, ok := claims.Extra[name]; ok {
			out[name] = v
		}
	}
	return out
}

// bearerToken extracts the token from an Authorization header value.
// The scheme comparison is case-insensitive per RFC 7235.
func bearerToken(authorization string) (string, bool) {
	const prefix = "bearer "
	if len(authorization) <= len(prefix) {
		return "", false
	}
	if !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(authorization[len(prefix):])
	return token, token != ""
}
