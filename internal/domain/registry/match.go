package registry

import (
	"github.com/Aussie-Gate/Aussiegate/internal/domain/route"
)

// RouteMatch is a fully-resolved route: the service, the endpoint that
// claimed the request, the target path after rewriting, and the captured
// path variables.
type RouteMatch struct {
	Service       *ServiceRegistration
	Endpoint      *EndpointConfig
	TargetPath    string
	PathVariables map[string]string

	// sourcePath is the normalized request path that produced the match.
	sourcePath string
}

// Visibility resolves the effective visibility for the matched endpoint,
// applying the service's visibility rules in order on top of the endpoint
// configuration.
func (m *RouteMatch) Visibility(method string) Visibility {
	for i := range m.Service.VisibilityRules {
		rule := &m.Service.VisibilityRules[i]
		if len(rule.Methods) > 0 && !rule.Methods.Matches(method) {
			continue
		}
		p, err := route.Compile(rule.PathPattern)
		if err != nil {
			continue
		}
		if p.Matches(m.TargetSourcePath()) {
			return rule.Visibility
		}
	}
	return m.Service.EndpointVisibility(m.Endpoint)
}

// AuthRequired resolves the effective auth flag for the matched endpoint.
func (m *RouteMatch) AuthRequired() bool {
	return m.Service.EndpointAuthRequired(m.Endpoint)
}

// TargetSourcePath is the request path that produced this match.
func (m *RouteMatch) TargetSourcePath() string { return m.sourcePath }

// FallbackMatch builds a service-level match for pass-through requests
// that reached a registered service without matching any declared
// endpoint. Endpoint stays nil; service defaults govern visibility and
// auth.
func FallbackMatch(svc *ServiceRegistration, path string) *RouteMatch {
	return &RouteMatch{Service: svc, TargetPath: path, sourcePath: path}
}

// Lookup is the result of a route lookup. Exactly one of the following
// holds: Match is set (service and endpoint resolved), ServiceOnly is set
// (a service claimed the path prefix but no endpoint matched), or both are
// nil (no service claims the path).
type Lookup struct {
	Match       *RouteMatch
	ServiceOnly *ServiceRegistration
}

// Found reports whether any service was associated with the path.
func (l Lookup) Found() bool { return l.Match != nil || l.ServiceOnly != nil }

// matchEndpoints runs first-match-wins endpoint selection for one service.
// Returns nil when no endpoint claims (path, method).
func matchEndpoints(svc *ServiceRegistration, path, method string) *RouteMatch {
	path = route.NormalizePath(path)
	for i := range svc.Endpoints {
		ep := &svc.Endpoints[i]
		if !ep.Methods.Matches(method) {
			continue
		}
		p, err := route.Compile(ep.PathPattern)
		if err != nil {
			// Invalid patterns are rejected at registration; a stored one
			// is skipped rather than failing the whole lookup.
			continue
		}
		vars, ok := p.Match(path)
		if !ok {
			continue
		}
		return &RouteMatch{
			Service:       svc,
			Endpoint:      ep,
			TargetPath:    route.Rewrite(ep.PathRewriteTemplate, path, vars),
			PathVariables: vars,
			sourcePath:    path,
		}
	}
	return nil
}

// claimsPrefix reports whether any endpoint's literal prefix covers path,
// attributing otherwise-unmatched requests to the service for 404
// reporting.
func claimsPrefix(svc *ServiceRegistration, path string) bool {
	path = route.NormalizePath(path)
	for i := range svc.Endpoints {
		p, err := route.Compile(svc.Endpoints[i].PathPattern)
		if err != nil {
			continue
		}
		prefix := p.LiteralPrefix()
		if prefix == "/" {
			continue
		}
		if path == prefix || len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/' {
			return true
		}
	}
	return false
}
