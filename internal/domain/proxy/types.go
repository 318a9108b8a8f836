// Package proxy holds the request/result model the pipeline operates
// on, the proxy request preparer, and upstream outcome classification.
package proxy

import (
	"net/http"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/ratelimit"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/source"
)

// GatewayRequest is the transport-independent view of an inbound
// request handed to the pipeline.
type GatewayRequest struct {
	Method string
	// Path is the normalized request path.
	Path string
	// RawQuery is the query string without the leading "?", empty if
	// absent.
	RawQuery string
	Header   http.Header
	Body     []byte
	// Scheme is the scheme the client used against the gateway.
	Scheme string
	// Host is the Host header value as received.
	Host string
	// RemoteAddr is the socket peer, host:port.
	RemoteAddr string
	// Source is the resolved client identity, filled by the pipeline.
	Source source.Identifier
}

// GatewayResult is the sealed outcome of one pipeline pass. The HTTP
// adapter renders each variant to a status; the pipeline itself never
// returns errors across its boundary.
type GatewayResult interface {
	isGatewayResult()
}

// Success carries the upstream response verbatim after response-header
// filtering.
type Success struct {
	Status int
	Header http.Header
	Body   []byte
}

// RouteNotFound is the 404 outcome for paths no endpoint claims.
type RouteNotFound struct {
	Path string
}

// ServiceNotFound is the pass-through 404 for unknown service IDs.
type ServiceNotFound struct {
	ServiceID string
}

// ReservedPath is the pass-through 404 for the reserved first-segment
// IDs.
type ReservedPath struct {
	Path string
}

// AccessDenied is the 403 outcome from the access evaluator.
type AccessDenied struct {
	Reason string
}

// Invalid is the 400/413/431 outcome from request validation.
type Invalid struct {
	Reason          string
	SuggestedStatus int
}

// Unauthorized is the 401 outcome from route authentication.
type Unauthorized struct {
	Reason string
}

// Forbidden is the 403 outcome from authentication or authorization.
type Forbidden struct {
	Reason string
}

// NotWebSocket is the refusal for upgrade requests whose matched
// endpoint is not declared WEBSOCKET.
type NotWebSocket struct {
	Path string
}

// RateLimited is the 429 outcome; the decision carries Retry-After.
type RateLimited struct {
	Decision ratelimit.Decision
}

// UpstreamError is the 502 outcome for transport failures toward the
// backend.
type UpstreamError struct {
	Message string
}

// GatewayTimeout is the 504 outcome for upstream timeouts.
type GatewayTimeout struct{}

func (Success) isGatewayResult()         {}
func (RouteNotFound) isGatewayResult()   {}
func (ServiceNotFound) isGatewayResult() {}
func (ReservedPath) isGatewayResult()    {}
func (AccessDenied) isGatewayResult()    {}
func (Invalid) isGatewayResult()         {}
func (Unauthorized) isGatewayResult()    {}
func (Forbidden) isGatewayResult()       {}
func (NotWebSocket) isGatewayResult()    {}
func (RateLimited) isGatewayResult()     {}
func (UpstreamError) isGatewayResult()   {}
func (GatewayTimeout) isGatewayResult()  {}

// PreparedProxyRequest is the fully assembled upstream request.
type PreparedProxyRequest struct {
	Method    string
	TargetURI string
	Header    http.Header
	Body      []byte
}

// ProxyResponse is the upstream's answer before classification.
type ProxyResponse struct {
	Status int
	Header http.Header
	Body   []byte
}
