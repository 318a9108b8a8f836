package proxy

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/auth"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
)

// hopByHopHeaders are stripped from both directions, case-insensitive.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"Upgrade",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Content-Length",
}

// upgradePreserved are kept on WebSocket upgrade requests despite
// being hop-by-hop.
var upgradePreserved = map[string]bool{
	"Connection": true,
	"Upgrade":    true,
}

// Preparer assembles the upstream request from the matched route, the
// authentication outcome, and the configured forwarding-header format.
type Preparer struct {
	forwarded ForwardedHeaderBuilder
}

// NewPreparer creates a Preparer using the given forwarding-header
// builder.
func NewPreparer(forwarded ForwardedHeaderBuilder) *Preparer {
	return &Preparer{forwarded: forwarded}
}

// PrepareOptions modifies preparation for special flows.
type PrepareOptions struct {
	// WebSocketUpgrade keeps Connection, Upgrade, and Sec-WebSocket-*
	// headers.
	WebSocketUpgrade bool
}

// Prepare builds the upstream request for a matched route. token is
// nil when the route required no authentication.
func (p *Preparer) Prepare(req *GatewayRequest, route *registry.RouteMatch, token *auth.AussieToken, opts PrepareOptions) (*PreparedProxyRequest, error) {
	targetURI, targetHost, err := buildTargetURI(route.Service.BaseURL, route.TargetPath, req.RawQuery)
	if err != nil {
		return nil, err
	}

	header := make(http.Header, len(req.Header))
	for name, values := range req.Header {
		if dropRequestHeader(name, opts) {
			continue
		}
		header[name] = append([]string(nil), values...)
	}
	header.Set("Host", targetHost)
	for name, values := range p.forwarded.Build(req) {
		header[name] = values
	}
	if token != nil {
		header.Set("Authorization", "Bearer "+token.JWS)
	}

	return &PreparedProxyRequest{
		Method:    req.Method,
		TargetURI: targetURI,
		Header:    header,
		Body:      req.Body,
	}, nil
}

// FilterResponseHeaders drops the hop-by-hop set from an upstream
// response, preserving Content-Length.
func FilterResponseHeaders(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		if isHopByHop(name) && !strings.EqualFold(name, "Content-Length") {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

func dropRequestHeader(name string, opts PrepareOptions) bool {
	if strings.EqualFold(name, "Host") {
		return true
	}
	if opts.WebSocketUpgrade {
		if upgradePreserved[http.CanonicalHeaderKey(name)] {
			return false
		}
		if strings.HasPrefix(http.CanonicalHeaderKey(name), "Sec-Websocket-") {
			return false
		}
	}
	return isHopByHop(name)
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// buildTargetURI joins the base URL and target path with slash
// normalization and carries the query through. The returned host has
// the port elided when it is the scheme's default.
func buildTargetURI(baseURL, targetPath, rawQuery string) (uri, host string, err error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", "", err
	}

	joined := strings.TrimSuffix(base.Path, "/")
	if !strings.HasPrefix(targetPath, "/") {
		targetPath = "/" + targetPath
	}
	joined += targetPath

	u := *base
	u.Path = joined
	u.RawQuery = rawQuery
	return u.String(), hostForHeader(base), nil
}

// hostForHeader renders the Host header value, omitting default ports.
func hostForHeader(u *url.URL) string {
	host := u.Host
	port := u.Port()
	if port == "" {
		return host
	}
	switch {
	case port == "80" && (u.Scheme == "http" || u.Scheme == "ws"):
		return u.Hostname()
	case port == "443" && (u.Scheme == "https" || u.Scheme == "wss"):
		return u.Hostname()
	}
	return host
}
