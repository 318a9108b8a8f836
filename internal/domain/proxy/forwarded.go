package proxy

import (
	"net/http"
	"strings"
)

// ForwardedHeaderBuilder produces the forwarding headers injected into
// upstream requests. The builder is selected process-wide by config.
type ForwardedHeaderBuilder interface {
	// Build returns header name/value pairs describing the original
	// client. Values replace any client-supplied header of the same
	// name except X-Forwarded-For, which chains.
	Build(req *GatewayRequest) http.Header
}

// RFC7239Builder emits a single RFC 7239 Forwarded header.
type RFC7239Builder struct{}

var _ ForwardedHeaderBuilder = RFC7239Builder{}

// Build emits `Forwarded: for=<ip>;proto=<scheme>;host=<host>`. IPv6
// literals are bracket-wrapped per the RFC's node grammar.
func (RFC7239Builder) Build(req *GatewayRequest) http.Header {
	var b strings.Builder
	b.WriteString("for=")
	b.WriteString(forwardedNode(req.Source.IP))
	if req.Scheme != "" {
		b.WriteString(";proto=")
		b.WriteString(req.Scheme)
	}
	if req.Host != "" {
		b.WriteString(";host=")
		b.WriteString(req.Host)
	}
	h := http.Header{}
	h.Set("Forwarded", b.String())
	return h
}

// forwardedNode quotes an IPv6 literal for use in a Forwarded
// parameter.
func forwardedNode(ip string) string {
	if strings.Contains(ip, ":") && !strings.HasPrefix(ip, "[") {
		return `"[` + ip + `]"`
	}
	return ip
}

// LegacyForwardedBuilder emits the X-Forwarded-* triple.
type LegacyForwardedBuilder struct{}

var _ ForwardedHeaderBuilder = LegacyForwardedBuilder{}

// Build emits X-Forwarded-For (chaining onto any trusted prior value),
// X-Forwarded-Proto, and X-Forwarded-Host.
func (LegacyForwardedBuilder) Build(req *GatewayRequest) http.Header {
	h := http.Header{}
	xff := req.Source.IP
	if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
		xff = prior + ", " + req.Source.PeerIP
	}
	h.Set("X-Forwarded-For", xff)
	if req.Scheme != "" {
		h.Set("X-Forwarded-Proto", req.Scheme)
	}
	if req.Host != "" {
		h.Set("X-Forwarded-Host", req.Host)
	}
	return h
}
