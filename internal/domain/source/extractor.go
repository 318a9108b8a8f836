package source

import (
	"net"
	"net/http"
	"strings"
)

// Identifier is the resolved view of who sent a request.
type Identifier struct {
	// IP is the logical client IP, or "unknown" when nothing resolvable
	// was present.
	IP string
	// Host is the logical client-facing host, empty when absent.
	Host string
	// ForwardedChain is the raw X-Forwarded-For value when present.
	ForwardedChain string
	// PeerIP is the socket peer address, independent of header trust.
	PeerIP string
}

// UnknownIP is the sentinel client IP used when no source could be derived.
const UnknownIP = "unknown"

// Extractor derives an Identifier from request headers and socket data.
// Forwarding headers are only honored when the trusted-proxy validator
// accepts the socket peer.
type Extractor struct {
	trusted *TrustedProxies
}

// NewExtractor creates an Extractor gated by the given proxy validator.
func NewExtractor(trusted *TrustedProxies) *Extractor {
	return &Extractor{trusted: trusted}
}

// Extract resolves the source identity. remoteAddr is the socket peer in
// "host:port" or bare-host form; requestHost is Request.Host, the last
// fallback for both IP and Host. The net/http server promotes the Host
// header into Request.Host, so it is never read from the header map.
func (e *Extractor) Extract(headers http.Header, remoteAddr, requestHost string) Identifier {
	peerIP := stripPort(remoteAddr)
	id := Identifier{PeerIP: peerIP}

	trustHeaders := e.trusted.Trusts(peerIP)

	if trustHeaders {
		id.ForwardedChain = headers.Get("X-Forwarded-For")
		id.IP = firstNonEmpty(
			firstForwardedFor(headers),
			forwardedParam(headers, "for"),
			strings.TrimSpace(headers.Get("X-Real-IP")),
		)
		id.Host = firstNonEmpty(
			firstListEntry(headers.Get("X-Forwarded-Host")),
			forwardedParam(headers, "host"),
		)
	}

	if id.IP == "" {
		id.IP = stripPort(requestHost)
	}
	if id.IP == "" {
		id.IP = UnknownIP
	}
	if id.Host == "" {
		id.Host = stripPort(requestHost)
	}
	return id
}

// firstForwardedFor returns the first entry of X-Forwarded-For, trimmed.
func firstForwardedFor(headers http.Header) string {
	return firstListEntry(headers.Get("X-Forwarded-For"))
}

// forwardedParam extracts the first value of the named RFC 7239 Forwarded
// parameter, stripping optional quotes and "[IPv6]:port" wrapping.
func forwardedParam(headers http.Header, param string) string {
	raw := headers.Get("Forwarded")
	if raw == "" {
		return ""
	}
	// Only the first forwarded element (first hop) is consulted.
	element := raw
	if idx := strings.Index(element, ","); idx >= 0 {
		element = element[:idx]
	}
	for _, pair := range strings.Split(element, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), param) {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		return unwrapIPv6(value)
	}
	return ""
}

// unwrapIPv6 turns "[2001:db8::1]:443" or "[2001:db8::1]" into "2001:db8::1"
// and strips a port from "host:port" forms.
func unwrapIPv6(value string) string {
	if strings.HasPrefix(value, "[") {
		if end := strings.Index(value, "]"); end > 0 {
			return value[1:end]
		}
	}
	return stripPort(value)
}

// firstListEntry returns the first comma-separated entry of a header value.
func firstListEntry(value string) string {
	if value == "" {
		return ""
	}
	if idx := strings.Index(value, ","); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

// stripPort removes a ":port" suffix when present. Bare IPv6 literals keep
// all their colons.
func stripPort(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return strings.Trim(hostport, "[]")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
