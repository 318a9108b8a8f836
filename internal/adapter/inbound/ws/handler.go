package ws

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/proxy"
	"github.com/Aussie-Gate/Aussiegate/internal/service"
)

// defaultDialTimeout bounds the backend TCP/TLS dial.
const defaultDialTimeout = 10 * time.Second

// Handler accepts WebSocket upgrade requests, runs the upgrade decision
// pipeline, proxies the handshake to the backend, and relays frames.
type Handler struct {
	svc         *service.WebSocketService
	activeGauge prometheus.Gauge
	logger      *slog.Logger
	dialTimeout time.Duration
	active      atomic.Int64
}

// NewHandler creates a Handler. activeGauge may be nil.
func NewHandler(svc *service.WebSocketService, activeGauge prometheus.Gauge, logger *slog.Logger) *Handler {
	return &Handler{
		svc:         svc,
		activeGauge: activeGauge,
		logger:      logger.With("component", "ws_handler"),
		dialTimeout: defaultDialTimeout,
	}
}

// ActiveSessions reports how many sessions are currently relaying.
func (h *Handler) ActiveSessions() int64 { return h.active.Load() }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.svc.Config()
	if cfg.MaxConnections > 0 && h.active.Load() >= int64(cfg.MaxConnections) {
		writeRefusalJSON(w, http.StatusServiceUnavailable, "connection limit reached")
		return
	}

	req := &proxy.GatewayRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Header:     r.Header,
		Scheme:     requestScheme(r),
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
	}
	authz, refusal := h.svc.Upgrade(r.Context(), req)
	if refusal != nil {
		writeRefusal(w, refusal)
		return
	}

	backendConn, err := dialBackend(authz.BackendURI, h.dialTimeout)
	if err != nil {
		h.logger.Warn("backend dial failed", "target", authz.BackendURI, "error", err)
		writeRefusalJSON(w, http.StatusBadGateway, "backend unavailable")
		return
	}

	if err := writeUpgradeRequest(backendConn, r, authz); err != nil {
		backendConn.Close()
		h.logger.Warn("backend handshake send failed", "target", authz.BackendURI, "error", err)
		writeRefusalJSON(w, http.StatusBadGateway, "backend handshake failed")
		return
	}

	backendR := bufio.NewReader(backendConn)
	resp, err := http.ReadResponse(backendR, r)
	if err != nil {
		backendConn.Close()
		h.logger.Warn("backend handshake read failed", "target", authz.BackendURI, "error", err)
		writeRefusalJSON(w, http.StatusBadGateway, "backend handshake failed")
		return
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		// Relay the backend's refusal verbatim; the client never
		// upgraded so plain HTTP is still in effect.
		relayHandshakeRefusal(w, resp)
		backendConn.Close()
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		backendConn.Close()
		writeRefusalJSON(w, http.StatusInternalServerError, "hijack not supported")
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		backendConn.Close()
		h.logger.Error("hijack failed", "error", err)
		return
	}
	if err := resp.Write(clientConn); err != nil {
		clientConn.Close()
		backendConn.Close()
		return
	}

	h.active.Add(1)
	if h.activeGauge != nil {
		h.activeGauge.Inc()
	}
	defer func() {
		h.active.Add(-1)
		if h.activeGauge != nil {
			h.activeGauge.Dec()
		}
	}()

	logger := h.logger.With(
		"connection_id", authz.ConnectionID,
		"service_id", authz.Match.Service.ServiceID)
	logger.Info("websocket session established", "target", authz.BackendURI)

	sess := newSession(h.svc, authz, clientConn, clientBuf.Reader, backendConn, backendR, logger)
	sess.run(context.WithoutCancel(r.Context()))
}

// dialBackend opens the TCP (ws) or TLS (wss) connection.
func dialBackend(backendURI string, timeout time.Duration) (net.Conn, error) {
	u, err := url.Parse(backendURI)
	if err != nil {
		return nil, err
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if u.Scheme == "wss" {
			port = "443"
		} else {
			port = "80"
		}
	}
	addr := net.JoinHostPort(host, port)

	dialer := &net.Dialer{Timeout: timeout}
	if u.Scheme == "wss" {
		return tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		})
	}
	return dialer.Dial("tcp", addr)
}

// writeUpgradeRequest sends the handshake to the backend, carrying the
// client's Sec-WebSocket-* negotiation headers and the re-issued token.
func writeUpgradeRequest(conn net.Conn, r *http.Request, authz *service.WebSocketAuthorization) error {
	u, err := url.Parse(authz.BackendURI)
	if err != nil {
		return err
	}
	target := u.RequestURI()

	var b strings.Builder
	b.WriteString("GET " + target + " HTTP/1.1\r\n")
	b.WriteString("Host: " + u.Host + "\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	for name, values := range r.Header {
		if !strings.HasPrefix(http.CanonicalHeaderKey(name), "Sec-Websocket-") {
			continue
		}
		for _, value := range values {
			b.WriteString(name + ": " + value + "\r\n")
		}
	}
	if authz.Token != nil {
		b.WriteString("Authorization: Bearer " + authz.Token.JWS + "\r\n")
	}
	b.WriteString("\r\n")

	_, err = conn.Write([]byte(b.String()))
	return err
}

// relayHandshakeRefusal copies the backend's non-101 answer to the
// client.
func relayHandshakeRefusal(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	header := w.Header()
	for name, values := range resp.Header {
		header[name] = values
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// writeRefusal maps pipeline refusals onto HTTP statuses, mirroring the
// HTTP adapter's table.
func writeRefusal(w http.ResponseWriter, refusal proxy.GatewayResult) {
	switch res := refusal.(type) {
	case proxy.RouteNotFound:
		writeRefusalJSON(w, http.StatusNotFound, "no route for "+res.Path)
	case proxy.ServiceNotFound:
		writeRefusalJSON(w, http.StatusNotFound, "unknown service "+res.ServiceID)
	case proxy.ReservedPath:
		writeRefusalJSON(w, http.StatusNotFound, "reserved path")
	case proxy.NotWebSocket:
		writeRefusalJSON(w, http.StatusNotFound, "not a websocket endpoint")
	case proxy.AccessDenied:
		writeRefusalJSON(w, http.StatusForbidden, res.Reason)
	case proxy.Invalid:
		writeRefusalJSON(w, res.SuggestedStatus, res.Reason)
	case proxy.Unauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="gateway"`)
		writeRefusalJSON(w, http.StatusUnauthorized, res.Reason)
	case proxy.Forbidden:
		writeRefusalJSON(w, http.StatusForbidden, res.Reason)
	case proxy.RateLimited:
		writeRefusalJSON(w, http.StatusTooManyRequests, "rate limit exceeded")
	case proxy.UpstreamError:
		writeRefusalJSON(w, http.StatusBadGateway, res.Message)
	default:
		writeRefusalJSON(w, http.StatusInternalServerError, "internal error")
	}
}

func writeRefusalJSON(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": reason, "status": status})
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
