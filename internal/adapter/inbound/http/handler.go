package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/proxy"
	"github.com/Aussie-Gate/Aussiegate/internal/service"
)

// defaultMaxBodyBytes caps how much request body the adapter buffers
// before the pipeline's own size validation runs.
const defaultMaxBodyBytes = 16 << 20

// GatewayHandler translates wire requests into pipeline requests and
// renders the typed outcome. WebSocket upgrade requests are handed to
// the relay handler when one is configured.
type GatewayHandler struct {
	gateway   *service.GatewayService
	websocket http.Handler
	metrics   *Metrics
	maxBody   int64
	logger    *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler. websocket may be nil to
// refuse upgrade requests.
func NewGatewayHandler(gateway *service.GatewayService, websocket http.Handler, metrics *Metrics, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		gateway:   gateway,
		websocket: websocket,
		metrics:   metrics,
		maxBody:   defaultMaxBodyBytes,
		logger:    logger.With("component", "http_handler"),
	}
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isUpgradeRequest(r) {
		if h.websocket == nil {
			writeError(w, http.StatusNotImplemented, "websocket upgrades not enabled")
			return
		}
		h.websocket.ServeHTTP(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	req := &proxy.GatewayRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Header:     r.Header,
		Body:       body,
		Scheme:     requestScheme(r),
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
	}

	result := h.gateway.Handle(r.Context(), req)
	h.render(w, result)
}

// render maps each result variant onto its wire status.
func (h *GatewayHandler) render(w http.ResponseWriter, result proxy.GatewayResult) {
	switch res := result.(type) {
	case proxy.Success:
		header := w.Header()
		for name, values := range res.Header {
			header[name] = values
		}
		w.WriteHeader(res.Status)
		_, _ = w.Write(res.Body)

	case proxy.RouteNotFound:
		writeError(w, http.StatusNotFound, "no route for "+res.Path)
	case proxy.ServiceNotFound:
		writeError(w, http.StatusNotFound, "unknown service "+res.ServiceID)
	case proxy.ReservedPath:
		writeError(w, http.StatusNotFound, "reserved path")
	case proxy.NotWebSocket:
		writeError(w, http.StatusNotFound, "not a websocket endpoint")
	case proxy.AccessDenied:
		writeError(w, http.StatusForbidden, res.Reason)
	case proxy.Invalid:
		writeError(w, res.SuggestedStatus, res.Reason)
	case proxy.Unauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="gateway"`)
		writeError(w, http.StatusUnauthorized, res.Reason)
	case proxy.Forbidden:
		writeError(w, http.StatusForbidden, res.Reason)

	case proxy.RateLimited:
		if h.metrics != nil {
			h.metrics.RateLimitedTotal.Inc()
		}
		d := res.Decision
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(d.RetryAfter), 10))
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")

	case proxy.UpstreamError:
		if h.metrics != nil {
			h.metrics.UpstreamErrors.WithLabelValues("error").Inc()
		}
		writeError(w, http.StatusBadGateway, res.Message)
	case proxy.GatewayTimeout:
		if h.metrics != nil {
			h.metrics.UpstreamErrors.WithLabelValues("timeout").Inc()
		}
		writeError(w, http.StatusGatewayTimeout, "upstream timed out")

	default:
		h.logger.Error("unhandled gateway result", "type", fmt.Sprintf("%T", result))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// isUpgradeRequest detects a WebSocket handshake.
func isUpgradeRequest(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, token := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
			return true
		}
	}
	return false
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// errorBody is the JSON envelope for non-success outcomes.
type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: reason, Status: status})
}
