package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/ratelimit"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
)

// HealthResponse is the JSON body of the /healthz endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker probes the registry repository and the rate-limit
// backend. Pass nil for components that are not configured.
type HealthChecker struct {
	repo    registry.Repository
	limiter ratelimit.Limiter
	version string
}

// NewHealthChecker creates a HealthChecker.
func NewHealthChecker(repo registry.Repository, limiter ratelimit.Limiter, version string) *HealthChecker {
	return &HealthChecker{repo: repo, limiter: limiter, version: version}
}

// Check probes each configured component with a short deadline.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if h.repo != nil {
		if _, err := h.repo.Count(ctx); err != nil {
			checks["registry_store"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["registry_store"] = "ok"
		}
	} else {
		checks["registry_store"] = "not configured"
	}

	if h.limiter != nil {
		if h.limiter.Enabled() {
			checks["rate_limiter"] = "ok"
		} else {
			checks["rate_limiter"] = "disabled"
		}
	} else {
		checks["rate_limiter"] = "not configured"
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler serves the health check as JSON, 503 when unhealthy.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}
