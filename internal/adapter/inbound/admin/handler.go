// Package admin is the registration surface: a JSON API for service
// register/unregister, authenticated by actor API keys.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/auth"
	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
)

// maxRegistrationBytes caps registration payloads.
const maxRegistrationBytes = 1 << 20

// Handler serves the /admin/services API.
type Handler struct {
	registry *registry.Registry
	keys     *auth.APIKeyService
	logger   *slog.Logger
}

// NewHandler creates the admin API handler.
func NewHandler(reg *registry.Registry, keys *auth.APIKeyService, logger *slog.Logger) *Handler {
	return &Handler{
		registry: reg,
		keys:     keys,
		logger:   logger.With("component", "admin_api"),
	}
}

// Routes returns the admin mux, rooted at /admin/.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/services", h.listServices)
	mux.HandleFunc("GET /admin/services/{id}", h.getService)
	mux.HandleFunc("PUT /admin/services/{id}", h.putService)
	mux.HandleFunc("DELETE /admin/services/{id}", h.deleteService)
	return h.authMiddleware(mux)
}

// authMiddleware resolves the caller's actor from the presented API key
// and stashes its permissions on the request.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := apiKeyFromRequest(r)
		if rawKey == "" {
			h.respondError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		actor, err := h.keys.Validate(r.Context(), rawKey)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidKey) {
				h.logger.Error("api key validation failed", "error", err)
			}
			h.respondError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	services := h.registry.Services()
	h.respondJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.registry.FindServiceAsync(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, http.StatusBadGateway, "registry store unavailable")
		return
	}
	if svc == nil {
		h.respondError(w, http.StatusNotFound, "unknown service")
		return
	}
	h.respondJSON(w, http.StatusOK, svc)
}

func (h *Handler) putService(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())

	var reg registry.ServiceRegistration
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegistrationBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&reg); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed registration: "+err.Error())
		return
	}
	// The path is authoritative for the service ID.
	if id := r.PathValue("id"); reg.ServiceID == "" {
		reg.ServiceID = id
	} else if reg.ServiceID != id {
		h.respondError(w, http.StatusBadRequest, "service id in body does not match path")
		return
	}

	if err := h.registry.Register(r.Context(), &reg, actor.Permissions); err != nil {
		h.respondRegistryError(w, err)
		return
	}
	h.logger.Info("service registered",
		"service_id", reg.ServiceID,
		"version", reg.Version,
		"actor", actor.ID)
	h.respondJSON(w, http.StatusOK, map[string]any{
		"serviceId": reg.ServiceID,
		"version":   reg.Version,
	})
}

func (h *Handler) deleteService(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	id := r.PathValue("id")

	if err := h.registry.Unregister(r.Context(), id, actor.Permissions); err != nil {
		h.respondRegistryError(w, err)
		return
	}
	h.logger.Info("service unregistered", "service_id", id, "actor", actor.ID)
	w.WriteHeader(http.StatusNoContent)
}

// respondRegistryError maps typed registry failures onto their status;
// anything else is a store problem.
func (h *Handler) respondRegistryError(w http.ResponseWriter, err error) {
	var regErr *registry.Error
	if errors.As(err, &regErr) {
		h.respondError(w, regErr.Status, regErr.Reason)
		return
	}
	h.logger.Error("registry operation failed", "error", err)
	h.respondError(w, http.StatusBadGateway, "registry store unavailable")
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("response encoding failed", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, reason string) {
	h.respondJSON(w, status, map[string]any{"error": reason, "status": status})
}

// apiKeyFromRequest accepts the key as a bearer token or X-API-Key.
func apiKeyFromRequest(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); authz != "" {
		if key, ok := strings.CutPrefix(authz, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// actorContextKey carries the authenticated actor through the mux.
type actorContextKey struct{}

func withActor(ctx context.Context, actor *auth.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func actorFromContext(ctx context.Context) *auth.Actor {
	if actor, ok := ctx.Value(actorContextKey{}).(*auth.Actor); ok {
		return actor
	}
	return &auth.Actor{}
}
