// Package registry owns the service registration model and the route
// lookup engine: a versioned map of backend services, endpoint matching
// with first-match-wins semantics, and a TTL-based local snapshot with
// coalesced refresh against the authoritative repository.
package registry

import (
	"strings"
	"time"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/route"
)

// Visibility controls who may reach an endpoint.
type Visibility string

const (
	// VisibilityPublic endpoints are reachable by any source.
	VisibilityPublic Visibility = "PUBLIC"
	// VisibilityPrivate endpoints are subject to access-control allow lists.
	VisibilityPrivate Visibility = "PRIVATE"
)

// IsValid reports whether the visibility is a known value.
func (v Visibility) IsValid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// EndpointType discriminates plain HTTP endpoints from WebSocket upgrades.
type EndpointType string

const (
	// EndpointHTTP is a request/response HTTP endpoint.
	EndpointHTTP EndpointType = "HTTP"
	// EndpointWebSocket is a WebSocket upgrade endpoint.
	EndpointWebSocket EndpointType = "WEBSOCKET"
)

// Operation names an action an actor may perform against a service.
type Operation string

const (
	// OperationUpdate covers re-registration of an existing service.
	OperationUpdate Operation = "service.update"
	// OperationUnregister covers removal of a service.
	OperationUnregister Operation = "service.unregister"
)

// PermissionWildcard grants every operation.
const PermissionWildcard = "*"

// PermissionPolicyWrite is required, in addition to update authority, to
// modify a service's permission policy.
const PermissionPolicyWrite = "permissions.write"

// OperationPermission is the set of permissions any one of which allows
// the operation.
type OperationPermission struct {
	AnyOfPermissions []string `yaml:"any_of" json:"anyOf"`
}

// ServicePermissionPolicy maps operations to the permissions that allow
// them. An empty policy is indistinguishable from an absent one: callers
// fall back to the platform default policy.
type ServicePermissionPolicy map[Operation]OperationPermission

// IsEmpty reports whether the policy carries no operations.
func (p ServicePermissionPolicy) IsEmpty() bool { return len(p) == 0 }

// EndpointRateLimitConfig overrides rate limiting for a single endpoint.
// Nil fields inherit the service or platform value.
type EndpointRateLimitConfig struct {
	RequestsPerWindow *int64 `yaml:"requests_per_window" json:"requestsPerWindow,omitempty"`
	WindowSeconds     *int64 `yaml:"window_seconds" json:"windowSeconds,omitempty"`
	BurstCapacity     *int64 `yaml:"burst_capacity" json:"burstCapacity,omitempty"`
}

// ServiceRateLimitConfig overrides rate limiting for a whole service, with
// separate knobs for WebSocket connection establishment and messages.
type ServiceRateLimitConfig struct {
	HTTP                *EndpointRateLimitConfig `yaml:"http" json:"http,omitempty"`
	WebSocketConnection *EndpointRateLimitConfig `yaml:"websocket_connection" json:"websocketConnection,omitempty"`
	WebSocketMessage    *EndpointRateLimitConfig `yaml:"websocket_message" json:"websocketMessage,omitempty"`
}

// ServiceAccessConfig restricts which sources may reach the service's
// private endpoints. Any list that is present fully replaces the global
// list of the same category.
type ServiceAccessConfig struct {
	AllowedIPs        []string `yaml:"allowed_ips" json:"allowedIps,omitempty"`
	AllowedDomains    []string `yaml:"allowed_domains" json:"allowedDomains,omitempty"`
	AllowedSubdomains []string `yaml:"allowed_subdomains" json:"allowedSubdomains,omitempty"`
}

// SamplingConfig is consumed by the telemetry collaborator; the core only
// stores and serves it.
type SamplingConfig struct {
	Rate float64 `yaml:"rate" json:"rate"`
}

// EndpointConfig declares one routable endpoint of a service. Order within
// the service is significant: the first matching endpoint wins.
type EndpointConfig struct {
	PathPattern         string                   `yaml:"path_pattern" json:"pathPattern" validate:"required"`
	Methods             route.MethodSet          `yaml:"methods" json:"methods" validate:"required,min=1"`
	Visibility          Visibility               `yaml:"visibility" json:"visibility,omitempty"`
	PathRewriteTemplate string                   `yaml:"path_rewrite_template" json:"pathRewriteTemplate,omitempty"`
	AuthRequired        *bool                    `yaml:"auth_required" json:"authRequired,omitempty"`
	EndpointType        EndpointType             `yaml:"endpoint_type" json:"endpointType,omitempty"`
	RateLimitOverride   *EndpointRateLimitConfig `yaml:"rate_limit_override" json:"rateLimitOverride,omitempty"`
	Audience            string                   `yaml:"audience" json:"audience,omitempty"`
}

// VisibilityRule overrides endpoint visibility when its pattern and method
// match. Rules are evaluated in order; the first match wins.
type VisibilityRule struct {
	PathPattern string          `yaml:"path_pattern" json:"pathPattern" validate:"required"`
	Methods     route.MethodSet `yaml:"methods" json:"methods"`
	Visibility  Visibility      `yaml:"visibility" json:"visibility" validate:"required"`
}

// ServiceRegistration is the value record identifying one backend service.
type ServiceRegistration struct {
	ServiceID           string                  `yaml:"service_id" json:"serviceId" validate:"required"`
	BaseURL             string                  `yaml:"base_url" json:"baseUrl" validate:"required"`
	Version             int64                   `yaml:"version" json:"version" validate:"required,gte=1"`
	Endpoints           []EndpointConfig        `yaml:"endpoints" json:"endpoints" validate:"dive"`
	DefaultVisibility   Visibility              `yaml:"default_visibility" json:"defaultVisibility,omitempty"`
	DefaultAuthRequired bool                    `yaml:"default_auth_required" json:"defaultAuthRequired,omitempty"`
	VisibilityRules     []VisibilityRule        `yaml:"visibility_rules" json:"visibilityRules,omitempty" validate:"dive"`
	PermissionPolicy    ServicePermissionPolicy `yaml:"permission_policy" json:"permissionPolicy,omitempty"`
	RateLimitConfig     *ServiceRateLimitConfig `yaml:"rate_limit_config" json:"rateLimitConfig,omitempty"`
	SamplingConfig      *SamplingConfig         `yaml:"sampling_config" json:"samplingConfig,omitempty"`
	AccessConfig        *ServiceAccessConfig    `yaml:"access_config" json:"accessConfig,omitempty"`

	// RegisteredAt orders services for route resolution. Set by the
	// registry on first registration and preserved across updates.
	RegisteredAt time.Time `yaml:"registered_at" json:"registeredAt,omitempty"`
}

// reservedServiceIDs may never be registered and are refused in
// pass-through dispatch. Compared case-insensitively.
var reservedServiceIDs = []string{"admin", "gateway", "q"}

// IsReservedServiceID reports whether id collides with a reserved
// pass-through segment under case-insensitive compare.
func IsReservedServiceID(id string) bool {
	for _, reserved := range reservedServiceIDs {
		if strings.EqualFold(id, reserved) {
			return true
		}
	}
	return false
}

// EndpointVisibility returns the endpoint's visibility, falling back to
// the service default, which itself defaults to PRIVATE.
func (s *ServiceRegistration) EndpointVisibility(ep *EndpointConfig) Visibility {
	if ep != nil && ep.Visibility.IsValid() {
		return ep.Visibility
	}
	if s.DefaultVisibility.IsValid() {
		return s.DefaultVisibility
	}
	return VisibilityPrivate
}

// EndpointAuthRequired returns the endpoint's auth flag, falling back to
// the service default.
func (s *ServiceRegistration) EndpointAuthRequired(ep *EndpointConfig) bool {
	if ep != nil && ep.AuthRequired != nil {
		return *ep.AuthRequired
	}
	return s.DefaultAuthRequired
}

// Clone returns a deep copy safe to hand to callers while the registry
// mutates its own state.
func (s *ServiceRegistration) Clone() *ServiceRegistration {
	if s == nil {
		return nil
	}
	out := *s
	out.Endpoints = append([]EndpointConfig(nil), s.Endpoints...)
	out.VisibilityRules = append([]VisibilityRule(nil), s.VisibilityRules...)
	if s.PermissionPolicy != nil {
		out.PermissionPolicy = make(ServicePermissionPolicy, len(s.PermissionPolicy))
		for op, perm := range s.PermissionPolicy {
			perm.AnyOfPermissions = append([]string(nil), perm.AnyOfPermissions...)
			out.PermissionPolicy[op] = perm
		}
	}
	if s.RateLimitConfig != nil {
		rl := *s.RateLimitConfig
		out.RateLimitConfig = &rl
	}
	if s.SamplingConfig != nil {
		sc := *s.SamplingConfig
		out.SamplingConfig = &sc
	}
	if s.AccessConfig != nil {
		ac := *s.AccessConfig
		ac.AllowedIPs = append([]string(nil), s.AccessConfig.AllowedIPs...)
		ac.AllowedDomains = append([]string(nil), s.AccessConfig.AllowedDomains...)
		ac.AllowedSubdomains = append([]string(nil), s.AccessConfig.AllowedSubdomains...)
		out.AccessConfig = &ac
	}
	return &out
}
