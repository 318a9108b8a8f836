package auth

import (
	"log/slog"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/registry"
)

// DefaultAdminPermission is the claim required by the platform default
// policy when a service declares no permission policy of its own.
const DefaultAdminPermission = "gateway.admin"

// ServiceAuthorizer decides whether a set of actor permissions allows
// a registry operation on a service. It implements registry.Authorizer.
type ServiceAuthorizer struct {
	adminPermission string
	logger          *slog.Logger
}

var _ registry.Authorizer = (*ServiceAuthorizer)(nil)

// NewServiceAuthorizer creates a ServiceAuthorizer. An empty
// adminPermission falls back to DefaultAdminPermission.
func NewServiceAuthorizer(adminPermission string, logger *slog.Logger) *ServiceAuthorizer {
	if adminPermission == "" {
		adminPermission = DefaultAdminPermission
	}
	return &ServiceAuthorizer{
		adminPermission: adminPermission,
		logger:          logger.With("component", "service_authorizer"),
	}
}

// CanCreateService reports whether the permissions allow registering a
// new service: the wildcard or the admin permission.
func (a *ServiceAuthorizer) CanCreateService(permissions []string) bool {
	if len(permissions) == 0 {
		return false
	}
	return HasPermission(permissions, a.adminPermission)
}

// IsAuthorizedForService reports whether the permissions allow the
// operation on an existing service. The service's own permission
// policy applies when present and non-empty; otherwise the platform
// default policy requires the admin permission.
func (a *ServiceAuthorizer) IsAuthorizedForService(svc *registry.ServiceRegistration, op registry.Operation, permissions []string) bool {
	if len(permissions) == 0 {
		return false
	}
	for _, p := range permissions {
		if p == PermissionWildcard {
			return true
		}
	}

	policy := svc.PermissionPolicy
	if len(policy) == 0 {
		return containsPermission(permissions, a.adminPermission)
	}

	rule, ok := policy[op]
	if !ok {
		a.logger.Debug("no policy rule for operation", "service_id", svc.ServiceID, "operation", op)
		return false
	}
	for _, required := range rule.AnyOfPermissions {
		if containsPermission(permissions, required) {
			return true
		}
	}
	return false
}

func containsPermission(permissions []string, wanted string) bool {
	for _, p := range permissions {
		if p == wanted {
			return true
		}
	}
	return false
}
