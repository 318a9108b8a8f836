package registry

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/route"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateRegistration checks a registration's shape before it is
// persisted: required fields, reserved IDs, URL scheme, pattern
// compilation, rewrite consistency, and visibility values. It normalizes
// an empty permission policy to absent.
func ValidateRegistration(reg *ServiceRegistration) error {
	if reg == nil {
		return fmt.Errorf("registration is nil")
	}
	if err := structValidator.Struct(reg); err != nil {
		return fmt.Errorf("invalid registration: %w", err)
	}
	if IsReservedServiceID(reg.ServiceID) {
		return fmt.Errorf("service id %q is reserved", reg.ServiceID)
	}
	if err := validateBaseURL(reg.BaseURL); err != nil {
		return err
	}
	if reg.DefaultVisibility != "" && !reg.DefaultVisibility.IsValid() {
		return fmt.Errorf("invalid default visibility %q", reg.DefaultVisibility)
	}
	for i := range reg.Endpoints {
		if err := validateEndpoint(&reg.Endpoints[i]); err != nil {
			return fmt.Errorf("endpoint %d: %w", i, err)
		}
	}
	for i := range reg.VisibilityRules {
		rule := &reg.VisibilityRules[i]
		if strings.TrimSpace(rule.PathPattern) == "" {
			return fmt.Errorf("visibility rule %d: blank path pattern", i)
		}
		if _, err := route.Compile(rule.PathPattern); err != nil {
			return fmt.Errorf("visibility rule %d: %w", i, err)
		}
		if !rule.Visibility.IsValid() {
			return fmt.Errorf("visibility rule %d: invalid visibility %q", i, rule.Visibility)
		}
	}
	if err := validatePermissionPolicy(reg.PermissionPolicy); err != nil {
		return err
	}
	// An empty mapping is indistinguishable from an absent one.
	if reg.PermissionPolicy != nil && reg.PermissionPolicy.IsEmpty() {
		reg.PermissionPolicy = nil
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("base url %q: missing host", raw)
	}
	return nil
}

func validateEndpoint(ep *EndpointConfig) error {
	p, err := route.Compile(ep.PathPattern)
	if err != nil {
		return err
	}
	if err := route.ValidateRewrite(p, ep.PathRewriteTemplate); err != nil {
		return err
	}
	if ep.Visibility != "" && !ep.Visibility.IsValid() {
		return fmt.Errorf("invalid visibility %q", ep.Visibility)
	}
	switch ep.EndpointType {
	case "", EndpointHTTP, EndpointWebSocket:
	default:
		return fmt.Errorf("invalid endpoint type %q", ep.EndpointType)
	}
	return nil
}

func validatePermissionPolicy(policy ServicePermissionPolicy) error {
	for op, perm := range policy {
		if strings.TrimSpace(string(op)) == "" {
			return fmt.Errorf("permission policy: blank operation name")
		}
		if len(perm.AnyOfPermissions) == 0 {
			return fmt.Errorf("permission policy %q: empty permission set", op)
		}
		for _, p := range perm.AnyOfPermissions {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("permission policy %q: blank permission", op)
			}
		}
	}
	return nil
}
