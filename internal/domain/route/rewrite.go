package route

import (
	"fmt"
	"strings"
)

// ValidateRewrite checks that a rewrite template only references variables
// declared by the pattern, and references each at most once. Registration
// rejects services whose templates fail this check.
func ValidateRewrite(p *Pattern, template string) error {
	if template == "" {
		return nil
	}
	declared := make(map[string]bool, len(p.varNames))
	for _, name := range p.varNames {
		declared[name] = true
	}
	used := make(map[string]bool)
	for _, part := range splitPath(template) {
		if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
			continue
		}
		name := part[1 : len(part)-1]
		if !declared[name] {
			return fmt.Errorf("rewrite template %q references unknown variable {%s}", template, name)
		}
		if used[name] {
			return fmt.Errorf("rewrite template %q references {%s} more than once", template, name)
		}
		used[name] = true
	}
	return nil
}

// Rewrite substitutes captured path variables into a rewrite template.
// Non-variable segments pass through untouched. An empty template returns
// the matched path unchanged.
func Rewrite(template, matchedPath string, vars map[string]string) string {
	if template == "" {
		return NormalizePath(matchedPath)
	}
	parts := splitPath(template)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			name := part[1 : len(part)-1]
			if v, ok := vars[name]; ok {
				out = append(out, v)
				continue
			}
		}
		out = append(out, part)
	}
	return "/" + strings.Join(out, "/")
}
