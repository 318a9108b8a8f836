// Package route provides URL path pattern matching and rewriting for the
// gateway routing layer. Patterns are matched on "/"-separated segments,
// case-sensitively, and support three wildcard forms:
//
//   - "*" matches exactly one path segment
//   - "**" matches zero or more path segments
//   - "{name}" matches exactly one segment and captures it as a path variable
package route

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyPattern is returned when compiling a blank pattern.
var ErrEmptyPattern = errors.New("empty path pattern")

// segmentKind discriminates the segment forms of a compiled pattern.
type segmentKind int

const (
	segLiteral segmentKind = iota
	segWildcard            // *
	segGlob                // **
	segVariable            // {name}
)

type segment struct {
	kind segmentKind
	// value is the literal text for segLiteral, or the variable name for segVariable.
	value string
}

// Pattern is a compiled path pattern. The zero value matches nothing;
// use Compile.
type Pattern struct {
	raw      string
	segments []segment
	varNames []string
}

// Compile parses a path pattern. A leading "/" is implied when absent.
// Duplicate variable names in one pattern are a validation error so that
// rewrite templates are unambiguous.
func Compile(pattern string) (*Pattern, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, ErrEmptyPattern
	}
	p := &Pattern{raw: pattern}
	seen := make(map[string]bool)
	for _, part := range splitPath(pattern) {
		switch {
		case part == "*":
			p.segments = append(p.segments, segment{kind: segWildcard})
		case part == "**":
			p.segments = append(p.segments, segment{kind: segGlob})
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			name := part[1 : len(part)-1]
			if name == "" {
				return nil, fmt.Errorf("pattern %q: empty variable name", pattern)
			}
			if seen[name] {
				return nil, fmt.Errorf("pattern %q: duplicate variable {%s}", pattern, name)
			}
			seen[name] = true
			p.segments = append(p.segments, segment{kind: segVariable, value: name})
			p.varNames = append(p.varNames, name)
		default:
			p.segments = append(p.segments, segment{kind: segLiteral, value: part})
		}
	}
	return p, nil
}

// MustCompile is Compile panicking on error. For tests and constants.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original pattern text.
func (p *Pattern) String() string { return p.raw }

// Variables returns the variable names declared by the pattern, in order.
func (p *Pattern) Variables() []string { return p.varNames }

// Match reports whether path matches the pattern and returns the captured
// path variables. The returned map is nil when the pattern declares no
// variables.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	parts := splitPath(path)
	var vars map[string]string
	if len(p.varNames) > 0 {
		vars = make(map[string]string, len(p.varNames))
	}
	if !matchSegments(p.segments, parts, vars) {
		return nil, false
	}
	return vars, true
}

// Matches reports whether path matches the pattern, discarding captures.
func (p *Pattern) Matches(path string) bool {
	_, ok := p.Match(path)
	return ok
}

// LiteralPrefix returns the leading literal segments of the pattern joined
// as a path, e.g. "/api/v1" for "/api/v1/{id}/**". Used by the registry to
// attribute otherwise-unmatched paths to a service.
func (p *Pattern) LiteralPrefix() string {
	var b strings.Builder
	for _, s := range p.segments {
		if s.kind != segLiteral {
			break
		}
		b.WriteByte('/')
		b.WriteString(s.value)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// matchSegments matches pattern segments against path parts, backtracking
// over "**" which may absorb zero or more parts.
func matchSegments(segs []segment, parts []string, vars map[string]string) bool {
	if len(segs) == 0 {
		return len(parts) == 0
	}
	head := segs[0]
	if head.kind == segGlob {
		// Try absorbing 0..len(parts) segments.
		for i := 0; i <= len(parts); i++ {
			if matchSegments(segs[1:], parts[i:], vars) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	switch head.kind {
	case segLiteral:
		if parts[0] != head.value {
			return false
		}
	case segWildcard:
		// any single segment
	case segVariable:
		if vars != nil {
			vars[head.value] = parts[0]
		}
	}
	return matchSegments(segs[1:], parts[1:], vars)
}

// splitPath splits a path into its non-empty segments. "", "/" and
// missing leading slashes all normalize consistently.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// NormalizePath ensures a path begins with "/" and treats blank input as "/".
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
