package route

import "strings"

// MethodWildcard matches any HTTP method when present in a method set.
const MethodWildcard = "*"

// MethodSet is a set of HTTP verb strings. Comparison is case-insensitive
// and the single value "*" matches every method. An empty set matches
// nothing.
type MethodSet []string

// Matches reports whether the set admits the given method.
func (m MethodSet) Matches(method string) bool {
	for _, candidate := range m {
		if candidate == MethodWildcard {
			return true
		}
		if strings.EqualFold(candidate, method) {
			return true
		}
	}
	return false
}
