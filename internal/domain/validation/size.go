// Package validation enforces request size limits before any routing or
// policy work happens: body size, per-header size, and total header size.
package validation

import (
	"fmt"
	"net/http"
)

// Limits are the three independent size ceilings. Zero disables a limit.
type Limits struct {
	// MaxBodySize bounds the request body in bytes.
	MaxBodySize int64
	// MaxHeaderSize bounds one header entry, counted as
	// len(name) + len(": ") + len(value).
	MaxHeaderSize int64
	// MaxTotalHeadersSize bounds the sum of all header entries.
	MaxTotalHeadersSize int64
}

// Violation describes a failed size check with the status code the
// transport should render: 413 for body, 431 for headers.
type Violation struct {
	Reason          string
	SuggestedStatus int
}

func (v *Violation) Error() string { return v.Reason }

// SizeValidator checks requests against configured Limits.
type SizeValidator struct {
	limits Limits
}

// NewSizeValidator creates a SizeValidator.
func NewSizeValidator(limits Limits) *SizeValidator {
	return &SizeValidator{limits: limits}
}

// Validate checks body, then each header, then the header total, stopping
// at the first violation. A nil return means the request is within limits.
func (v *SizeValidator) Validate(headers http.Header, bodyLen int64) *Violation {
	if v.limits.MaxBodySize > 0 && bodyLen > v.limits.MaxBodySize {
		return &Violation{
			Reason:          fmt.Sprintf("request body of %d bytes exceeds limit of %d", bodyLen, v.limits.MaxBodySize),
			SuggestedStatus: http.StatusRequestEntityTooLarge,
		}
	}

	var total int64
	for name, values := range headers {
		for _, value := range values {
			entry := int64(len(name) + len(": ") + len(value))
			if v.limits.MaxHeaderSize > 0 && entry > v.limits.MaxHeaderSize {
				return &Violation{
					Reason:          fmt.Sprintf("header %q of %d bytes exceeds limit of %d", name, entry, v.limits.MaxHeaderSize),
					SuggestedStatus: http.StatusRequestHeaderFieldsTooLarge,
				}
			}
			total += entry
		}
	}
	if v.limits.MaxTotalHeadersSize > 0 && total > v.limits.MaxTotalHeadersSize {
		return &Violation{
			Reason:          fmt.Sprintf("headers of %d bytes exceed total limit of %d", total, v.limits.MaxTotalHeadersSize),
			SuggestedStatus: http.StatusRequestHeaderFieldsTooLarge,
		}
	}
	return nil
}
