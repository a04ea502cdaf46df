package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ValidationError reports one rejected configuration field.
type ValidationError struct {
	Field   string
	Value   string
	Message string
	// Err is an optional sentinel the failure maps to, e.g.
	// network.ErrSubnetMismatch.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes every entry to errors.Is and errors.As.
func (e ValidationErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i, v := range e {
		out[i] = v
	}
	return out
}

// Add appends a validation error.
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, &ValidationError{Field: field, Value: value, Message: message})
}

// AddErr appends a validation error carrying a sentinel.
func (e *ValidationErrors) AddErr(field, value string, err error) {
	*e = append(*e, &ValidationError{Field: field, Value: value, Message: err.Error(), Err: err})
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Err returns nil for an empty collection so callers can return it directly.
func (e ValidationErrors) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// IsValidationError reports whether err is, or wraps, a validation failure.
func IsValidationError(err error) bool {
	var single *ValidationError
	return errors.As(err, &single)
}

// RFC 1123 host names: dot-separated labels of letters, digits and inner
// hyphens, at most 63 characters each.
var hostnameLabel = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

// ValidHostname reports whether name is a usable host name.
func ValidHostname(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if !hostnameLabel.MatchString(label) {
			return false
		}
	}
	return true
}
