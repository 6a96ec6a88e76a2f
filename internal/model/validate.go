package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateNode checks a node for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the node is valid.
func ValidateNode(n *Node) error {
	var ve ValidationError

	// ID: required, it is the foreign key in every backend.
	if strings.TrimSpace(n.ID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "id", Message: "is required"})
	}

	// Name: required and at most 128 characters (the tblCons column width).
	name := strings.TrimSpace(n.Name)
	if name == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "name", Message: "is required"})
	} else if len([]rune(name)) > 128 {
		ve.Errors = append(ve.Errors, FieldError{Field: "name", Message: "must be 128 characters or fewer"})
	}

	if !n.Kind().IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "type",
			Message: fmt.Sprintf("invalid value %q", n.Kind()),
		})
	}

	for _, f := range []struct {
		field string
		port  int
	}{
		{"port", n.Props.Port},
		{"vnc_proxy_port", n.Props.VNCProxyPort},
	} {
		if f.port < 0 || f.port > 65535 {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   f.field,
				Message: fmt.Sprintf("must be between 0 and 65535, got %d", f.port),
			})
		}
	}

	if n.LinkedID != "" && n.LinkedID == n.ID {
		ve.Errors = append(ve.Errors, FieldError{Field: "linked_id", Message: "cannot reference itself"})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
