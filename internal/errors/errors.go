package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Common error types for the auth client core
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDisabled       = errors.New("user is disabled")

	// Token errors
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenMalformed = errors.New("malformed token")
	ErrSessionExpired = errors.New("session expired")

	// Tenant errors
	ErrTenantNotAvailable = errors.New("tenant not available")

	// Transport errors
	ErrNetwork = errors.New("network error")
	ErrServer  = errors.New("server error")

	// Session errors
	ErrNoSession = errors.New("no session")
)

// ValidationError carries field-level detail from a 4xx response so callers
// (e.g. a sign-in form) can surface it per field.
type ValidationError struct {
	Detail string
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation failed: %s", e.Detail)
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msgs := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(msgs, "; ")))
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, ", "))
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
