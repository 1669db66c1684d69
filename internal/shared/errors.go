package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error kinds shared by every domain package. Domain errors wrap one of
// these with %w so transports can map them without knowing the domain.
var (
	// ErrValidation indicates a missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates a missing or invalid identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the identity lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates the record is not in a state that allows the operation.
	ErrConflict = errors.New("state conflict")
)

// ValidationError carries per-field messages.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

// NewValidationError builds a ValidationError with a single message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// FieldError builds a ValidationError for one field.
func FieldError(field, message string) *ValidationError {
	return &ValidationError{Message: message, Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// Is reports ValidationError as ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// DomainError is an error kind carrying the message shown to API callers.
// Cause, when set, is a more general domain error this one refines.
type DomainError struct {
	Kind    error
	Message string
	Cause   error
}

// NotFound builds a DomainError of kind ErrNotFound.
func NotFound(message string) *DomainError {
	return &DomainError{Kind: ErrNotFound, Message: message}
}

// Conflict builds a DomainError of kind ErrConflict.
func Conflict(message string) *DomainError {
	return &DomainError{Kind: ErrConflict, Message: message}
}

// Forbidden builds a DomainError of kind ErrForbidden.
func Forbidden(message string) *DomainError {
	return &DomainError{Kind: ErrForbidden, Message: message}
}

// Unauthorized builds a DomainError of kind ErrUnauthorized.
func Unauthorized(message string) *DomainError {
	return &DomainError{Kind: ErrUnauthorized, Message: message}
}

func (e *DomainError) Error() string { return e.Message }

// Is matches the error kind. Cause is reached through Unwrap.
func (e *DomainError) Is(target error) bool { return target == e.Kind }

func (e *DomainError) Unwrap() error { return e.Cause }

// WithMessage returns a more specific error that still matches e with errors.Is.
func (e *DomainError) WithMessage(format string, args ...any) *DomainError {
	return &DomainError{Kind: e.Kind, Message: fmt.Sprintf(format, args...), Cause: e}
}

// ErrAdminRequired is returned when an operation needs the admin role.
var ErrAdminRequired = Forbidden("Admin role required")

// UserSafeMessage returns a message that can be shown to API callers.
// Wrapping context added with fmt.Errorf is dropped; errors outside the
// shared kinds are reported generically.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr.Message
	}
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrUnauthorized, ErrForbidden, ErrConflict} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal error, please retry later"
}
