package approval

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, documented failure category surfaced to callers.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation_error"
	KindNotFound             ErrorKind = "not_found"
	KindConflict             ErrorKind = "conflict"
	KindUnauthorized         ErrorKind = "unauthorized"
	KindConfigurationMissing ErrorKind = "configuration_missing"
	KindStorageFailure       ErrorKind = "storage_failure"
)

// Error carries a kind, a human-readable message, and optional structured
// details that let the caller self-correct (e.g. the conflicting workflow id).
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the error kind, or empty string for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func errValidation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func errValidationDetails(details map[string]any, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Details: details}
}

func errNotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func errConflict(details map[string]any, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...), Details: details}
}

func errUnauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func errConfigMissing(docType DocumentType) *Error {
	return &Error{
		Kind:    KindConfigurationMissing,
		Message: fmt.Sprintf("no stage configuration for document type %q", docType),
		Details: map[string]any{"document_type": docType},
	}
}

// errStorage wraps a storage-layer failure. The raw cause is kept for logs
// and diagnostics but is never surfaced in API responses.
func errStorage(op string, cause error) *Error {
	return &Error{Kind: KindStorageFailure, Message: op + " failed", cause: cause}
}
