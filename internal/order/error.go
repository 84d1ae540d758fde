package order

import (
	"errors"
	"fmt"
)

// Kind classifies gateway failures so callers can pick the right
// recovery: retry, re-authenticate, or start over.
type Kind string

const (
	KindValidationFailed   Kind = "validation_failed"
	KindAuthExpired        Kind = "auth_expired"
	KindNetworkError       Kind = "network_error"
	KindTimeout            Kind = "timeout"
	KindServerError        Kind = "server_error"
	KindInvoiceUnavailable Kind = "invoice_unavailable"
	KindCancelFailed       Kind = "cancel_failed"
)

// APIError is a classified failure from the order backend.
type APIError struct {
	Kind    Kind
	Message string
	// Fields holds per-field violations for KindValidationFailed,
	// always complete, never truncated to the first failure.
	Fields map[string][]string
	Err    error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind, or "" for errors that did not come
// from the gateway.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// FieldError is a single validation violation found by the builder.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
