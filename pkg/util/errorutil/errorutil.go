package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes shared by the HTTP layer and the services.
const (
	CodeValidation   = "VALIDATION_FAILED"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeUpstream     = "UPSTREAM_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeInternal     = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewUpstreamError wraps a rejected remote call. The upstream status and body
// are kept as details so callers can inspect them.
func NewUpstreamError(operation string, upstreamStatus int, body []byte) error {
	status := http.StatusBadGateway
	if upstreamStatus == http.StatusTooManyRequests {
		status = http.StatusTooManyRequests
	}
	return &DomainError{
		Code:       CodeUpstream,
		Message:    fmt.Sprintf("%s rejected by provider", operation),
		HTTPStatus: status,
		Details: map[string]any{
			"operation":       operation,
			"upstream_status": upstreamStatus,
			"upstream_body":   string(body),
		},
	}
}

// NewUpstreamUnavailable wraps a transport failure talking to the provider.
func NewUpstreamUnavailable(operation string, err error) error {
	return &DomainError{
		Code:       CodeUpstream,
		Message:    fmt.Sprintf("%s: provider unreachable", operation),
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"operation": operation},
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode reports whether err carries the given DomainError code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// UpstreamStatus returns the provider HTTP status carried by an upstream error.
func UpstreamStatus(err error) (int, bool) {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodeUpstream {
		return 0, false
	}
	status, ok := domainErr.Details["upstream_status"].(int)
	return status, ok
}

// IsRetryable reports whether an operation that failed with err may succeed later.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return true
	}
	switch domainErr.Code {
	case CodeUpstream:
		status, ok := UpstreamStatus(err)
		if !ok {
			return true
		}
		return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	case CodeInternal:
		return true
	default:
		return false
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
