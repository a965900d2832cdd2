package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ServiceError represents a service-level error with context
type ServiceError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Details    string `json:"details,omitempty"`
	Cause      error  `json:"-"` // Original error, not exposed in JSON
}

func (e ServiceError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e ServiceError) Unwrap() error {
	return e.Cause
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) (ServiceError, bool) {
	var serviceErr ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr, true
	}
	return ServiceError{}, false
}

// HasCode reports whether err carries a ServiceError with the given code.
func HasCode(err error, code string) bool {
	serviceErr, ok := GetServiceError(err)
	return ok && serviceErr.Code == code
}

func NewNotFoundError(resource string) error {
	return ServiceError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func NewConflictError(message string) error {
	return ServiceError{
		Code:       ErrCodeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewDatabaseError(operation string, cause error) error {
	return ServiceError{
		Code:       ErrCodeDatabase,
		Message:    fmt.Sprintf("Database operation failed: %s", operation),
		Cause:      cause,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewValidationError creates a validation error from field level failures.
func NewValidationError(message string, fields ...ValidationError) error {
	details := make([]string, 0, len(fields))
	for _, f := range fields {
		details = append(details, f.Message)
	}
	return ServiceError{
		Code:       ErrCodeValidation,
		Message:    message,
		Details:    strings.Join(details, "; "),
		StatusCode: http.StatusBadRequest,
		Cause:      ValidationErrors(fields),
	}
}

func IsValidationError(err error) bool {
	return HasCode(err, ErrCodeValidation)
}

func IsDatabaseError(err error) bool {
	return HasCode(err, ErrCodeDatabase)
}

// ValidationErrors is the field list carried by a validation ServiceError.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// ChannelError is a delivery failure reported by a channel adapter.
// Terminal errors never succeed on retry.
type ChannelError struct {
	Channel  string
	Code     string
	Terminal bool
	Err      error
}

func (e *ChannelError) Error() string {
	kind := "transient"
	if e.Terminal {
		kind = "terminal"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s error: %s", e.Channel, kind, e.Code)
	}
	return fmt.Sprintf("%s %s error (%s): %v", e.Channel, kind, e.Code, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

func NewTerminalError(channel, code string, err error) error {
	return &ChannelError{Channel: channel, Code: code, Terminal: true, Err: err}
}

func NewTransientError(channel, code string, err error) error {
	return &ChannelError{Channel: channel, Code: code, Err: err}
}

// IsTerminal reports whether err must not be retried. Deadline errors are transient.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var channelErr *ChannelError
	if errors.As(err, &channelErr) {
		return channelErr.Terminal
	}
	return errors.Is(err, context.Canceled)
}

// ChannelErrorCode returns the code of a ChannelError, or "unknown".
func ChannelErrorCode(err error) string {
	var channelErr *ChannelError
	if errors.As(err, &channelErr) {
		return channelErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	return "unknown"
}

// Error code constants
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeDatabase   = "DATABASE_ERROR"

	// Channel error codes
	ErrCodeNotInitialized   = "not_initialized"
	ErrCodeInvalidRecipient = "invalid_recipient"
	ErrCodeInvalidToken     = "invalid_token"
	ErrCodeNoDeviceTokens   = "no_device_tokens"
	ErrCodeOptedOut         = "opted_out"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeProvider         = "provider_error"
	ErrCodeTimeout          = "timeout"
	ErrCodeRecipientLookup  = "recipient_lookup_failed"
	ErrCodeUnsupported      = "unsupported_channel"
)
