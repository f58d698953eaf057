// Package errors provides error handling functionality for the supportchat service.
// It defines error categories, error types, and error message generation.
package errors

import (
	"fmt"

	"github.com/silverpines/supportchat/internal/message"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuth represents authentication and authorization errors
	CategoryAuth ErrorCategory = "auth"
	// CategoryValidation represents input validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategorySession represents session state machine errors
	CategorySession ErrorCategory = "session"
	// CategoryRouting represents message routing and delivery errors
	CategoryRouting ErrorCategory = "routing"
	// CategoryRateLimit represents rate limiting errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Authentication errors
	ErrCodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	ErrCodeExpiredToken      ErrorCode = "EXPIRED_TOKEN"
	ErrCodeInsufficientPerms ErrorCode = "INSUFFICIENT_PERMISSIONS"

	// Validation errors
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"

	// Session state machine errors
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeAlreadyClaimed    ErrorCode = "ALREADY_CLAIMED"
	ErrCodeExpired           ErrorCode = "EXPIRED"
	ErrCodeUnknownSession    ErrorCode = "UNKNOWN_SESSION"

	// Routing errors
	ErrCodeChannelUnavailable ErrorCode = "CHANNEL_UNAVAILABLE"
	ErrCodeServiceError       ErrorCode = "SERVICE_ERROR"

	// Rate limiting errors
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrCodeConnectionLimit ErrorCode = "CONNECTION_LIMIT_EXCEEDED"
)

// ChatError represents an application error with category and recoverability information
type ChatError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	RetryAfter  int // milliseconds, only for rate limit errors
	Cause       error
}

// Error implements the error interface
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if the error is fatal and requires connection closure
func (e *ChatError) IsFatal() bool {
	return !e.Recoverable
}

// ToErrorInfo converts a ChatError to a message.ErrorInfo for the wire protocol
func (e *ChatError) ToErrorInfo() *message.ErrorInfo {
	return &message.ErrorInfo{
		Code:        string(e.Code),
		Message:     e.Message,
		Recoverable: e.Recoverable,
		RetryAfter:  e.RetryAfter,
	}
}

// NewAuthError creates a new authentication error (fatal)
func NewAuthError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryAuth,
		Code:        code,
		Message:     message,
		Recoverable: false, // Auth errors are fatal
		Cause:       cause,
	}
}

// NewValidationError creates a new validation error (recoverable)
func NewValidationError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewSessionError creates a new session state machine error (recoverable).
// These are reported to the caller, never fatal, never retried automatically.
func NewSessionError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategorySession,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewRoutingError creates a new routing error (recoverable)
func NewRoutingError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryRouting,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewRateLimitError creates a new rate limit error (recoverable with retry after)
func NewRateLimitError(code ErrorCode, message string, retryAfter int, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryRateLimit,
		Code:        code,
		Message:     message,
		Recoverable: true,
		RetryAfter:  retryAfter,
		Cause:       cause,
	}
}

// Common error constructors for convenience

// ErrInvalidToken creates an invalid token error
func ErrInvalidToken(cause error) *ChatError {
	return NewAuthError(ErrCodeInvalidToken, "Invalid authentication token", cause)
}

// ErrExpiredToken creates an expired token error
func ErrExpiredToken(cause error) *ChatError {
	return NewAuthError(ErrCodeExpiredToken, "Authentication token has expired", cause)
}

// ErrInsufficientPermissions creates an insufficient permissions error
func ErrInsufficientPermissions(cause error) *ChatError {
	return NewAuthError(ErrCodeInsufficientPerms, "Insufficient permissions for this operation", cause)
}

// ErrInvalidEventFormat creates an invalid event format error
func ErrInvalidEventFormat(details string, cause error) *ChatError {
	return NewValidationError(ErrCodeInvalidFormat, fmt.Sprintf("Invalid event format: %s", details), cause)
}

// ErrMissingField creates a missing field error
func ErrMissingField(fieldName string) *ChatError {
	return NewValidationError(ErrCodeMissingField, fmt.Sprintf("Required field missing: %s", fieldName), nil)
}

// ErrInvalidTransition creates an invalid state transition error
func ErrInvalidTransition(from, to string) *ChatError {
	return NewSessionError(ErrCodeInvalidTransition,
		fmt.Sprintf("Illegal session transition from %s to %s", from, to), nil)
}

// ErrAlreadyClaimed creates an already-claimed error. Surfaced to the staff
// console as an informational result, not an exception.
func ErrAlreadyClaimed(staffID string) *ChatError {
	return NewSessionError(ErrCodeAlreadyClaimed,
		fmt.Sprintf("Support request already claimed by %s", staffID), nil)
}

// ErrClaimExpired creates a claim-after-expiry error
func ErrClaimExpired(sessionID string) *ChatError {
	return NewSessionError(ErrCodeExpired,
		fmt.Sprintf("Support request for session %s has expired", sessionID), nil)
}

// ErrUnknownSession creates an unknown session error
func ErrUnknownSession(sessionID string) *ChatError {
	return NewSessionError(ErrCodeUnknownSession,
		fmt.Sprintf("No active session %s in the registry", sessionID), nil)
}

// ErrChannelUnavailable creates a channel unavailable error. Chat delivery is
// best-effort: the message is dropped with no retry guarantee.
func ErrChannelUnavailable(sessionID string) *ChatError {
	return NewRoutingError(ErrCodeChannelUnavailable,
		fmt.Sprintf("No connected channel for session %s", sessionID), nil)
}

// ErrTooManyRequests creates a too many requests error
func ErrTooManyRequests(retryAfter int) *ChatError {
	return NewRateLimitError(ErrCodeTooManyRequests,
		"Too many requests, please slow down", retryAfter, nil)
}

// ErrConnectionLimitExceeded creates a connection limit exceeded error
func ErrConnectionLimitExceeded(retryAfter int) *ChatError {
	return NewRateLimitError(ErrCodeConnectionLimit,
		"Connection limit exceeded, please try again later", retryAfter, nil)
}
