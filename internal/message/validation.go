package message

import (
	"fmt"
	"strings"
	"time"
)

// Validation constants
const (
	MaxContentLength   = 4000 // Maximum chat text length in characters
	MaxMetadataLength  = 1000 // Maximum metadata value length
	MaxSessionIDLength = 128  // Maximum session ID length
	MaxUserIDLength    = 255  // Maximum user ID length
	MaxStaffIDLength   = 255  // Maximum staff ID length
	MaxReasonLength    = 255  // Maximum termination reason length
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Validate validates an event according to the wire protocol
func (e *Event) Validate() error {
	if err := e.validateRequiredFields(); err != nil {
		return err
	}

	if err := e.validateTypeSpecificFields(); err != nil {
		return err
	}

	if err := e.validateFieldLengths(); err != nil {
		return err
	}

	return nil
}

// validateRequiredFields validates that all required fields are present
func (e *Event) validateRequiredFields() error {
	if e.Type == "" {
		return &ValidationError{Field: "type", Message: "type is required"}
	}

	if !isValidEventType(e.Type) {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("invalid event type: %s", e.Type)}
	}

	if e.Sender == "" {
		return &ValidationError{Field: "sender", Message: "sender is required"}
	}

	if !isValidSenderType(e.Sender) {
		return &ValidationError{Field: "sender", Message: fmt.Sprintf("invalid sender type: %s", e.Sender)}
	}

	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp is required"}
	}

	// 1 minute tolerance for clock skew
	if e.Timestamp.After(time.Now().Add(1 * time.Minute)) {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be in the future"}
	}

	return nil
}

// validateTypeSpecificFields validates required fields based on event type
func (e *Event) validateTypeSpecificFields() error {
	switch e.Type {
	case TypeJoin, TypeLeave, TypeExitSupport:
		if e.SessionID == "" {
			return &ValidationError{Field: "session_id", Message: fmt.Sprintf("session_id is required for %s", e.Type)}
		}

	case TypeUserMessage:
		if e.SessionID == "" {
			return &ValidationError{Field: "session_id", Message: "session_id is required for user_message"}
		}
		if e.Content == "" {
			return &ValidationError{Field: "content", Message: "content is required for user_message"}
		}
		if e.Sender != SenderVisitor {
			return &ValidationError{Field: "sender", Message: "sender must be 'visitor' for user_message"}
		}

	case TypeClaim, TypeEndSupport:
		if e.SessionID == "" {
			return &ValidationError{Field: "session_id", Message: fmt.Sprintf("session_id is required for %s", e.Type)}
		}
		if e.StaffID == "" {
			return &ValidationError{Field: "staff_id", Message: fmt.Sprintf("staff_id is required for %s", e.Type)}
		}
		if e.Sender != SenderStaff {
			return &ValidationError{Field: "sender", Message: fmt.Sprintf("sender must be 'staff' for %s", e.Type)}
		}

	case TypeStaffMessage:
		if e.SessionID == "" {
			return &ValidationError{Field: "session_id", Message: "session_id is required for staff_message"}
		}
		if e.StaffID == "" {
			return &ValidationError{Field: "staff_id", Message: "staff_id is required for staff_message"}
		}
		if e.Content == "" {
			return &ValidationError{Field: "content", Message: "content is required for staff_message"}
		}
		if e.Sender != SenderStaff {
			return &ValidationError{Field: "sender", Message: "sender must be 'staff' for staff_message"}
		}

	case TypeSessionEnded:
		if e.Reason == "" {
			return &ValidationError{Field: "reason", Message: "reason is required for session_ended"}
		}

	case TypeError:
		if e.Error == nil {
			return &ValidationError{Field: "error", Message: "error is required for error event type"}
		}
		if e.Error.Code == "" {
			return &ValidationError{Field: "error.code", Message: "error code is required"}
		}
		if e.Error.Message == "" {
			return &ValidationError{Field: "error.message", Message: "error message is required"}
		}
	}

	return nil
}

// validateFieldLengths validates that field values don't exceed maximum lengths
func (e *Event) validateFieldLengths() error {
	if len(e.SessionID) > MaxSessionIDLength {
		return &ValidationError{
			Field:   "session_id",
			Message: fmt.Sprintf("session_id exceeds maximum length of %d characters", MaxSessionIDLength),
		}
	}

	if len(e.UserID) > MaxUserIDLength {
		return &ValidationError{
			Field:   "user_id",
			Message: fmt.Sprintf("user_id exceeds maximum length of %d characters", MaxUserIDLength),
		}
	}

	if len(e.StaffID) > MaxStaffIDLength {
		return &ValidationError{
			Field:   "staff_id",
			Message: fmt.Sprintf("staff_id exceeds maximum length of %d characters", MaxStaffIDLength),
		}
	}

	if len(e.Content) > MaxContentLength {
		return &ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("content exceeds maximum length of %d characters", MaxContentLength),
		}
	}

	if len(e.Reason) > MaxReasonLength {
		return &ValidationError{
			Field:   "reason",
			Message: fmt.Sprintf("reason exceeds maximum length of %d characters", MaxReasonLength),
		}
	}

	for key, value := range e.Metadata {
		if len(value) > MaxMetadataLength {
			return &ValidationError{
				Field:   fmt.Sprintf("metadata.%s", key),
				Message: fmt.Sprintf("metadata value exceeds maximum length of %d characters", MaxMetadataLength),
			}
		}
	}

	return nil
}

// Sanitize sanitizes client-supplied fields before they are routed or echoed back.
func (e *Event) Sanitize() {
	e.Content = sanitizeString(e.Content)
	e.SessionID = sanitizeString(e.SessionID)
	e.UserID = sanitizeString(e.UserID)
	e.StaffID = sanitizeString(e.StaffID)
	e.Reason = sanitizeString(e.Reason)

	if e.Metadata != nil {
		sanitizedMetadata := make(map[string]string)
		for key, value := range e.Metadata {
			sanitizedMetadata[sanitizeString(key)] = sanitizeString(value)
		}
		e.Metadata = sanitizedMetadata
	}

	if e.Error != nil {
		e.Error.Code = sanitizeString(e.Error.Code)
		e.Error.Message = sanitizeString(e.Error.Message)
	}
}

// sanitizeString removes null bytes and trims whitespace.
// HTML escaping is NOT applied here; it belongs at render time.
func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	return s
}

// isValidEventType checks if the event type is valid
func isValidEventType(t EventType) bool {
	switch t {
	case TypeJoin, TypeLeave, TypeExitSupport, TypeUserMessage,
		TypeBotReply, TypeStaffReply, TypeDelivered, TypeSessionEnded, TypeStatus,
		TypeClaim, TypeStaffMessage, TypeEndSupport,
		TypeEscalation, TypeClaimResult, TypeError:
		return true
	default:
		return false
	}
}

// isValidSenderType checks if the sender type is valid
func isValidSenderType(s SenderType) bool {
	switch s {
	case SenderVisitor, SenderBot, SenderStaff, SenderSystem:
		return true
	default:
		return false
	}
}
