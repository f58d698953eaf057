package message

import (
	"encoding/json"
	"time"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// Visitor -> server
	TypeJoin        EventType = "join"
	TypeLeave       EventType = "leave"
	TypeExitSupport EventType = "exit_support"
	TypeUserMessage EventType = "user_message"

	// Server -> visitor
	TypeBotReply     EventType = "bot_reply"
	TypeStaffReply   EventType = "staff_reply"
	TypeDelivered    EventType = "delivered"
	TypeSessionEnded EventType = "session_ended"
	TypeStatus       EventType = "connection_status"

	// Staff -> server
	TypeClaim        EventType = "claim"
	TypeStaffMessage EventType = "staff_message"
	TypeEndSupport   EventType = "end_support"

	// Server -> staff
	TypeEscalation  EventType = "escalation_broadcast"
	TypeClaimResult EventType = "claim_result"

	// Either direction
	TypeError EventType = "error"
)

// SenderType represents who produced the event
type SenderType string

const (
	SenderVisitor SenderType = "visitor"
	SenderBot     SenderType = "bot"
	SenderStaff   SenderType = "staff"
	SenderSystem  SenderType = "system"
)

// ErrorInfo contains error details for the wire protocol
type ErrorInfo struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	RetryAfter  int    `json:"retry_after,omitempty"` // milliseconds
}

// Event represents a WebSocket event on either the visitor or the staff channel.
// Payload shapes follow the boundary event table; unused fields are omitted on the wire.
type Event struct {
	Type      EventType         `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	StaffID   string            `json:"staff_id,omitempty"`
	Content   string            `json:"content,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Sender    SenderType        `json:"sender"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Error     *ErrorInfo        `json:"error,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for Event
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(e),
		Timestamp: e.Timestamp.Format(time.RFC3339),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for Event
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return err
		}
		e.Timestamp = t
	}

	return nil
}
