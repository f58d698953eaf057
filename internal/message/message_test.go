package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_TimestampRFC3339(t *testing.T) {
	ts := time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC)
	ev := &Event{
		Type:      TypeUserMessage,
		SessionID: "sess-1",
		Content:   "hello",
		Sender:    SenderVisitor,
		Timestamp: ts,
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "2026-08-29T14:30:00Z", raw["timestamp"])
}

func TestMarshal_OmitsEmptyFields(t *testing.T) {
	ev := &Event{
		Type:      TypeDelivered,
		SessionID: "sess-1",
		Sender:    SenderSystem,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "content")
	assert.NotContains(t, raw, "staff_id")
	assert.NotContains(t, raw, "reason")
	assert.NotContains(t, raw, "error")
	assert.NotContains(t, raw, "metadata")
}

func TestUnmarshal_WireFormat(t *testing.T) {
	raw := `{
		"type": "staff_message",
		"session_id": "sess-1",
		"staff_id": "staff-7",
		"content": "How can I help?",
		"sender": "staff",
		"timestamp": "2026-08-29T14:30:00Z"
	}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	assert.Equal(t, TypeStaffMessage, ev.Type)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, "staff-7", ev.StaffID)
	assert.Equal(t, "How can I help?", ev.Content)
	assert.Equal(t, SenderStaff, ev.Sender)
	assert.Equal(t, time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC), ev.Timestamp)
}

func TestUnmarshal_MissingTimestamp(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"join","session_id":"s","sender":"visitor"}`), &ev))
	assert.True(t, ev.Timestamp.IsZero())
}

func TestUnmarshal_BadTimestamp(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"type":"join","sender":"visitor","timestamp":"yesterday"}`), &ev)
	require.Error(t, err)
}

func TestMarshal_ErrorInfo(t *testing.T) {
	ev := &Event{
		Type:      TypeError,
		SessionID: "sess-1",
		Sender:    SenderSystem,
		Timestamp: time.Now(),
		Error: &ErrorInfo{
			Code:        "TOO_MANY_REQUESTS",
			Message:     "Too many requests, please slow down",
			Recoverable: true,
			RetryAfter:  1500,
		},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Error)
	assert.Equal(t, "TOO_MANY_REQUESTS", decoded.Error.Code)
	assert.True(t, decoded.Error.Recoverable)
	assert.Equal(t, 1500, decoded.Error.RetryAfter)
}
