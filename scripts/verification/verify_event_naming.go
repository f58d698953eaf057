//go:build ignore

// Verification script for wire event field naming. The visitor widget
// and staff console both parse raw JSON, so every wire key must stay
// snake_case. Run manually after changing the event schema:
//
//	go run scripts/verification/verify_event_naming.go
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"time"

	"github.com/silverpines/supportchat/internal/message"
)

var snakeCase = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func main() {
	ev := &message.Event{
		Type:      message.TypeStaffReply,
		SessionID: "sess-check",
		UserID:    "visitor-check",
		StaffID:   "staff-check",
		Content:   "field naming check",
		Reason:    "none",
		Timestamp: time.Now().UTC(),
		Sender:    message.SenderStaff,
		Metadata:  map[string]string{"k": "v"},
		Error: &message.ErrorInfo{
			Code:        "SERVICE_ERROR",
			Message:     "check",
			Recoverable: true,
			RetryAfter:  1000,
		},
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Fatalf("marshal event: %v", err)
	}

	var wire map[string]interface{}
	if err := json.Unmarshal(data, &wire); err != nil {
		log.Fatalf("unmarshal event: %v", err)
	}

	failed := false
	for key, value := range wire {
		if !snakeCase.MatchString(key) {
			fmt.Printf("FAIL: top-level key %q is not snake_case\n", key)
			failed = true
		}
		nested, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		for nestedKey := range nested {
			if !snakeCase.MatchString(nestedKey) {
				fmt.Printf("FAIL: nested key %q under %q is not snake_case\n", nestedKey, key)
				failed = true
			}
		}
	}

	// Keys the widget and console hard-code
	for _, required := range []string{"type", "session_id", "content", "timestamp", "sender"} {
		if _, ok := wire[required]; !ok {
			fmt.Printf("FAIL: required wire key %q missing from marshaled event\n", required)
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
	fmt.Println("OK: all wire event keys are snake_case")
}
