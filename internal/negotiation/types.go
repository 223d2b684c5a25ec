// Package negotiation turns the heterogeneous negotiation payloads pushed by the backend into one
// canonical Event shape.
package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memohai/negosync/internal/identity"
)

// Origin tells which delivery path produced an event.
type Origin string

const (
	OriginChannel Origin = "channel"
	OriginPoll    Origin = "poll"
)

// RawEvent is an untyped payload as received from the channel or the poller.
type RawEvent map[string]any

// DecodeRaw decodes a JSON object into a RawEvent. A null payload yields an empty event.
func DecodeRaw(data []byte) (RawEvent, error) {
	if len(data) == 0 {
		return RawEvent{}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return RawEvent(payload), nil
}

// Event is the canonical negotiation event. It is immutable once normalized.
type Event struct {
	EventID      string        `json:"event_id"`
	ThreadID     string        `json:"thread_id,omitempty"`
	BidID        string        `json:"bid_id,omitempty"`
	LoadID       string        `json:"load_id,omitempty"`
	SenderID     string        `json:"sender_id"`
	SenderName   string        `json:"sender_name"`
	SenderRole   identity.Role `json:"sender_role"`
	Message      string        `json:"message"`
	Rate         *float64      `json:"rate,omitempty"`
	PreviousRate *float64      `json:"previous_rate,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
	Origin       Origin        `json:"origin"`
	Alias        string        `json:"alias"`
	// SelfFlag records an explicit "this is yours" marker found on the raw payload.
	SelfFlag bool `json:"self_flag,omitempty"`
}

// Key identifies the thread a notification belongs to.
// Events without thread and bid ids fall back to a per-event key so they never collapse.
type Key struct {
	ThreadID string
	BidID    string
	Fallback string
}

// Key returns the (thread, bid) merge key of the event.
func (e Event) Key() Key {
	if e.ThreadID == "" && e.BidID == "" {
		return Key{Fallback: e.EventID}
	}
	return Key{ThreadID: e.ThreadID, BidID: e.BidID}
}

// String renders the key for logs, tags, and storage.
func (k Key) String() string {
	if k.Fallback != "" {
		return "event:" + k.Fallback
	}
	return k.ThreadID + "|" + k.BidID
}

// NewerThan reports whether e, arriving after other, should supersede it on the same key:
// later OccurredAt wins. On a tie the later arrival wins, except that a poll delivery never
// displaces a channel delivery.
func (e Event) NewerThan(other Event) bool {
	if e.OccurredAt.After(other.OccurredAt) {
		return true
	}
	if e.OccurredAt.Before(other.OccurredAt) {
		return false
	}
	return !(e.Origin == OriginPoll && other.Origin == OriginChannel)
}

// ErrMalformedEvent is the sentinel wrapped by every normalization failure.
var ErrMalformedEvent = errors.New("malformed negotiation event")

// MalformedEventError describes why a payload could not be normalized.
type MalformedEventError struct {
	Alias  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	alias := strings.TrimSpace(e.Alias)
	if alias == "" {
		return fmt.Sprintf("%s: %s", ErrMalformedEvent, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %s", ErrMalformedEvent, alias, e.Reason)
}

func (e *MalformedEventError) Unwrap() error {
	return ErrMalformedEvent
}
