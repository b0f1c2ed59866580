package model

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// EventType is the closed vocabulary of domain events webhooks can subscribe to.
type EventType string

const (
	EventIdentityCreated     EventType = "identity.created"
	EventIdentityUpdated     EventType = "identity.updated"
	EventIdentityDeleted     EventType = "identity.deleted"
	EventIdentityActivated   EventType = "identity.activated"
	EventIdentityDeactivated EventType = "identity.deactivated"

	EventSessionCreated EventType = "session.created"
	EventSessionRevoked EventType = "session.revoked"
	EventSessionExpired EventType = "session.expired"

	EventAPIKeyCreated EventType = "api_key.created"
	EventAPIKeyRevoked EventType = "api_key.revoked"
	EventAPIKeyExpired EventType = "api_key.expired"

	EventInvitationCreated  EventType = "invitation.created"
	EventInvitationAccepted EventType = "invitation.accepted"
	EventInvitationExpired  EventType = "invitation.expired"
	EventInvitationRevoked  EventType = "invitation.revoked"

	EventPolicyCreated EventType = "policy.created"
	EventPolicyUpdated EventType = "policy.updated"
	EventPolicyDeleted EventType = "policy.deleted"

	EventMemoryCreated EventType = "memory.created"
	EventMemoryUpdated EventType = "memory.updated"
	EventMemoryDeleted EventType = "memory.deleted"
)

var eventDescriptions = map[EventType]string{
	EventIdentityCreated:     "Identity was created",
	EventIdentityUpdated:     "Identity was updated",
	EventIdentityDeleted:     "Identity was deleted",
	EventIdentityActivated:   "Identity was activated",
	EventIdentityDeactivated: "Identity was deactivated",
	EventSessionCreated:      "New session created",
	EventSessionRevoked:      "Session was revoked",
	EventSessionExpired:      "Session expired",
	EventAPIKeyCreated:       "API key was created",
	EventAPIKeyRevoked:       "API key was revoked",
	EventAPIKeyExpired:       "API key expired",
	EventInvitationCreated:   "Invitation was created",
	EventInvitationAccepted:  "Invitation was accepted",
	EventInvitationExpired:   "Invitation expired",
	EventInvitationRevoked:   "Invitation was revoked",
	EventPolicyCreated:       "Policy was created",
	EventPolicyUpdated:       "Policy was updated",
	EventPolicyDeleted:       "Policy was deleted",
	EventMemoryCreated:       "Memory was created",
	EventMemoryUpdated:       "Memory was updated",
	EventMemoryDeleted:       "Memory was deleted",
}

func (t EventType) String() string { return string(t) }

func (t EventType) Valid() bool {
	_, ok := eventDescriptions[t]
	return ok
}

func (t EventType) Description() string { return eventDescriptions[t] }

// ParseEventType normalizes input and reports whether it names a known event.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// EventTypeInfo is one entry of the supported event vocabulary.
type EventTypeInfo struct {
	Type        EventType `json:"type"`
	Description string    `json:"description"`
}

// SupportedEventTypes returns the static vocabulary sorted by name.
func SupportedEventTypes() []EventTypeInfo {
	out := make([]EventTypeInfo, 0, len(eventDescriptions))
	for t, d := range eventDescriptions {
		out = append(out, EventTypeInfo{Type: t, Description: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Event is one committed domain mutation, persisted in the events table.
// Rows are immutable; DispatchedAt is the only column written after insert.
type Event struct {
	ID           string          `db:"id"            json:"id"`
	TenantID     string          `db:"tenant_id"     json:"tenant_id"`
	Type         EventType       `db:"event_type"    json:"event_type"`
	Payload      json.RawMessage `db:"payload"       json:"payload"`
	OccurredAt   time.Time       `db:"occurred_at"   json:"occurred_at"`
	DispatchedAt *time.Time      `db:"dispatched_at" json:"dispatched_at,omitempty"`
}

// EventCursor is a position in (occurred_at, id) order. Listing after it
// returns strictly later events.
type EventCursor struct {
	OccurredAt time.Time
	ID         string
}

// CursorOf returns the position of e.
func CursorOf(e Event) *EventCursor {
	return &EventCursor{OccurredAt: e.OccurredAt, ID: e.ID}
}

// After reports whether e sorts strictly after c. A nil cursor precedes everything.
func (c *EventCursor) After(e Event) bool {
	if c == nil {
		return true
	}
	if e.OccurredAt.Equal(c.OccurredAt) {
		return e.ID > c.ID
	}
	return e.OccurredAt.After(c.OccurredAt)
}
