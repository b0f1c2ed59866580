package model

import (
	"encoding/json"
	"time"
)

// Envelope is the body POSTed to a webhook target.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  EventType       `json:"event_type"`
	TenantID   string          `json:"tenant_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

func NewEnvelope(e Event) Envelope {
	data := e.Payload
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return Envelope{
		EventID:    e.ID,
		EventType:  e.Type,
		TenantID:   e.TenantID,
		OccurredAt: e.OccurredAt.UTC(),
		Data:       data,
	}
}
