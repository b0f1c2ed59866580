package model

import "time"

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryInFlight  DeliveryStatus = "in_flight"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRetrying  DeliveryStatus = "retrying"
	DeliveryFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string {
	return string(s)
}

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliveryInFlight, DeliveryDelivered, DeliveryRetrying, DeliveryFailed:
		return true
	}
	return false
}

// Terminal reports whether no automatic transition leaves this status.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

// Delivery is the attempt lineage of one (event, webhook) pair.
type Delivery struct {
	ID               string         `db:"id"                 json:"id"`
	EventID          string         `db:"event_id"           json:"event_id"`
	WebhookID        string         `db:"webhook_id"         json:"webhook_id"`
	TenantID         string         `db:"tenant_id"          json:"tenant_id"`
	EventType        EventType      `db:"event_type"         json:"event_type"`
	Status           DeliveryStatus `db:"status"             json:"status"`
	AttemptCount     int            `db:"attempt_count"      json:"attempt_count"`
	AttemptBase      int            `db:"attempt_base"       json:"attempt_base"`
	LeaseID          *string        `db:"lease_id"           json:"-"`
	ClaimedAt        *time.Time     `db:"claimed_at"         json:"-"`
	LastAttemptAt    *time.Time     `db:"last_attempt_at"    json:"last_attempt_at,omitempty"`
	NextAttemptAt    *time.Time     `db:"next_attempt_at"    json:"next_attempt_at,omitempty"`
	LastResponseCode *int           `db:"last_response_code" json:"last_response_code,omitempty"`
	LastError        *string        `db:"last_error"         json:"last_error,omitempty"`
	DeliveredAt      *time.Time     `db:"delivered_at"       json:"delivered_at,omitempty"`
	CreatedAt        time.Time      `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"         json:"updated_at"`
}

// AttemptResult is what a worker writes back after one attempt.
type AttemptResult struct {
	Status        DeliveryStatus // delivered | retrying | failed
	AttemptedAt   time.Time
	NextAttemptAt *time.Time
	ResponseCode  *int
	Error         *string
}

// DeliveryFilter narrows a delivery listing.
type DeliveryFilter struct {
	Status DeliveryStatus
	Limit  int
	Offset int
}

// Normalize clamps paging to sane bounds.
func (f DeliveryFilter) Normalize() DeliveryFilter {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if !f.Status.Valid() {
		f.Status = ""
	}
	return f
}
