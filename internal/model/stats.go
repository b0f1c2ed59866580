package model

import "time"

// DeliveryCounts aggregates deliveries of one webhook by status.
type DeliveryCounts struct {
	Total          int        `db:"total"           json:"total"`
	TotalAttempts  int        `db:"total_attempts"  json:"total_attempts"`
	Pending        int        `db:"pending"         json:"pending"`
	InFlight       int        `db:"in_flight"       json:"in_flight"`
	Delivered      int        `db:"delivered"       json:"delivered"`
	Retrying       int        `db:"retrying"        json:"retrying"`
	Failed         int        `db:"failed"          json:"failed"`
	LastDeliveryAt *time.Time `db:"last_delivery_at" json:"last_delivery_at,omitempty"`
}

// LatencySummary is computed from the attempt log.
type LatencySummary struct {
	Attempts uint64  `db:"attempts" json:"attempts"`
	AvgMs    float64 `db:"avg_ms"   json:"avg_ms"`
	P95Ms    float64 `db:"p95_ms"   json:"p95_ms"`
	MaxMs    float64 `db:"max_ms"   json:"max_ms"`
}

// DeliveryStats is the per-webhook view returned by the admin API.
type DeliveryStats struct {
	WebhookID   string          `json:"webhook_id"`
	Counts      DeliveryCounts  `json:"counts"`
	SuccessRate float64         `json:"success_rate"`
	Latency     *LatencySummary `json:"latency,omitempty"`
}

// TenantSummary is the tenant-wide webhook overview.
type TenantSummary struct {
	TotalWebhooks  int                    `json:"total_webhooks"`
	ActiveWebhooks int                    `json:"active_webhooks"`
	Deliveries     map[DeliveryStatus]int `json:"deliveries"`
}

// Attempt is one real delivery attempt, appended to the attempt log.
type Attempt struct {
	DeliveryID   string
	WebhookID    string
	TenantID     string
	EventID      string
	EventType    EventType
	Number       int
	Outcome      DeliveryStatus
	ResponseCode int
	Error        string
	Latency      time.Duration
	AttemptedAt  time.Time
}

// EventTypeCount is one row of the per-type event tally.
type EventTypeCount struct {
	Type       EventType `db:"event_type"`
	Total      int       `db:"total"`
	Dispatched int       `db:"dispatched"`
}

// EventStats summarises a tenant's events.
type EventStats struct {
	Total        int               `json:"total_events"`
	Dispatched   int               `json:"dispatched_events"`
	Undispatched int               `json:"undispatched_events"`
	ByType       map[EventType]int `json:"event_types"`
}
