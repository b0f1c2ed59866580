package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/util"
	"github.com/jmoiron/sqlx"
)

// Service records domain events into the events table inside the caller's transaction.
// Dispatch happens later and asynchronously; Record never talks to a subscriber.
type Service struct {
	tx     repository.TxRunner
	events repository.EventsRepository
	now    func() time.Time
}

// New constructs the outbox service.
func New(tx repository.TxRunner, eventsRepo repository.EventsRepository) *Service {
	return &Service{
		tx:     tx,
		events: eventsRepo,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used for occurred_at.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Record validates the event, generates a ULID, and writes the row with tx.
// Returns the generated event ID. Errors are returned as-is so the caller's
// transaction rolls back together with the state change it was describing.
func (s *Service) Record(ctx context.Context, tx *sqlx.Tx, tenantID string, eventType model.EventType, payload any) (string, error) {
	if tx == nil {
		return "", model.ErrNoTransaction
	}
	if strings.TrimSpace(tenantID) == "" {
		return "", model.ErrInvalidTenant
	}
	if !eventType.Valid() {
		return "", &model.InvalidEventTypeError{Name: eventType.String()}
	}

	data, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	occurredAt := s.now()
	e := model.Event{
		ID:         util.NewAt(occurredAt),
		TenantID:   tenantID,
		Type:       eventType,
		Payload:    data,
		OccurredAt: occurredAt,
	}

	if err := s.events.Insert(ctx, tx, e); err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}

	metrics.EventsRecorded.WithLabelValues(eventType.String()).Inc()
	return e.ID, nil
}

// Mutate runs fn in a single transaction: commit when fn returns nil, rollback otherwise.
// Domain code wraps its own writes and the matching Record call in one Mutate.
func (s *Service) Mutate(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.tx.WithTx(ctx, fn)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}
