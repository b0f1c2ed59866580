package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// EventsRepository persists the append-only events table (the outbox).
type EventsRepository interface {
	// Insert writes a single event using the caller's transaction.
	Insert(ctx context.Context, tx *sqlx.Tx, e model.Event) error
	GetByID(ctx context.Context, id string) (*model.Event, error)
	// ListUndispatched pages through events without a dispatch marker; a nil
	// cursor starts from the oldest.
	ListUndispatched(ctx context.Context, after *model.EventCursor, limit int) ([]model.Event, error)
	MarkDispatched(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error
	ListByTenant(ctx context.Context, tenantID string, typ model.EventType, limit int) ([]model.Event, error)
	CountsByType(ctx context.Context, tenantID string) ([]model.EventTypeCount, error)
	DeleteDispatchedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// EventsRepositoryImpl is a sqlx-backed implementation.
type EventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEventsRepository(db *sqlx.DB) *EventsRepositoryImpl {
	return &EventsRepositoryImpl{db: db}
}

var _ EventsRepository = (*EventsRepositoryImpl)(nil)

const eventColumns = `id, tenant_id, event_type, payload, occurred_at, dispatched_at`

// Insert adds an event row. A nil tx is rejected by the outbox service before it gets here;
// the repository still honours it by opening its own transaction.
func (r *EventsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.Event) error {
	const q = `
		INSERT INTO events (id, tenant_id, event_type, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, e.ID, e.TenantID, e.Type.String(), []byte(e.Payload), e.OccurredAt)
		return err
	})
}

func (r *EventsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	err := r.db.GetContext(ctx, &e, `SELECT `+eventColumns+` FROM events WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListUndispatched returns events without a dispatch marker, oldest first,
// starting strictly after the cursor.
func (r *EventsRepositoryImpl) ListUndispatched(ctx context.Context, after *model.EventCursor, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.Event
	if after == nil {
		err := r.db.SelectContext(ctx, &rows, `
			SELECT `+eventColumns+`
			  FROM events
			 WHERE dispatched_at IS NULL
			 ORDER BY occurred_at ASC, id ASC
			 LIMIT ?
		`, limit)
		return rows, err
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+eventColumns+`
		  FROM events
		 WHERE dispatched_at IS NULL
		   AND (occurred_at > ? OR (occurred_at = ? AND id > ?))
		 ORDER BY occurred_at ASC, id ASC
		 LIMIT ?
	`, after.OccurredAt, after.OccurredAt, after.ID, limit)
	return rows, err
}

func (r *EventsRepositoryImpl) MarkDispatched(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE events SET dispatched_at = ? WHERE id = ? AND dispatched_at IS NULL`, at, id)
		return err
	})
}

func (r *EventsRepositoryImpl) ListByTenant(ctx context.Context, tenantID string, typ model.EventType, limit int) ([]model.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `SELECT ` + eventColumns + ` FROM events WHERE tenant_id = ?`
	args := []any{tenantID}
	if typ != "" {
		q += " AND event_type = ?"
		args = append(args, typ.String())
	}
	q += " ORDER BY occurred_at DESC LIMIT ?"
	args = append(args, limit)

	var rows []model.Event
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// CountsByType tallies a tenant's events per type, split by dispatch marker.
func (r *EventsRepositoryImpl) CountsByType(ctx context.Context, tenantID string) ([]model.EventTypeCount, error) {
	var rows []model.EventTypeCount
	err := r.db.SelectContext(ctx, &rows, `
		SELECT event_type,
		       COUNT(*) AS total,
		       COALESCE(SUM(dispatched_at IS NOT NULL), 0) AS dispatched
		  FROM events
		 WHERE tenant_id = ?
		 GROUP BY event_type
		 ORDER BY event_type
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteDispatchedBefore purges dispatched events older than cutoff that have no deliveries left.
func (r *EventsRepositoryImpl) DeleteDispatchedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM events
		 WHERE dispatched_at IS NOT NULL
		   AND occurred_at < ?
		   AND NOT EXISTS (SELECT 1 FROM deliveries d WHERE d.event_id = events.id)
		 LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
