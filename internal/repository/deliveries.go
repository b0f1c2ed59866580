package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// DeliveriesRepository persists the deliveries table. Every state transition is a
// conditional UPDATE on status (and lease for in-flight rows); callers learn
// whether they won from the affected row count.
type DeliveriesRepository interface {
	// InsertPending creates pending rows, silently skipping (event_id, webhook_id) pairs that already exist.
	InsertPending(ctx context.Context, tx *sqlx.Tx, ds []model.Delivery) (int64, error)
	ListEligible(ctx context.Context, now time.Time, limit int) ([]string, error)
	// Claim moves an eligible delivery to in_flight under leaseID. Only one caller can win.
	Claim(ctx context.Context, id, leaseID string, now time.Time) (bool, error)
	Get(ctx context.Context, id string) (*model.Delivery, error)
	GetForWebhook(ctx context.Context, tenantID, webhookID, id string) (*model.Delivery, error)
	// Complete records the outcome of a claimed attempt and increments attempt_count.
	Complete(ctx context.Context, id, leaseID string, res model.AttemptResult) error
	// Release hands a claimed delivery back to the retry pool without counting an attempt.
	Release(ctx context.Context, id, leaseID string, next time.Time) error
	ReclaimExpired(ctx context.Context, now, claimedBefore time.Time, limit int) (int64, error)
	ResetForRetry(ctx context.Context, tenantID, webhookID, id string, now time.Time) (bool, error)
	ListByWebhook(ctx context.Context, tenantID, webhookID string, f model.DeliveryFilter) ([]model.Delivery, error)
	CountsByWebhook(ctx context.Context, tenantID, webhookID string) (model.DeliveryCounts, error)
	CountsByStatus(ctx context.Context, tenantID string) (map[model.DeliveryStatus]int, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type DeliveriesRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveriesRepository(db *sqlx.DB) *DeliveriesRepositoryImpl {
	return &DeliveriesRepositoryImpl{db: db}
}

var _ DeliveriesRepository = (*DeliveriesRepositoryImpl)(nil)

const deliveryColumns = `id, event_id, webhook_id, tenant_id, event_type, status, attempt_count, attempt_base,
	lease_id, claimed_at, last_attempt_at, next_attempt_at, last_response_code, last_error,
	delivered_at, created_at, updated_at`

// InsertPending inserts many rows with a single statement.
func (r *DeliveriesRepositoryImpl) InsertPending(ctx context.Context, tx *sqlx.Tx, ds []model.Delivery) (int64, error) {
	if len(ds) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(ds)*8)

	sb.WriteString(`INSERT IGNORE INTO deliveries
		(id, event_id, webhook_id, tenant_id, event_type, status, attempt_count, attempt_base, next_attempt_at, created_at, updated_at)
		VALUES `)
	for i, d := range ds {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, 'pending', 0, 0, ?, ?, ?)")
		args = append(args, d.ID, d.EventID, d.WebhookID, d.TenantID, d.EventType.String(), d.CreatedAt, d.CreatedAt, d.CreatedAt)
	}

	var inserted int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return err
		}
		inserted, err = res.RowsAffected()
		return err
	})
	return inserted, err
}

func (r *DeliveriesRepositoryImpl) ListEligible(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id
		  FROM deliveries
		 WHERE status = 'pending'
		    OR (status = 'retrying' AND next_attempt_at <= ?)
		 ORDER BY next_attempt_at ASC, id ASC
		 LIMIT ?
	`, now, limit)
	return ids, err
}

func (r *DeliveriesRepositoryImpl) Claim(ctx context.Context, id, leaseID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		   SET status = 'in_flight', lease_id = ?, claimed_at = ?, updated_at = ?
		 WHERE id = ?
		   AND (status = 'pending' OR (status = 'retrying' AND next_attempt_at <= ?))
	`, leaseID, now, now, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *DeliveriesRepositoryImpl) Get(ctx context.Context, id string) (*model.Delivery, error) {
	return r.getOne(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ? LIMIT 1`, id)
}

func (r *DeliveriesRepositoryImpl) GetForWebhook(ctx context.Context, tenantID, webhookID, id string) (*model.Delivery, error) {
	return r.getOne(ctx, `
		SELECT `+deliveryColumns+`
		  FROM deliveries
		 WHERE id = ? AND webhook_id = ? AND tenant_id = ?
		 LIMIT 1
	`, id, webhookID, tenantID)
}

func (r *DeliveriesRepositoryImpl) getOne(ctx context.Context, q string, args ...any) (*model.Delivery, error) {
	var d model.Delivery
	err := r.db.GetContext(ctx, &d, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DeliveriesRepositoryImpl) Complete(ctx context.Context, id, leaseID string, res model.AttemptResult) error {
	var deliveredAt *time.Time
	if res.Status == model.DeliveryDelivered {
		at := res.AttemptedAt
		deliveredAt = &at
	}
	out, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		   SET status = ?,
		       attempt_count = attempt_count + 1,
		       last_attempt_at = ?,
		       next_attempt_at = ?,
		       last_response_code = ?,
		       last_error = ?,
		       delivered_at = COALESCE(?, delivered_at),
		       lease_id = NULL,
		       claimed_at = NULL,
		       updated_at = ?
		 WHERE id = ? AND status = 'in_flight' AND lease_id = ?
	`, res.Status.String(), res.AttemptedAt, res.NextAttemptAt, res.ResponseCode, res.Error,
		deliveredAt, res.AttemptedAt, id, leaseID)
	if err != nil {
		return err
	}
	return requireOneRow(out)
}

func (r *DeliveriesRepositoryImpl) Release(ctx context.Context, id, leaseID string, next time.Time) error {
	out, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		   SET status = 'retrying', next_attempt_at = ?, lease_id = NULL, claimed_at = NULL, updated_at = NOW(6)
		 WHERE id = ? AND status = 'in_flight' AND lease_id = ?
	`, next, id, leaseID)
	if err != nil {
		return err
	}
	return requireOneRow(out)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return model.ErrLeaseLost
	}
	return nil
}

// ReclaimExpired returns stuck in-flight deliveries to the retry pool; attempt_count is untouched.
func (r *DeliveriesRepositoryImpl) ReclaimExpired(ctx context.Context, now, claimedBefore time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		   SET status = 'retrying', next_attempt_at = ?, lease_id = NULL, claimed_at = NULL, updated_at = ?
		 WHERE status = 'in_flight' AND claimed_at < ?
		 ORDER BY claimed_at
		 LIMIT ?
	`, now, now, claimedBefore, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetForRetry moves a failed delivery back to pending. attempt_count is kept and
// attempt_base records where the fresh budget starts.
func (r *DeliveriesRepositoryImpl) ResetForRetry(ctx context.Context, tenantID, webhookID, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		   SET status = 'pending', next_attempt_at = ?, attempt_base = attempt_count, updated_at = ?
		 WHERE id = ? AND webhook_id = ? AND tenant_id = ? AND status = 'failed'
	`, now, now, id, webhookID, tenantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *DeliveriesRepositoryImpl) ListByWebhook(ctx context.Context, tenantID, webhookID string, f model.DeliveryFilter) ([]model.Delivery, error) {
	f = f.Normalize()

	q := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE tenant_id = ? AND webhook_id = ?`
	args := []any{tenantID, webhookID}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []model.Delivery
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DeliveriesRepositoryImpl) CountsByWebhook(ctx context.Context, tenantID, webhookID string) (model.DeliveryCounts, error) {
	var c model.DeliveryCounts
	err := r.db.GetContext(ctx, &c, `
		SELECT COUNT(*)                                        AS total,
		       COALESCE(SUM(attempt_count), 0)                 AS total_attempts,
		       COALESCE(SUM(status = 'pending'), 0)            AS pending,
		       COALESCE(SUM(status = 'in_flight'), 0)          AS in_flight,
		       COALESCE(SUM(status = 'delivered'), 0)          AS delivered,
		       COALESCE(SUM(status = 'retrying'), 0)           AS retrying,
		       COALESCE(SUM(status = 'failed'), 0)             AS failed,
		       MAX(last_attempt_at)                            AS last_delivery_at
		  FROM deliveries
		 WHERE tenant_id = ? AND webhook_id = ?
	`, tenantID, webhookID)
	return c, err
}

func (r *DeliveriesRepositoryImpl) CountsByStatus(ctx context.Context, tenantID string) (map[model.DeliveryStatus]int, error) {
	var rows []struct {
		Status model.DeliveryStatus `db:"status"`
		N      int                  `db:"n"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS n
		  FROM deliveries
		 WHERE tenant_id = ?
		 GROUP BY status
	`, tenantID)
	if err != nil {
		return nil, err
	}
	out := make(map[model.DeliveryStatus]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// DeleteTerminalBefore purges delivered/failed rows last touched before cutoff.
func (r *DeliveriesRepositoryImpl) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM deliveries
		 WHERE status IN ('delivered', 'failed') AND updated_at < ?
		 ORDER BY updated_at
		 LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
