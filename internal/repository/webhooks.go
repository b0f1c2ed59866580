package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// WebhooksRepository persists webhook subscriptions.
type WebhooksRepository interface {
	Insert(ctx context.Context, w model.Webhook) error
	// Get loads a webhook regardless of tenant; used by delivery workers only.
	Get(ctx context.Context, id string) (*model.Webhook, error)
	GetForTenant(ctx context.Context, tenantID, id string) (*model.Webhook, error)
	ListByTenant(ctx context.Context, tenantID string, active *bool) ([]model.Webhook, error)
	ListActiveForEvent(ctx context.Context, tx *sqlx.Tx, tenantID string, typ model.EventType) ([]model.Webhook, error)
	Update(ctx context.Context, w model.Webhook) error
	Delete(ctx context.Context, tenantID, id string) (bool, error)
	CountByTenant(ctx context.Context, tenantID string) (total, active int, err error)
}

type WebhooksRepositoryImpl struct {
	db *sqlx.DB
}

func NewWebhooksRepository(db *sqlx.DB) *WebhooksRepositoryImpl {
	return &WebhooksRepositoryImpl{db: db}
}

var _ WebhooksRepository = (*WebhooksRepositoryImpl)(nil)

const webhookColumns = `id, tenant_id, name, url, secret, events, is_active, created_at, updated_at`

func (r *WebhooksRepositoryImpl) Insert(ctx context.Context, w model.Webhook) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhooks
		    (id, tenant_id, name, url, secret, events, is_active, created_at, updated_at)
		VALUES
		    (?,  ?,         ?,    ?,   ?,      ?,      ?,         ?,          ?)
	`, w.ID, w.TenantID, w.Name, w.URL, w.Secret, w.Events, w.IsActive, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r *WebhooksRepositoryImpl) Get(ctx context.Context, id string) (*model.Webhook, error) {
	return r.getOne(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = ? LIMIT 1`, id)
}

func (r *WebhooksRepositoryImpl) GetForTenant(ctx context.Context, tenantID, id string) (*model.Webhook, error) {
	return r.getOne(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = ? AND tenant_id = ? LIMIT 1`, id, tenantID)
}

func (r *WebhooksRepositoryImpl) getOne(ctx context.Context, q string, args ...any) (*model.Webhook, error) {
	var w model.Webhook
	err := r.db.GetContext(ctx, &w, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WebhooksRepositoryImpl) ListByTenant(ctx context.Context, tenantID string, active *bool) ([]model.Webhook, error) {
	q := `SELECT ` + webhookColumns + ` FROM webhooks WHERE tenant_id = ?`
	args := []any{tenantID}
	if active != nil {
		q += " AND is_active = ?"
		args = append(args, *active)
	}
	q += " ORDER BY created_at DESC"

	var rows []model.Webhook
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListActiveForEvent matches active webhooks of the tenant subscribed to typ.
func (r *WebhooksRepositoryImpl) ListActiveForEvent(ctx context.Context, tx *sqlx.Tx, tenantID string, typ model.EventType) ([]model.Webhook, error) {
	const q = `
		SELECT ` + webhookColumns + `
		  FROM webhooks
		 WHERE tenant_id = ?
		   AND is_active = 1
		   AND JSON_CONTAINS(events, JSON_QUOTE(?))
		 ORDER BY id
	`
	var rows []model.Webhook
	var err error
	if tx != nil {
		err = tx.SelectContext(ctx, &rows, q, tenantID, typ.String())
	} else {
		err = r.db.SelectContext(ctx, &rows, q, tenantID, typ.String())
	}
	return rows, err
}

// Update rewrites the mutable columns. The secret is never updated.
func (r *WebhooksRepositoryImpl) Update(ctx context.Context, w model.Webhook) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhooks
		   SET name = ?, url = ?, events = ?, is_active = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ?
	`, w.Name, w.URL, w.Events, w.IsActive, w.UpdatedAt, w.ID, w.TenantID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports 0 for a no-op update; distinguish from a missing row.
		if _, err := r.GetForTenant(ctx, w.TenantID, w.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *WebhooksRepositoryImpl) Delete(ctx context.Context, tenantID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ? AND tenant_id = ?`, id, tenantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *WebhooksRepositoryImpl) CountByTenant(ctx context.Context, tenantID string) (int, int, error) {
	var out struct {
		Total  int `db:"total"`
		Active int `db:"active"`
	}
	err := r.db.GetContext(ctx, &out, `
		SELECT COUNT(*) AS total, COALESCE(SUM(is_active), 0) AS active
		  FROM webhooks
		 WHERE tenant_id = ?
	`, tenantID)
	return out.Total, out.Active, err
}
