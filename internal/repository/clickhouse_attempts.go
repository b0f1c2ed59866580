package repository

import (
	"context"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// AttemptLog is the append-only analytics log of real delivery attempts.
type AttemptLog interface {
	Record(ctx context.Context, a model.Attempt) error
	LatencySummary(ctx context.Context, tenantID, webhookID string) (*model.LatencySummary, error)
}

type chAttemptLog struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHAttemptLog(ch *sqlx.DB) AttemptLog {
	return &chAttemptLog{ch: ch}
}

func (r *chAttemptLog) Record(ctx context.Context, a model.Attempt) error {
	_, err := r.ch.ExecContext(ctx, `
		INSERT INTO whgw.delivery_attempts
		    (delivery_id, webhook_id, tenant_id, event_id, event_type, attempt, outcome,
		     response_code, error, latency_ms, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.DeliveryID, a.WebhookID, a.TenantID, a.EventID, a.EventType.String(),
		uint16(a.Number), a.Outcome.String(), uint16(a.ResponseCode), a.Error,
		float64(a.Latency.Microseconds())/1000, a.AttemptedAt.UTC(),
	)
	return err
}

func (r *chAttemptLog) LatencySummary(ctx context.Context, tenantID, webhookID string) (*model.LatencySummary, error) {
	var s model.LatencySummary
	err := r.ch.GetContext(ctx, &s, `
		SELECT count()                                        AS attempts,
		       ifNotFinite(avg(latency_ms), 0)                AS avg_ms,
		       ifNotFinite(quantile(0.95)(latency_ms), 0)     AS p95_ms,
		       toFloat64(max(latency_ms))                     AS max_ms
		  FROM whgw.delivery_attempts
		 WHERE tenant_id = ? AND webhook_id = ?
	`, tenantID, webhookID)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
