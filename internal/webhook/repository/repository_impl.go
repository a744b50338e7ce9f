package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/acpgateway/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const eventColumns = `id, webhook_id, event_type, order_id, session_id, payload, status, attempts, max_attempts,
	next_retry_at, response_code, response_body, last_error, processed_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, e *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO acp_webhooks (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.WebhookID,
		e.EventType,
		e.OrderID,
		e.SessionID,
		e.Payload,
		e.Status,
		e.Attempts,
		e.MaxAttempts,
		e.NextRetryAt,
		e.ResponseCode,
		e.ResponseBody,
		e.LastError,
		e.ProcessedAt,
		e.CreatedAt,
		e.UpdatedAt,
	).Error
}

func (r *repo) FindByWebhookID(ctx context.Context, db *gorm.DB, webhookID string) (*domain.Event, error) {
	var e domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM acp_webhooks WHERE webhook_id = ?`,
		webhookID,
	).Scan(&e).Error
	if err != nil {
		return nil, err
	}
	if e.ID == 0 {
		return nil, nil
	}
	return &e, nil
}

func (r *repo) RecordOutcome(ctx context.Context, db *gorm.DB, webhookID string, o domain.DeliveryOutcome) error {
	return db.WithContext(ctx).Exec(
		`UPDATE acp_webhooks
		 SET status = ?, response_code = ?, response_body = ?, last_error = ?, next_retry_at = ?,
		     processed_at = ?, updated_at = ?
		 WHERE webhook_id = ? AND status <> ?`,
		o.Status,
		o.ResponseCode,
		o.ResponseBody,
		o.LastError,
		o.NextRetryAt,
		o.ProcessedAt,
		o.ProcessedAt,
		webhookID,
		domain.StatusSent,
	).Error
}

func (r *repo) ListRetryCandidates(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Event, error) {
	var events []domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+`
		 FROM acp_webhooks
		 WHERE status = ? AND attempts < max_attempts AND (next_retry_at IS NULL OR next_retry_at <= ?)
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.StatusFailed,
		now,
		limit,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) ClaimRetry(ctx context.Context, db *gorm.DB, webhookID string, observedAttempts int, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE acp_webhooks SET attempts = attempts + 1, updated_at = ?
		 WHERE webhook_id = ? AND attempts = ? AND status = ?`,
		now,
		webhookID,
		observedAttempts,
		domain.StatusFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB) (*domain.Stats, error) {
	var stats domain.Stats
	err := db.WithContext(ctx).Raw(
		`SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0) AS sent,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'failed' AND attempts >= max_attempts THEN 1 ELSE 0 END), 0) AS exhausted
		 FROM acp_webhooks`,
	).Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *repo) DeleteOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM acp_webhooks WHERE created_at < ?`, cutoff)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
