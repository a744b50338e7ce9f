package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acpgateway/internal/checkout/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const sessionColumns = `id, session_id, intent_id, status, amount, currency, buyer_id, buyer_name, buyer_email,
	buyer_phone, line_items, fulfillment_options, totals, shipping_address, metadata, order_id, payment_id,
	transaction_id, cancelled_at, version, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *domain.Session) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO acp_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.SessionID,
		s.IntentID,
		s.Status,
		s.Amount,
		s.Currency,
		s.BuyerID,
		s.BuyerName,
		s.BuyerEmail,
		s.BuyerPhone,
		s.LineItems,
		s.FulfillmentOptions,
		s.Totals,
		s.ShippingAddress,
		s.Metadata,
		s.OrderID,
		s.PaymentID,
		s.TransactionID,
		s.CancelledAt,
		s.Version,
		s.CreatedAt,
		s.UpdatedAt,
	).Error
}

func (r *repo) FindBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).Raw(
		`SELECT `+sessionColumns+` FROM acp_sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == 0 {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, s *domain.Session, expectedVersion int) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE acp_sessions
		 SET status = ?, amount = ?, currency = ?, order_id = ?, payment_id = ?, transaction_id = ?,
		     cancelled_at = ?, version = ?, updated_at = ?
		 WHERE session_id = ? AND version = ?`,
		s.Status,
		s.Amount,
		s.Currency,
		s.OrderID,
		s.PaymentID,
		s.TransactionID,
		s.CancelledAt,
		s.Version,
		s.UpdatedAt,
		s.SessionID,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB) (*domain.Stats, error) {
	var row struct {
		Total       int64
		Pending     int64
		Processing  int64
		Completed   int64
		Failed      int64
		Cancelled   int64
		TotalAmount decimal.NullDecimal
	}
	err := db.WithContext(ctx).Raw(
		`SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0) AS processing,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0) AS cancelled,
			SUM(amount) AS total_amount
		 FROM acp_sessions`,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	stats := &domain.Stats{
		Total:       row.Total,
		Pending:     row.Pending,
		Processing:  row.Processing,
		Completed:   row.Completed,
		Failed:      row.Failed,
		Cancelled:   row.Cancelled,
		TotalAmount: decimal.Zero,
	}
	if row.TotalAmount.Valid {
		stats.TotalAmount = row.TotalAmount.Decimal.Round(2)
	}
	return stats, nil
}

func (r *repo) DeleteOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM acp_sessions WHERE created_at < ?`, cutoff)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
