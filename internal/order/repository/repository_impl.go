package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/acpgateway/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const orderColumns = `id, session_id, status, currency, total, customer, billing_address, shipping_address,
	items, payment_method, payment_method_title, transaction_id, metadata, created_at, updated_at`

func (r *repo) Create(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO acp_orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.SessionID,
		order.Status,
		order.Currency,
		order.Total,
		order.Customer,
		order.BillingAddress,
		order.ShippingAddress,
		order.Items,
		order.PaymentMethod,
		order.PaymentMethodTitle,
		order.TransactionID,
		order.Metadata,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM acp_orders WHERE id = ?`,
		id,
	).Scan(&o).Error
	if err != nil {
		return nil, err
	}
	if o.ID == 0 {
		return nil, nil
	}
	return &o, nil
}

func (r *repo) CompareAndSetStatus(ctx context.Context, db *gorm.DB, id int64, from, to string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE acp_orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, now, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
