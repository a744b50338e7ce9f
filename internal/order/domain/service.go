package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status string) (*Order, error)
	Get(ctx context.Context, orderID int64) (*Order, error)
}

type CreateOrderRequest struct {
	SessionID          string
	Currency           string
	Total              decimal.Decimal
	Customer           Customer
	BillingAddress     *Address
	ShippingAddress    *Address
	Items              []Item
	PaymentMethod      string
	PaymentMethodTitle string
	TransactionID      string
	Metadata           map[string]any
}

// StatusChange carries the order as it is after the change.
type StatusChange struct {
	Order     Order
	OldStatus string
	NewStatus string
}

// StatusListener is notified after an order status change is committed.
// Listeners must not fail the change; they own their own error handling.
type StatusListener interface {
	OnStatusChanged(ctx context.Context, change StatusChange)
}

var (
	ErrInvalidOrder   = errors.New("invalid_order")
	ErrInvalidStatus  = errors.New("invalid_order_status")
	ErrNotFound       = errors.New("order_not_found")
	ErrStatusConflict = errors.New("order_status_conflict")
)
