package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/acpgateway/internal/tax/domain"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	Update(ctx context.Context, sessionID string, req UpdateRequest) (*Session, error)
	Complete(ctx context.Context, sessionID string, req CompleteRequest) (*CompleteResult, error)
	Cancel(ctx context.Context, sessionID string) (*Session, error)
	Stats(ctx context.Context) (*Stats, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Present(session *Session) (*Response, error)
}

type ItemInput struct {
	SKU         string
	Name        string
	Description *string
	Quantity    int
	Price       decimal.Decimal
}

type CreateRequest struct {
	Items           []ItemInput
	Buyer           *Buyer
	Currency        string
	ShippingAddress *taxdomain.Address
	Metadata        map[string]any
}

// UpdateRequest overwrites only the non-nil fields.
type UpdateRequest struct {
	Amount   *decimal.Decimal
	Currency *string
	Status   *string
}

type CompleteRequest struct {
	PaymentMethod  string
	PaymentDetails map[string]any
	BillingAddress *taxdomain.Address
}

type CompleteResult struct {
	IntentID      string `json:"intent_id"`
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	PaymentID     string `json:"payment_id"`
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
}

// SessionLocker serializes mutations of one session across instances.
type SessionLocker interface {
	LockSession(ctx context.Context, sessionID string) (unlock func(), err error)
}

var (
	ErrItemsRequired      = errors.New("items_required")
	ErrInvalidItem        = errors.New("invalid_item")
	ErrInvalidCurrency    = errors.New("invalid_currency")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidStatusValue = errors.New("invalid_status_value")
	ErrNotFound           = errors.New("session_not_found")
	ErrNotPending         = errors.New("session_not_pending")
	ErrPaymentFailed      = errors.New("payment_failed")
	ErrConflict           = errors.New("session_conflict")
	ErrSessionLocked      = errors.New("session_locked")
)
