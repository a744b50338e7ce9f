package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Service resolves checkout line items against the merchant catalog.
type Service interface {
	LookupOrCreate(ctx context.Context, req LookupRequest) (*Product, error)
	Get(ctx context.Context, id int64) (*Product, error)
}

// LookupRequest describes a line item as the agent sent it. An existing SKU
// wins over the supplied name and price.
type LookupRequest struct {
	SKU      string
	Name     string
	Price    decimal.Decimal
	Quantity int
}

var (
	ErrInvalidItem       = errors.New("invalid_item")
	ErrInvalidPrice      = errors.New("invalid_price")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrInsufficientStock = errors.New("insufficient_stock")
	ErrNotFound          = errors.New("not_found")
)
