package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

const (
	MethodCard         = "card"
	MethodBankTransfer = "bank_transfer"
	MethodWallet       = "wallet"
	MethodACP          = "acp"
)

type ChargeRequest struct {
	SessionID string
	Amount    decimal.Decimal
	Currency  string
	Method    string
	Details   map[string]any
}

type ChargeResult struct {
	PaymentID     string
	TransactionID string
	Method        string
	MethodTitle   string
}

// Processor charges a checkout session. Implementations return ErrDeclined
// (optionally wrapped) for a business failure.
type Processor interface {
	Method() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

var (
	ErrDeclined          = errors.New("payment_declined")
	ErrUnsupportedMethod = errors.New("unsupported_payment_method")
	ErrInvalidAmount     = errors.New("invalid_amount")
)
