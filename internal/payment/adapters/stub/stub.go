// Package stub approves every charge. It stands in for a real gateway, which
// is outside this service.
package stub

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/acpgateway/internal/payment/domain"
)

type Processor struct {
	method string
	title  string
}

func New(method, title string) *Processor {
	return &Processor{method: method, title: title}
}

func (p *Processor) Method() string { return p.method }

func (p *Processor) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	return &domain.ChargeResult{
		PaymentID:     "pay_" + randomToken(),
		TransactionID: "txn_" + randomToken(),
		Method:        p.method,
		MethodTitle:   p.title,
	}, nil
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
