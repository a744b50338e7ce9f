package payment

import (
	"github.com/smallbiznis/acpgateway/internal/payment/adapters"
	"github.com/smallbiznis/acpgateway/internal/payment/adapters/stub"
	"github.com/smallbiznis/acpgateway/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(NewProcessor),
)

func NewProcessor() domain.Processor {
	return adapters.NewRegistry(domain.MethodACP,
		stub.New(domain.MethodACP, "ACP Payment"),
		stub.New(domain.MethodCard, "Card"),
		stub.New(domain.MethodBankTransfer, "Bank Transfer"),
		stub.New(domain.MethodWallet, "Wallet"),
	)
}
