package webhook

import (
	"github.com/smallbiznis/acpgateway/internal/config"
	orderdomain "github.com/smallbiznis/acpgateway/internal/order/domain"
	"github.com/smallbiznis/acpgateway/internal/webhook/domain"
	"github.com/smallbiznis/acpgateway/internal/webhook/repository"
	"github.com/smallbiznis/acpgateway/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(newSender),
	fx.Provide(service.New),
	fx.Provide(
		fx.Annotate(
			asStatusListener,
			fx.ResultTags(`group:"order.listeners"`),
		),
	),
)

func newSender(cfg config.Config) domain.Sender {
	return service.NewHTTPSender(cfg.Webhook.Timeout)
}

func asStatusListener(svc domain.Service) orderdomain.StatusListener {
	return svc
}
