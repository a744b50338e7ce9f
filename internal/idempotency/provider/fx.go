package provider

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/internal/config"
	"github.com/smallbiznis/acpgateway/internal/idempotency"
	"github.com/smallbiznis/acpgateway/internal/idempotency/memory"
	"github.com/smallbiznis/acpgateway/internal/idempotency/redisstore"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("idempotency",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Cfg    config.Config
	Log    *zap.Logger
	Clock  clock.Clock
	Client *redis.Client `optional:"true"`
}

// New picks the redis store when a client is configured, otherwise the
// in-process store.
func New(p Params) idempotency.Store {
	if p.Client != nil {
		p.Log.Info("idempotency store: redis")
		return redisstore.New(p.Client, p.Cfg.ACP.IdempotencyTTL, p.Cfg.ACP.ResultTTL)
	}
	p.Log.Info("idempotency store: memory")
	return memory.New(p.Cfg.ACP.IdempotencyTTL, p.Cfg.ACP.ResultTTL, p.Clock.Now)
}
