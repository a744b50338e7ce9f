package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/acpgateway/internal/audit"
	"github.com/smallbiznis/acpgateway/internal/auth"
	"github.com/smallbiznis/acpgateway/internal/authorization"
	"github.com/smallbiznis/acpgateway/internal/cache"
	"github.com/smallbiznis/acpgateway/internal/catalog"
	"github.com/smallbiznis/acpgateway/internal/checkout"
	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/internal/config"
	"github.com/smallbiznis/acpgateway/internal/idempotency/provider"
	"github.com/smallbiznis/acpgateway/internal/migration"
	"github.com/smallbiznis/acpgateway/internal/observability"
	"github.com/smallbiznis/acpgateway/internal/order"
	"github.com/smallbiznis/acpgateway/internal/payment"
	"github.com/smallbiznis/acpgateway/internal/ratelimit"
	"github.com/smallbiznis/acpgateway/internal/scheduler"
	"github.com/smallbiznis/acpgateway/internal/server"
	"github.com/smallbiznis/acpgateway/internal/tax"
	"github.com/smallbiznis/acpgateway/internal/webhook"
	"github.com/smallbiznis/acpgateway/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		cache.Module,
		clock.Module,

		// Request pipeline
		auth.Module,
		authorization.Module,
		provider.Module,
		ratelimit.Module,

		// Functional Domains
		audit.Module,
		catalog.Module,
		tax.Module,
		payment.Module,
		order.Module,
		checkout.Module,
		webhook.Module,

		scheduler.Module,
		scheduler.Daemon,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
