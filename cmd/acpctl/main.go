package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/acpgateway/internal/audit"
	"github.com/smallbiznis/acpgateway/internal/authorization"
	"github.com/smallbiznis/acpgateway/internal/cache"
	"github.com/smallbiznis/acpgateway/internal/catalog"
	"github.com/smallbiznis/acpgateway/internal/checkout"
	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/internal/config"
	"github.com/smallbiznis/acpgateway/internal/observability"
	"github.com/smallbiznis/acpgateway/internal/order"
	"github.com/smallbiznis/acpgateway/internal/payment"
	"github.com/smallbiznis/acpgateway/internal/ratelimit"
	"github.com/smallbiznis/acpgateway/internal/scheduler"
	"github.com/smallbiznis/acpgateway/internal/tax"
	"github.com/smallbiznis/acpgateway/internal/webhook"
	"github.com/smallbiznis/acpgateway/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var Version = "dev"

// graph returns the fx options a command builds its short-lived app from.
type graph func() []fx.Option

func main() {
	if err := newRootCmd(infraModules, domainModules).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(infra, domain graph) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "acpctl",
		Short:        "Operator commands for the ACP checkout gateway",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Duration("timeout", 2*time.Minute, "Overall command timeout")

	rootCmd.AddCommand(migrateCmd(infra))
	rootCmd.AddCommand(sweepCmd(domain))
	rootCmd.AddCommand(webhooksCmd(domain))
	return rootCmd
}

// runWith builds a short-lived fx graph, populates targets, runs fn and
// stops the graph again. No HTTP server or scheduler loop is started.
func runWith(cmd *cobra.Command, modules []fx.Option, fn func(ctx context.Context) error, targets ...any) error {
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	opts := append([]fx.Option{fx.NopLogger}, modules...)
	opts = append(opts, fx.Populate(targets...))
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}

func infraModules() []fx.Option {
	return []fx.Option{
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
	}
}

func domainModules() []fx.Option {
	return append(infraModules(),
		cache.Module,
		authorization.Module,
		ratelimit.Module,
		audit.Module,
		catalog.Module,
		tax.Module,
		payment.Module,
		order.Module,
		checkout.Module,
		webhook.Module,
		scheduler.Module,
	)
}

func registerSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}
