package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/smallbiznis/acpgateway/internal/config"
	"github.com/smallbiznis/acpgateway/internal/migration"
	"github.com/smallbiznis/acpgateway/internal/scheduler"
	webhookdomain "github.com/smallbiznis/acpgateway/internal/webhook/domain"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func migrateCmd(modules graph) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn *gorm.DB
				cfg  config.Config
			)
			return runWith(cmd, modules(), func(ctx context.Context) error {
				if err := migration.Run(conn.WithContext(ctx), cfg.DBType); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			}, &conn, &cfg)
		},
	}
}

func sweepCmd(modules graph) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the webhook retry and retention jobs once",
		RunE: func(cmd *cobra.Command, args []string) error {
			var s *scheduler.Scheduler
			return runWith(cmd, modules(), func(ctx context.Context) error {
				if err := s.RunOnce(ctx, force); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "sweep finished")
				return nil
			}, &s)
		},
	}
	cmd.Flags().BoolVar(&force, "force", true, "Run every enabled job regardless of its interval")
	return cmd
}

func webhooksCmd(modules graph) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Inspect and retry outbound webhook deliveries",
	}
	cmd.AddCommand(webhookStatsCmd(modules))
	cmd.AddCommand(webhookRetryCmd(modules))
	return cmd
}

func webhookStatsCmd(modules graph) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print delivery counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc webhookdomain.Service
			return runWith(cmd, modules(), func(ctx context.Context) error {
				stats, err := svc.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			}, &svc)
		},
	}
}

func webhookRetryCmd(modules graph) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retry failed deliveries that are due",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				svc webhookdomain.Service
				cfg config.Config
			)
			return runWith(cmd, modules(), func(ctx context.Context) error {
				if limit <= 0 {
					limit = cfg.Webhook.RetryBatch
				}
				result, err := svc.RetryFailed(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}, &svc, &cfg)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum deliveries to retry (defaults to ACP_WEBHOOK_RETRY_BATCH)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
