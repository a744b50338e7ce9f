package scheduler

import (
	"context"
	"errors"
	"time"

	auditdomain "github.com/smallbiznis/acpgateway/internal/audit/domain"
	obsmetrics "github.com/smallbiznis/acpgateway/internal/observability/metrics"
	webhookdomain "github.com/smallbiznis/acpgateway/internal/webhook/domain"
	"go.uber.org/zap"
)

// WebhookRetryJob redelivers failed webhooks that are due.
func (s *Scheduler) WebhookRetryJob(ctx context.Context) error {
	ctx, run, finish := s.beginRun(ctx, JobWebhookRetry, s.cfg.RetryBatch)
	defer finish(nil)
	schedMetrics := obsmetrics.Scheduler()

	result, err := s.webhooks.RetryFailed(ctx, s.cfg.RetryBatch)
	if errors.Is(err, webhookdomain.ErrNoEndpoint) {
		schedMetrics.IncBatchDeferred(JobWebhookRetry, obsmetrics.SchedulerBatchDeferredReasonNoEndpoint)
		s.logger(ctx).Info("scheduler.webhook_retry.deferred", zap.String("reason", obsmetrics.SchedulerBatchDeferredReasonNoEndpoint))
		return nil
	}
	if errors.Is(err, webhookdomain.ErrDisabled) {
		return nil
	}
	if err != nil {
		s.jobError(ctx, run, "scheduler.webhook_retry.failed", err)
		return err
	}

	run.add("webhook_sent", result.Sent)
	run.add("webhook_failed", result.Failed)
	schedMetrics.AddBatchProcessed(JobWebhookRetry, "webhook_sent", result.Sent)
	schedMetrics.AddBatchProcessed(JobWebhookRetry, "webhook_failed", result.Failed)
	for i := 0; i < result.Skipped; i++ {
		schedMetrics.IncBatchDeferred(JobWebhookRetry, obsmetrics.SchedulerBatchDeferredReasonClaimLost)
	}
	if result.Selected > 0 {
		s.emitAuditEvent(ctx, "webhook.retry_sweep", "Webhook retry sweep finished", map[string]any{
			"selected": result.Selected,
			"claimed":  result.Claimed,
			"sent":     result.Sent,
			"failed":   result.Failed,
			"skipped":  result.Skipped,
		})
	}
	return nil
}

func (s *Scheduler) SessionRetentionJob(ctx context.Context) error {
	return s.purge(ctx, JobSessionRetention, "checkout_session", s.cfg.SessionRetention, s.sessions.PurgeOlderThan)
}

func (s *Scheduler) WebhookRetentionJob(ctx context.Context) error {
	return s.purge(ctx, JobWebhookRetention, "webhook", s.cfg.WebhookRetention, s.webhooks.PurgeOlderThan)
}

// LogRetentionJob trims the acp_logs table. Process logs go to stdout and are
// not rotated here.
func (s *Scheduler) LogRetentionJob(ctx context.Context) error {
	return s.purge(ctx, JobLogRetention, "log", s.cfg.LogRetention, s.auditSvc.PurgeOlderThan)
}

// IdempotencySweepJob drops expired keys from the in-process idempotency
// store. It does not audit; the sweep is routine and runs every few minutes.
func (s *Scheduler) IdempotencySweepJob(ctx context.Context) error {
	ctx, run, finish := s.beginRun(ctx, JobIdempotencySweep, 0)
	defer finish(nil)
	if s.sweeper == nil {
		return nil
	}

	removed := s.sweeper.Sweep()
	run.add("idempotency_key", removed)
	obsmetrics.Scheduler().AddBatchProcessed(JobIdempotencySweep, "idempotency_key", removed)
	if removed > 0 {
		s.logger(ctx).Debug("scheduler.idempotency_sweep.removed", zap.Int("removed", removed))
	}
	return nil
}

func (s *Scheduler) purge(
	ctx context.Context,
	job string,
	resource string,
	retention time.Duration,
	fn func(context.Context, time.Time) (int64, error),
) error {
	ctx, run, finish := s.beginRun(ctx, job, 0)
	defer finish(nil)

	cutoff := s.clock.Now().Add(-retention)
	deleted, err := fn(ctx, cutoff)
	if err != nil {
		s.jobError(ctx, run, "scheduler.retention.failed", err,
			zap.Time("cutoff", cutoff),
		)
		return err
	}

	run.add(resource, int(deleted))
	obsmetrics.Scheduler().AddBatchProcessed(job, resource, int(deleted))
	if deleted > 0 {
		s.emitAuditEvent(ctx, job+".purged", "Retention sweep removed old rows", map[string]any{
			"resource": resource,
			"deleted":  deleted,
			"cutoff":   cutoff.Format(time.RFC3339),
		})
	}
	return nil
}

func (s *Scheduler) emitAuditEvent(ctx context.Context, action, message string, fields map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Event{
		Level:   auditdomain.LevelInfo,
		Action:  action,
		Message: message,
		Context: fields,
	}); err != nil {
		s.logger(ctx).Warn("scheduler audit write failed", zap.String("action", action), zap.Error(err))
	}
}
