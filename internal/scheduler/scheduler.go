package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/acpgateway/internal/audit/domain"
	checkoutdomain "github.com/smallbiznis/acpgateway/internal/checkout/domain"
	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/internal/idempotency"
	obsmetrics "github.com/smallbiznis/acpgateway/internal/observability/metrics"
	"github.com/smallbiznis/acpgateway/internal/ratelimit"
	webhookdomain "github.com/smallbiznis/acpgateway/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Webhooks webhookdomain.Service
	Sessions checkoutdomain.Service
	AuditSvc auditdomain.Service
	Keys     idempotency.Store `optional:"true"`
	Leases   *ratelimit.Locker `optional:"true"`
	Config   Config            `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	webhooks webhookdomain.Service
	sessions checkoutdomain.Service
	auditSvc auditdomain.Service
	sweeper  idempotency.Sweeper
	leases   *ratelimit.Locker

	mu      sync.Mutex
	lastRun map[string]time.Time
}

type job struct {
	name     string
	interval time.Duration
	run      func(context.Context) error
	// local jobs touch per-process state and never take the shared lease
	local    bool
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Webhooks == nil || p.Sessions == nil || p.AuditSvc == nil {
		return nil, ErrInvalidConfig
	}
	sweeper, _ := p.Keys.(idempotency.Sweeper)
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		webhooks: p.Webhooks,
		sessions: p.Sessions,
		auditSvc: p.AuditSvc,
		sweeper:  sweeper,
		leases:   p.Leases,
		lastRun:  make(map[string]time.Time),
	}, nil
}

func (s *Scheduler) jobs() []job {
	jobs := []job{
		{name: JobWebhookRetry, interval: s.cfg.RetryInterval, run: s.WebhookRetryJob},
		{name: JobSessionRetention, interval: s.cfg.CleanupEvery, run: s.SessionRetentionJob},
		{name: JobWebhookRetention, interval: s.cfg.CleanupEvery, run: s.WebhookRetentionJob},
		{name: JobLogRetention, interval: s.cfg.CleanupEvery, run: s.LogRetentionJob},
	}
	if s.sweeper != nil {
		jobs = append(jobs, job{name: JobIdempotencySweep, interval: s.cfg.SweepInterval, run: s.IdempotencySweepJob, local: true})
	}
	return jobs
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, finish := s.beginRun(ctx, name, batchSize)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	finish(err)
	if err == nil {
		return nil
	}

	// deadlines are soft; the next tick picks up the remainder
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job whose interval has elapsed. force ignores
// the intervals, for cron-driven deployments.
func (s *Scheduler) RunOnce(parent context.Context, force bool) error {
	var err error
	now := s.clock.Now()

	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		if !force && !s.isDue(j.name, j.interval, now) {
			continue
		}
		run := func(ctx context.Context) error {
			return s.runJob(ctx, j.name, s.cfg.RetryBatch, s.cfg.JobTimeout, j.run)
		}
		if j.local {
			err = errors.Join(err, run(parent))
		} else {
			err = errors.Join(err, s.withLease(parent, j.name, run))
		}
		s.markRun(j.name, now)
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx, false); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// withLease skips the job when another instance holds its redis lease.
// Without redis every instance runs every job.
func (s *Scheduler) withLease(ctx context.Context, name string, fn func(context.Context) error) error {
	if s.leases == nil {
		return fn(ctx)
	}
	lease, err := s.leases.TryAcquire(ctx, ratelimit.JobLockName(name), s.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("%s: lease: %w", name, err)
	}
	if lease == nil {
		obsmetrics.Scheduler().IncBatchDeferred(name, obsmetrics.SchedulerJobReasonLeaseHeld)
		s.log.Debug("scheduler.job.skipped", zap.String("job", name), zap.Error(obsmetrics.ErrLeaseHeld))
		return nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("scheduler lease release failed", zap.String("job", name), zap.Error(err))
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) isDue(name string, interval time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[name]
	return !ok || !now.Before(last.Add(interval))
}

func (s *Scheduler) markRun(name string, now time.Time) {
	s.mu.Lock()
	s.lastRun[name] = now
	s.mu.Unlock()
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means every job runs
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
