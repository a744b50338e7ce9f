package scheduler

import (
	"context"
	"sort"
	"time"

	obscontext "github.com/smallbiznis/acpgateway/internal/observability/context"
	obslogger "github.com/smallbiznis/acpgateway/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/acpgateway/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a job. Nested calls (runJob wrapping a job
// method) share the outermost run.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time
	processed map[string]int
	errors    int
}

type jobRunKey struct{}

func (r *jobRun) add(resource string, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processed[resource] += count
}

func (r *jobRun) total() int {
	n := 0
	for _, c := range r.processed {
		n += c
	}
	return n
}

// beginRun attaches a run to ctx unless one is already present. The returned
// finish logs the outcome only for the run it created; err counts as a job
// error when nothing else was recorded.
func (s *Scheduler) beginRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, func(err error)) {
	if ctx == nil {
		ctx = context.Background()
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return ctx, run, func(error) {}
	}

	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
		processed: map[string]int{},
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx = obscontext.WithRequestID(ctx, "job_"+run.runID)

	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", batchSize),
	)
	return ctx, run, func(err error) {
		if err != nil && run.errors == 0 {
			run.errors++
		}
		s.finishRun(ctx, run)
	}
}

func (s *Scheduler) finishRun(ctx context.Context, run *jobRun) {
	resources := make([]string, 0, len(run.processed))
	for r := range run.processed {
		resources = append(resources, r)
	}
	sort.Strings(resources)

	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.total()),
		zap.Int("error_count", run.errors),
	}
	for _, r := range resources {
		fields = append(fields, zap.Int("processed."+r, run.processed[r]))
	}

	log := s.logger(ctx)
	if run.errors > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

// jobError logs err with its scheduler classification and counts it against
// the run.
func (s *Scheduler) jobError(ctx context.Context, run *jobRun, msg string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	job := ""
	if run != nil {
		run.errors++
		job = run.job
	}
	s.logger(ctx).Error(msg, append([]zap.Field{
		zap.String("job", job),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	}, fields...)...)
}
