package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	auditdomain "github.com/smallbiznis/acpgateway/internal/audit/domain"
	checkoutdomain "github.com/smallbiznis/acpgateway/internal/checkout/domain"
	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/internal/idempotency/memory"
	obsmetrics "github.com/smallbiznis/acpgateway/internal/observability/metrics"
	webhookdomain "github.com/smallbiznis/acpgateway/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWebhooks struct {
	webhookdomain.Service

	mu       sync.Mutex
	retryErr error
	result   webhookdomain.RetryResult
	retries  int
	limits   []int
	purgedAt []time.Time
}

func (f *fakeWebhooks) RetryFailed(_ context.Context, limit int) (*webhookdomain.RetryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
	f.limits = append(f.limits, limit)
	if f.retryErr != nil {
		return &webhookdomain.RetryResult{}, f.retryErr
	}
	res := f.result
	return &res, nil
}

func (f *fakeWebhooks) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgedAt = append(f.purgedAt, cutoff)
	return 2, nil
}

type fakeSessions struct {
	checkoutdomain.Service
	purgedAt []time.Time
}

func (f *fakeSessions) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.purgedAt = append(f.purgedAt, cutoff)
	return 1, nil
}

type fakeAudit struct {
	auditdomain.Service
	events   []auditdomain.Event
	purgedAt []time.Time
}

func (f *fakeAudit) Record(_ context.Context, event auditdomain.Event) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.purgedAt = append(f.purgedAt, cutoff)
	return 0, nil
}

type fixture struct {
	sched    *Scheduler
	clock    *clock.FakeClock
	webhooks *fakeWebhooks
	sessions *fakeSessions
	audit    *fakeAudit
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		clock:    clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		webhooks: &fakeWebhooks{},
		sessions: &fakeSessions{},
		audit:    &fakeAudit{},
	}
	f.sched, err = New(Params{
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    f.clock,
		Webhooks: f.webhooks,
		Sessions: f.sessions,
		AuditSvc: f.audit,
		Config:   cfg,
	})
	require.NoError(t, err)
	return f
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "acpgateway",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "acpgateway",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "acp_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "acpgateway",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "acp_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunOnceRespectsIntervals(t *testing.T) {
	f := newFixture(t, Config{RetryInterval: 15 * time.Minute, CleanupEvery: 24 * time.Hour, RetryBatch: 10})
	ctx := context.Background()

	require.NoError(t, f.sched.RunOnce(ctx, false))
	assert.Equal(t, 1, f.webhooks.retries)
	assert.Len(t, f.sessions.purgedAt, 1)
	assert.Len(t, f.audit.purgedAt, 1)
	assert.Equal(t, []int{10}, f.webhooks.limits)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.sched.RunOnce(ctx, false))
	assert.Equal(t, 1, f.webhooks.retries, "retry interval not elapsed")

	f.clock.Advance(15 * time.Minute)
	require.NoError(t, f.sched.RunOnce(ctx, false))
	assert.Equal(t, 2, f.webhooks.retries)
	assert.Len(t, f.sessions.purgedAt, 1, "retention runs daily")

	require.NoError(t, f.sched.RunOnce(ctx, true))
	assert.Equal(t, 3, f.webhooks.retries)
	assert.Len(t, f.sessions.purgedAt, 2)
}

func TestRetentionCutoffs(t *testing.T) {
	f := newFixture(t, Config{SessionRetention: 30 * 24 * time.Hour, WebhookRetention: 7 * 24 * time.Hour})
	now := f.clock.Now()

	require.NoError(t, f.sched.RunOnce(context.Background(), true))
	require.Len(t, f.sessions.purgedAt, 1)
	require.Len(t, f.webhooks.purgedAt, 1)
	assert.Equal(t, now.Add(-30*24*time.Hour), f.sessions.purgedAt[0])
	assert.Equal(t, now.Add(-7*24*time.Hour), f.webhooks.purgedAt[0])

	var actions []string
	for _, e := range f.audit.events {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "session_retention.purged")
	assert.Contains(t, actions, "webhook_retention.purged")
	assert.NotContains(t, actions, "log_retention.purged")
}

func TestIdempotencySweepDropsExpiredKeys(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	keys := memory.New(time.Minute, time.Minute, fc.Now)
	audit := &fakeAudit{}

	sched, err := New(Params{
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fc,
		Webhooks: &fakeWebhooks{},
		Sessions: &fakeSessions{},
		AuditSvc: audit,
		Keys:     keys,
		Config:   Config{SweepInterval: 5 * time.Minute, EnabledJobs: []string{JobIdempotencySweep}},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, keys.CheckAndReserve(ctx, "order-1"))
	require.NoError(t, keys.CheckAndReserve(ctx, "order-2"))

	require.NoError(t, sched.RunOnce(ctx, false))
	assert.Equal(t, 2, keys.Len(), "nothing has expired yet")

	fc.Advance(5 * time.Minute)
	require.NoError(t, sched.RunOnce(ctx, false))
	assert.Equal(t, 0, keys.Len())
	assert.Empty(t, audit.events)
}

func TestIdempotencySweepSkippedForStoresWithoutSweep(t *testing.T) {
	f := newFixture(t, Config{})
	for _, j := range f.sched.jobs() {
		assert.NotEqual(t, JobIdempotencySweep, j.name)
	}
}

func TestWebhookRetryWithoutEndpointIsDeferred(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobWebhookRetry}})
	f.webhooks.retryErr = webhookdomain.ErrNoEndpoint

	require.NoError(t, f.sched.RunOnce(context.Background(), true))
	assert.Equal(t, 1, f.webhooks.retries)
	assert.Empty(t, f.sessions.purgedAt, "only enabled jobs run")
}

func TestWebhookRetryErrorSurfaces(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{"WEBHOOK_RETRY"}})
	f.webhooks.retryErr = errors.New("db down")

	err := f.sched.RunOnce(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobWebhookRetry)
}

func TestWebhookRetryAuditsSweep(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobWebhookRetry}})
	f.webhooks.result = webhookdomain.RetryResult{Selected: 3, Claimed: 2, Sent: 1, Failed: 1, Skipped: 1}

	require.NoError(t, f.sched.RunOnce(context.Background(), true))
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, "webhook.retry_sweep", f.audit.events[0].Action)
	assert.Equal(t, 1, f.audit.events[0].Context["sent"])
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
