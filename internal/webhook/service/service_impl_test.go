package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/internal/config"
	"github.com/smallbiznis/acpgateway/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/acpgateway/internal/order/domain"
	"github.com/smallbiznis/acpgateway/internal/signature"
	"github.com/smallbiznis/acpgateway/internal/webhook/domain"
	"github.com/smallbiznis/acpgateway/internal/webhook/repository"
	"github.com/smallbiznis/acpgateway/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testSecret = "whsec_test"

type receiver struct {
	server *httptest.Server
	status atomic.Int32

	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	r := &receiver{}
	r.status.Store(int32(status))
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, req)
		r.bodies = append(r.bodies, body)
		r.mu.Unlock()
		w.WriteHeader(int(r.status.Load()))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type fixture struct {
	db    *gorm.DB
	svc   domain.Service
	repo  domain.Repository
	clock *clock.FakeClock
}

func setup(t *testing.T, url string, enabled bool) fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:webhook_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Event{}))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	repo := repository.Provide()

	cfg := config.Config{Webhook: config.WebhookConfig{
		Enabled:     enabled,
		URL:         url,
		Secret:      testSecret,
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		RetryBatch:  10,
		BackoffBase: time.Minute,
		BackoffMax:  time.Hour,
	}}
	svc := service.New(service.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    repo,
		Cfg:     cfg,
		Sender:  service.NewHTTPSender(cfg.Webhook.Timeout),
		Clock:   clk,
		Metrics: metrics.NewNoop(),
	})
	return fixture{db: db, svc: svc, repo: repo, clock: clk}
}

func sampleChange() orderdomain.StatusChange {
	created := time.Date(2025, 6, 1, 9, 59, 0, 0, time.UTC)
	return orderdomain.StatusChange{
		Order: orderdomain.Order{
			ID:              42,
			SessionID:       "acp_session_abc",
			Status:          orderdomain.StatusProcessing,
			Currency:        "USD",
			Total:           decimal.RequireFromString("20"),
			Customer:        datatypes.JSON(`{"id":"","email":"ada@example.com","name":"Ada","phone":""}`),
			BillingAddress:  datatypes.JSON(`{"city":"Istanbul","country":"TR"}`),
			ShippingAddress: datatypes.JSON(`null`),
			Items:           datatypes.JSON(`[{"id":"1","product_id":7,"name":"Widget","sku":"A","quantity":2,"subtotal":"20.00","total":"20.00"}]`),
			PaymentMethod:   "acp",
			TransactionID:   "txn_1",
			CreatedAt:       created,
			UpdatedAt:       created,
		},
		OldStatus: orderdomain.StatusPending,
		NewStatus: orderdomain.StatusProcessing,
	}
}

func TestDispatchDeliversSignedPayload(t *testing.T) {
	rcv := newReceiver(t, http.StatusOK)
	f := setup(t, rcv.server.URL, true)

	event, err := f.svc.Dispatch(context.Background(), sampleChange())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, event.Status)
	assert.Regexp(t, `^webhook_[A-Za-z0-9]{16}$`, event.WebhookID)

	require.Equal(t, 1, rcv.count())
	req := rcv.requests[0]
	body := rcv.bodies[0]
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "order.status_changed", req.Header.Get(service.HeaderEvent))
	assert.Equal(t, "ACP-Webhook/1.0", req.Header.Get("User-Agent"))
	assert.True(t, signature.Verify(body, req.Header.Get(service.HeaderSignature), testSecret))

	var payload domain.Payload
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, event.WebhookID, payload.WebhookID)
	assert.Equal(t, "20.00", payload.Amount)
	assert.Equal(t, "pending", payload.OldStatus)
	assert.Equal(t, "processing", payload.NewStatus)
	assert.Equal(t, "Istanbul", payload.BillingAddress.City)
	require.Len(t, payload.Items, 1)
	assert.NotNil(t, payload.Items[0].MetaData)

	stored, err := f.repo.FindByWebhookID(context.Background(), f.db, event.WebhookID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)
	require.NotNil(t, stored.ResponseCode)
	assert.Equal(t, http.StatusOK, *stored.ResponseCode)
	assert.Equal(t, 0, stored.Attempts)
	assert.JSONEq(t, string(body), string(stored.Payload))
}

func TestFailedDeliveryThenRetrySweep(t *testing.T) {
	rcv := newReceiver(t, http.StatusInternalServerError)
	f := setup(t, rcv.server.URL, true)
	ctx := context.Background()

	event, err := f.svc.Dispatch(ctx, sampleChange())
	require.NoError(t, err)

	stored, err := f.repo.FindByWebhookID(ctx, f.db, event.WebhookID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
	require.NotNil(t, stored.NextRetryAt)
	assert.Equal(t, f.clock.Now().Add(time.Minute), stored.NextRetryAt.UTC())

	// Not due yet.
	result, err := f.svc.RetryFailed(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Selected)

	f.clock.Advance(time.Minute)
	result, err = f.svc.RetryFailed(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.Failed)

	stored, err = f.repo.FindByWebhookID(ctx, f.db, event.WebhookID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, f.clock.Now().Add(2*time.Minute), stored.NextRetryAt.UTC())

	rcv.status.Store(http.StatusOK)
	f.clock.Advance(2 * time.Minute)
	result, err = f.svc.RetryFailed(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)

	stored, err = f.repo.FindByWebhookID(ctx, f.db, event.WebhookID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, 3, rcv.count())

	f.clock.Advance(time.Hour)
	result, err = f.svc.RetryFailed(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Selected, "sent events are never retried")
}

func TestExhaustedEventIsNotSelected(t *testing.T) {
	rcv := newReceiver(t, http.StatusOK)
	f := setup(t, rcv.server.URL, true)
	ctx := context.Background()
	now := f.clock.Now()

	require.NoError(t, f.repo.Insert(ctx, f.db, &domain.Event{
		ID: 1, WebhookID: "webhook_exhausted", EventType: domain.EventOrderStatusChanged, OrderID: 42,
		Payload: datatypes.JSON(`{}`), Status: domain.StatusFailed, Attempts: 3, MaxAttempts: 3,
		CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
	}))

	result, err := f.svc.RetryFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Selected)
	assert.Equal(t, 0, rcv.count())

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Exhausted)
}

func TestTransportErrorIsRecorded(t *testing.T) {
	rcv := newReceiver(t, http.StatusOK)
	url := rcv.server.URL
	rcv.server.Close()
	f := setup(t, url, true)

	event, err := f.svc.Dispatch(context.Background(), sampleChange())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, event.Status)
	require.NotNil(t, event.LastError)
	assert.Nil(t, event.ResponseCode)
}

func TestNoEndpointLeavesEventPending(t *testing.T) {
	f := setup(t, "", true)
	ctx := context.Background()

	event, err := f.svc.Dispatch(ctx, sampleChange())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, event.Status)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)

	_, err = f.svc.RetryFailed(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrNoEndpoint)
}

func TestDisabledListenerIsNoop(t *testing.T) {
	rcv := newReceiver(t, http.StatusOK)
	f := setup(t, rcv.server.URL, false)
	ctx := context.Background()

	f.svc.OnStatusChanged(ctx, sampleChange())
	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
	assert.Equal(t, 0, rcv.count())
}

func TestPurgeOlderThan(t *testing.T) {
	f := setup(t, "", true)
	ctx := context.Background()

	_, err := f.svc.Dispatch(ctx, sampleChange())
	require.NoError(t, err)
	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.svc.Dispatch(ctx, sampleChange())
	require.NoError(t, err)

	removed, err := f.svc.PurgeOlderThan(ctx, f.clock.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{5, 32 * time.Minute},
		{6, time.Hour},
		{20, time.Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, service.Backoff(tc.attempts, time.Minute, time.Hour), "attempts=%d", tc.attempts)
	}
}
