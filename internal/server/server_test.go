package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acpgateway/internal/auth"
	"github.com/smallbiznis/acpgateway/internal/authorization"
	checkoutdomain "github.com/smallbiznis/acpgateway/internal/checkout/domain"
	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/internal/config"
	"github.com/smallbiznis/acpgateway/internal/idempotency/memory"
	orderdomain "github.com/smallbiznis/acpgateway/internal/order/domain"
	"github.com/smallbiznis/acpgateway/internal/signature"
	webhookdomain "github.com/smallbiznis/acpgateway/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testAgentKey    = "agent-secret"
	testMerchantKey = "merchant-secret"
)

type fakeCheckout struct {
	checkoutdomain.Service

	mu        sync.Mutex
	creates   int32
	sessions  map[string]*checkoutdomain.Session
	createErr error
	delay     time.Duration
}

func newFakeCheckout() *fakeCheckout {
	return &fakeCheckout{sessions: map[string]*checkoutdomain.Session{}}
}

func (f *fakeCheckout) Create(_ context.Context, req checkoutdomain.CreateRequest) (*checkoutdomain.Session, error) {
	n := atomic.AddInt32(&f.creates, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	if len(req.Items) == 0 {
		return nil, checkoutdomain.ErrItemsRequired
	}
	amount := decimal.Zero
	for _, item := range req.Items {
		amount = amount.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	session := &checkoutdomain.Session{
		SessionID: fmt.Sprintf("acp_session_%016d", n),
		IntentID:  fmt.Sprintf("intent_%016d", n),
		Status:    checkoutdomain.StatusPending,
		Amount:    amount,
		Currency:  "USD",
	}
	f.mu.Lock()
	f.sessions[session.SessionID] = session
	f.mu.Unlock()
	return session, nil
}

func (f *fakeCheckout) Get(_ context.Context, id string) (*checkoutdomain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, checkoutdomain.ErrNotFound
	}
	return session, nil
}

func (f *fakeCheckout) Complete(ctx context.Context, id string, _ checkoutdomain.CompleteRequest) (*checkoutdomain.CompleteResult, error) {
	session, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if session.Status != checkoutdomain.StatusPending {
		return nil, checkoutdomain.ErrNotPending
	}
	session.Status = checkoutdomain.StatusCompleted
	return &checkoutdomain.CompleteResult{
		IntentID:  session.IntentID,
		SessionID: session.SessionID,
		Status:    checkoutdomain.StatusCompleted,
		PaymentID: "pay_0000000000000001",
		OrderID:   "42",
	}, nil
}

func (f *fakeCheckout) Cancel(ctx context.Context, id string) (*checkoutdomain.Session, error) {
	session, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	session.Status = checkoutdomain.StatusCancelled
	return session, nil
}

func (f *fakeCheckout) Stats(context.Context) (*checkoutdomain.Stats, error) {
	return &checkoutdomain.Stats{Total: int64(len(f.sessions))}, nil
}

func (f *fakeCheckout) Present(session *checkoutdomain.Session) (*checkoutdomain.Response, error) {
	return &checkoutdomain.Response{
		ID:          session.SessionID,
		IntentID:    session.IntentID,
		Status:      checkoutdomain.ProtocolStatus(session.Status),
		AmountTotal: session.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		Currency:    session.Currency,
	}, nil
}

type fakeOrders struct {
	orderdomain.Service
	updates []string
}

func (f *fakeOrders) UpdateStatus(_ context.Context, id int64, status string) (*orderdomain.Order, error) {
	if id == 404 {
		return nil, orderdomain.ErrNotFound
	}
	f.updates = append(f.updates, status)
	return &orderdomain.Order{ID: id, SessionID: "acp_session_x", Status: status}, nil
}

type fakeWebhooks struct {
	webhookdomain.Service
	retryErr error
}

func (f *fakeWebhooks) Stats(context.Context) (*webhookdomain.Stats, error) {
	return &webhookdomain.Stats{Total: 3, Sent: 2, Failed: 1}, nil
}

func (f *fakeWebhooks) RetryFailed(context.Context, int) (*webhookdomain.RetryResult, error) {
	if f.retryErr != nil {
		return &webhookdomain.RetryResult{}, f.retryErr
	}
	return &webhookdomain.RetryResult{Selected: 1, Claimed: 1, Sent: 1}, nil
}

type fixture struct {
	engine   *gin.Engine
	clock    *clock.FakeClock
	checkout *fakeCheckout
	orders   *fakeOrders
	webhooks *fakeWebhooks
}

func newFixture(t *testing.T, acp config.ACPConfig) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Unix(1_750_000_000, 0).UTC())
	acp.APIKey = testAgentKey
	acp.MerchantAPIKey = testMerchantKey

	f := &fixture{
		engine:   gin.New(),
		clock:    clk,
		checkout: newFakeCheckout(),
		orders:   &fakeOrders{},
		webhooks: &fakeWebhooks{},
	}
	f.engine.Use(ErrorHandlingMiddleware())

	NewServer(ServerParams{
		Gin:         f.engine,
		Cfg:         config.Config{ACP: acp, Webhook: config.WebhookConfig{RetryBatch: 10}},
		Validator:   auth.NewValidator(acp, clk, zap.NewNop()),
		Idempotency: memory.New(time.Hour, time.Hour, clk.Now),
		AuthzSvc:    authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		CheckoutSvc: f.checkout,
		OrderSvc:    f.orders,
		WebhookSvc:  f.webhooks,
	})
	return f
}

func (f *fixture) agentRequest(method, path, key string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAgentKey)
	req.Header.Set("Idempotency-Key", key)
	req.Header.Set("Request-Id", "req_"+key)
	req.Header.Set("Timestamp", strconv.FormatInt(f.clock.Now().Unix(), 10))
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

var createBody = []byte(`{"items":[{"sku":"A","name":"Widget","price":"10.00","quantity":2}]}`)

func TestCreateCheckoutSession(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})

	rec := f.do(f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "key-1", createBody))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp checkoutdomain.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2000), resp.AmountTotal)
	assert.Equal(t, checkoutdomain.ProtocolNotReadyForPayment, resp.Status)
}

func TestMissingHeaderRejected(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})
	req := f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "key-1", createBody)
	req.Header.Del("Request-Id")

	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, TypeAuthentication, payload.Type)
	assert.Equal(t, "Missing required header: Request-Id", payload.Message)
	assert.Zero(t, atomic.LoadInt32(&f.checkout.creates))
}

func TestTimestampBoundary(t *testing.T) {
	f := newFixture(t, config.ACPConfig{TimestampTolerance: 300 * time.Second})

	req := f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "key-ok", createBody)
	req.Header.Set("Timestamp", strconv.FormatInt(f.clock.Now().Unix()-300, 10))
	assert.Equal(t, http.StatusOK, f.do(req).Code)

	req = f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "key-old", createBody)
	req.Header.Set("Timestamp", strconv.FormatInt(f.clock.Now().Unix()-301, 10))
	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Timestamp is too old (replay attack prevention)", decodeError(t, rec).Message)
}

func TestDuplicateIdempotencyKeyRejected(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})

	first := f.do(f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "dup-key", createBody))
	require.Equal(t, http.StatusOK, first.Code)

	second := f.do(f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "dup-key", createBody))
	assert.Equal(t, http.StatusConflict, second.Code)
	payload := decodeError(t, second)
	assert.Equal(t, TypeDuplicate, payload.Type)
	assert.Equal(t, "Duplicate request detected (idempotency)", payload.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.checkout.creates))
}

func TestConcurrentDuplicatesCreateOneSession(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})
	f.checkout.delay = 20 * time.Millisecond

	const workers = 8
	codes := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = f.do(f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "race-key", createBody)).Code
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.checkout.creates))
}

func TestServerErrorReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})
	f.checkout.createErr = fmt.Errorf("database unavailable")

	rec := f.do(f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "retry-key", createBody))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, TypeServer, payload.Type)
	assert.Equal(t, "Internal server error", payload.Message)

	f.checkout.createErr = nil
	rec = f.do(f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "retry-key", createBody))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidationErrorKeepsKey(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})

	rec := f.do(f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "bad-key", []byte(`{"items":[]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "items_required", decodeError(t, rec).Code)

	rec = f.do(f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "bad-key", createBody))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSignatureRequired(t *testing.T) {
	f := newFixture(t, config.ACPConfig{SignatureRequired: true, SigningSecret: "s3cret"})

	req := f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "sig-1", createBody)
	req.Header.Set("Signature", signature.Sign(createBody, "s3cret"))
	assert.Equal(t, http.StatusOK, f.do(req).Code)

	req = f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "sig-2", createBody)
	req.Header.Set("Signature", signature.Sign([]byte(`{"items":[]}`), "s3cret"))
	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid request signature", decodeError(t, rec).Message)
}

func TestGetUnknownSession(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})

	rec := f.do(f.agentRequest(http.MethodGet, "/acp/v1/checkout_sessions/acp_session_missing", "get-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, TypeNotFound, payload.Type)
	assert.Equal(t, "Checkout session not found", payload.Message)
}

func TestGetRequiresHeaderContract(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})
	session, err := f.checkout.Create(context.Background(), checkoutdomain.CreateRequest{
		Items: []checkoutdomain.ItemInput{{SKU: "A", Quantity: 1, Price: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)
	path := "/acp/v1/checkout_sessions/" + session.SessionID

	bare := httptest.NewRequest(http.MethodGet, path, nil)
	bare.Header.Set("Authorization", "Bearer "+testAgentKey)
	bare.Header.Set("Timestamp", "1")
	rec := f.do(bare)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing required header: Idempotency-Key", decodeError(t, rec).Message)

	stale := f.agentRequest(http.MethodGet, path, "get-stale", nil)
	stale.Header.Set("Timestamp", strconv.FormatInt(f.clock.Now().Unix()-301, 10))
	rec = f.do(stale)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Timestamp is too old (replay attack prevention)", decodeError(t, rec).Message)

	wrongToken := f.agentRequest(http.MethodGet, path, "get-token", nil)
	wrongToken.Header.Set("Authorization", "Bearer wrong")
	rec = f.do(wrongToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired token", decodeError(t, rec).Message)

	rec = f.do(f.agentRequest(http.MethodGet, path, "get-ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetDoesNotReserveIdempotencyKey(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})
	session, err := f.checkout.Create(context.Background(), checkoutdomain.CreateRequest{
		Items: []checkoutdomain.ItemInput{{SKU: "A", Quantity: 1, Price: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)
	path := "/acp/v1/checkout_sessions/" + session.SessionID

	assert.Equal(t, http.StatusOK, f.do(f.agentRequest(http.MethodGet, path, "poll", nil)).Code)
	assert.Equal(t, http.StatusOK, f.do(f.agentRequest(http.MethodGet, path, "poll", nil)).Code)
}

func TestCompleteTwice(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})
	rec := f.do(f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions", "c-0", createBody))
	require.Equal(t, http.StatusOK, rec.Code)
	var created checkoutdomain.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	path := "/acp/v1/checkout_sessions/" + created.ID + "/complete"
	rec = f.do(f.agentRequest(http.MethodPost, path, "c-1", []byte(`{"payment_method_details":{"type":"acp"}}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result checkoutdomain.CompleteResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, checkoutdomain.StatusCompleted, result.Status)
	assert.Equal(t, "42", result.OrderID)

	rec = f.do(f.agentRequest(http.MethodPost, path, "c-2", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, TypeInvalidStatus, payload.Type)
	assert.Equal(t, "Session is not in pending status", payload.Message)
}

func TestCancelAfterComplete(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})
	session, err := f.checkout.Create(context.Background(), checkoutdomain.CreateRequest{
		Items: []checkoutdomain.ItemInput{{SKU: "A", Quantity: 1, Price: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)
	session.Status = checkoutdomain.StatusCompleted

	rec := f.do(f.agentRequest(http.MethodPost, "/acp/v1/checkout_sessions/"+session.SessionID+"/cancel", "x-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp checkoutdomain.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, checkoutdomain.ProtocolCancelled, resp.Status)
}

func TestInternalRoutesRequireMerchant(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})

	req := httptest.NewRequest(http.MethodGet, "/internal/webhooks/stats", nil)
	req.Header.Set("Authorization", "Bearer "+testAgentKey)
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/internal/webhooks/stats", nil)
	req.Header.Set("Authorization", "Bearer "+testMerchantKey)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats webhookdomain.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(3), stats.Total)
}

func TestOrderStatusPush(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})

	req := httptest.NewRequest(http.MethodPost, "/internal/orders/7/status", bytes.NewBufferString(`{"status":"wc-completed"}`))
	req.Header.Set("Authorization", "Bearer "+testMerchantKey)
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusOK, f.do(req).Code)
	assert.Equal(t, []string{"wc-completed"}, f.orders.updates)

	req = httptest.NewRequest(http.MethodPost, "/internal/orders/404/status", bytes.NewBufferString(`{"status":"completed"}`))
	req.Header.Set("Authorization", "Bearer "+testMerchantKey)
	assert.Equal(t, http.StatusNotFound, f.do(req).Code)
}

func TestRetryWebhooksWithoutEndpoint(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})
	f.webhooks.retryErr = webhookdomain.ErrNoEndpoint

	req := httptest.NewRequest(http.MethodPost, "/internal/webhooks/retry", nil)
	req.Header.Set("Authorization", "Bearer "+testMerchantKey)
	rec := f.do(req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "webhook_endpoint_not_configured", decodeError(t, rec).Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, config.ACPConfig{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapErrorDefaultsToServerError(t *testing.T) {
	status, payload := mapError(fmt.Errorf("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "server_error", payload.Code)

	status, payload = mapError(fmt.Errorf("%w: item 0: %w", checkoutdomain.ErrInvalidItem, fmt.Errorf("x")))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, TypeValidation, payload.Type)
}
