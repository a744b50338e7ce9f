package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/acpgateway/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/acpgateway/internal/catalog/domain"
	"github.com/smallbiznis/acpgateway/internal/checkout/domain"
	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/internal/config"
	"github.com/smallbiznis/acpgateway/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/acpgateway/internal/order/domain"
	paymentdomain "github.com/smallbiznis/acpgateway/internal/payment/domain"
	taxdomain "github.com/smallbiznis/acpgateway/internal/tax/domain"
	"github.com/smallbiznis/acpgateway/pkg/db"
	"github.com/smallbiznis/acpgateway/pkg/randid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	sessionIDPrefix = "acp_session_"
	intentIDPrefix  = "intent_"

	insertAttempts = 3
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Catalog    catalogdomain.Service
	Calculator taxdomain.Calculator
	Payments   paymentdomain.Processor
	Orders     orderdomain.Service
	Policy     *config.CheckoutPolicyHolder
	Clock      clock.Clock          `optional:"true"`
	Metrics    *metrics.Metrics     `optional:"true"`
	Audit      auditdomain.Service  `optional:"true"`
	Locker     domain.SessionLocker `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	catalog    catalogdomain.Service
	calculator taxdomain.Calculator
	payments   paymentdomain.Processor
	orders     orderdomain.Service
	policy     *config.CheckoutPolicyHolder
	clock      clock.Clock
	metrics    *metrics.Metrics
	audit      auditdomain.Service
	locker     domain.SessionLocker
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	locker := p.Locker
	if locker == nil {
		locker = newLocalLocker()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("checkout.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		catalog:    p.Catalog,
		calculator: p.Calculator,
		payments:   p.Payments,
		orders:     p.Orders,
		policy:     p.Policy,
		clock:      clk,
		metrics:    p.Metrics,
		audit:      p.Audit,
		locker:     locker,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Session, error) {
	if len(req.Items) == 0 {
		return nil, domain.ErrItemsRequired
	}

	policy := s.policy.Get()
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = policy.DefaultCurrency
	}
	if !policy.AllowsCurrency(currency) {
		return nil, domain.ErrInvalidCurrency
	}

	lines := make([]domain.LineItem, 0, len(req.Items))
	amount := decimal.Zero
	for i, item := range req.Items {
		product, err := s.catalog.LookupOrCreate(ctx, catalogdomain.LookupRequest{
			SKU:      item.SKU,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
		if err != nil {
			if isCatalogValidation(err) {
				return nil, fmt.Errorf("%w: item %d: %w", domain.ErrInvalidItem, i, err)
			}
			return nil, fmt.Errorf("resolve item %d: %w", i, err)
		}

		description := item.Description
		if description == nil {
			description = product.Description
		}
		line := domain.LineItem{
			ID:          strconv.Itoa(i + 1),
			ProductID:   product.ID,
			SKU:         product.SKU,
			Name:        product.Name,
			Description: description,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
		}
		lines = append(lines, line)
		amount = amount.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	lineJSON, err := json.Marshal(lines)
	if err != nil {
		return nil, err
	}
	optionsJSON, err := json.Marshal(snapshotFulfillmentOptions(policy))
	if err != nil {
		return nil, err
	}
	totalsJSON, err := json.Marshal(s.calculator.ComputeTotals(taxLines(lines), req.ShippingAddress))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	session := &domain.Session{
		Status:             domain.StatusPending,
		Amount:             amount.Round(2),
		Currency:           currency,
		LineItems:          datatypes.JSON(lineJSON),
		FulfillmentOptions: datatypes.JSON(optionsJSON),
		Totals:             datatypes.JSON(totalsJSON),
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.Buyer != nil {
		session.BuyerID = optionalString(req.Buyer.ID)
		session.BuyerName = optionalString(req.Buyer.Name)
		session.BuyerEmail = optionalString(req.Buyer.Email)
		session.BuyerPhone = optionalString(req.Buyer.Phone)
	}
	if req.ShippingAddress != nil {
		raw, err := json.Marshal(req.ShippingAddress)
		if err != nil {
			return nil, err
		}
		session.ShippingAddress = datatypes.JSON(raw)
	}
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, err
		}
		session.Metadata = datatypes.JSON(raw)
	}

	if err := s.insert(ctx, session); err != nil {
		return nil, err
	}

	s.log.Info("checkout session created",
		zap.String("session_id", session.SessionID),
		zap.String("intent_id", session.IntentID),
		zap.String("amount", session.Amount.StringFixed(2)),
		zap.String("currency", session.Currency),
	)
	s.metrics.RecordSessionTransition(ctx, "", domain.StatusPending)
	s.record(ctx, auditdomain.LevelInfo, "checkout.session.created", session, "Checkout session created", map[string]any{
		"amount":   session.Amount.StringFixed(2),
		"currency": session.Currency,
		"items":    len(lines),
	})
	return session, nil
}

func (s *Service) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.ErrNotFound
	}
	session, err := s.repo.FindBySessionID(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

// Update overwrites the provided fields. Status is not checked against the
// state machine.
func (s *Service) Update(ctx context.Context, sessionID string, req domain.UpdateRequest) (*domain.Session, error) {
	if req.Amount != nil && req.Amount.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	var currency, status string
	if req.Currency != nil {
		currency = strings.ToUpper(strings.TrimSpace(*req.Currency))
		if !s.policy.Get().AllowsCurrency(currency) {
			return nil, domain.ErrInvalidCurrency
		}
	}
	if req.Status != nil {
		status = strings.ToLower(strings.TrimSpace(*req.Status))
		if !domain.ValidStatus(status) {
			return nil, domain.ErrInvalidStatusValue
		}
	}

	var from string
	session, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		from = session.Status
		if req.Amount != nil {
			session.Amount = req.Amount.Round(2)
		}
		if req.Currency != nil {
			session.Currency = currency
		}
		if req.Status != nil {
			session.Status = status
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from != session.Status {
		s.metrics.RecordSessionTransition(ctx, from, session.Status)
		s.log.Warn("checkout session status overwritten",
			zap.String("session_id", session.SessionID),
			zap.String("from", from),
			zap.String("to", session.Status),
		)
	}
	s.record(ctx, auditdomain.LevelInfo, "checkout.session.updated", session, "Checkout session updated", map[string]any{
		"amount":   session.Amount.StringFixed(2),
		"currency": session.Currency,
		"status":   session.Status,
	})
	return session, nil
}

// Complete charges the session and creates its order. The session is first
// claimed by moving it to processing under an optimistic version check, so
// only one caller across all instances reaches the payment processor. Order
// listeners run after the session is saved and the lock is released.
func (s *Service) Complete(ctx context.Context, sessionID string, req domain.CompleteRequest) (*domain.CompleteResult, error) {
	result, orderID, err := s.completeLocked(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}

	if _, err := s.orders.UpdateStatus(ctx, orderID, orderdomain.StatusProcessing); err != nil {
		s.log.Error("failed to move order to processing",
			zap.String("session_id", result.SessionID),
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
	}
	return result, nil
}

func (s *Service) completeLocked(ctx context.Context, sessionID string, req domain.CompleteRequest) (*domain.CompleteResult, int64, error) {
	unlock, err := s.locker.LockSession(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	defer unlock()

	session, err := s.claim(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}

	charge, err := s.payments.Charge(ctx, paymentdomain.ChargeRequest{
		SessionID: session.SessionID,
		Amount:    session.Amount,
		Currency:  session.Currency,
		Method:    req.PaymentMethod,
		Details:   req.PaymentDetails,
	})
	if err != nil {
		s.fail(ctx, session, "payment", err)
		return nil, 0, fmt.Errorf("%w: %w", domain.ErrPaymentFailed, err)
	}

	orderReq, err := s.buildOrderRequest(session, req, charge)
	if err != nil {
		s.fail(ctx, session, "order", err)
		return nil, 0, fmt.Errorf("%w: %w", domain.ErrPaymentFailed, err)
	}
	order, err := s.orders.CreateOrder(ctx, orderReq)
	if err != nil {
		s.fail(ctx, session, "order", err)
		return nil, 0, fmt.Errorf("%w: %w", domain.ErrPaymentFailed, err)
	}

	expected := session.Version
	orderID := order.ID
	session.Status = domain.StatusCompleted
	session.OrderID = &orderID
	session.PaymentID = optionalString(charge.PaymentID)
	session.TransactionID = optionalString(charge.TransactionID)
	session.Version = expected + 1
	session.UpdatedAt = s.now(session.UpdatedAt)

	ok, err := s.repo.Save(ctx, s.db, session, expected)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		s.log.Error("checkout session changed while completing",
			zap.String("session_id", session.SessionID),
			zap.Int64("order_id", orderID),
			zap.String("payment_id", charge.PaymentID),
		)
		return nil, 0, domain.ErrConflict
	}

	s.log.Info("checkout session completed",
		zap.String("session_id", session.SessionID),
		zap.Int64("order_id", orderID),
		zap.String("payment_id", charge.PaymentID),
	)
	s.metrics.RecordSessionTransition(ctx, domain.StatusProcessing, domain.StatusCompleted)
	s.record(ctx, auditdomain.LevelInfo, "checkout.session.completed", session, "Checkout session completed", map[string]any{
		"payment_id":     charge.PaymentID,
		"transaction_id": charge.TransactionID,
		"payment_method": charge.Method,
	})

	return &domain.CompleteResult{
		IntentID:      session.IntentID,
		SessionID:     session.SessionID,
		Status:        domain.StatusCompleted,
		PaymentID:     charge.PaymentID,
		OrderID:       strconv.FormatInt(orderID, 10),
		TransactionID: charge.TransactionID,
	}, orderID, nil
}

// claim moves a pending session to processing. Losing the version race to
// another completion reports the session as no longer pending.
func (s *Service) claim(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.StatusPending {
		return nil, domain.ErrNotPending
	}

	expected := session.Version
	session.Status = domain.StatusProcessing
	session.Version = expected + 1
	session.UpdatedAt = s.now(session.UpdatedAt)

	ok, err := s.repo.Save(ctx, s.db, session, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if current.Status != domain.StatusPending {
			return nil, domain.ErrNotPending
		}
		return nil, domain.ErrConflict
	}
	s.metrics.RecordSessionTransition(ctx, domain.StatusPending, domain.StatusProcessing)
	return session, nil
}

// Cancel marks the session cancelled regardless of its current status,
// including sessions that already completed. A session claimed by an
// in-flight completion is refused; its charge and order belong to that
// completion.
func (s *Service) Cancel(ctx context.Context, sessionID string) (*domain.Session, error) {
	var from string
	session, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		if session.Status == domain.StatusProcessing {
			return domain.ErrConflict
		}
		from = session.Status
		now := s.now(session.UpdatedAt)
		session.Status = domain.StatusCancelled
		session.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from == domain.StatusCompleted {
		s.log.Warn("completed checkout session cancelled",
			zap.String("session_id", session.SessionID),
		)
	}
	s.metrics.RecordSessionTransition(ctx, from, domain.StatusCancelled)
	s.record(ctx, auditdomain.LevelInfo, "checkout.session.cancelled", session, "Checkout session cancelled", map[string]any{
		"previous_status": from,
	})
	return session, nil
}

func (s *Service) Stats(ctx context.Context) (*domain.Stats, error) {
	return s.repo.Stats(ctx, s.db)
}

func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, s.db, cutoff.UTC())
}

// mutate applies fn under the session lock and writes it with an optimistic
// version check. A lost race is retried once against a fresh read.
func (s *Service) mutate(ctx context.Context, sessionID string, fn func(*domain.Session) error) (*domain.Session, error) {
	unlock, err := s.locker.LockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 0; attempt < 2; attempt++ {
		session, err := s.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		expected := session.Version
		if err := fn(session); err != nil {
			return nil, err
		}
		session.Version = expected + 1
		session.UpdatedAt = s.now(session.UpdatedAt)

		ok, err := s.repo.Save(ctx, s.db, session, expected)
		if err != nil {
			return nil, err
		}
		if ok {
			return session, nil
		}
	}
	return nil, domain.ErrConflict
}

func (s *Service) fail(ctx context.Context, session *domain.Session, stage string, cause error) {
	expected := session.Version
	failed := *session
	failed.Status = domain.StatusFailed
	failed.Version = expected + 1
	failed.UpdatedAt = s.now(session.UpdatedAt)

	ok, err := s.repo.Save(ctx, s.db, &failed, expected)
	if err != nil || !ok {
		s.log.Error("failed to mark checkout session failed",
			zap.String("session_id", session.SessionID),
			zap.Bool("version_matched", ok),
			zap.Error(err),
		)
		return
	}

	s.log.Warn("checkout session failed",
		zap.String("session_id", session.SessionID),
		zap.String("stage", stage),
		zap.Error(cause),
	)
	s.metrics.RecordSessionTransition(ctx, session.Status, domain.StatusFailed)
	s.record(ctx, auditdomain.LevelError, "checkout.session.failed", &failed, "Checkout session failed", map[string]any{
		"stage": stage,
		"error": cause.Error(),
	})
}

func (s *Service) insert(ctx context.Context, session *domain.Session) error {
	var lastErr error
	for attempt := 0; attempt < insertAttempts; attempt++ {
		sessionID, err := randid.New(sessionIDPrefix)
		if err != nil {
			return err
		}
		intentID, err := randid.New(intentIDPrefix)
		if err != nil {
			return err
		}
		session.ID = s.genID.Generate().Int64()
		session.SessionID = sessionID
		session.IntentID = intentID

		lastErr = s.repo.Insert(ctx, s.db, session)
		if lastErr == nil {
			return nil
		}
		if !db.IsDuplicateKeyErr(lastErr) {
			return fmt.Errorf("insert checkout session: %w", lastErr)
		}
	}
	return fmt.Errorf("insert checkout session: %w", lastErr)
}

func (s *Service) buildOrderRequest(session *domain.Session, req domain.CompleteRequest, charge *paymentdomain.ChargeResult) (orderdomain.CreateOrderRequest, error) {
	lines, err := decodeLineItems(session.LineItems)
	if err != nil {
		return orderdomain.CreateOrderRequest{}, err
	}
	items := make([]orderdomain.Item, 0, len(lines))
	for _, line := range lines {
		total := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))).StringFixed(2)
		items = append(items, orderdomain.Item{
			ID:        line.ID,
			ProductID: line.ProductID,
			Name:      line.Name,
			SKU:       line.SKU,
			Quantity:  line.Quantity,
			Subtotal:  total,
			Total:     total,
			MetaData:  []orderdomain.MetaEntry{},
		})
	}

	shipping, err := decodeAddress(session.ShippingAddress)
	if err != nil {
		return orderdomain.CreateOrderRequest{}, err
	}
	billing := toOrderAddress(req.BillingAddress)
	if billing == nil {
		billing = shipping
	}

	metadata := map[string]any{
		"_acp_session_id": session.SessionID,
		"_acp_intent_id":  session.IntentID,
		"_acp_payment_id": charge.PaymentID,
	}
	if len(session.Metadata) > 0 {
		var extra map[string]any
		if err := json.Unmarshal(session.Metadata, &extra); err == nil {
			for k, v := range extra {
				if _, reserved := metadata[k]; !reserved {
					metadata[k] = v
				}
			}
		}
	}

	return orderdomain.CreateOrderRequest{
		SessionID: session.SessionID,
		Currency:  session.Currency,
		Total:     session.Amount,
		Customer: orderdomain.Customer{
			ID:    deref(session.BuyerID),
			Email: deref(session.BuyerEmail),
			Name:  deref(session.BuyerName),
			Phone: deref(session.BuyerPhone),
		},
		BillingAddress:     billing,
		ShippingAddress:    shipping,
		Items:              items,
		PaymentMethod:      charge.Method,
		PaymentMethodTitle: charge.MethodTitle,
		TransactionID:      charge.TransactionID,
		Metadata:           metadata,
	}, nil
}

func (s *Service) record(ctx context.Context, level, action string, session *domain.Session, message string, fields map[string]any) {
	if s.audit == nil {
		return
	}
	event := auditdomain.Event{
		Level:     level,
		Action:    action,
		SessionID: session.SessionID,
		Message:   message,
		Context:   fields,
	}
	if session.OrderID != nil {
		event.OrderID = *session.OrderID
	}
	_ = s.audit.Record(ctx, event)
}

// now never returns a time before prev so updated_at stays monotonic.
func (s *Service) now(prev time.Time) time.Time {
	now := s.clock.Now().UTC()
	if now.Before(prev) {
		return prev
	}
	return now
}

func isCatalogValidation(err error) bool {
	return errors.Is(err, catalogdomain.ErrInvalidItem) ||
		errors.Is(err, catalogdomain.ErrInvalidPrice) ||
		errors.Is(err, catalogdomain.ErrInvalidQuantity) ||
		errors.Is(err, catalogdomain.ErrInsufficientStock)
}

func snapshotFulfillmentOptions(policy config.CheckoutPolicy) []domain.FulfillmentOption {
	out := make([]domain.FulfillmentOption, 0, len(policy.FulfillmentOptions))
	for _, opt := range policy.FulfillmentOptions {
		out = append(out, domain.FulfillmentOption{
			ID:                opt.ID,
			Name:              opt.Name,
			Description:       opt.Description,
			Amount:            decimal.NewFromFloat(opt.Amount).Round(2),
			EstimatedDelivery: opt.EstimatedDelivery,
		})
	}
	return out
}

func decodeLineItems(raw datatypes.JSON) ([]domain.LineItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var lines []domain.LineItem
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("decode line items: %w", err)
	}
	return lines, nil
}

func decodeAddress(raw datatypes.JSON) (*orderdomain.Address, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var addr taxdomain.Address
	if err := json.Unmarshal(raw, &addr); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	return toOrderAddress(&addr), nil
}

func toOrderAddress(addr *taxdomain.Address) *orderdomain.Address {
	if addr == nil {
		return nil
	}
	return &orderdomain.Address{
		FirstName: addr.FirstName,
		LastName:  addr.LastName,
		Company:   addr.Company,
		Address1:  addr.Address1,
		Address2:  addr.Address2,
		City:      addr.City,
		State:     addr.State,
		Postcode:  addr.Postcode,
		Country:   addr.Country,
	}
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// localLocker serializes mutations of the same session inside one process.
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLocalLocker() *localLocker {
	return &localLocker{locks: make(map[string]*lockEntry)}
}

func (l *localLocker) LockSession(_ context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &lockEntry{}
		l.locks[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}, nil
}
