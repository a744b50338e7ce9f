package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Clock     clock.Clock             `optional:"true"`
	Listeners []domain.StatusListener `group:"order.listeners"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	genID     *snowflake.Node
	clock     clock.Clock
	listeners []domain.StatusListener
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	listeners := make([]domain.StatusListener, 0, len(p.Listeners))
	for _, l := range p.Listeners {
		if l != nil {
			listeners = append(listeners, l)
		}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("order.service"),
		repo:      p.Repo,
		genID:     p.GenID,
		clock:     clk,
		listeners: listeners,
	}
}

// CreateOrder persists a paid order as pending without notifying listeners.
// Callers move it to processing with UpdateStatus once their own state is
// committed, so listeners observe the pending -> processing transition a
// storefront emits when payment completes.
func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	if strings.TrimSpace(req.SessionID) == "" || len(req.Items) == 0 {
		return nil, domain.ErrInvalidOrder
	}
	if req.Total.IsNegative() {
		return nil, domain.ErrInvalidOrder
	}

	customer, err := encodeJSON(req.Customer)
	if err != nil {
		return nil, err
	}
	billing, err := encodeJSON(addressOrEmpty(req.BillingAddress))
	if err != nil {
		return nil, err
	}
	shipping, err := encodeJSON(addressOrEmpty(req.ShippingAddress))
	if err != nil {
		return nil, err
	}
	items, err := encodeJSON(req.Items)
	if err != nil {
		return nil, err
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := encodeJSON(metadata)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	order := &domain.Order{
		ID:                 s.genID.Generate().Int64(),
		SessionID:          req.SessionID,
		Status:             domain.StatusPending,
		Currency:           strings.ToUpper(strings.TrimSpace(req.Currency)),
		Total:              req.Total.Round(2),
		Customer:           customer,
		BillingAddress:     billing,
		ShippingAddress:    shipping,
		Items:              items,
		PaymentMethod:      req.PaymentMethod,
		PaymentMethodTitle: req.PaymentMethodTitle,
		TransactionID:      req.TransactionID,
		Metadata:           meta,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Create(ctx, s.db, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.log.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("session_id", order.SessionID),
	)

	return order, nil
}

func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status string) (*domain.Order, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	status = strings.TrimPrefix(status, "wc-")
	if !domain.ValidStatus(status) {
		return nil, domain.ErrInvalidStatus
	}

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == status {
		return order, nil
	}
	return s.transition(ctx, order, status)
}

func (s *Service) Get(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) transition(ctx context.Context, order *domain.Order, to string) (*domain.Order, error) {
	from := order.Status
	now := s.clock.Now().UTC()
	ok, err := s.repo.CompareAndSetStatus(ctx, s.db, order.ID, from, to, now)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if !ok {
		return nil, domain.ErrStatusConflict
	}

	updated := *order
	updated.Status = to
	updated.UpdatedAt = now

	s.log.Info("order status changed",
		zap.Int64("order_id", updated.ID),
		zap.String("old_status", from),
		zap.String("new_status", to),
	)

	s.notify(ctx, domain.StatusChange{Order: updated, OldStatus: from, NewStatus: to})
	return &updated, nil
}

func (s *Service) notify(ctx context.Context, change domain.StatusChange) {
	for _, l := range s.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("order status listener panicked",
						zap.Int64("order_id", change.Order.ID),
						zap.Any("panic", r),
					)
				}
			}()
			l.OnStatusChanged(ctx, change)
		}()
	}
}

func addressOrEmpty(addr *domain.Address) domain.Address {
	if addr == nil {
		return domain.Address{}
	}
	return *addr
}

func encodeJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
