package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/acpgateway/internal/audit/domain"
	"github.com/smallbiznis/acpgateway/internal/clock"
	"github.com/smallbiznis/acpgateway/internal/config"
	"github.com/smallbiznis/acpgateway/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/acpgateway/internal/order/domain"
	"github.com/smallbiznis/acpgateway/internal/signature"
	"github.com/smallbiznis/acpgateway/internal/webhook/domain"
	"github.com/smallbiznis/acpgateway/pkg/db"
	"github.com/smallbiznis/acpgateway/pkg/randid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	webhookIDPrefix = "webhook_"

	defaultMaxAttempts = 3
	defaultRetryBatch  = 10
	defaultBackoffBase = time.Minute
	defaultBackoffMax  = time.Hour
	maxStoredError     = 1024
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Cfg     config.Config
	Sender  domain.Sender
	Clock   clock.Clock         `optional:"true"`
	Metrics *metrics.Metrics    `optional:"true"`
	Audit   auditdomain.Service `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	cfg     config.WebhookConfig
	sender  domain.Sender
	clock   clock.Clock
	metrics *metrics.Metrics
	audit   auditdomain.Service
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	cfg := p.Cfg.Webhook
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBatch <= 0 {
		cfg.RetryBatch = defaultRetryBatch
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	cfg.URL = strings.TrimSpace(cfg.URL)

	return &Service{
		db:      p.DB,
		log:     p.Log.Named("webhook.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		cfg:     cfg,
		sender:  p.Sender,
		clock:   clk,
		metrics: p.Metrics,
		audit:   p.Audit,
	}
}

// OnStatusChanged persists and delivers an order.status_changed event.
// Failures are logged and never reach the caller that changed the order.
func (s *Service) OnStatusChanged(ctx context.Context, change orderdomain.StatusChange) {
	if !s.cfg.Enabled {
		return
	}
	if _, err := s.Dispatch(context.WithoutCancel(ctx), change); err != nil {
		s.log.Error("failed to dispatch webhook",
			zap.Int64("order_id", change.Order.ID),
			zap.String("new_status", change.NewStatus),
			zap.Error(err),
		)
	}
}

func (s *Service) Dispatch(ctx context.Context, change orderdomain.StatusChange) (*domain.Event, error) {
	if !s.cfg.Enabled {
		return nil, domain.ErrDisabled
	}

	event, err := s.persist(ctx, change)
	if err != nil {
		return nil, err
	}

	if s.cfg.URL == "" {
		s.log.Info("webhook endpoint not configured, event left pending",
			zap.String("webhook_id", event.WebhookID),
			zap.Int64("order_id", event.OrderID),
		)
		return event, nil
	}

	s.deliver(ctx, event)
	return event, nil
}

func (s *Service) RetryFailed(ctx context.Context, limit int) (*domain.RetryResult, error) {
	if limit <= 0 {
		limit = s.cfg.RetryBatch
	}
	result := &domain.RetryResult{}
	if s.cfg.URL == "" {
		return result, domain.ErrNoEndpoint
	}

	now := s.clock.Now().UTC()
	candidates, err := s.repo.ListRetryCandidates(ctx, s.db, now, limit)
	if err != nil {
		return nil, err
	}
	result.Selected = len(candidates)

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		event := candidates[i]
		claimed, err := s.repo.ClaimRetry(ctx, s.db, event.WebhookID, event.Attempts, s.clock.Now().UTC())
		if err != nil {
			return result, err
		}
		if !claimed {
			result.Skipped++
			continue
		}
		result.Claimed++
		event.Attempts++

		if s.deliver(ctx, &event) == domain.StatusSent {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	if result.Selected > 0 {
		s.log.Info("webhook retry sweep finished",
			zap.Int("selected", result.Selected),
			zap.Int("claimed", result.Claimed),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
		)
	}
	return result, nil
}

func (s *Service) Stats(ctx context.Context) (*domain.Stats, error) {
	return s.repo.Stats(ctx, s.db)
}

func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, s.db, cutoff.UTC())
}

// Backoff returns the delay before the next retry after attempts deliveries
// have been retried: base, 2*base, 4*base, ... capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (s *Service) persist(ctx context.Context, change orderdomain.StatusChange) (*domain.Event, error) {
	now := s.clock.Now().UTC()
	var sessionID *string
	if id := strings.TrimSpace(change.Order.SessionID); id != "" {
		sessionID = &id
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		webhookID, err := randid.New(webhookIDPrefix)
		if err != nil {
			return nil, err
		}
		payload, err := BuildPayload(webhookID, change)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}

		event := &domain.Event{
			ID:          s.genID.Generate().Int64(),
			WebhookID:   webhookID,
			EventType:   domain.EventOrderStatusChanged,
			OrderID:     change.Order.ID,
			SessionID:   sessionID,
			Payload:     datatypes.JSON(body),
			Status:      domain.StatusPending,
			Attempts:    0,
			MaxAttempts: s.cfg.MaxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		lastErr = s.repo.Insert(ctx, s.db, event)
		if lastErr == nil {
			return event, nil
		}
		if !db.IsDuplicateKeyErr(lastErr) {
			break
		}
	}
	return nil, fmt.Errorf("persist webhook: %w", lastErr)
}

// deliver performs one attempt and records its outcome. It returns the
// resulting status.
func (s *Service) deliver(ctx context.Context, event *domain.Event) string {
	start := time.Now()
	resp, sendErr := s.sender.Send(ctx, domain.DeliveryRequest{
		URL:       s.cfg.URL,
		EventType: event.EventType,
		Signature: signature.Sign(event.Payload, s.cfg.Secret),
		Body:      event.Payload,
	})
	elapsed := time.Since(start)
	now := s.clock.Now().UTC()

	outcome := domain.DeliveryOutcome{ProcessedAt: now}
	switch {
	case sendErr != nil:
		msg := truncate(sendErr.Error(), maxStoredError)
		outcome.Status = domain.StatusFailed
		outcome.LastError = &msg
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		outcome.Status = domain.StatusSent
		outcome.ResponseCode = &resp.StatusCode
		outcome.ResponseBody = &resp.Body
	default:
		msg := fmt.Sprintf("%s: status %d", domain.ErrBadResponse, resp.StatusCode)
		outcome.Status = domain.StatusFailed
		outcome.ResponseCode = &resp.StatusCode
		outcome.ResponseBody = &resp.Body
		outcome.LastError = &msg
	}
	if outcome.Status == domain.StatusFailed {
		next := now.Add(Backoff(event.Attempts, s.cfg.BackoffBase, s.cfg.BackoffMax))
		outcome.NextRetryAt = &next
	}

	if err := s.repo.RecordOutcome(ctx, s.db, event.WebhookID, outcome); err != nil {
		s.log.Error("failed to record webhook outcome",
			zap.String("webhook_id", event.WebhookID),
			zap.Error(err),
		)
	}

	event.Status = outcome.Status
	event.ResponseCode = outcome.ResponseCode
	event.ResponseBody = outcome.ResponseBody
	event.LastError = outcome.LastError
	event.NextRetryAt = outcome.NextRetryAt
	event.ProcessedAt = &outcome.ProcessedAt
	event.UpdatedAt = now

	s.metrics.RecordWebhookDelivery(ctx, event.EventType, outcome.Status, elapsed)

	fields := []zap.Field{
		zap.String("webhook_id", event.WebhookID),
		zap.Int64("order_id", event.OrderID),
		zap.Int("attempts", event.Attempts),
		zap.Duration("elapsed", elapsed),
	}
	if outcome.ResponseCode != nil {
		fields = append(fields, zap.Int("response_code", *outcome.ResponseCode))
	}
	if outcome.Status == domain.StatusSent {
		s.log.Info("webhook delivered", fields...)
		s.record(ctx, auditdomain.LevelInfo, "webhook.sent", event, "Webhook delivered")
	} else {
		fields = append(fields, zap.String("error", deref(outcome.LastError)))
		s.log.Warn("webhook delivery failed", fields...)
		s.record(ctx, auditdomain.LevelWarning, "webhook.failed", event, "Webhook delivery failed")
	}
	return outcome.Status
}

func (s *Service) record(ctx context.Context, level, action string, event *domain.Event, message string) {
	if s.audit == nil {
		return
	}
	fields := map[string]any{
		"webhook_id": event.WebhookID,
		"attempts":   event.Attempts,
	}
	if event.ResponseCode != nil {
		fields["response_code"] = *event.ResponseCode
	}
	if event.LastError != nil {
		fields["error"] = *event.LastError
	}
	_ = s.audit.Record(ctx, auditdomain.Event{
		Level:     level,
		Action:    action,
		SessionID: deref(event.SessionID),
		OrderID:   event.OrderID,
		Message:   message,
		Context:   fields,
	})
}

func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n]
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
