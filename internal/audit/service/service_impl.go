package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/acpgateway/internal/audit/domain"
	"github.com/smallbiznis/acpgateway/internal/audit/masking"
	"github.com/smallbiznis/acpgateway/internal/clock"
	obscontext "github.com/smallbiznis/acpgateway/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 250
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Record(ctx context.Context, event auditdomain.Event) error {
	action := strings.TrimSpace(event.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	level := strings.ToLower(strings.TrimSpace(event.Level))
	switch level {
	case auditdomain.LevelInfo, auditdomain.LevelWarning, auditdomain.LevelError:
	default:
		level = auditdomain.LevelInfo
	}

	entry := auditdomain.Entry{
		ID:        s.genID.Generate().Int64(),
		Level:     level,
		Action:    action,
		Message:   event.Message,
		Context:   datatypes.JSONMap(masking.MaskJSON(event.Context)),
		CreatedAt: s.clock.Now().UTC(),
	}

	sessionID := strings.TrimSpace(event.SessionID)
	if sessionID == "" {
		sessionID = obscontext.SessionIDFromContext(ctx)
	}
	if sessionID != "" {
		entry.SessionID = &sessionID
	}
	if event.OrderID != 0 {
		orderID := event.OrderID
		entry.OrderID = &orderID
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		entry.RequestID = &requestID
	}
	if actorType, _ := obscontext.ActorFromContext(ctx); actorType != "" {
		entry.ActorType = &actorType
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) ([]auditdomain.Entry, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.List(ctx, s.db, auditdomain.ListFilter{
		SessionID: req.SessionID,
		Action:    req.Action,
		Limit:     limit,
	})
}

func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, s.db, cutoff.UTC())
}
