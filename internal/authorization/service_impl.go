package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/acpgateway/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, err := roleFor(actor)
	if err != nil {
		s.auditDenied(ctx, actor, object, action)
		return err
	}
	if err := s.ensureGrouping(actor, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}
	return nil
}

func roleFor(actor string) (string, error) {
	switch actor {
	case ActorAgent, ActorMerchant, ActorSystem:
		return fmt.Sprintf("role:%s", actor), nil
	default:
		return "", ErrInvalidActor
	}
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor string, object string, action string) {
	s.log.Warn("authorization denied",
		zap.String("actor", actor),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Event{
		Level:   auditdomain.LevelWarning,
		Action:  "authorization.denied",
		Message: "authorization denied",
		Context: map[string]any{
			"actor":  actor,
			"object": object,
			"action": action,
		},
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Agents drive the checkout flow only.
		{"role:agent", ObjectCheckoutSession, ActionSessionCreate},
		{"role:agent", ObjectCheckoutSession, ActionSessionView},
		{"role:agent", ObjectCheckoutSession, ActionSessionUpdate},
		{"role:agent", ObjectCheckoutSession, ActionSessionComplete},
		{"role:agent", ObjectCheckoutSession, ActionSessionCancel},

		// Merchant operations
		{"role:merchant", ObjectCheckoutSession, ActionSessionView},
		{"role:merchant", ObjectCheckoutSession, ActionSessionStats},
		{"role:merchant", ObjectOrder, ActionOrderStatusUpdate},
		{"role:merchant", ObjectWebhook, ActionWebhookStats},
		{"role:merchant", ObjectWebhook, ActionWebhookRetry},

		// Scheduler and CLI
		{"role:system", ObjectCheckoutSession, ActionSessionStats},
		{"role:system", ObjectWebhook, ActionWebhookStats},
		{"role:system", ObjectWebhook, ActionWebhookRetry},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
