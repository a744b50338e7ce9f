package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/acpgateway/internal/auth"
	"github.com/smallbiznis/acpgateway/internal/authorization"
	checkoutdomain "github.com/smallbiznis/acpgateway/internal/checkout/domain"
	"github.com/smallbiznis/acpgateway/internal/config"
	"github.com/smallbiznis/acpgateway/internal/idempotency"
	"github.com/smallbiznis/acpgateway/internal/observability"
	obsmiddleware "github.com/smallbiznis/acpgateway/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/acpgateway/internal/observability/metrics"
	obstracing "github.com/smallbiznis/acpgateway/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/acpgateway/internal/order/domain"
	"github.com/smallbiznis/acpgateway/internal/ratelimit"
	webhookdomain "github.com/smallbiznis/acpgateway/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	validator    *auth.Validator
	idempotency  idempotency.Store
	authzSvc     authorization.Service
	checkoutSvc  checkoutdomain.Service
	orderSvc     orderdomain.Service
	webhookSvc   webhookdomain.Service
	obsMetrics   *obsmetrics.Metrics
	agentLimiter *ratelimit.AgentLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Validator    *auth.Validator
	Idempotency  idempotency.Store
	AuthzSvc     authorization.Service
	CheckoutSvc  checkoutdomain.Service
	OrderSvc     orderdomain.Service
	WebhookSvc   webhookdomain.Service
	ObsMetrics   *obsmetrics.Metrics     `optional:"true"`
	AgentLimiter *ratelimit.AgentLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		validator:    p.Validator,
		idempotency:  p.Idempotency,
		authzSvc:     p.AuthzSvc,
		checkoutSvc:  p.CheckoutSvc,
		orderSvc:     p.OrderSvc,
		webhookSvc:   p.WebhookSvc,
		obsMetrics:   p.ObsMetrics,
		agentLimiter: p.AgentLimiter,
	}

	svc.registerACPRoutes()
	svc.registerInternalRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerACPRoutes() {
	acp := s.engine.Group("/acp/v1")

	sessions := acp.Group("/checkout_sessions")
	{
		sessions.POST("",
			s.AgentAuthRequired(), s.AgentRateLimit(), s.Authorize(authorization.ActorAgent, authorization.ObjectCheckoutSession, authorization.ActionSessionCreate), s.Idempotent(),
			s.CreateCheckoutSession)
		sessions.GET("/:session_id",
			s.AgentAuthRequired(), s.AgentRateLimit(), s.Authorize(authorization.ActorAgent, authorization.ObjectCheckoutSession, authorization.ActionSessionView),
			s.GetCheckoutSession)
		sessions.PUT("/:session_id",
			s.AgentAuthRequired(), s.AgentRateLimit(), s.Authorize(authorization.ActorAgent, authorization.ObjectCheckoutSession, authorization.ActionSessionUpdate), s.Idempotent(),
			s.UpdateCheckoutSession)
		sessions.POST("/:session_id/complete",
			s.AgentAuthRequired(), s.AgentRateLimit(), s.Authorize(authorization.ActorAgent, authorization.ObjectCheckoutSession, authorization.ActionSessionComplete), s.Idempotent(),
			s.CompleteCheckoutSession)
		sessions.POST("/:session_id/cancel",
			s.AgentAuthRequired(), s.AgentRateLimit(), s.Authorize(authorization.ActorAgent, authorization.ObjectCheckoutSession, authorization.ActionSessionCancel), s.Idempotent(),
			s.CancelCheckoutSession)
	}
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.MerchantAuthRequired())

	internal.POST("/orders/:order_id/status",
		s.Authorize(authorization.ActorMerchant, authorization.ObjectOrder, authorization.ActionOrderStatusUpdate),
		s.UpdateOrderStatus)
	internal.GET("/webhooks/stats",
		s.Authorize(authorization.ActorMerchant, authorization.ObjectWebhook, authorization.ActionWebhookStats),
		s.WebhookStats)
	internal.POST("/webhooks/retry",
		s.Authorize(authorization.ActorMerchant, authorization.ObjectWebhook, authorization.ActionWebhookRetry),
		s.RetryWebhooks)
	internal.GET("/checkout_sessions/stats",
		s.Authorize(authorization.ActorMerchant, authorization.ObjectCheckoutSession, authorization.ActionSessionStats),
		s.CheckoutSessionStats)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrRouteNotFound)
	})
}
