package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/acpgateway/internal/observability/logger"
	"go.uber.org/zap"
)

type orderStatusRequest struct {
	Status string `json:"status"`
}

type retryWebhooksRequest struct {
	Limit int `json:"limit"`
}

// UpdateOrderStatus lets the order system push a status change. The webhook
// dispatcher is notified through the order status listeners.
func (s *Server) UpdateOrderStatus(c *gin.Context) {
	orderID, err := strconv.ParseInt(strings.TrimSpace(c.Param("order_id")), 10, 64)
	if err != nil || orderID <= 0 {
		AbortWithError(c, invalidRequestError("order_id must be a positive integer"))
		return
	}

	var req orderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Status) == "" {
		AbortWithError(c, invalidRequestError("status is required"))
		return
	}

	order, err := s.orderSvc.UpdateStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":   strconv.FormatInt(order.ID, 10),
		"session_id": order.SessionID,
		"status":     order.Status,
	})
}

func (s *Server) WebhookStats(c *gin.Context) {
	stats, err := s.webhookSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) RetryWebhooks(c *gin.Context) {
	var req retryWebhooksRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError("Invalid JSON body"))
			return
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.Webhook.RetryBatch
	}

	result, err := s.webhookSvc.RetryFailed(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	logger.FromContext(c.Request.Context()).Info("manual webhook retry sweep",
		zap.Int("selected", result.Selected),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	)
	c.JSON(http.StatusOK, result)
}

func (s *Server) CheckoutSessionStats(c *gin.Context) {
	stats, err := s.checkoutSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
