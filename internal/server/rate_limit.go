package server

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/acpgateway/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonAgentRate = "agent-rate"

// AgentRateLimit throttles per agent credential. Limiter failures fail open.
func (s *Server) AgentRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.agentLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeEndpoint(c)

		result, err := s.agentLimiter.Allow(ctx, agentKey(c.GetString(contextTokenKey)))
		if err != nil {
			logger.FromContext(ctx).Warn("agent rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Round(time.Second) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			logger.FromContext(ctx).Warn("agent rate limit exceeded",
				zap.String("reason", rateLimitReasonAgentRate),
				zap.String("endpoint", endpoint),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonAgentRate)

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonAgentRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Next()
	}
}

// agentKey keeps raw tokens out of limiter keys.
func agentKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
