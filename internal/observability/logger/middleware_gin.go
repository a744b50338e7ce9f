package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	obscontext "github.com/smallbiznis/acpgateway/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MiddlewareConfig controls request logging. ErrorClassifier maps the last
// gin error to the (type, code) pair returned to the caller.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

// Error types that are expected client behaviour rather than faults. They
// are logged at warn.
var clientErrorTypes = map[string]bool{
	"authentication_error": true,
	"authorization_error":  true,
	"duplicate_request":    true,
	"rate_limit_exceeded":  true,
}

// GinMiddleware binds Request-Id and the session path parameter to the
// request context, then writes one http_request line per call.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFor(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		if sessionID := strings.TrimSpace(c.Param("session_id")); sessionID != "" {
			ctx = obscontext.WithSessionID(ctx, sessionID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		for header, key := range map[string]string{
			"API-Version":     "api_version",
			"Idempotency-Key": "idempotency_key",
		} {
			if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
				fields = append(fields, zap.String(key, v))
			}
		}

		var errorType string
		if last := c.Errors.Last(); last != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(last.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		log := FromContext(c.Request.Context())
		log.Log(requestLevel(route, status, errorType), "http_request", fields...)
	}
}

// requestIDFor prefers the ACP Request-Id header, then X-Request-Id, and
// falls back to a generated ULID. The id is echoed back as Request-Id.
func requestIDFor(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader("Request-Id"))
	if id == "" {
		id = strings.TrimSpace(c.GetHeader("X-Request-Id"))
	}
	if id == "" {
		id = ulid.Make().String()
	}
	c.Set("request_id", id)
	c.Header("Request-Id", id)
	return id
}

func requestLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case route == "/metrics" || route == "/health":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case clientErrorTypes[errorType]:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
