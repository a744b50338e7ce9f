package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/acpgateway/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for checkout requests.
const (
	AttrRequestID  = attribute.Key("acp.request_id")
	AttrSessionID  = attribute.Key("acp.session_id")
	AttrActor      = attribute.Key("acp.actor")
	AttrAPIVersion = attribute.Key("acp.api_version")
	AttrRoute      = attribute.Key("acp.route")
	AttrStatus     = attribute.Key("acp.http_status")
	AttrDurationMs = attribute.Key("acp.duration_ms")
	AttrIdempotent = attribute.Key("acp.idempotent")
)

// GinMiddleware opens one server span per ACP request. It must run after
// the request logger so the Request-Id and session are already on the
// context.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("acpgateway/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "acp "+strings.ToLower(c.Request.Method), trace.WithSpanKind(trace.SpanKindServer))

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			if member, err := baggage.NewMember(string(AttrRequestID), requestID); err == nil {
				if bag, err := baggage.FromContext(ctx).SetMember(member); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(AttrRequestID.String(requestID))
		}
		if sessionID := obscontext.SessionIDFromContext(ctx); sessionID != "" {
			span.SetAttributes(AttrSessionID.String(sessionID))
		}
		if version := strings.TrimSpace(c.GetHeader("API-Version")); version != "" {
			span.SetAttributes(AttrAPIVersion.String(version))
		}
		span.SetAttributes(AttrIdempotent.Bool(c.GetHeader("Idempotency-Key") != ""))

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("acp " + strings.ToLower(c.Request.Method) + " " + route)
		// auth middleware runs inside c.Next and stamps the actor
		if actor, _ := obscontext.ActorFromContext(c.Request.Context()); actor != "" {
			span.SetAttributes(AttrActor.String(actor))
		}
		span.SetAttributes(SafeAttributes(
			AttrRoute.String(route),
			AttrStatus.Int(status),
			AttrDurationMs.Int64(time.Since(start).Milliseconds()),
		)...)

		if status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		span.End()
	}
}
