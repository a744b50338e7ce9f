package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("session_id", "acp_session_abc"),
		attribute.String("event_type", "order.status_changed"),
		attribute.String("outcome", "sent"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "session_id" {
			t.Fatalf("expected session_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordSessionTransition(ctx, "pending", "completed")
	m.RecordWebhookDelivery(ctx, "order.status_changed", "sent", time.Second)
	m.RecordIdempotencyRejected(ctx, "/acp/v1/checkout_sessions")
	m.RecordAuthFailure(ctx, "/acp/v1/checkout_sessions", "timestamp")
	m.RecordRateLimitDenied(ctx, "/acp/v1/checkout_sessions", "agent-rate")
}

func TestNoopMetricsRecord(t *testing.T) {
	m := NewNoop()
	if m == nil {
		t.Fatalf("expected noop metrics")
	}
	m.RecordSessionTransition(context.Background(), "pending", "cancelled")
}
