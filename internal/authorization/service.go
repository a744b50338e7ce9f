package authorization

import (
	"context"
	"errors"
)

const (
	ActorAgent    = "agent"
	ActorMerchant = "merchant"
	ActorSystem   = "system"
)

const (
	ObjectCheckoutSession = "checkout_session"
	ObjectOrder           = "order"
	ObjectWebhook         = "webhook"
)

const (
	ActionSessionCreate   = "checkout_session.create"
	ActionSessionView     = "checkout_session.view"
	ActionSessionUpdate   = "checkout_session.update"
	ActionSessionComplete = "checkout_session.complete"
	ActionSessionCancel   = "checkout_session.cancel"
	ActionSessionStats    = "checkout_session.stats"

	ActionOrderStatusUpdate = "order.status_update"

	ActionWebhookStats = "webhook.stats"
	ActionWebhookRetry = "webhook.retry"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

type Service interface {
	Authorize(ctx context.Context, actor string, object string, action string) error
}
