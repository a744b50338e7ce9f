package domain

import (
	"context"
	"errors"
	"time"

	orderdomain "github.com/smallbiznis/acpgateway/internal/order/domain"
)

type Service interface {
	orderdomain.StatusListener

	Dispatch(ctx context.Context, change orderdomain.StatusChange) (*Event, error)
	RetryFailed(ctx context.Context, limit int) (*RetryResult, error)
	Stats(ctx context.Context) (*Stats, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sender performs one signed delivery.
type Sender interface {
	Send(ctx context.Context, req DeliveryRequest) (*DeliveryResponse, error)
}

type DeliveryRequest struct {
	URL       string
	EventType string
	Signature string
	Body      []byte
}

type DeliveryResponse struct {
	StatusCode int
	Body       string
}

var (
	ErrDisabled    = errors.New("webhooks_disabled")
	ErrNotFound    = errors.New("webhook_not_found")
	ErrNoEndpoint  = errors.New("webhook_endpoint_not_configured")
	ErrBadResponse = errors.New("webhook_non_2xx_response")
)
