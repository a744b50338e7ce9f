package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/smallbiznis/acpgateway/internal/observability/tracing"
	"github.com/smallbiznis/acpgateway/internal/webhook/domain"
)

const (
	HeaderSignature = "X-ACP-Signature"
	HeaderEvent     = "X-ACP-Event"
	userAgent       = "ACP-Webhook/1.0"

	maxResponseBody = 64 << 10
)

// HTTPSender posts webhook bodies to the consumer endpoint.
type HTTPSender struct {
	client *http.Client
}

func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSender{
		client: tracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
	}
}

func (s *HTTPSender) Send(ctx context.Context, req domain.DeliveryRequest) (*domain.DeliveryResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderSignature, req.Signature)
	httpReq.Header.Set(HeaderEvent, req.EventType)
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &domain.DeliveryResponse{StatusCode: resp.StatusCode}, nil
	}
	return &domain.DeliveryResponse{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
