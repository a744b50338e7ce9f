package service

import (
	"encoding/json"
	"fmt"
	"time"

	orderdomain "github.com/smallbiznis/acpgateway/internal/order/domain"
	"github.com/smallbiznis/acpgateway/internal/webhook/domain"
)

// BuildPayload snapshots the order into the order.status_changed body.
func BuildPayload(webhookID string, change orderdomain.StatusChange) (*domain.Payload, error) {
	order := change.Order

	var customer domain.Customer
	if err := decodeInto(order.Customer, &customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	var billing, shipping domain.Address
	if err := decodeInto(order.BillingAddress, &billing); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}
	if err := decodeInto(order.ShippingAddress, &shipping); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	items := []domain.Item{}
	if err := decodeInto(order.Items, &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	for i := range items {
		if items[i].MetaData == nil {
			items[i].MetaData = []domain.ItemMeta{}
		}
	}
	metadata := map[string]any{}
	if err := decodeInto(order.Metadata, &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	return &domain.Payload{
		WebhookID:          webhookID,
		EventType:          domain.EventOrderStatusChanged,
		OrderID:            order.ID,
		SessionID:          order.SessionID,
		OldStatus:          change.OldStatus,
		NewStatus:          change.NewStatus,
		Amount:             order.Total.StringFixed(2),
		Currency:           order.Currency,
		Customer:           customer,
		BillingAddress:     billing,
		ShippingAddress:    shipping,
		Items:              items,
		PaymentMethod:      order.PaymentMethod,
		PaymentMethodTitle: order.PaymentMethodTitle,
		TransactionID:      order.TransactionID,
		DateCreated:        order.CreatedAt.UTC().Format(time.RFC3339),
		DateModified:       order.UpdatedAt.UTC().Format(time.RFC3339),
		Metadata:           metadata,
	}, nil
}

func decodeInto(raw []byte, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}
