package domain

import (
	"time"

	"gorm.io/datatypes"
)

const EventOrderStatusChanged = "order.status_changed"

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Event is a persisted outbound notification. Payload is written once and
// never changed; delivery state lives in the other columns.
type Event struct {
	ID           int64          `json:"-" gorm:"primaryKey"`
	WebhookID    string         `json:"webhook_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_acp_webhooks_webhook_id"`
	EventType    string         `json:"event_type" gorm:"type:varchar(100);not null"`
	OrderID      int64          `json:"order_id" gorm:"not null;index:ix_acp_webhooks_order"`
	SessionID    *string        `json:"session_id,omitempty" gorm:"type:varchar(64)"`
	Payload      datatypes.JSON `json:"payload" gorm:"not null"`
	Status       string         `json:"status" gorm:"type:varchar(20);not null;index:ix_acp_webhooks_status_created,priority:1"`
	Attempts     int            `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts  int            `json:"max_attempts" gorm:"not null;default:3"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	ResponseCode *int           `json:"response_code,omitempty"`
	ResponseBody *string        `json:"response_body,omitempty" gorm:"type:text"`
	LastError    *string        `json:"last_error,omitempty" gorm:"type:text"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at" gorm:"not null;index:ix_acp_webhooks_status_created,priority:2"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"not null"`
}

func (Event) TableName() string { return "acp_webhooks" }

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
}

type ItemMeta struct {
	Key          string `json:"key"`
	Value        any    `json:"value"`
	DisplayKey   string `json:"display_key"`
	DisplayValue any    `json:"display_value"`
}

type Item struct {
	ID          string     `json:"id"`
	ProductID   int64      `json:"product_id"`
	VariationID int64      `json:"variation_id"`
	Name        string     `json:"name"`
	SKU         string     `json:"sku"`
	Quantity    int        `json:"quantity"`
	Subtotal    string     `json:"subtotal"`
	Total       string     `json:"total"`
	TaxClass    string     `json:"tax_class"`
	MetaData    []ItemMeta `json:"meta_data"`
}

// Payload is the JSON body delivered to the consumer.
type Payload struct {
	WebhookID          string         `json:"webhook_id"`
	EventType          string         `json:"event_type"`
	OrderID            int64          `json:"order_id"`
	SessionID          string         `json:"session_id,omitempty"`
	OldStatus          string         `json:"old_status"`
	NewStatus          string         `json:"new_status"`
	Amount             string         `json:"amount"`
	Currency           string         `json:"currency"`
	Customer           Customer       `json:"customer"`
	BillingAddress     Address        `json:"billing_address"`
	ShippingAddress    Address        `json:"shipping_address"`
	Items              []Item         `json:"items"`
	PaymentMethod      string         `json:"payment_method"`
	PaymentMethodTitle string         `json:"payment_method_title"`
	TransactionID      string         `json:"transaction_id"`
	DateCreated        string         `json:"date_created"`
	DateModified       string         `json:"date_modified"`
	Metadata           map[string]any `json:"metadata"`
}

type Stats struct {
	Total     int64 `json:"total"`
	Sent      int64 `json:"sent"`
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
	Exhausted int64 `json:"exhausted"`
}

// RetryResult summarises one retry sweep.
type RetryResult struct {
	Selected int `json:"selected"`
	Claimed  int `json:"claimed"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}
