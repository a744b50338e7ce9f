package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Internal session statuses. Processing marks a session whose payment is in
// flight; it is never accepted from clients.
const (
	StatusPending    = "pending"
	StatusReady      = "ready"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Statuses reported to agents.
const (
	ProtocolNotReadyForPayment = "not_ready_for_payment"
	ProtocolReadyForPayment    = "ready_for_payment"
	ProtocolCompleted          = "completed"
	ProtocolCancelled          = "cancelled"
)

func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusReady, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ProtocolStatus maps an internal status onto the agent-facing vocabulary.
func ProtocolStatus(status string) string {
	switch status {
	case StatusReady:
		return ProtocolReadyForPayment
	case StatusCompleted:
		return ProtocolCompleted
	case StatusCancelled, StatusFailed:
		return ProtocolCancelled
	default:
		return ProtocolNotReadyForPayment
	}
}

type Session struct {
	ID                 int64           `json:"-" gorm:"primaryKey"`
	SessionID          string          `json:"session_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_acp_sessions_session_id"`
	IntentID           string          `json:"intent_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_acp_sessions_intent_id"`
	Status             string          `json:"status" gorm:"type:varchar(20);not null;index:ix_acp_sessions_status"`
	Amount             decimal.Decimal `json:"amount" gorm:"type:decimal(10,2);not null"`
	Currency           string          `json:"currency" gorm:"type:varchar(3);not null"`
	BuyerID            *string         `json:"buyer_id,omitempty" gorm:"type:varchar(255)"`
	BuyerName          *string         `json:"buyer_name,omitempty" gorm:"type:varchar(255)"`
	BuyerEmail         *string         `json:"buyer_email,omitempty" gorm:"type:varchar(255)"`
	BuyerPhone         *string         `json:"buyer_phone,omitempty" gorm:"type:varchar(50)"`
	LineItems          datatypes.JSON  `json:"line_items"`
	FulfillmentOptions datatypes.JSON  `json:"fulfillment_options"`
	Totals             datatypes.JSON  `json:"totals,omitempty"`
	ShippingAddress    datatypes.JSON  `json:"shipping_address,omitempty"`
	Metadata           datatypes.JSON  `json:"metadata,omitempty"`
	OrderID            *int64          `json:"order_id,omitempty"`
	PaymentID          *string         `json:"payment_id,omitempty" gorm:"type:varchar(64)"`
	TransactionID      *string         `json:"transaction_id,omitempty" gorm:"type:varchar(64)"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	Version            int             `json:"-" gorm:"not null;default:1"`
	CreatedAt          time.Time       `json:"created_at" gorm:"not null;index:ix_acp_sessions_created_at"`
	UpdatedAt          time.Time       `json:"updated_at" gorm:"not null"`
}

func (Session) TableName() string { return "acp_sessions" }

// LineItem is a resolved line stored on the session. Prices are major units.
type LineItem struct {
	ID          string          `json:"id"`
	ProductID   int64           `json:"product_id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// FulfillmentOption is the snapshot of a shipping choice quoted at creation.
type FulfillmentOption struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	EstimatedDelivery string          `json:"estimated_delivery,omitempty"`
}

type Buyer struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Stats struct {
	Total       int64           `json:"total"`
	Pending     int64           `json:"pending"`
	// Processing counts sessions claimed by a completion that has not
	// finished. A row that stays here was left by a crashed instance.
	Processing  int64           `json:"processing"`
	Completed   int64           `json:"completed"`
	Failed      int64           `json:"failed"`
	Cancelled   int64           `json:"cancelled"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}
