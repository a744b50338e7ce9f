package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Order statuses follow the WooCommerce vocabulary so downstream consumers of
// order.status_changed events see the names they already know.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusOnHold     = "on-hold"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
	StatusFailed     = "failed"
)

func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusProcessing, StatusOnHold, StatusCompleted,
		StatusCancelled, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

type Order struct {
	ID                 int64           `json:"id" gorm:"primaryKey"`
	SessionID          string          `json:"session_id" gorm:"type:varchar(64);not null;index:ix_acp_orders_session"`
	Status             string          `json:"status" gorm:"type:varchar(20);not null"`
	Currency           string          `json:"currency" gorm:"type:varchar(3);not null"`
	Total              decimal.Decimal `json:"total" gorm:"type:decimal(10,2);not null"`
	Customer           datatypes.JSON  `json:"customer"`
	BillingAddress     datatypes.JSON  `json:"billing_address"`
	ShippingAddress    datatypes.JSON  `json:"shipping_address"`
	Items              datatypes.JSON  `json:"items"`
	PaymentMethod      string          `json:"payment_method" gorm:"type:varchar(50)"`
	PaymentMethodTitle string          `json:"payment_method_title" gorm:"type:varchar(100)"`
	TransactionID      string          `json:"transaction_id" gorm:"type:varchar(100)"`
	Metadata           datatypes.JSON  `json:"metadata"`
	CreatedAt          time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time       `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "acp_orders" }

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Address mirrors the billing/shipping address block of the webhook payload.
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

type MetaEntry struct {
	Key          string `json:"key"`
	Value        any    `json:"value"`
	DisplayKey   string `json:"display_key"`
	DisplayValue any    `json:"display_value"`
}

type Item struct {
	ID          string      `json:"id"`
	ProductID   int64       `json:"product_id"`
	VariationID int64       `json:"variation_id"`
	Name        string      `json:"name"`
	SKU         string      `json:"sku"`
	Quantity    int         `json:"quantity"`
	Subtotal    string      `json:"subtotal"`
	Total       string      `json:"total"`
	TaxClass    string      `json:"tax_class"`
	MetaData    []MetaEntry `json:"meta_data"`
}
