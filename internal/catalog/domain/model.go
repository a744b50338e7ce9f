package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64           `json:"id" gorm:"primaryKey"`
	SKU           string          `json:"sku" gorm:"column:sku;type:varchar(100);not null;uniqueIndex:ux_acp_products_sku"`
	Name          string          `json:"name" gorm:"type:varchar(255);not null"`
	Description   *string         `json:"description,omitempty" gorm:"type:text"`
	Price         decimal.Decimal `json:"price" gorm:"type:decimal(10,2);not null"`
	StockQuantity *int            `json:"stock_quantity,omitempty" gorm:"column:stock_quantity"`
	Active        bool            `json:"active" gorm:"not null;default:true"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "acp_products" }
