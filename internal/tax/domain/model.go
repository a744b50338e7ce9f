package domain

import (
	"github.com/shopspring/decimal"
)

// TaxMode represents how tax is applied to the checkout total.
type TaxMode string

const (
	TaxModeExclusive TaxMode = "exclusive" // subtotal + tax
	TaxModeInclusive TaxMode = "inclusive" // subtotal already includes tax
)

// Line is a priced checkout line in major units.
type Line struct {
	ID        string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Address is the destination used for shipping. A nil address means no
// shipping has been quoted yet.
type Address struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address_1,omitempty"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode,omitempty"`
	Country   string `json:"country,omitempty"`
}

type LineTotals struct {
	ID       string          `json:"id"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Discount decimal.Decimal `json:"discount"`
}

// Breakdown is the total breakdown in major units. Sessions store it as
// JSON when they are created.
type Breakdown struct {
	Lines    []LineTotals    `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Calculator computes totals without touching any shared state.
type Calculator interface {
	ComputeTotals(lines []Line, address *Address) Breakdown
}
