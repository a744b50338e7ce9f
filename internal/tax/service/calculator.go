package service

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acpgateway/internal/config"
	taxdomain "github.com/smallbiznis/acpgateway/internal/tax/domain"
)

type calculator struct {
	policy *config.CheckoutPolicyHolder
}

func NewCalculator(policy *config.CheckoutPolicyHolder) taxdomain.Calculator {
	return &calculator{policy: policy}
}

func (c *calculator) ComputeTotals(lines []taxdomain.Line, address *taxdomain.Address) taxdomain.Breakdown {
	p := c.policy.Get()
	rate := decimal.NewFromFloat(p.Tax.Rate)
	mode := taxdomain.TaxMode(p.Tax.Mode)

	shipping := decimal.Zero
	if address != nil && len(p.FulfillmentOptions) > 0 {
		shipping = decimal.NewFromFloat(p.FulfillmentOptions[0].Amount).Round(2)
	}
	return ComputeTotals(lines, mode, rate, shipping)
}

// ComputeTotals is the pure totals function. Rounding to cents happens per
// line and the order total is the sum of rounded parts.
func ComputeTotals(lines []taxdomain.Line, mode taxdomain.TaxMode, rate, shipping decimal.Decimal) taxdomain.Breakdown {
	out := taxdomain.Breakdown{
		Lines:    make([]taxdomain.LineTotals, 0, len(lines)),
		Subtotal: decimal.Zero,
		Tax:      decimal.Zero,
		Shipping: shipping,
		Discount: decimal.Zero,
	}

	for _, line := range lines {
		subtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		tax := computeTax(subtotal, mode, rate)
		out.Lines = append(out.Lines, taxdomain.LineTotals{
			ID:       line.ID,
			Subtotal: subtotal,
			Tax:      tax,
			Discount: decimal.Zero,
		})
		out.Subtotal = out.Subtotal.Add(subtotal)
		out.Tax = out.Tax.Add(tax)
	}

	out.Total = out.Subtotal.Add(out.Shipping).Sub(out.Discount)
	if mode != taxdomain.TaxModeInclusive {
		out.Total = out.Total.Add(out.Tax)
	}
	return out
}

func computeTax(subtotal decimal.Decimal, mode taxdomain.TaxMode, rate decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() || !rate.IsPositive() {
		return decimal.Zero
	}
	if mode == taxdomain.TaxModeInclusive {
		return subtotal.Mul(rate).Div(decimal.NewFromInt(1).Add(rate)).Round(2)
	}
	return subtotal.Mul(rate).Round(2)
}
