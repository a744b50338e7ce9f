package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acpgateway/internal/checkout/domain"
	taxdomain "github.com/smallbiznis/acpgateway/internal/tax/domain"
)

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount to cents, rounding half away
// from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// Present renders the agent-facing view of a session.
func (s *Service) Present(session *domain.Session) (*domain.Response, error) {
	lines, err := decodeLineItems(session.LineItems)
	if err != nil {
		return nil, err
	}

	breakdown, err := s.sessionTotals(session, lines)
	if err != nil {
		return nil, err
	}

	var options []domain.FulfillmentOption
	if len(session.FulfillmentOptions) > 0 {
		if err := json.Unmarshal(session.FulfillmentOptions, &options); err != nil {
			return nil, fmt.Errorf("decode fulfillment options: %w", err)
		}
	}

	var orderURL string
	if session.OrderID != nil {
		orderURL = s.policy.Get().OrderURL(strconv.FormatInt(*session.OrderID, 10))
	}

	return BuildResponse(session, lines, breakdown, options, orderURL)
}

// sessionTotals returns the breakdown quoted when the session was created.
// Rows written before the snapshot existed are priced against the current
// policy.
func (s *Service) sessionTotals(session *domain.Session, lines []domain.LineItem) (taxdomain.Breakdown, error) {
	var breakdown taxdomain.Breakdown
	if len(session.Totals) > 0 && string(session.Totals) != "null" {
		if err := json.Unmarshal(session.Totals, &breakdown); err != nil {
			return breakdown, fmt.Errorf("decode totals: %w", err)
		}
		return breakdown, nil
	}

	var address *taxdomain.Address
	if len(session.ShippingAddress) > 0 && string(session.ShippingAddress) != "null" {
		address = &taxdomain.Address{}
		if err := json.Unmarshal(session.ShippingAddress, address); err != nil {
			return breakdown, fmt.Errorf("decode shipping address: %w", err)
		}
	}
	return s.calculator.ComputeTotals(taxLines(lines), address), nil
}

func taxLines(lines []domain.LineItem) []taxdomain.Line {
	out := make([]taxdomain.Line, 0, len(lines))
	for _, line := range lines {
		out = append(out, taxdomain.Line{
			ID:        line.ID,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	return out
}

// BuildResponse is the pure mapping from a stored session and its computed
// totals to the response body.
func BuildResponse(session *domain.Session, lines []domain.LineItem, breakdown taxdomain.Breakdown, options []domain.FulfillmentOption, orderURL string) (*domain.Response, error) {
	resp := &domain.Response{
		ID:                 session.SessionID,
		IntentID:           session.IntentID,
		Status:             domain.ProtocolStatus(session.Status),
		AmountTotal:        ToMinorUnits(session.Amount),
		Currency:           session.Currency,
		LineItems:          make([]domain.LineItemResponse, 0, len(lines)),
		FulfillmentOptions: make([]domain.FulfillmentOptionResponse, 0, len(options)),
		TotalDetails: domain.TotalDetails{
			Subtotal: ToMinorUnits(breakdown.Subtotal),
			Tax:      ToMinorUnits(breakdown.Tax),
			Shipping: ToMinorUnits(breakdown.Shipping),
			Discount: ToMinorUnits(breakdown.Discount),
			Total:    ToMinorUnits(breakdown.Total),
		},
		CreatedAt: session.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: session.UpdatedAt.UTC().Format(time.RFC3339),
	}

	lineTotals := make(map[string]taxdomain.LineTotals, len(breakdown.Lines))
	for _, lt := range breakdown.Lines {
		lineTotals[lt.ID] = lt
	}
	for _, line := range lines {
		total := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		lt := lineTotals[line.ID]
		resp.LineItems = append(resp.LineItems, domain.LineItemResponse{
			ID:             line.ID,
			Name:           line.Name,
			Description:    line.Description,
			Quantity:       line.Quantity,
			UnitAmount:     ToMinorUnits(line.UnitPrice),
			TotalAmount:    ToMinorUnits(total),
			TaxAmount:      ToMinorUnits(lt.Tax),
			DiscountAmount: ToMinorUnits(lt.Discount),
		})
	}

	for _, opt := range options {
		resp.FulfillmentOptions = append(resp.FulfillmentOptions, domain.FulfillmentOptionResponse{
			ID:                opt.ID,
			Name:              opt.Name,
			Description:       nonEmpty(opt.Description),
			Amount:            ToMinorUnits(opt.Amount),
			EstimatedDelivery: nonEmpty(opt.EstimatedDelivery),
		})
	}

	if session.BuyerID != nil || session.BuyerName != nil || session.BuyerEmail != nil || session.BuyerPhone != nil {
		resp.Buyer = &domain.Buyer{
			ID:    deref(session.BuyerID),
			Name:  deref(session.BuyerName),
			Email: deref(session.BuyerEmail),
			Phone: deref(session.BuyerPhone),
		}
	}
	if session.OrderID != nil {
		id := strconv.FormatInt(*session.OrderID, 10)
		resp.OrderID = &id
	}
	if orderURL != "" {
		resp.OrderURL = &orderURL
	}
	if len(session.Metadata) > 0 {
		if err := json.Unmarshal(session.Metadata, &resp.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if session.CancelledAt != nil {
		cancelled := session.CancelledAt.UTC().Format(time.RFC3339)
		resp.CancelledAt = &cancelled
	}
	return resp, nil
}

func nonEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
