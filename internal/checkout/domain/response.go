package domain

// Response is the agent-facing checkout session. Money is in minor units.
type Response struct {
	ID                    string                      `json:"id"`
	IntentID              string                      `json:"intent_id"`
	Status                string                      `json:"status"`
	AmountTotal           int64                       `json:"amount_total"`
	Currency              string                      `json:"currency"`
	LineItems             []LineItemResponse          `json:"line_items"`
	TotalDetails          TotalDetails                `json:"total_details"`
	FulfillmentOptions    []FulfillmentOptionResponse `json:"fulfillment_options"`
	Buyer                 *Buyer                      `json:"buyer,omitempty"`
	OrderID               *string                     `json:"order_id,omitempty"`
	OrderURL              *string                     `json:"order_url"`
	ConfirmationEmailSent bool                        `json:"confirmation_email_sent"`
	Metadata              map[string]any              `json:"metadata,omitempty"`
	CancelledAt           *string                     `json:"cancelled_at,omitempty"`
	CreatedAt             string                      `json:"created_at"`
	UpdatedAt             string                      `json:"updated_at"`
}

type LineItemResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    *string `json:"description"`
	Quantity       int     `json:"quantity"`
	UnitAmount     int64   `json:"unit_amount"`
	TotalAmount    int64   `json:"total_amount"`
	TaxAmount      int64   `json:"tax_amount"`
	DiscountAmount int64   `json:"discount_amount"`
}

type TotalDetails struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

type FulfillmentOptionResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Description       *string `json:"description"`
	Amount            int64   `json:"amount"`
	EstimatedDelivery *string `json:"estimated_delivery"`
}
