package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	checkoutdomain "github.com/smallbiznis/acpgateway/internal/checkout/domain"
	taxdomain "github.com/smallbiznis/acpgateway/internal/tax/domain"
)

type createCheckoutSessionRequest struct {
	Items           []checkoutItemRequest `json:"items"`
	Buyer           *checkoutdomain.Buyer `json:"buyer"`
	Currency        string                `json:"currency"`
	ShippingAddress *taxdomain.Address    `json:"shipping_address"`
	Metadata        map[string]any        `json:"metadata"`
}

type checkoutItemRequest struct {
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Quantity    *int            `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type updateCheckoutSessionRequest struct {
	Amount   *decimal.Decimal `json:"amount"`
	Currency *string          `json:"currency"`
	Status   *string          `json:"status"`
}

type completeCheckoutSessionRequest struct {
	PaymentMethodDetails map[string]any     `json:"payment_method_details"`
	BillingAddress       *taxdomain.Address `json:"billing_address"`
}

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	var req createCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("Invalid JSON body"))
		return
	}

	items := make([]checkoutdomain.ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		quantity := 1
		if item.Quantity != nil {
			quantity = *item.Quantity
		}
		items = append(items, checkoutdomain.ItemInput{
			SKU:         strings.TrimSpace(item.SKU),
			Name:        strings.TrimSpace(item.Name),
			Description: item.Description,
			Quantity:    quantity,
			Price:       item.Price,
		})
	}

	session, err := s.checkoutSvc.Create(c.Request.Context(), checkoutdomain.CreateRequest{
		Items:           items,
		Buyer:           req.Buyer,
		Currency:        req.Currency,
		ShippingAddress: req.ShippingAddress,
		Metadata:        req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.respondSession(c, session)
}

func (s *Server) GetCheckoutSession(c *gin.Context) {
	session, err := s.checkoutSvc.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.respondSession(c, session)
}

func (s *Server) UpdateCheckoutSession(c *gin.Context) {
	var req updateCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("Invalid JSON body"))
		return
	}

	session, err := s.checkoutSvc.Update(c.Request.Context(), c.Param("session_id"), checkoutdomain.UpdateRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   req.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.respondSession(c, session)
}

func (s *Server) CompleteCheckoutSession(c *gin.Context) {
	var req completeCheckoutSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError("Invalid JSON body"))
			return
		}
	}

	result, err := s.checkoutSvc.Complete(c.Request.Context(), c.Param("session_id"), checkoutdomain.CompleteRequest{
		PaymentMethod:  paymentMethodFrom(req.PaymentMethodDetails),
		PaymentDetails: req.PaymentMethodDetails,
		BillingAddress: req.BillingAddress,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) CancelCheckoutSession(c *gin.Context) {
	session, err := s.checkoutSvc.Cancel(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.respondSession(c, session)
}

func (s *Server) respondSession(c *gin.Context, session *checkoutdomain.Session) {
	resp, err := s.checkoutSvc.Present(session)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func paymentMethodFrom(details map[string]any) string {
	for _, key := range []string{"type", "method"} {
		if value, ok := details[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
