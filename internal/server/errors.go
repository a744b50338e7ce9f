package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/acpgateway/internal/auth"
	"github.com/smallbiznis/acpgateway/internal/authorization"
	catalogdomain "github.com/smallbiznis/acpgateway/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/acpgateway/internal/checkout/domain"
	"github.com/smallbiznis/acpgateway/internal/idempotency"
	orderdomain "github.com/smallbiznis/acpgateway/internal/order/domain"
	paymentdomain "github.com/smallbiznis/acpgateway/internal/payment/domain"
	webhookdomain "github.com/smallbiznis/acpgateway/internal/webhook/domain"
)

const (
	TypeValidation     = "validation_error"
	TypeAuthentication = "authentication_error"
	TypeAuthorization  = "authorization_error"
	TypeNotFound       = "session_not_found"
	TypeInvalidStatus  = "invalid_status"
	TypePaymentFailed  = "payment_failed"
	TypeDuplicate      = "duplicate_request"
	TypeConflict       = "conflict"
	TypeRateLimited    = "rate_limit_exceeded"
	TypeServer         = "server_error"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// RequestError is a validation failure raised by the HTTP layer itself.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func invalidRequestError(message string) error {
	return &RequestError{Code: "invalid_request", Message: message}
}

var (
	ErrRateLimited        = errors.New("rate_limited")
	ErrRouteNotFound      = errors.New("route_not_found")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return serverError()
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, errorPayload{Type: TypeValidation, Code: reqErr.Code, Message: reqErr.Message}
	}

	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized, errorPayload{Type: TypeAuthentication, Code: authErr.Reason, Message: authErr.Message}
	}

	if status, payload, ok := mapValidationError(err); ok {
		return status, payload
	}

	switch {
	case errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusForbidden, errorPayload{Type: TypeAuthorization, Code: "forbidden", Message: "Access denied"}
	case errors.Is(err, checkoutdomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{Type: TypeNotFound, Code: "session_not_found", Message: "Checkout session not found"}
	case errors.Is(err, orderdomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Code: "order_not_found", Message: "Order not found"}
	case errors.Is(err, ErrRouteNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Code: "route_not_found", Message: "Route not found"}
	case errors.Is(err, checkoutdomain.ErrNotPending):
		return http.StatusBadRequest, errorPayload{Type: TypeInvalidStatus, Code: "invalid_status", Message: "Session is not in pending status"}
	case errors.Is(err, checkoutdomain.ErrPaymentFailed):
		return http.StatusBadRequest, errorPayload{Type: TypePaymentFailed, Code: "payment_failed", Message: paymentFailureMessage(err)}
	case errors.Is(err, idempotency.ErrDuplicateRequest):
		return http.StatusConflict, errorPayload{Type: TypeDuplicate, Code: "duplicate_request", Message: "Duplicate request detected (idempotency)"}
	case errors.Is(err, checkoutdomain.ErrConflict),
		errors.Is(err, checkoutdomain.ErrSessionLocked):
		return http.StatusConflict, errorPayload{Type: TypeConflict, Code: "session_conflict", Message: "Checkout session is being modified by another request"}
	case errors.Is(err, orderdomain.ErrStatusConflict):
		return http.StatusConflict, errorPayload{Type: TypeConflict, Code: "order_status_conflict", Message: "Order status changed concurrently"}
	case errors.Is(err, webhookdomain.ErrDisabled):
		return http.StatusConflict, errorPayload{Type: TypeConflict, Code: "webhooks_disabled", Message: "Webhooks are disabled"}
	case errors.Is(err, webhookdomain.ErrNoEndpoint):
		return http.StatusConflict, errorPayload{Type: TypeConflict, Code: "webhook_endpoint_not_configured", Message: "Webhook endpoint is not configured"}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: TypeRateLimited, Code: "rate_limit_exceeded", Message: "Too many requests"}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: TypeServer, Code: "service_unavailable", Message: "Service temporarily unavailable"}
	default:
		return serverError()
	}
}

func serverError() (int, errorPayload) {
	return http.StatusInternalServerError, errorPayload{Type: TypeServer, Code: "server_error", Message: "Internal server error"}
}

func mapValidationError(err error) (int, errorPayload, bool) {
	validation := func(code, message string) (int, errorPayload, bool) {
		return http.StatusBadRequest, errorPayload{Type: TypeValidation, Code: code, Message: message}, true
	}

	switch {
	case errors.Is(err, checkoutdomain.ErrItemsRequired):
		return validation("items_required", "Items are required")
	case errors.Is(err, catalogdomain.ErrInvalidPrice):
		return validation("invalid_item", "Item price must be a non-negative number")
	case errors.Is(err, catalogdomain.ErrInvalidQuantity):
		return validation("invalid_item", "Item quantity must be at least 1")
	case errors.Is(err, catalogdomain.ErrInsufficientStock):
		return validation("insufficient_stock", "Insufficient stock for item")
	case errors.Is(err, checkoutdomain.ErrInvalidItem),
		errors.Is(err, catalogdomain.ErrInvalidItem):
		return validation("invalid_item", "Each item requires a sku or name")
	case errors.Is(err, checkoutdomain.ErrInvalidCurrency):
		return validation("invalid_currency", "Currency is not supported")
	case errors.Is(err, checkoutdomain.ErrInvalidAmount):
		return validation("invalid_amount", "Amount must be a non-negative number")
	case errors.Is(err, checkoutdomain.ErrInvalidStatusValue):
		return validation("invalid_status_value", "Status is not a known session status")
	case errors.Is(err, orderdomain.ErrInvalidStatus):
		return validation("invalid_order_status", "Order status is not recognised")
	case errors.Is(err, orderdomain.ErrInvalidOrder):
		return validation("invalid_order", "Order is invalid")
	}
	return 0, errorPayload{}, false
}

func paymentFailureMessage(err error) string {
	switch {
	case errors.Is(err, paymentdomain.ErrUnsupportedMethod):
		return "Unsupported payment method"
	case errors.Is(err, paymentdomain.ErrDeclined):
		return "Payment was declined"
	case errors.Is(err, paymentdomain.ErrInvalidAmount):
		return "Payment amount is invalid"
	default:
		return "Failed to create order"
	}
}
