package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/payhub/server/internal/module/payment"
	"github.com/payhub/server/internal/module/payment/gateway"
	"github.com/payhub/server/internal/module/payment/signature"
)

// ErrorHandler provides centralized error handling for HTTP responses.
type ErrorHandler struct{}

// NewErrorHandler creates a new error handler.
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{}
}

// HandlePaymentError maps payment module errors onto the HTTP surface.
func (h *ErrorHandler) HandlePaymentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, payment.ErrPaymentNotFound):
		respondError(c, http.StatusNotFound, "payment_not_found", "Payment not found")
	case errors.Is(err, payment.ErrProviderNotFound):
		respondError(c, http.StatusBadRequest, "unknown_provider", "Unknown payment provider")
	case errors.Is(err, payment.ErrPaymentNotOpen):
		respondError(c, http.StatusConflict, "payment_not_open", "Payment is no longer pending")
	case errors.Is(err, payment.ErrInvalidPollSession):
		respondError(c, http.StatusUnauthorized, "invalid_poll_session", "Poll session token is missing or invalid")
	case errors.Is(err, signature.ErrAuthenticity):
		respondError(c, http.StatusBadRequest, "authenticity_failure", "Request failed signature verification")
	case errors.Is(err, gateway.ErrConfiguration):
		respondError(c, http.StatusBadGateway, "provider_configuration", "Payment provider is misconfigured")
	case errors.Is(err, gateway.ErrProviderRejected):
		respondError(c, http.StatusBadGateway, "provider_rejected", err.Error())
	case errors.Is(err, gateway.ErrTransientNetwork):
		respondError(c, http.StatusServiceUnavailable, "provider_unreachable", "Payment provider is temporarily unreachable")
	default:
		respondError(c, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
