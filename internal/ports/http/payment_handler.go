package http

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/payhub/server/internal/module/payment"
	"github.com/payhub/server/internal/module/payment/domain"
	"github.com/payhub/server/internal/module/payment/gateway"
)

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	service      payment.ServiceInterface
	errorHandler *ErrorHandler
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(service payment.ServiceInterface) *PaymentHandler {
	return &PaymentHandler{
		service:      service,
		errorHandler: NewErrorHandler(),
	}
}

// RegisterRoutes registers the checkout-facing payment routes.
func (h *PaymentHandler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("", h.StartPayment)
		payments.GET("/:id", h.GetPayment)
		payments.GET("/:id/outbound", h.RenderOutbound)
		payments.GET("/:id/status", h.CheckStatus)
		payments.GET("/:id/return", h.HandleReturn)
		payments.POST("/:id/return", h.HandleReturn)
	}
	r.GET("/providers", h.ListProviders)
}

// RegisterAdminRoutes registers merchant back-office routes.
func (h *PaymentHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("/:id/refund", h.Refund)
		payments.POST("/:id/hold", h.Hold)
		payments.POST("/:id/resolve", h.ResolveHold)
	}
}

// StartPaymentRequest represents a request to start a payment.
type StartPaymentRequest struct {
	Provider    string `json:"provider" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,min=1"`
	Currency    string `json:"currency" binding:"required,len=3"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

// StartPayment handles POST /payments
func (h *PaymentHandler) StartPayment(c *gin.Context) {
	var req StartPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.service.StartPayment(c.Request.Context(), &payment.StartPaymentRequest{
		Provider:    req.Provider,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		Reference:   req.Reference,
	})
	if err != nil {
		h.errorHandler.HandlePaymentError(c, err)
		return
	}

	respondCreated(c, gin.H{
		"payment":         paymentToResponse(result.Payment),
		"outbound":        outboundToResponse(result.Outbound),
		"poll_token":      result.PollToken,
		"poll_expires_at": result.PollExpiresAt.Format(time.RFC3339),
		"return_state":    result.ReturnState,
	})
}

// GetPayment handles GET /payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	p, err := h.service.GetPayment(c.Request.Context(), id)
	if err != nil {
		h.errorHandler.HandlePaymentError(c, err)
		return
	}
	respondSuccess(c, gin.H{"payment": paymentToResponse(p)})
}

// RenderOutbound handles GET /payments/:id/outbound
func (h *PaymentHandler) RenderOutbound(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	outbound, err := h.service.RenderOutbound(c.Request.Context(), id)
	if err != nil {
		h.errorHandler.HandlePaymentError(c, err)
		return
	}
	respondSuccess(c, gin.H{"outbound": outboundToResponse(outbound)})
}

// CheckStatus handles GET /payments/:id/status. It requires the poll
// token issued at start, in the X-Poll-Token header or the poll_token
// query parameter.
func (h *PaymentHandler) CheckStatus(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	token := c.GetHeader("X-Poll-Token")
	if token == "" {
		token = c.Query("poll_token")
	}

	p, err := h.service.CheckStatus(c.Request.Context(), id, token)
	if err != nil {
		h.errorHandler.HandlePaymentError(c, err)
		return
	}
	respondSuccess(c, gin.H{
		"payment": paymentToResponse(p),
		"final":   p.Status().IsTerminal(),
	})
}

// HandleReturn handles the shopper coming back from the provider, on
// GET or form POST depending on the provider's protocol.
func (h *PaymentHandler) HandleReturn(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	params := url.Values{}
	for k, vs := range c.Request.URL.Query() {
		params[k] = vs
	}
	if c.Request.Method == http.MethodPost {
		if err := c.Request.ParseForm(); err == nil {
			for k, vs := range c.Request.PostForm {
				params[k] = vs
			}
		}
	}
	state := params.Get("state")
	params.Del("state")

	p, err := h.service.HandleReturn(c.Request.Context(), id, state, params)
	if err != nil {
		h.errorHandler.HandlePaymentError(c, err)
		return
	}

	respondSuccess(c, gin.H{
		"payment": paymentToResponse(p),
		"final":   p.Status().IsTerminal(),
	})
}

// ListProviders handles GET /providers
func (h *PaymentHandler) ListProviders(c *gin.Context) {
	respondSuccess(c, gin.H{"providers": h.service.Providers()})
}

// MutationRequest carries the operator-supplied reason for a
// back-office transition.
type MutationRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Refund handles POST /payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	h.mutation(c, h.service.Refund)
}

// Hold handles POST /payments/:id/hold
func (h *PaymentHandler) Hold(c *gin.Context) {
	h.mutation(c, h.service.HoldPayment)
}

// ResolveHoldRequest carries the dispute outcome.
type ResolveHoldRequest struct {
	Won    bool   `json:"won"`
	Reason string `json:"reason" binding:"required"`
}

// ResolveHold handles POST /payments/:id/resolve
func (h *PaymentHandler) ResolveHold(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	var req ResolveHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p, err := h.service.ResolveHold(c.Request.Context(), id, req.Won, req.Reason)
	if err != nil {
		h.errorHandler.HandlePaymentError(c, err)
		return
	}
	respondSuccess(c, gin.H{"payment": paymentToResponse(p)})
}

func (h *PaymentHandler) mutation(c *gin.Context, op func(context.Context, uuid.UUID, string) (*domain.Payment, error)) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	var req MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p, err := op(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.errorHandler.HandlePaymentError(c, err)
		return
	}
	respondSuccess(c, gin.H{"payment": paymentToResponse(p)})
}

func paymentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", "invalid payment ID format")
		return uuid.Nil, false
	}
	return id, true
}

// PaymentResponse is the public view of a payment record.
type PaymentResponse struct {
	ID            string  `json:"id"`
	Provider      string  `json:"provider"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Amount        int64   `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	Paid          bool    `json:"paid"`
	Reference     string  `json:"reference,omitempty"`
	SucceededAt   *string `json:"succeeded_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

func paymentToResponse(p *domain.Payment) PaymentResponse {
	var succeededAt *string
	if t := p.SucceededAt(); t != nil {
		s := t.Format(time.RFC3339)
		succeededAt = &s
	}
	return PaymentResponse{
		ID:            p.ID().String(),
		Provider:      p.Provider(),
		TransactionID: p.TransactionID(),
		Amount:        p.Amount(),
		Currency:      p.Currency(),
		Status:        string(p.Status()),
		Paid:          p.Status().IsPaid(),
		Reference:     p.Reference(),
		SucceededAt:   succeededAt,
		CreatedAt:     p.CreatedAt().Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt().Format(time.RFC3339),
	}
}

// OutboundResponse describes how the checkout page should hand the
// shopper off to the provider.
type OutboundResponse struct {
	Kind        string            `json:"kind"`
	URL         string            `json:"url,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	ClientToken string            `json:"client_token,omitempty"`
	QRCode      string            `json:"qr_code,omitempty"`
}

func outboundToResponse(o *gateway.Outbound) OutboundResponse {
	return OutboundResponse{
		Kind:        string(o.Kind),
		URL:         o.URL,
		Fields:      o.Fields,
		ClientToken: o.ClientToken,
		QRCode:      o.QRCode,
	}
}
