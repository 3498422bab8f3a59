package http

import (
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/payhub/server/internal/module/payment"
)

// webhookBodyLimit caps callback bodies; no provider sends more.
const webhookBodyLimit = 1 << 20

// WebhookHandler receives asynchronous provider callbacks and answers
// with the exact acknowledgement each provider's protocol expects.
type WebhookHandler struct {
	service payment.ServiceInterface
	logger  *zap.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(service payment.ServiceInterface, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, logger: logger}
}

// RegisterRoutes registers the provider callback routes. These live
// outside the versioned API group: the paths are part of the contract
// registered with each provider.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/:provider", h.Receive)
}

// Receive handles POST /webhooks/:provider
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := c.Param("provider")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}

	// Form-encoded providers put their fields in the body; hand the
	// parsed values to the adapter alongside the raw bytes.
	params := url.Values{}
	if ct := c.ContentType(); ct == "application/x-www-form-urlencoded" {
		if parsed, perr := url.ParseQuery(string(body)); perr == nil {
			params = parsed
		}
	}

	ack, err := h.service.HandleWebhook(c.Request.Context(), provider, body, params, c.Request.Header)
	if err != nil {
		h.logger.Warn("webhook not processed",
			zap.String("provider", provider),
			zap.Error(err))
	}

	c.Data(ack.StatusCode, ack.ContentType, []byte(ack.Body))
}
