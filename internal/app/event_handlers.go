package app

import (
	"go.uber.org/zap"

	"github.com/payhub/server/internal/shared/events"
)

// AuditHandler writes settled payments to the operational log. It is
// the merchant's trail for reconciling against provider settlement
// reports.
type AuditHandler struct {
	logger *zap.Logger
}

// NewAuditHandler creates the audit event handler.
func NewAuditHandler(logger *zap.Logger) *AuditHandler {
	return &AuditHandler{logger: logger}
}

// Handles returns the event types this handler processes.
func (h *AuditHandler) Handles() []string {
	return []string{
		events.PaymentSucceededType,
		events.PaymentFailedType,
	}
}

// Handle processes a payment settlement event.
func (h *AuditHandler) Handle(event events.Event) error {
	switch e := event.(type) {
	case *events.PaymentSucceededEvent:
		h.logger.Info("payment succeeded",
			zap.String("payment_id", e.PaymentID.String()),
			zap.String("provider", e.Provider),
			zap.Int64("amount", e.Amount),
			zap.String("currency", e.Currency),
			zap.String("reference", e.Reference))
	case *events.PaymentFailedEvent:
		h.logger.Warn("payment failed",
			zap.String("payment_id", e.PaymentID.String()),
			zap.String("provider", e.Provider),
			zap.String("native", e.Native),
			zap.String("message", e.Message))
	}
	return nil
}
