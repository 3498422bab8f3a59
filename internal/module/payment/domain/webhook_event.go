package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent records one received provider callback for at-least-once
// idempotency: a redelivered event is acknowledged without reprocessing.
type WebhookEvent struct {
	ID            uuid.UUID
	Provider      string
	EventID       string
	TransactionID string
	Data          string
	Processed     bool
	ProcessedAt   *time.Time
	Error         *string
	CreatedAt     time.Time
}

// NewWebhookEvent creates an unprocessed event record.
func NewWebhookEvent(provider, eventID, transactionID, data string) *WebhookEvent {
	return &WebhookEvent{
		ID:            uuid.New(),
		Provider:      provider,
		EventID:       eventID,
		TransactionID: transactionID,
		Data:          data,
		CreatedAt:     time.Now(),
	}
}
