package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/payhub/server/internal/module/payment/domain"
)

// PaymentEntity is the GORM entity for Payment.
type PaymentEntity struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Provider      string    `gorm:"not null;index"`
	TransactionID *string   `gorm:"uniqueIndex"`
	Amount        int64
	Currency      string `gorm:"default:usd"`
	Status        string `gorm:"not null;default:open"`
	RawStatus     string
	Reference     string
	Notes         string `gorm:"type:jsonb;default:'[]'"`
	Metadata      string `gorm:"type:jsonb;default:'{}'"`
	SucceededAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName returns the database table name.
func (PaymentEntity) TableName() string {
	return "payments"
}

// ToDomain converts entity to domain Payment.
func (e *PaymentEntity) ToDomain() *domain.Payment {
	var notes []domain.Note
	_ = json.Unmarshal([]byte(e.Notes), &notes)
	metadata := make(map[string]string)
	_ = json.Unmarshal([]byte(e.Metadata), &metadata)

	txID := ""
	if e.TransactionID != nil {
		txID = *e.TransactionID
	}

	return domain.RestorePayment(
		e.ID,
		e.Provider,
		txID,
		e.Amount,
		e.Currency,
		domain.Status(e.Status),
		e.RawStatus,
		e.Reference,
		notes,
		metadata,
		e.SucceededAt,
		e.CreatedAt,
		e.UpdatedAt,
	)
}

// FromDomainPayment converts domain Payment to entity.
func FromDomainPayment(p *domain.Payment) *PaymentEntity {
	notes, _ := json.Marshal(p.Notes())
	metadata, _ := json.Marshal(p.Metadata())
	if p.Notes() == nil {
		notes = []byte("[]")
	}

	var txID *string
	if id := p.TransactionID(); id != "" {
		txID = &id
	}

	return &PaymentEntity{
		ID:            p.ID(),
		Provider:      p.Provider(),
		TransactionID: txID,
		Amount:        p.Amount(),
		Currency:      p.Currency(),
		Status:        string(p.Status()),
		RawStatus:     p.RawStatus(),
		Reference:     p.Reference(),
		Notes:         string(notes),
		Metadata:      string(metadata),
		SucceededAt:   p.SucceededAt(),
		CreatedAt:     p.CreatedAt(),
		UpdatedAt:     p.UpdatedAt(),
	}
}

// WebhookEventEntity is the GORM entity for WebhookEvent.
type WebhookEventEntity struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Provider      string    `gorm:"not null;uniqueIndex:idx_provider_event"`
	EventID       string    `gorm:"not null;uniqueIndex:idx_provider_event"`
	TransactionID string    `gorm:"index"`
	Data          string    `gorm:"type:jsonb"`
	Processed     bool      `gorm:"default:false"`
	ProcessedAt   *time.Time
	Error         *string
	CreatedAt     time.Time
}

// TableName returns the database table name.
func (WebhookEventEntity) TableName() string {
	return "webhook_events"
}

// ToDomain converts entity to domain WebhookEvent.
func (e *WebhookEventEntity) ToDomain() *domain.WebhookEvent {
	return &domain.WebhookEvent{
		ID:            e.ID,
		Provider:      e.Provider,
		EventID:       e.EventID,
		TransactionID: e.TransactionID,
		Data:          e.Data,
		Processed:     e.Processed,
		ProcessedAt:   e.ProcessedAt,
		Error:         e.Error,
		CreatedAt:     e.CreatedAt,
	}
}

// FromDomainWebhookEvent converts domain WebhookEvent to entity.
func FromDomainWebhookEvent(ev *domain.WebhookEvent) *WebhookEventEntity {
	return &WebhookEventEntity{
		ID:            ev.ID,
		Provider:      ev.Provider,
		EventID:       ev.EventID,
		TransactionID: ev.TransactionID,
		Data:          ev.Data,
		Processed:     ev.Processed,
		ProcessedAt:   ev.ProcessedAt,
		Error:         ev.Error,
		CreatedAt:     ev.CreatedAt,
	}
}

// CredentialEntity stores one provider's sealed OAuth credential.
type CredentialEntity struct {
	Provider  string         `gorm:"primaryKey"`
	Sealed    string         `gorm:"not null"`
	Scopes    pq.StringArray `gorm:"type:text[]"`
	UpdatedAt time.Time
}

// TableName returns the database table name.
func (CredentialEntity) TableName() string {
	return "provider_credentials"
}
