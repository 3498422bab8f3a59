package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/payhub/server/internal/module/payment/domain"
	"github.com/payhub/server/internal/module/payment/entity"
)

// Repository defines the interface for payment data access. Its only
// contract beyond plain CRUD is the per-record atomic guard used by the
// status transition: UpdatePaymentGuarded.
type Repository interface {
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetPaymentByTransactionID(ctx context.Context, txID string) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, payment *domain.Payment) error

	// UpdatePaymentGuarded persists the payment only if its stored
	// status still equals fromStatus. Returns false when a concurrent
	// writer got there first; the caller reloads and re-applies.
	UpdatePaymentGuarded(ctx context.Context, payment *domain.Payment, fromStatus domain.Status) (bool, error)

	// ListPendingPayments returns started, non-terminal payments not
	// updated since the cutoff. Backs the background sweep.
	ListPendingPayments(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Payment, error)

	// Webhook event idempotency records.
	CreateWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error
	WebhookEventExists(ctx context.Context, provider, eventID string) (bool, error)

	// MarkWebhookEventProcessed records the processing outcome. Only a
	// nil processErr marks the event processed; a failed delivery stays
	// eligible for reprocessing when the provider redelivers.
	MarkWebhookEventProcessed(ctx context.Context, provider, eventID string, processErr error) error

	// Sealed OAuth credentials (credential.Store).
	SaveProviderCredential(ctx context.Context, provider, sealed string) error
	LoadProviderCredential(ctx context.Context, provider string) (string, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new payment repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	ent := entity.FromDomainPayment(payment)
	if err := r.db.WithContext(ctx).Create(ent).Error; err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *repository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	var ent entity.PaymentEntity
	err := r.db.WithContext(ctx).First(&ent, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return ent.ToDomain(), nil
}

func (r *repository) GetPaymentByTransactionID(ctx context.Context, txID string) (*domain.Payment, error) {
	var ent entity.PaymentEntity
	err := r.db.WithContext(ctx).First(&ent, "transaction_id = ?", txID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by transaction id: %w", err)
	}
	return ent.ToDomain(), nil
}

func (r *repository) UpdatePayment(ctx context.Context, payment *domain.Payment) error {
	ent := entity.FromDomainPayment(payment)
	if err := r.db.WithContext(ctx).Save(ent).Error; err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

func (r *repository) UpdatePaymentGuarded(ctx context.Context, payment *domain.Payment, fromStatus domain.Status) (bool, error) {
	ent := entity.FromDomainPayment(payment)
	res := r.db.WithContext(ctx).
		Model(&entity.PaymentEntity{}).
		Where("id = ? AND status = ?", payment.ID(), string(fromStatus)).
		Updates(map[string]interface{}{
			"status":         ent.Status,
			"transaction_id": ent.TransactionID,
			"raw_status":     ent.RawStatus,
			"reference":      ent.Reference,
			"notes":          ent.Notes,
			"metadata":       ent.Metadata,
			"succeeded_at":   ent.SucceededAt,
			"updated_at":     ent.UpdatedAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("guarded update: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListPendingPayments(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Payment, error) {
	var ents []entity.PaymentEntity
	err := r.db.WithContext(ctx).
		Where("status IN ? AND transaction_id IS NOT NULL AND updated_at < ?",
			[]string{string(domain.StatusOpen), string(domain.StatusAuthorized)}, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&ents).Error
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	payments := make([]*domain.Payment, len(ents))
	for i := range ents {
		payments[i] = ents[i].ToDomain()
	}
	return payments, nil
}

// --- Webhook Event Operations ---

func (r *repository) CreateWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	ent := entity.FromDomainWebhookEvent(event)
	// A redelivery of an event whose first processing failed keeps the
	// original row; the caller reprocesses and marks it by key.
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(ent).Error
	if err != nil {
		return fmt.Errorf("create webhook event: %w", err)
	}
	return nil
}

func (r *repository) WebhookEventExists(ctx context.Context, provider, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.WebhookEventEntity{}).
		Where("provider = ? AND event_id = ? AND processed = true", provider, eventID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check webhook event exists: %w", err)
	}
	return count > 0, nil
}

func (r *repository) MarkWebhookEventProcessed(ctx context.Context, provider, eventID string, processErr error) error {
	updates := map[string]interface{}{
		"processed":    processErr == nil,
		"processed_at": gorm.Expr("NOW()"),
		"error":        nil,
	}
	if processErr != nil {
		updates["error"] = processErr.Error()
	}
	err := r.db.WithContext(ctx).
		Model(&entity.WebhookEventEntity{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}

// --- Credential Operations ---

func (r *repository) SaveProviderCredential(ctx context.Context, provider, sealed string) error {
	ent := entity.CredentialEntity{Provider: provider, Sealed: sealed}
	err := r.db.WithContext(ctx).Save(&ent).Error
	if err != nil {
		return fmt.Errorf("save provider credential: %w", err)
	}
	return nil
}

func (r *repository) LoadProviderCredential(ctx context.Context, provider string) (string, error) {
	var ent entity.CredentialEntity
	err := r.db.WithContext(ctx).First(&ent, "provider = ?", provider).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load provider credential: %w", err)
	}
	return ent.Sealed, nil
}
