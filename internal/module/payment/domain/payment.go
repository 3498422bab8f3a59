package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Payment errors.
var (
	ErrTransactionIDReassigned = errors.New("transaction id already assigned")
	ErrPaymentNotPaid          = errors.New("payment is not paid")
)

// Note is one entry in a payment's append-only audit log.
type Note struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Payment is the aggregate root for a single payment attempt.
// It is created open when checkout begins and mutated only through
// ApplyStatus and the dispute/refund methods below.
type Payment struct {
	id            uuid.UUID
	provider      string
	transactionID string
	amount        int64
	currency      string
	status        Status
	rawStatus     string
	reference     string
	notes         []Note
	metadata      map[string]string
	succeededAt   *time.Time
	createdAt     time.Time
	updatedAt     time.Time
}

// NewPayment creates a new open payment for the given provider.
func NewPayment(provider string, amount int64, currency string) *Payment {
	now := time.Now()
	return &Payment{
		id:        uuid.New(),
		provider:  provider,
		amount:    amount,
		currency:  currency,
		status:    StatusOpen,
		metadata:  make(map[string]string),
		createdAt: now,
		updatedAt: now,
	}
}

// RestorePayment recreates a Payment from persisted data.
func RestorePayment(
	id uuid.UUID,
	provider, transactionID string,
	amount int64,
	currency string,
	status Status,
	rawStatus, reference string,
	notes []Note,
	metadata map[string]string,
	succeededAt *time.Time,
	createdAt, updatedAt time.Time,
) *Payment {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &Payment{
		id:            id,
		provider:      provider,
		transactionID: transactionID,
		amount:        amount,
		currency:      currency,
		status:        status,
		rawStatus:     rawStatus,
		reference:     reference,
		notes:         notes,
		metadata:      metadata,
		succeededAt:   succeededAt,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}

func (p *Payment) ID() uuid.UUID              { return p.id }
func (p *Payment) Provider() string           { return p.provider }
func (p *Payment) TransactionID() string      { return p.transactionID }
func (p *Payment) Amount() int64              { return p.amount }
func (p *Payment) Currency() string           { return p.currency }
func (p *Payment) Status() Status             { return p.status }
func (p *Payment) RawStatus() string          { return p.rawStatus }
func (p *Payment) Reference() string          { return p.reference }
func (p *Payment) Notes() []Note              { return p.notes }
func (p *Payment) Metadata() map[string]string { return p.metadata }
func (p *Payment) SucceededAt() *time.Time    { return p.succeededAt }
func (p *Payment) CreatedAt() time.Time       { return p.createdAt }
func (p *Payment) UpdatedAt() time.Time       { return p.updatedAt }

// SetTransactionID assigns the provider transaction id. The id is the
// idempotency key for webhook and polling lookups, so once set it can
// never be reassigned to a different value.
func (p *Payment) SetTransactionID(txID string) error {
	if txID == "" {
		return nil
	}
	if p.transactionID != "" && p.transactionID != txID {
		return fmt.Errorf("%w: have %q, got %q", ErrTransactionIDReassigned, p.transactionID, txID)
	}
	p.transactionID = txID
	p.updatedAt = time.Now()
	return nil
}

// SetMetadata stores a provider-specific key on the payment.
func (p *Payment) SetMetadata(key, value string) {
	p.metadata[key] = value
	p.updatedAt = time.Now()
}

// SetReference records an operator-supplied reference number from a
// manual confirmation.
func (p *Payment) SetReference(ref string) {
	p.reference = ref
	p.updatedAt = time.Now()
}

// AppendNote adds an entry to the audit log. The log is append-only.
func (p *Payment) AppendNote(text string) {
	now := time.Now()
	p.notes = append(p.notes, Note{At: now, Text: text})
	p.updatedAt = now
}

// ApplyStatus applies a canonical status derived from the given raw
// provider status. It is a monotonic upgrade: stale or illegal targets
// leave the payment untouched. The audit note is appended once per
// distinct raw input, so redelivered callbacks do not duplicate it.
func (p *Payment) ApplyStatus(next Status, rawStatus, note string) bool {
	applied, changed := Apply(p.status, next)
	rawChanged := rawStatus != "" && rawStatus != p.rawStatus
	if !changed && !rawChanged {
		return false
	}

	now := time.Now()
	if changed {
		p.status = applied
		if applied == StatusSuccess && p.succeededAt == nil {
			p.succeededAt = &now
		}
	}
	if rawStatus != "" {
		p.rawStatus = rawStatus
	}
	if note != "" {
		p.notes = append(p.notes, Note{At: now, Text: note})
	}
	p.updatedAt = now
	return changed
}

// MarkRefunded moves a paid payment into the refunded state.
func (p *Payment) MarkRefunded(note string) error {
	if !p.status.CanTransitionTo(StatusRefunded) {
		return ErrPaymentNotPaid
	}
	p.status = StatusRefunded
	p.AppendNote(note)
	return nil
}

// Hold parks a successful payment while a dispute is investigated.
func (p *Payment) Hold(note string) error {
	if !p.status.CanTransitionTo(StatusOnHold) {
		return ErrPaymentNotPaid
	}
	p.status = StatusOnHold
	p.AppendNote(note)
	return nil
}

// ResolveHold settles a dispute either back to success or to failure.
func (p *Payment) ResolveHold(won bool, note string) error {
	if p.status != StatusOnHold {
		return fmt.Errorf("payment is not on hold: %s", p.status)
	}
	target := StatusFailure
	if won {
		target = StatusSuccess
	}
	p.status = target
	p.AppendNote(note)
	return nil
}
