package events

import "github.com/google/uuid"

// Payment event type constants.
const (
	PaymentStatusChangedType = "PaymentStatusChanged"
	PaymentSucceededType     = "PaymentSucceeded"
	PaymentFailedType        = "PaymentFailed"
)

// PaymentStatusChangedEvent is emitted on every applied status
// transition, regardless of target status.
type PaymentStatusChangedEvent struct {
	BaseEvent

	// PaymentID is the unique identifier of the payment.
	PaymentID uuid.UUID `json:"payment_id"`

	// Provider is the payment provider key (e.g., "stripe", "payu").
	Provider string `json:"provider"`

	// From and To are the canonical statuses around the transition.
	From string `json:"from"`
	To   string `json:"to"`

	// Channel is the observation channel that carried the transition
	// ("return", "webhook", "poll", "sweep" or "merchant").
	Channel string `json:"channel"`

	// Native is the provider's own status vocabulary, verbatim.
	Native string `json:"native,omitempty"`
}

// NewPaymentStatusChangedEvent creates a status transition event.
func NewPaymentStatusChangedEvent(paymentID uuid.UUID, provider, from, to, channel, native string) *PaymentStatusChangedEvent {
	return &PaymentStatusChangedEvent{
		BaseEvent: NewBaseEvent(PaymentStatusChangedType, paymentID),
		PaymentID: paymentID,
		Provider:  provider,
		From:      from,
		To:        to,
		Channel:   channel,
		Native:    native,
	}
}

// PaymentSucceededEvent is emitted when a payment reaches success.
type PaymentSucceededEvent struct {
	BaseEvent

	// PaymentID is the unique identifier of the payment.
	PaymentID uuid.UUID `json:"payment_id"`

	// Provider is the payment provider key.
	Provider string `json:"provider"`

	// Amount is the payment amount in smallest currency unit (e.g., cents).
	Amount int64 `json:"amount"`

	// Currency is the ISO currency code (e.g., "usd", "eur").
	Currency string `json:"currency"`

	// Reference is the merchant-side order reference, if any.
	Reference string `json:"reference,omitempty"`
}

// NewPaymentSucceededEvent creates a new PaymentSucceededEvent.
func NewPaymentSucceededEvent(paymentID uuid.UUID, provider string, amount int64, currency, reference string) *PaymentSucceededEvent {
	return &PaymentSucceededEvent{
		BaseEvent: NewBaseEvent(PaymentSucceededType, paymentID),
		PaymentID: paymentID,
		Provider:  provider,
		Amount:    amount,
		Currency:  currency,
		Reference: reference,
	}
}

// PaymentFailedEvent is emitted when a payment reaches failure.
type PaymentFailedEvent struct {
	BaseEvent

	// PaymentID is the unique identifier of the payment.
	PaymentID uuid.UUID `json:"payment_id"`

	// Provider is the payment provider key.
	Provider string `json:"provider"`

	// Native is the provider's failure status, verbatim.
	Native string `json:"native,omitempty"`

	// Message is a human-readable failure message from the provider.
	Message string `json:"message,omitempty"`
}

// NewPaymentFailedEvent creates a new PaymentFailedEvent.
func NewPaymentFailedEvent(paymentID uuid.UUID, provider, native, message string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: NewBaseEvent(PaymentFailedType, paymentID),
		PaymentID: paymentID,
		Provider:  provider,
		Native:    native,
		Message:   message,
	}
}
