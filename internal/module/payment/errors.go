package payment

import "errors"

// Module errors.
var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrPaymentNotOpen     = errors.New("payment is not open")
	ErrProviderNotFound   = errors.New("payment provider not found")
	ErrWebhookUnresolved  = errors.New("webhook transaction not resolved")
	ErrInvalidPollSession = errors.New("invalid poll session token")
)
