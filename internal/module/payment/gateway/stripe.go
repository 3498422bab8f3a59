package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/payhub/server/internal/module/payment/domain"
	"github.com/payhub/server/internal/module/payment/signature"
)

// StripeConfig holds the API key and the webhook endpoint secret.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// Stripe implements the embedded-widget variant: Start creates a
// PaymentIntent whose client secret drives the Payment Element iframe.
// The authoritative status arrives via the signed webhook; the browser
// return is advisory and never marks success on its own.
type Stripe struct {
	cfg *StripeConfig
}

// NewStripe creates the adapter. The SDK key is process-global, which
// matches one stripe account per deployment.
func NewStripe(cfg *StripeConfig) *Stripe {
	stripe.Key = cfg.APIKey
	return &Stripe{cfg: cfg}
}

func (g *Stripe) Name() string { return "stripe" }

// Start creates the PaymentIntent and hands back its client secret as
// the widget session token.
func (g *Stripe) Start(ctx context.Context, p *domain.Payment) (*Session, error) {
	if g.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: stripe api key missing", ErrConfiguration)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.Amount()),
		Currency: stripe.String(p.Currency()),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("payment_id", p.ID().String())

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, stripeError(err)
	}

	return &Session{
		TransactionID: pi.ID,
		ClientToken:   pi.ClientSecret,
	}, nil
}

// RenderOutbound re-emits the widget session from stored metadata.
func (g *Stripe) RenderOutbound(p *domain.Payment) (*Outbound, error) {
	secret := p.Metadata()["client-secret"]
	if secret == "" {
		return nil, fmt.Errorf("%w: payment not started", ErrProviderRejected)
	}
	return &Outbound{Kind: OutboundWidget, ClientToken: secret}, nil
}

// ParseReturn never trusts the redirect context: only a verified webhook
// or a fresh query may mark success.
func (g *Stripe) ParseReturn(ctx context.Context, params url.Values) (*Result, error) {
	return nil, ErrUnsignedReturn
}

// ParseWebhook verifies the Stripe-Signature header before reading any
// field of the event.
func (g *Stripe) ParseWebhook(ctx context.Context, body []byte, params url.Values, header http.Header) (*Result, error) {
	event, err := webhook.ConstructEvent(body, header.Get("Stripe-Signature"), g.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", signature.ErrAuthenticity, err)
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed",
		"payment_intent.canceled", "payment_intent.processing":
	default:
		return nil, fmt.Errorf("%w: %s", ErrIgnoreEvent, event.Type)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("unmarshal payment intent: %w", err)
	}

	message := ""
	if pi.LastPaymentError != nil {
		message = pi.LastPaymentError.Msg
	}

	return &Result{
		TransactionID: pi.ID,
		EventID:       event.ID,
		Native:        string(pi.Status),
		Status:        g.MapStatus(string(pi.Status)),
		Amount:        pi.Amount,
		Message:       message,
		Raw:           string(event.Data.Raw),
	}, nil
}

// QueryStatus fetches the PaymentIntent server-to-server.
func (g *Stripe) QueryStatus(ctx context.Context, p *domain.Payment) (*Result, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(p.TransactionID(), params)
	if err != nil {
		return nil, stripeError(err)
	}
	return &Result{
		TransactionID: pi.ID,
		Native:        string(pi.Status),
		Status:        g.MapStatus(string(pi.Status)),
		Amount:        pi.Amount,
		Raw:           string(pi.Status),
	}, nil
}

// MapStatus normalizes PaymentIntent statuses; unknown stays open.
func (g *Stripe) MapStatus(native string) domain.Status {
	switch native {
	case "succeeded":
		return domain.StatusSuccess
	case "requires_capture":
		return domain.StatusAuthorized
	case "canceled":
		return domain.StatusCancelled
	case "processing", "requires_payment_method", "requires_confirmation", "requires_action":
		return domain.StatusOpen
	default:
		return domain.StatusOpen
	}
}

// Ack follows the JSON acknowledgement shape stripe tooling expects.
func (g *Stripe) Ack(kind AckKind) Ack {
	switch kind {
	case AckOK:
		return Ack{StatusCode: http.StatusOK, ContentType: "application/json", Body: `{"received":true}`}
	case AckRetry:
		return Ack{StatusCode: http.StatusInternalServerError, ContentType: "application/json", Body: `{"received":false}`}
	default:
		return Ack{StatusCode: http.StatusBadRequest, ContentType: "application/json", Body: `{"received":false}`}
	}
}

// stripeError folds SDK errors into the shared taxonomy.
func stripeError(err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		if stripeErr.HTTPStatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrConfiguration, stripeErr.Msg)
		}
		return fmt.Errorf("%w: %s", ErrProviderRejected, stripeErr.Msg)
	}
	return classifyNetworkErr(err)
}
