package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"github.com/payhub/server/internal/module/payment/domain"
	"github.com/payhub/server/internal/module/payment/signature"
)

const stripeTestWebhookSecret = "whsec_test"

// signStripePayload builds a valid Stripe-Signature header for body.
func signStripePayload(body []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEventBody(eventType string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": %q,
		"api_version": %q,
		"data": {
			"object": {
				"id": "pi_123",
				"status": "succeeded",
				"amount": 1000
			}
		}
	}`, eventType, stripe.APIVersion))
}

func TestStripe_ParseWebhook(t *testing.T) {
	g := NewStripe(&StripeConfig{APIKey: "sk_test", WebhookSecret: stripeTestWebhookSecret})
	ctx := context.Background()

	t.Run("signed event", func(t *testing.T) {
		body := stripeEventBody("payment_intent.succeeded")
		header := http.Header{}
		header.Set("Stripe-Signature", signStripePayload(body, stripeTestWebhookSecret))

		result, err := g.ParseWebhook(ctx, body, nil, header)
		require.NoError(t, err)
		assert.Equal(t, "pi_123", result.TransactionID)
		assert.Equal(t, "evt_1", result.EventID)
		assert.Equal(t, domain.StatusSuccess, result.Status)
		assert.Equal(t, int64(1000), result.Amount)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := g.ParseWebhook(ctx, stripeEventBody("payment_intent.succeeded"), nil, http.Header{})
		assert.ErrorIs(t, err, signature.ErrAuthenticity)
	})

	t.Run("wrong signing secret", func(t *testing.T) {
		body := stripeEventBody("payment_intent.succeeded")
		header := http.Header{}
		header.Set("Stripe-Signature", signStripePayload(body, "whsec_other"))

		_, err := g.ParseWebhook(ctx, body, nil, header)
		assert.ErrorIs(t, err, signature.ErrAuthenticity)
	})

	t.Run("unhandled event type is ignored", func(t *testing.T) {
		body := stripeEventBody("customer.created")
		header := http.Header{}
		header.Set("Stripe-Signature", signStripePayload(body, stripeTestWebhookSecret))

		_, err := g.ParseWebhook(ctx, body, nil, header)
		assert.ErrorIs(t, err, ErrIgnoreEvent)
	})
}

func TestStripe_ParseReturn(t *testing.T) {
	g := NewStripe(&StripeConfig{APIKey: "sk_test"})
	// The browser return carries nothing trustworthy; callers must fall
	// back to the authenticated status query.
	_, err := g.ParseReturn(context.Background(), url.Values{"payment_intent": {"pi_123"}})
	assert.ErrorIs(t, err, ErrUnsignedReturn)
}

func TestStripe_MapStatus(t *testing.T) {
	g := NewStripe(&StripeConfig{})

	tests := []struct {
		native string
		want   domain.Status
	}{
		{"succeeded", domain.StatusSuccess},
		{"requires_capture", domain.StatusAuthorized},
		{"canceled", domain.StatusCancelled},
		{"processing", domain.StatusOpen},
		{"requires_payment_method", domain.StatusOpen},
		{"brand_new_status", domain.StatusOpen},
	}
	for _, tt := range tests {
		t.Run(tt.native, func(t *testing.T) {
			assert.Equal(t, tt.want, g.MapStatus(tt.native))
		})
	}
}

func TestStripeError(t *testing.T) {
	t.Run("401 means bad key", func(t *testing.T) {
		err := stripeError(&stripe.Error{HTTPStatusCode: http.StatusUnauthorized, Msg: "Invalid API Key"})
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("other api errors are provider rejections", func(t *testing.T) {
		err := stripeError(&stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Type: stripe.ErrorTypeCard, Msg: "card declined"})
		assert.ErrorIs(t, err, ErrProviderRejected)
	})

	t.Run("non sdk errors are transient", func(t *testing.T) {
		err := stripeError(fmt.Errorf("dial tcp: timeout"))
		assert.ErrorIs(t, err, ErrTransientNetwork)
	})
}

func TestStripe_Ack(t *testing.T) {
	g := NewStripe(&StripeConfig{})

	assert.Equal(t, http.StatusOK, g.Ack(AckOK).StatusCode)
	assert.JSONEq(t, `{"received":true}`, g.Ack(AckOK).Body)
	assert.Equal(t, http.StatusInternalServerError, g.Ack(AckRetry).StatusCode)
}
