package gateway

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/payhub/server/internal/module/payment/domain"
)

func newTestPayPal() *PayPal {
	return NewPayPal(&PayPalConfig{
		ClientID: "client",
		Secret:   "secret",
		BaseURL:  "https://api.sandbox.example.test",
	}, nil, nil, zap.NewNop())
}

func TestPayPal_ParseReturn(t *testing.T) {
	g := newTestPayPal()
	// The approval redirect carries the order token but no signed
	// status; the caller must re-query through the bearer channel.
	_, err := g.ParseReturn(context.Background(), url.Values{"token": {"ORDER-1"}})
	assert.ErrorIs(t, err, ErrUnsignedReturn)
}

func TestPayPal_ParseWebhook(t *testing.T) {
	g := newTestPayPal()
	ctx := context.Background()

	t.Run("extracts the order id as an untrusted hint", func(t *testing.T) {
		body := []byte(`{"id":"WH-1","event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"ORDER-1","status":"APPROVED"}}`)

		result, err := g.ParseWebhook(ctx, body, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "ORDER-1", result.TransactionID)
		assert.Equal(t, "WH-1", result.EventID)
		// Empty status: the dispatcher must re-query before believing
		// anything in the body.
		assert.Empty(t, result.Status)
	})

	t.Run("body without a resource id is ignored", func(t *testing.T) {
		_, err := g.ParseWebhook(ctx, []byte(`{"id":"WH-2","resource":{}}`), nil, nil)
		assert.ErrorIs(t, err, ErrIgnoreEvent)
	})

	t.Run("undecodable body is rejected", func(t *testing.T) {
		_, err := g.ParseWebhook(ctx, []byte(`not json`), nil, nil)
		assert.ErrorIs(t, err, ErrProviderRejected)
	})
}

func TestPayPal_MapStatus(t *testing.T) {
	g := newTestPayPal()

	tests := []struct {
		native string
		want   domain.Status
	}{
		{"COMPLETED", domain.StatusSuccess},
		{"APPROVED", domain.StatusAuthorized},
		{"VOIDED", domain.StatusCancelled},
		{"CREATED", domain.StatusOpen},
		{"PAYER_ACTION_REQUIRED", domain.StatusOpen},
		{"SOMETHING_ELSE", domain.StatusOpen},
	}
	for _, tt := range tests {
		t.Run(tt.native, func(t *testing.T) {
			assert.Equal(t, tt.want, g.MapStatus(tt.native))
		})
	}
}

func TestPayPal_Ack(t *testing.T) {
	g := newTestPayPal()

	assert.Equal(t, 200, g.Ack(AckOK).StatusCode)
	assert.Equal(t, 503, g.Ack(AckRetry).StatusCode)
	assert.Equal(t, 400, g.Ack(AckReject).StatusCode)
}
