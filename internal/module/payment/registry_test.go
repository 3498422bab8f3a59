package payment

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payhub/server/internal/module/payment/domain"
	"github.com/payhub/server/internal/module/payment/gateway"
)

// stubAdapter is the minimal Adapter used by registry tests.
type stubAdapter struct {
	name string
}

func (a *stubAdapter) Name() string { return a.name }
func (a *stubAdapter) Start(_ context.Context, _ *domain.Payment) (*gateway.Session, error) {
	return nil, nil
}
func (a *stubAdapter) RenderOutbound(_ *domain.Payment) (*gateway.Outbound, error) {
	return nil, nil
}
func (a *stubAdapter) QueryStatus(_ context.Context, _ *domain.Payment) (*gateway.Result, error) {
	return nil, nil
}
func (a *stubAdapter) ParseReturn(_ context.Context, _ url.Values) (*gateway.Result, error) {
	return nil, nil
}
func (a *stubAdapter) ParseWebhook(_ context.Context, _ []byte, _ url.Values, _ http.Header) (*gateway.Result, error) {
	return nil, nil
}
func (a *stubAdapter) MapStatus(_ string) domain.Status { return domain.StatusOpen }
func (a *stubAdapter) Ack(_ gateway.AckKind) gateway.Ack {
	return gateway.Ack{StatusCode: http.StatusOK}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{name: "payu"})
	r.Register(&stubAdapter{name: "stripe"})

	t.Run("get registered", func(t *testing.T) {
		a, err := r.Get("payu")
		require.NoError(t, err)
		assert.Equal(t, "payu", a.Name())
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := r.Get("adyen")
		assert.ErrorIs(t, err, ErrProviderNotFound)
	})

	t.Run("list", func(t *testing.T) {
		assert.ElementsMatch(t, []string{"payu", "stripe"}, r.List())
	})

	t.Run("re-register replaces", func(t *testing.T) {
		replacement := &stubAdapter{name: "payu"}
		r.Register(replacement)

		a, err := r.Get("payu")
		require.NoError(t, err)
		assert.Same(t, replacement, a.(*stubAdapter))
	})
}
