package gateway

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/payhub/server/internal/module/payment/domain"
)

// mapStatus is tested on the zero adapter: the mapping is pure and the
// gopay client is only needed for provider calls.
func testWechat() *Wechat {
	return &Wechat{cfg: &WechatConfig{}}
}

func TestWechat_MapStatus(t *testing.T) {
	g := testWechat()

	tests := []struct {
		native string
		want   domain.Status
	}{
		{"SUCCESS", domain.StatusSuccess},
		{"CLOSED", domain.StatusCancelled},
		{"REVOKED", domain.StatusCancelled},
		{"PAYERROR", domain.StatusFailure},
		{"REFUND", domain.StatusRefunded},
		{"NOTPAY", domain.StatusOpen},
		{"USERPAYING", domain.StatusOpen},
		{"NEVER_SEEN_BEFORE", domain.StatusOpen},
	}
	for _, tt := range tests {
		t.Run(tt.native, func(t *testing.T) {
			assert.Equal(t, tt.want, g.MapStatus(tt.native))
		})
	}
}

func TestWechat_ParseReturn(t *testing.T) {
	g := testWechat()
	// QR collect has no user return leg at all.
	_, err := g.ParseReturn(context.Background(), url.Values{})
	assert.ErrorIs(t, err, ErrUnsignedReturn)
}

func TestWechat_Ack(t *testing.T) {
	g := testWechat()

	ok := g.Ack(AckOK)
	assert.Equal(t, http.StatusOK, ok.StatusCode)
	assert.JSONEq(t, `{"code":"SUCCESS","message":"OK"}`, ok.Body)

	retry := g.Ack(AckRetry)
	assert.Equal(t, http.StatusInternalServerError, retry.StatusCode)
	assert.Contains(t, retry.Body, "FAIL")
}

func TestNewWechat_RequiresCredentials(t *testing.T) {
	_, err := NewWechat(&WechatConfig{})
	assert.ErrorIs(t, err, ErrConfiguration)
}
