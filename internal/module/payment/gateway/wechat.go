package gateway

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/wechat/v3"

	"github.com/payhub/server/internal/module/payment/domain"
	"github.com/payhub/server/internal/module/payment/signature"
)

// WechatConfig holds the WeChat Pay v3 merchant credentials.
type WechatConfig struct {
	AppID           string
	MchID           string
	APIKeyV3        string
	SerialNo        string
	PrivateKey      string // merchant private key, PEM
	PlatformSerial  string
	PlatformCert    string // platform public key, PEM
	IsProd          bool
	WebhookURL      string
	CollectExpiry   time.Duration
}

// Wechat implements the QR collect variant: Start creates a native
// transaction and hands the QR code content to the checkout page. There
// is no reliable user return; the payment converges through the polling
// reconciler and the signed notify.
type Wechat struct {
	cfg    *WechatConfig
	client *wechat.ClientV3
}

// NewWechat creates the adapter and its gopay client.
func NewWechat(cfg *WechatConfig) (*Wechat, error) {
	if cfg.MchID == "" || cfg.APIKeyV3 == "" || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%w: wechat merchant credentials missing", ErrConfiguration)
	}
	client, err := wechat.NewClientV3(cfg.MchID, cfg.SerialNo, cfg.APIKeyV3, cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: create wechat client: %v", ErrConfiguration, err)
	}
	if cfg.IsProd && cfg.PlatformCert != "" {
		client.SetPlatformCert([]byte(cfg.PlatformCert), cfg.PlatformSerial)
	}
	return &Wechat{cfg: cfg, client: client}, nil
}

func (g *Wechat) Name() string { return "wechat" }

// Start creates the native (QR) transaction. The merchant out_trade_no
// doubles as our transaction id; the provider's own transaction_id is
// kept in metadata once a callback delivers it.
func (g *Wechat) Start(ctx context.Context, p *domain.Payment) (*Session, error) {
	expiry := g.cfg.CollectExpiry
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	outTradeNo := "WX" + strings.ReplaceAll(p.ID().String(), "-", "")
	expireAt := time.Now().Add(expiry)

	bm := make(gopay.BodyMap)
	bm.Set("appid", g.cfg.AppID)
	bm.Set("mchid", g.cfg.MchID)
	bm.Set("description", "payhub order")
	bm.Set("out_trade_no", outTradeNo)
	bm.Set("time_expire", expireAt.Format(time.RFC3339))
	bm.Set("notify_url", g.cfg.WebhookURL)
	bm.SetBodyMap("amount", func(am gopay.BodyMap) {
		am.Set("total", p.Amount())
		am.Set("currency", "CNY")
	})

	resp, err := g.client.V3TransactionNative(ctx, bm)
	if err != nil {
		return nil, classifyNetworkErr(err)
	}
	if resp.Code != wechat.Success {
		return nil, fmt.Errorf("%w: wechat %d: %s", ErrProviderRejected, resp.Code, resp.Error)
	}

	return &Session{
		TransactionID: outTradeNo,
		QRCode:        resp.Response.CodeUrl,
		ExpiresAt:     expireAt.Unix(),
	}, nil
}

// RenderOutbound re-emits the QR content for the checkout page.
func (g *Wechat) RenderOutbound(p *domain.Payment) (*Outbound, error) {
	code := p.Metadata()["qr-code"]
	if code == "" {
		return nil, fmt.Errorf("%w: payment not started", ErrProviderRejected)
	}
	return &Outbound{Kind: OutboundQR, QRCode: code}, nil
}

// ParseReturn: a QR collect flow has no synchronous return at all.
func (g *Wechat) ParseReturn(ctx context.Context, params url.Values) (*Result, error) {
	return nil, ErrUnsignedReturn
}

// ParseWebhook verifies the platform signature, decrypts the resource
// and maps the trade state. Nothing is read before verification.
func (g *Wechat) ParseWebhook(ctx context.Context, body []byte, params url.Values, header http.Header) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, h := range []string{"Wechatpay-Timestamp", "Wechatpay-Nonce", "Wechatpay-Signature", "Wechatpay-Serial"} {
		req.Header.Set(h, header.Get(h))
	}

	notify, err := wechat.V3ParseNotify(req)
	if err != nil {
		return nil, fmt.Errorf("%w: parse notify: %v", signature.ErrAuthenticity, err)
	}

	platformKey, err := parseRSAPublicKey(g.cfg.PlatformCert)
	if err != nil {
		return nil, fmt.Errorf("%w: platform cert: %v", ErrConfiguration, err)
	}
	if err := notify.VerifySignByPK(platformKey); err != nil {
		return nil, fmt.Errorf("%w: %v", signature.ErrAuthenticity, err)
	}

	resource, err := notify.DecryptPayCipherText(g.cfg.APIKeyV3)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt resource: %v", signature.ErrAuthenticity, err)
	}

	raw, _ := json.Marshal(resource)
	var amount int64
	if resource.Amount != nil {
		amount = int64(resource.Amount.Total)
	}

	return &Result{
		TransactionID: resource.OutTradeNo,
		EventID:       notify.Id,
		Native:        resource.TradeState,
		Status:        g.MapStatus(resource.TradeState),
		Amount:        amount,
		Message:       resource.TradeStateDesc,
		Raw:           string(raw),
	}, nil
}

// QueryStatus asks for the order by merchant out_trade_no; this backs
// both the poll endpoint and webhook-less reconciliation.
func (g *Wechat) QueryStatus(ctx context.Context, p *domain.Payment) (*Result, error) {
	resp, err := g.client.V3TransactionQueryOrder(ctx, wechat.OutTradeNo, p.TransactionID())
	if err != nil {
		return nil, classifyNetworkErr(err)
	}
	if resp.Code != wechat.Success {
		return nil, fmt.Errorf("%w: wechat query %d: %s", ErrProviderRejected, resp.Code, resp.Error)
	}

	var amount int64
	if resp.Response.Amount != nil {
		amount = int64(resp.Response.Amount.Total)
	}
	raw, _ := json.Marshal(resp.Response)

	return &Result{
		TransactionID: resp.Response.OutTradeNo,
		Native:        resp.Response.TradeState,
		Status:        g.MapStatus(resp.Response.TradeState),
		Amount:        amount,
		Message:       resp.Response.TradeStateDesc,
		Raw:           string(raw),
	}, nil
}

// MapStatus normalizes the v3 trade states; unknown stays open.
func (g *Wechat) MapStatus(native string) domain.Status {
	switch native {
	case "SUCCESS":
		return domain.StatusSuccess
	case "CLOSED", "REVOKED":
		return domain.StatusCancelled
	case "PAYERROR":
		return domain.StatusFailure
	case "REFUND":
		return domain.StatusRefunded
	case "NOTPAY", "USERPAYING", "ACCEPT":
		return domain.StatusOpen
	default:
		return domain.StatusOpen
	}
}

// Ack follows the documented JSON acknowledgement contract.
func (g *Wechat) Ack(kind AckKind) Ack {
	switch kind {
	case AckOK:
		return Ack{StatusCode: http.StatusOK, ContentType: "application/json", Body: `{"code":"SUCCESS","message":"OK"}`}
	case AckRetry:
		return Ack{StatusCode: http.StatusInternalServerError, ContentType: "application/json", Body: `{"code":"FAIL","message":"retry later"}`}
	default:
		return Ack{StatusCode: http.StatusBadRequest, ContentType: "application/json", Body: `{"code":"FAIL","message":"invalid notification"}`}
	}
}

// parseRSAPublicKey accepts either a PKIX public key or a certificate.
func parseRSAPublicKey(pemKey string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		rsaKey, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate key is not RSA")
		}
		return rsaKey, nil
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaKey, nil
}
