package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/payhub/server/internal/module/payment/domain"
	"github.com/payhub/server/internal/module/payment/signature"
	"github.com/payhub/server/internal/shared/httpclient"
)

// PayUConfig holds the merchant credentials for the form-post flow.
type PayUConfig struct {
	MerchantKey string
	Salt        string
	BaseURL     string // payment page host, e.g. https://secure.payu.in
	ReturnURL   string // browser lands here after the provider page
	WebhookURL  string
}

// PayU implements the HTML auto-submit-form variant: Start only computes
// the signed field set, the provider page is reached by a same-tab form
// POST from the browser. The signed return POST is verified with a
// reverse field hash; when no signed body is present the caller falls
// back to the authenticated verify_payment query.
type PayU struct {
	cfg     *PayUConfig
	forward *signature.FieldSigner
	reverse *signature.FieldSigner
	client  *httpclient.Client
	logger  *zap.Logger
}

// NewPayU creates the adapter. Missing credentials are a configuration
// error surfaced on first use, not at construction (the registry builds
// every configured adapter up front).
func NewPayU(cfg *PayUConfig, client *httpclient.Client, logger *zap.Logger) *PayU {
	return &PayU{
		cfg: cfg,
		forward: signature.NewFieldSigner(cfg.Salt,
			"key", "txnid", "amount", "currency", "productinfo", "udf1", "udf2", "udf3"),
		reverse: signature.NewFieldSigner(cfg.Salt,
			"key", "txnid", "amount", "currency", "status", "mihpayid"),
		client: client,
		logger: logger,
	}
}

func (g *PayU) Name() string { return "payu" }

// Start assigns the merchant transaction id and computes the signed form
// fields. No provider call happens here.
func (g *PayU) Start(ctx context.Context, p *domain.Payment) (*Session, error) {
	if g.cfg.MerchantKey == "" || g.cfg.Salt == "" {
		return nil, fmt.Errorf("%w: payu merchant key or salt missing", ErrConfiguration)
	}

	txnID := "PU" + strings.ReplaceAll(p.ID().String(), "-", "")[:22]
	fields := g.formFields(txnID, p)
	fields["hash"] = g.forward.Sign(fields)

	return &Session{
		TransactionID: txnID,
		FormURL:       g.cfg.BaseURL + "/_payment",
		FormFields:    fields,
	}, nil
}

// RenderOutbound recomputes the auto-submit form for an already started
// payment. Pure function of payment and config.
func (g *PayU) RenderOutbound(p *domain.Payment) (*Outbound, error) {
	if p.TransactionID() == "" {
		return nil, fmt.Errorf("%w: payment not started", ErrProviderRejected)
	}
	fields := g.formFields(p.TransactionID(), p)
	fields["hash"] = g.forward.Sign(fields)

	return &Outbound{
		Kind:   OutboundForm,
		URL:    g.cfg.BaseURL + "/_payment",
		Fields: fields,
	}, nil
}

func (g *PayU) formFields(txnID string, p *domain.Payment) map[string]string {
	returnURL := expandReturnURL(g.cfg.ReturnURL, p)
	return map[string]string{
		"key":         g.cfg.MerchantKey,
		"txnid":       txnID,
		"amount":      formatAmount(p.Amount()),
		"currency":    p.Currency(),
		"productinfo": "payhub order",
		"surl":        returnURL,
		"furl":        returnURL,
		"udf1":        "",
		"udf2":        "",
		"udf3":        "",
	}
}

// ParseReturn verifies the signed return POST. Some deployments deliver
// the signed callback only via the server-to-server webhook, so a return
// without a hash is not an attack: the caller gets ErrUnsignedReturn and
// queries out of band instead.
func (g *PayU) ParseReturn(ctx context.Context, params url.Values) (*Result, error) {
	if params.Get("hash") == "" {
		return nil, ErrUnsignedReturn
	}
	return g.verifyCallback(params)
}

// ParseWebhook verifies the signed server-to-server POST body.
func (g *PayU) ParseWebhook(ctx context.Context, body []byte, params url.Values, header http.Header) (*Result, error) {
	if len(params) == 0 {
		parsed, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, signature.ErrAuthenticity
		}
		params = parsed
	}
	if params.Get("hash") == "" {
		return nil, signature.ErrAuthenticity
	}
	return g.verifyCallback(params)
}

func (g *PayU) verifyCallback(params url.Values) (*Result, error) {
	fields := map[string]string{
		"key":      params.Get("key"),
		"txnid":    params.Get("txnid"),
		"amount":   params.Get("amount"),
		"currency": params.Get("currency"),
		"status":   params.Get("status"),
		"mihpayid": params.Get("mihpayid"),
	}
	if !g.reverse.Verify(fields, params.Get("hash")) {
		return nil, signature.ErrAuthenticity
	}

	native := params.Get("status")
	return &Result{
		TransactionID: params.Get("txnid"),
		EventID:       params.Get("mihpayid") + ":" + native,
		Native:        native,
		Status:        g.MapStatus(native),
		Message:       params.Get("error_Message"),
		Raw:           params.Encode(),
	}, nil
}

// QueryStatus performs the authenticated verify_payment call.
func (g *PayU) QueryStatus(ctx context.Context, p *domain.Payment) (*Result, error) {
	form := url.Values{
		"key":     {g.cfg.MerchantKey},
		"command": {"verify_payment"},
		"var1":    {p.TransactionID()},
	}
	form.Set("hash", g.forward.Sign(map[string]string{
		"key":   g.cfg.MerchantKey,
		"txnid": p.TransactionID(),
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.BaseURL+"/merchant/postservice?form=2", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, classifyNetworkErr(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyNetworkErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: verify_payment returned %d", ErrProviderRejected, resp.StatusCode)
	}

	var payload struct {
		Status             int `json:"status"`
		TransactionDetails map[string]struct {
			Status   string `json:"status"`
			MihpayID string `json:"mihpayid"`
			Message  string `json:"error_Message"`
		} `json:"transaction_details"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode verify_payment: %w", err)
	}
	detail, ok := payload.TransactionDetails[p.TransactionID()]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s unknown to provider", ErrProviderRejected, p.TransactionID())
	}

	return &Result{
		TransactionID: p.TransactionID(),
		Native:        detail.Status,
		Status:        g.MapStatus(detail.Status),
		Message:       detail.Message,
		Raw:           string(raw),
	}, nil
}

// MapStatus normalizes the provider vocabulary. Unrecognized values stay
// open; an unknown status must never be treated as paid.
func (g *PayU) MapStatus(native string) domain.Status {
	switch strings.ToLower(native) {
	case "success", "captured":
		return domain.StatusSuccess
	case "auth", "authorized":
		return domain.StatusAuthorized
	case "failure", "failed", "bounced":
		return domain.StatusFailure
	case "usercancelled", "cancelled":
		return domain.StatusCancelled
	case "dropped", "expired":
		return domain.StatusExpired
	case "refunded":
		return domain.StatusRefunded
	case "pending", "in progress", "initiated":
		return domain.StatusOpen
	default:
		return domain.StatusOpen
	}
}

// Ack follows the provider's plain-text acknowledgement contract.
func (g *PayU) Ack(kind AckKind) Ack {
	switch kind {
	case AckOK:
		return Ack{StatusCode: http.StatusOK, ContentType: "text/plain", Body: "ok"}
	case AckRetry:
		return Ack{StatusCode: http.StatusServiceUnavailable, ContentType: "text/plain", Body: "retry"}
	default:
		return Ack{StatusCode: http.StatusBadRequest, ContentType: "text/plain", Body: "invalid"}
	}
}

// formatAmount renders minor units as the decimal string the form
// protocol expects ("10.00", never "10").
func formatAmount(minor int64) string {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// classifyNetworkErr folds timeouts, connection failures and an open
// circuit breaker into the recoverable transient taxonomy. The payment
// stays untouched and a later poll or redelivery retries.
func classifyNetworkErr(err error) error {
	return fmt.Errorf("%w: %v", ErrTransientNetwork, err)
}
