package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/payhub/server/internal/module/payment/credential"
	"github.com/payhub/server/internal/module/payment/domain"
	"github.com/payhub/server/internal/shared/httpclient"
)

// PayPalConfig holds the REST API credentials.
type PayPalConfig struct {
	ClientID  string
	Secret    string
	BaseURL   string // e.g. https://api-m.paypal.com
	ReturnURL string
	CancelURL string
}

// PayPal implements the redirect-to-hosted-page variant: Start creates
// an order and sends the browser to the approval URL. The return URL
// carries no trustworthy status, so every return and webhook triggers a
// fresh server-to-server order query through the bearer credential.
type PayPal struct {
	cfg    *PayPalConfig
	creds  *credential.Manager
	client *httpclient.Client
	logger *zap.Logger
}

// NewPayPal creates the adapter around a credential manager.
func NewPayPal(cfg *PayPalConfig, creds *credential.Manager, client *httpclient.Client, logger *zap.Logger) *PayPal {
	return &PayPal{cfg: cfg, creds: creds, client: client, logger: logger}
}

func (g *PayPal) Name() string { return "paypal" }

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	PurchaseUnits []struct {
		Amount struct {
			Value string `json:"value"`
		} `json:"amount"`
	} `json:"purchase_units"`
}

// Start calls the order-create endpoint and returns the hosted-page URL.
func (g *PayPal) Start(ctx context.Context, p *domain.Payment) (*Session, error) {
	if g.cfg.ClientID == "" || g.cfg.Secret == "" {
		return nil, fmt.Errorf("%w: paypal client credentials missing", ErrConfiguration)
	}

	body, err := json.Marshal(map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": p.ID().String(),
			"amount": map[string]string{
				"currency_code": p.Currency(),
				"value":         formatAmount(p.Amount()),
			},
		}},
		"application_context": map[string]string{
			"return_url": expandReturnURL(g.cfg.ReturnURL, p),
			"cancel_url": expandReturnURL(g.cfg.CancelURL, p),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	order, raw, err := g.call(ctx, http.MethodPost, "/v2/checkout/orders", body)
	if err != nil {
		return nil, err
	}

	approveURL := ""
	for _, l := range order.Links {
		if l.Rel == "approve" {
			approveURL = l.Href
		}
	}
	if order.ID == "" || approveURL == "" {
		return nil, fmt.Errorf("%w: order create response incomplete: %s", ErrProviderRejected, raw)
	}

	return &Session{
		TransactionID: order.ID,
		RedirectURL:   approveURL,
	}, nil
}

// RenderOutbound re-emits the hosted-page redirect from stored metadata.
func (g *PayPal) RenderOutbound(p *domain.Payment) (*Outbound, error) {
	link := p.Metadata()["approve-url"]
	if link == "" {
		return nil, fmt.Errorf("%w: payment not started", ErrProviderRejected)
	}
	return &Outbound{Kind: OutboundRedirect, URL: link}, nil
}

// ParseReturn never trusts the redirect: the caller falls through to
// QueryStatus.
func (g *PayPal) ParseReturn(ctx context.Context, params url.Values) (*Result, error) {
	return nil, ErrUnsignedReturn
}

// ParseWebhook treats the body as an untrusted hint. It extracts only
// the order id; an empty Status tells the dispatcher to re-query over
// the authenticated channel before believing anything.
func (g *PayPal) ParseWebhook(ctx context.Context, body []byte, params url.Values, header http.Header) (*Result, error) {
	var event struct {
		ID       string `json:"id"`
		Resource struct {
			ID string `json:"id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: undecodable webhook body", ErrProviderRejected)
	}
	if event.Resource.ID == "" {
		return nil, fmt.Errorf("%w: webhook carries no resource id", ErrIgnoreEvent)
	}
	return &Result{
		TransactionID: event.Resource.ID,
		EventID:       event.ID,
		Raw:           string(body),
	}, nil
}

// QueryStatus fetches the order and, when the payer has approved it,
// captures it so the funds actually move.
func (g *PayPal) QueryStatus(ctx context.Context, p *domain.Payment) (*Result, error) {
	order, raw, err := g.call(ctx, http.MethodGet, "/v2/checkout/orders/"+p.TransactionID(), nil)
	if err != nil {
		return nil, err
	}

	if order.Status == "APPROVED" {
		captured, capturedRaw, err := g.call(ctx, http.MethodPost,
			"/v2/checkout/orders/"+p.TransactionID()+"/capture", []byte("{}"))
		if err != nil {
			g.logger.Warn("paypal capture failed, reporting approved order as authorized",
				zap.String("order_id", p.TransactionID()), zap.Error(err),
			)
		} else {
			order, raw = captured, capturedRaw
		}
	}

	return &Result{
		TransactionID: order.ID,
		Native:        order.Status,
		Status:        g.MapStatus(order.Status),
		Raw:           raw,
	}, nil
}

// MapStatus normalizes the checkout-order vocabulary; unknown stays open.
func (g *PayPal) MapStatus(native string) domain.Status {
	switch native {
	case "COMPLETED":
		return domain.StatusSuccess
	case "APPROVED":
		return domain.StatusAuthorized
	case "VOIDED":
		return domain.StatusCancelled
	case "CREATED", "SAVED", "PAYER_ACTION_REQUIRED":
		return domain.StatusOpen
	default:
		return domain.StatusOpen
	}
}

// Ack uses plain HTTP statuses; the provider retries on anything non-2xx.
func (g *PayPal) Ack(kind AckKind) Ack {
	switch kind {
	case AckOK:
		return Ack{StatusCode: http.StatusOK, ContentType: "application/json", Body: `{"status":"ok"}`}
	case AckRetry:
		return Ack{StatusCode: http.StatusServiceUnavailable, ContentType: "application/json", Body: `{"status":"retry"}`}
	default:
		return Ack{StatusCode: http.StatusBadRequest, ContentType: "application/json", Body: `{"status":"rejected"}`}
	}
}

// call issues one bearer-signed API request with the single
// refresh-then-retry semantics of the credential manager.
func (g *PayPal) call(ctx context.Context, method, path string, body []byte) (*paypalOrder, string, error) {
	resp, err := g.creds.Do(ctx, g.client, func(token string) (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		if errors.Is(err, credential.ErrAuthRejected) {
			return nil, "", fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return nil, "", classifyNetworkErr(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", classifyNetworkErr(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("%w: %s: %s", ErrProviderRejected, resp.Status, raw)
	}

	var order paypalOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, "", fmt.Errorf("decode order: %w", err)
	}
	return &order, string(raw), nil
}
