// Package gateway defines the adapter contract every payment service
// provider integration implements, plus the closed set of concrete
// adapters. The transport style differs per provider (auto-submit form,
// hosted-page redirect, embedded widget, QR collect) but all of them
// converge on the same canonical status model.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/payhub/server/internal/module/payment/domain"
)

// Adapter errors. Handlers map these onto the HTTP surface; the
// reconciliation service uses them to decide whether a payment record
// may be touched at all.
var (
	// ErrConfiguration means required credentials are missing or invalid.
	// Fatal for the merchant, the payment is never started.
	ErrConfiguration = errors.New("gateway configuration error")

	// ErrProviderRejected means the provider returned an error payload
	// for a session-creation call. The message is surfaced to the note
	// log and the payment stays open.
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrTransientNetwork wraps timeouts and connection failures.
	// Recoverable: no status change, a later poll or webhook redelivery
	// will retry.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrUnsignedReturn means the synchronous return carried no signed
	// body. The caller must fall back to an authenticated out-of-band
	// status query instead of trusting anything in the request.
	ErrUnsignedReturn = errors.New("return carries no signed body")

	// ErrIgnoreEvent means the webhook is authentic but irrelevant to
	// payment reconciliation. Acknowledged OK, nothing is touched.
	ErrIgnoreEvent = errors.New("webhook event not relevant")
)

// OutboundKind describes how the browser reaches the provider.
type OutboundKind string

const (
	OutboundForm     OutboundKind = "form"     // same-tab auto-submit form POST
	OutboundRedirect OutboundKind = "redirect" // HTTP redirect to a hosted page
	OutboundWidget   OutboundKind = "widget"   // provider JS rendered inline
	OutboundQR       OutboundKind = "qr"       // QR / collect flow, client polls
)

// Session is what Start obtains from the provider.
type Session struct {
	TransactionID string
	RedirectURL   string
	FormURL       string
	FormFields    map[string]string
	ClientToken   string
	QRCode        string
	ExpiresAt     int64
}

// Outbound is the render-ready description of the checkout hand-off.
// Produced by RenderOutbound, which is a pure function of payment and
// configuration.
type Outbound struct {
	Kind        OutboundKind
	URL         string
	Fields      map[string]string
	ClientToken string
	QRCode      string
}

// Result is a provider-native status observation, from a callback body,
// a webhook or a status query. Raw keeps the provider's own vocabulary
// verbatim for the audit log.
type Result struct {
	TransactionID string
	EventID       string
	Native        string
	Status        domain.Status
	Amount        int64
	Message       string
	Raw           string
}

// AckKind tells the webhook dispatcher which acknowledgement contract
// to honor towards the provider.
type AckKind int

const (
	AckOK     AckKind = iota // processed (or already terminal): stop delivering
	AckRetry                 // could not resolve or store: redeliver later
	AckReject                // authenticity failure: do not retry forever
)

// Ack is the literal acknowledgement a provider expects. Some protocols
// want a magic string body rather than an HTTP status.
type Ack struct {
	StatusCode  int
	ContentType string
	Body        string
}

// Adapter is the uniform contract over one provider integration.
type Adapter interface {
	Name() string

	// Start creates a provider session for an open payment and
	// populates the transaction id on it.
	Start(ctx context.Context, p *domain.Payment) (*Session, error)

	// RenderOutbound recomputes the checkout hand-off for an already
	// started payment. Pure: no provider calls, no side effects.
	RenderOutbound(p *domain.Payment) (*Outbound, error)

	// QueryStatus asks the provider for the current payment status over
	// an authenticated server-to-server call.
	QueryStatus(ctx context.Context, p *domain.Payment) (*Result, error)

	// ParseReturn verifies and extracts a signed synchronous return.
	// Adapters whose return leg carries nothing trustworthy respond
	// with ErrUnsignedReturn.
	ParseReturn(ctx context.Context, params url.Values) (*Result, error)

	// ParseWebhook verifies authenticity of an asynchronous callback
	// before extracting anything from it.
	ParseWebhook(ctx context.Context, body []byte, params url.Values, header http.Header) (*Result, error)

	// MapStatus normalizes one provider-native status value. Unknown
	// values map to open, never to success.
	MapStatus(native string) domain.Status

	// Ack returns the provider's documented acknowledgement for the
	// given outcome.
	Ack(kind AckKind) Ack
}

// expandReturnURL fills a return URL template with the payment id and
// the sealed return state stored on the payment at start. Templates use
// {payment_id} and {state} placeholders.
func expandReturnURL(template string, p *domain.Payment) string {
	s := strings.ReplaceAll(template, "{payment_id}", p.ID().String())
	return strings.ReplaceAll(s, "{state}", url.QueryEscape(p.Metadata()["return-state"]))
}
