package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/payhub/server/internal/module/payment/domain"
	"github.com/payhub/server/internal/module/payment/gateway"
	"github.com/payhub/server/internal/module/payment/poll"
	"github.com/payhub/server/internal/module/payment/session"
	"github.com/payhub/server/internal/module/payment/signature"
	"github.com/payhub/server/internal/shared/events"
)

// EventPublisher publishes domain events raised by status transitions.
type EventPublisher interface {
	Publish(event events.Event)
}

const (
	// casRetries bounds the reload-and-reapply loop when two channels
	// race on the same payment row.
	casRetries = 3

	// returnStateTTL is how long a sealed redirect state stays valid.
	returnStateTTL = 2 * time.Hour
)

// StartPaymentRequest carries the merchant-side inputs for a new payment.
type StartPaymentRequest struct {
	Provider    string
	Amount      int64
	Currency    string
	Description string
	Reference   string
}

// StartPaymentResult is everything the checkout page needs: the created
// record, the render-ready hand-off and the poll credentials.
type StartPaymentResult struct {
	Payment       *domain.Payment
	Outbound      *gateway.Outbound
	PollToken     string
	PollExpiresAt time.Time
	ReturnState   string
}

// ServiceInterface defines the payment reconciliation service.
type ServiceInterface interface {
	StartPayment(ctx context.Context, req *StartPaymentRequest) (*StartPaymentResult, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	RenderOutbound(ctx context.Context, id uuid.UUID) (*gateway.Outbound, error)
	HandleReturn(ctx context.Context, id uuid.UUID, state string, params url.Values) (*domain.Payment, error)
	CheckStatus(ctx context.Context, id uuid.UUID, pollToken string) (*domain.Payment, error)
	HandleWebhook(ctx context.Context, provider string, body []byte, params url.Values, header http.Header) (gateway.Ack, error)
	Refund(ctx context.Context, id uuid.UUID, reason string) (*domain.Payment, error)
	HoldPayment(ctx context.Context, id uuid.UUID, reason string) (*domain.Payment, error)
	ResolveHold(ctx context.Context, id uuid.UUID, won bool, reason string) (*domain.Payment, error)
	Providers() []string
}

// Service reconciles payment status across the three observation
// channels (redirect return, webhook, polling). All of them converge on
// reconcile, which applies the monotonic status model under a
// per-record atomic guard.
type Service struct {
	repo     Repository
	registry *Registry
	sessions *session.Manager
	nonces   session.NonceStore
	state    *signature.Envelope
	bus      EventPublisher
	watcher  *poll.Poller
	logger   *zap.Logger
}

// NewService creates a new payment service.
func NewService(
	repo Repository,
	registry *Registry,
	sessions *session.Manager,
	nonces session.NonceStore,
	state *signature.Envelope,
	bus EventPublisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:     repo,
		registry: registry,
		sessions: sessions,
		nonces:   nonces,
		state:    state,
		bus:      bus,
		watcher:  poll.NewPoller(poll.DefaultConfig(), logger),
		logger:   logger,
	}
}

// Providers lists the configured provider keys.
func (s *Service) Providers() []string {
	return s.registry.List()
}

// StartPayment creates the payment record, opens a provider session and
// returns the checkout hand-off. If the provider rejects the session
// the payment stays open with the rejection in its note log.
func (s *Service) StartPayment(ctx context.Context, req *StartPaymentRequest) (*StartPaymentResult, error) {
	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("invalid amount %d", req.Amount)
	}

	p := domain.NewPayment(req.Provider, req.Amount, req.Currency)
	if req.Description != "" {
		p.SetMetadata("description", req.Description)
	}
	if req.Reference != "" {
		p.SetReference(req.Reference)
	}
	// The sealed state rides in the provider return URL, so it has to
	// exist before the session is created.
	returnState, err := s.issueReturnState(ctx, p.ID())
	if err != nil {
		return nil, err
	}
	p.SetMetadata("return-state", returnState)

	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	sess, err := adapter.Start(ctx, p)
	if err != nil {
		if errors.Is(err, gateway.ErrProviderRejected) {
			p.AppendNote(fmt.Sprintf("start rejected by %s: %v", req.Provider, err))
			if uerr := s.repo.UpdatePayment(ctx, p); uerr != nil {
				s.logger.Error("persist rejection note", zap.Error(uerr))
			}
		}
		return nil, err
	}

	if err := p.SetTransactionID(sess.TransactionID); err != nil {
		return nil, err
	}
	if sess.RedirectURL != "" {
		p.SetMetadata("approve-url", sess.RedirectURL)
	}
	if sess.ClientToken != "" {
		p.SetMetadata("client-secret", sess.ClientToken)
	}
	if sess.QRCode != "" {
		p.SetMetadata("qr-code", sess.QRCode)
	}

	if err := s.repo.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	outbound, err := adapter.RenderOutbound(p)
	if err != nil {
		return nil, err
	}
	pollToken, pollExpiry, err := s.sessions.IssuePollToken(p.ID())
	if err != nil {
		return nil, err
	}

	// QR checkouts have no return leg; watch them server-side so the
	// record converges even when the client never polls.
	if outbound.Kind == gateway.OutboundQR {
		go s.watchPayment(p.ID())
	}

	paymentsStarted.WithLabelValues(req.Provider).Inc()
	s.logger.Info("payment started",
		zap.String("payment_id", p.ID().String()),
		zap.String("provider", req.Provider),
		zap.String("transaction_id", p.TransactionID()),
		zap.Int64("amount", req.Amount))

	return &StartPaymentResult{
		Payment:       p,
		Outbound:      outbound,
		PollToken:     pollToken,
		PollExpiresAt: pollExpiry,
		ReturnState:   returnState,
	}, nil
}

// GetPayment loads a payment by id.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// RenderOutbound recomputes the checkout hand-off for an already
// started, still pending payment.
func (s *Service) RenderOutbound(ctx context.Context, id uuid.UUID) (*gateway.Outbound, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status().IsTerminal() {
		return nil, fmt.Errorf("%w: status %s", ErrPaymentNotOpen, p.Status())
	}
	adapter, err := s.registry.Get(p.Provider())
	if err != nil {
		return nil, err
	}
	return adapter.RenderOutbound(p)
}

// HandleReturn processes the shopper coming back from the provider.
// Return parameters are only believed when the adapter can verify a
// signed body; otherwise the status is re-queried over the
// authenticated channel.
func (s *Service) HandleReturn(ctx context.Context, id uuid.UUID, state string, params url.Values) (*domain.Payment, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status().IsTerminal() {
		return p, nil
	}

	if err := s.consumeReturnState(ctx, id, state); err != nil {
		// Replayed or missing state is logged but does not block:
		// nothing below trusts the return request itself.
		s.logger.Warn("return state rejected",
			zap.String("payment_id", id.String()),
			zap.Error(err))
	}

	adapter, err := s.registry.Get(p.Provider())
	if err != nil {
		return nil, err
	}

	result, err := adapter.ParseReturn(ctx, params)
	if errors.Is(err, gateway.ErrUnsignedReturn) {
		result, err = adapter.QueryStatus(ctx, p)
	}
	switch {
	case err == nil:
	case errors.Is(err, signature.ErrAuthenticity):
		authenticityFailures.WithLabelValues(p.Provider(), "return").Inc()
		s.logger.Error("return failed authenticity check",
			zap.String("payment_id", id.String()),
			zap.String("provider", p.Provider()),
			zap.Error(err))
		return p, err
	case errors.Is(err, gateway.ErrTransientNetwork):
		// Pending for now; the poller or a webhook settles it later.
		s.logger.Warn("return verification deferred",
			zap.String("payment_id", id.String()),
			zap.Error(err))
		return p, nil
	default:
		return p, err
	}

	if err := s.reconcile(ctx, p, result, "return"); err != nil {
		return p, err
	}
	return p, nil
}

// CheckStatus backs the browser poll loop. It requires the poll token
// minted at start so the endpoint cannot be used to probe foreign
// payments.
func (s *Service) CheckStatus(ctx context.Context, id uuid.UUID, pollToken string) (*domain.Payment, error) {
	if err := s.sessions.ValidatePollToken(pollToken, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPollSession, err)
	}

	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status().IsTerminal() {
		return p, nil
	}

	adapter, err := s.registry.Get(p.Provider())
	if err != nil {
		return nil, err
	}

	result, err := adapter.QueryStatus(ctx, p)
	if err != nil {
		if errors.Is(err, gateway.ErrTransientNetwork) {
			// Report the current state; the next tick retries.
			s.logger.Warn("status query deferred",
				zap.String("payment_id", id.String()),
				zap.Error(err))
			return p, nil
		}
		return p, err
	}

	if err := s.reconcile(ctx, p, result, "poll"); err != nil {
		return p, err
	}
	return p, nil
}

// watchPayment runs a server-side status watch until the payment
// settles or the watch deadline elapses. Anything left inconclusive
// falls through to the background sweep.
func (s *Service) watchPayment(id uuid.UUID) {
	err := s.watcher.Run(context.Background(), func(ctx context.Context) (bool, error) {
		p, err := s.repo.GetPayment(ctx, id)
		if err != nil {
			return false, err
		}
		if p.Status().IsTerminal() {
			return true, nil
		}
		adapter, err := s.registry.Get(p.Provider())
		if err != nil {
			return false, err
		}
		result, err := adapter.QueryStatus(ctx, p)
		if err != nil {
			if errors.Is(err, gateway.ErrTransientNetwork) {
				return false, nil
			}
			return false, err
		}
		if err := s.reconcile(ctx, p, result, "watch"); err != nil {
			return false, err
		}
		return p.Status().IsTerminal(), nil
	})
	if err != nil && !errors.Is(err, poll.ErrDeadline) {
		s.logger.Warn("payment watch ended",
			zap.String("payment_id", id.String()),
			zap.Error(err))
	}
}

// HandleWebhook runs the webhook dispatch pipeline: verify, resolve,
// dedupe, reconcile, acknowledge. The returned Ack is the literal
// response the provider expects, including its magic bodies.
func (s *Service) HandleWebhook(ctx context.Context, provider string, body []byte, params url.Values, header http.Header) (gateway.Ack, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return gateway.Ack{StatusCode: http.StatusNotFound, ContentType: "text/plain", Body: "unknown provider"}, err
	}

	result, err := adapter.ParseWebhook(ctx, body, params, header)
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrIgnoreEvent):
		webhookOutcomes.WithLabelValues(provider, "ignored").Inc()
		return adapter.Ack(gateway.AckOK), nil
	case errors.Is(err, signature.ErrAuthenticity):
		authenticityFailures.WithLabelValues(provider, "webhook").Inc()
		webhookOutcomes.WithLabelValues(provider, "rejected").Inc()
		s.logger.Error("webhook failed authenticity check",
			zap.String("provider", provider),
			zap.Error(err))
		return adapter.Ack(gateway.AckReject), err
	default:
		webhookOutcomes.WithLabelValues(provider, "error").Inc()
		return adapter.Ack(gateway.AckRetry), err
	}

	p, err := s.repo.GetPaymentByTransactionID(ctx, result.TransactionID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			// Perhaps delivered before our own start transaction
			// committed. Nothing is stored; the provider redelivers.
			webhookOutcomes.WithLabelValues(provider, "unresolved").Inc()
			s.logger.Warn("webhook for unknown transaction",
				zap.String("provider", provider),
				zap.String("transaction_id", result.TransactionID))
			return adapter.Ack(gateway.AckRetry), fmt.Errorf("%w: %s", ErrWebhookUnresolved, result.TransactionID)
		}
		return adapter.Ack(gateway.AckRetry), err
	}

	eventID := result.EventID
	if eventID == "" {
		eventID = result.TransactionID + ":" + result.Native
	}
	seen, err := s.repo.WebhookEventExists(ctx, provider, eventID)
	if err != nil {
		return adapter.Ack(gateway.AckRetry), err
	}
	if seen {
		webhookOutcomes.WithLabelValues(provider, "duplicate").Inc()
		return adapter.Ack(gateway.AckOK), nil
	}

	event := domain.NewWebhookEvent(provider, eventID, result.TransactionID, result.Raw)
	if err := s.repo.CreateWebhookEvent(ctx, event); err != nil {
		return adapter.Ack(gateway.AckRetry), err
	}

	// An empty canonical status marks the result as an untrusted hint:
	// the adapter could identify the transaction but not vouch for the
	// payload. Re-query before believing anything.
	if result.Status == "" {
		result, err = adapter.QueryStatus(ctx, p)
		if err != nil {
			_ = s.repo.MarkWebhookEventProcessed(ctx, provider, eventID, err)
			webhookOutcomes.WithLabelValues(provider, "error").Inc()
			return adapter.Ack(gateway.AckRetry), err
		}
	}

	processErr := s.reconcile(ctx, p, result, "webhook")
	if err := s.repo.MarkWebhookEventProcessed(ctx, provider, eventID, processErr); err != nil {
		s.logger.Error("mark webhook event processed", zap.Error(err))
	}
	if processErr != nil {
		webhookOutcomes.WithLabelValues(provider, "error").Inc()
		return adapter.Ack(gateway.AckRetry), processErr
	}

	webhookOutcomes.WithLabelValues(provider, "processed").Inc()
	return adapter.Ack(gateway.AckOK), nil
}

// Refund records a refund of a paid payment.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, reason string) (*domain.Payment, error) {
	return s.mutate(ctx, id, func(p *domain.Payment) error {
		return p.MarkRefunded(fmt.Sprintf("refunded: %s", reason))
	})
}

// HoldPayment parks a paid payment while a chargeback or dispute is
// investigated.
func (s *Service) HoldPayment(ctx context.Context, id uuid.UUID, reason string) (*domain.Payment, error) {
	return s.mutate(ctx, id, func(p *domain.Payment) error {
		return p.Hold(fmt.Sprintf("on hold: %s", reason))
	})
}

// ResolveHold settles a held payment back to success or to failure.
func (s *Service) ResolveHold(ctx context.Context, id uuid.UUID, won bool, reason string) (*domain.Payment, error) {
	return s.mutate(ctx, id, func(p *domain.Payment) error {
		return p.ResolveHold(won, fmt.Sprintf("hold resolved: %s", reason))
	})
}

// reconcile applies a verified provider observation to the payment.
// Safe to call from any channel, any number of times: terminal payments
// are never touched, stale observations do not downgrade, and the
// guarded update retries against concurrent writers.
func (s *Service) reconcile(ctx context.Context, p *domain.Payment, result *gateway.Result, channel string) error {
	note := fmt.Sprintf("%s: provider reported %q", channel, result.Native)
	if result.Message != "" {
		note += ": " + result.Message
	}

	if result.Amount > 0 && result.Amount != p.Amount() {
		s.logger.Warn("provider amount differs from recorded amount",
			zap.String("payment_id", p.ID().String()),
			zap.Int64("recorded", p.Amount()),
			zap.Int64("reported", result.Amount))
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		if p.Status().IsTerminal() {
			return nil
		}

		from := p.Status()
		rawBefore := p.RawStatus()
		changed := p.ApplyStatus(result.Status, result.Native, note)
		if !changed && p.RawStatus() == rawBefore {
			return nil
		}

		ok, err := s.repo.UpdatePaymentGuarded(ctx, p, from)
		if err != nil {
			return err
		}
		if ok {
			if changed {
				statusTransitions.WithLabelValues(p.Provider(), channel, string(p.Status())).Inc()
				s.logger.Info("payment status updated",
					zap.String("payment_id", p.ID().String()),
					zap.String("channel", channel),
					zap.String("from", string(from)),
					zap.String("to", string(p.Status())),
					zap.String("native", result.Native))
				s.publishTransition(p, from, channel, result.Native, result.Message)
			}
			return nil
		}

		// Lost the race. Reload and re-apply on top of the winner.
		fresh, err := s.repo.GetPayment(ctx, p.ID())
		if err != nil {
			return err
		}
		*p = *fresh
	}

	return fmt.Errorf("status update contention on payment %s", p.ID())
}

// mutate runs a merchant-side transition under the same guarded update
// as the provider channels.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(*domain.Payment) error) (*domain.Payment, error) {
	var p *domain.Payment
	for attempt := 0; attempt < casRetries; attempt++ {
		var err error
		p, err = s.repo.GetPayment(ctx, id)
		if err != nil {
			return nil, err
		}
		from := p.Status()
		if err := fn(p); err != nil {
			return nil, err
		}
		ok, err := s.repo.UpdatePaymentGuarded(ctx, p, from)
		if err != nil {
			return nil, err
		}
		if ok {
			statusTransitions.WithLabelValues(p.Provider(), "merchant", string(p.Status())).Inc()
			s.publishTransition(p, from, "merchant", "", "")
			return p, nil
		}
	}
	return nil, fmt.Errorf("status update contention on payment %s", id)
}

func (s *Service) issueReturnState(ctx context.Context, id uuid.UUID) (string, error) {
	nonce := uuid.New().String()
	if err := s.nonces.Put(ctx, nonce, returnStateTTL); err != nil {
		return "", fmt.Errorf("store return nonce: %w", err)
	}
	return s.state.Seal(url.Values{
		"payment_id": {id.String()},
		"nonce":      {nonce},
	})
}

func (s *Service) consumeReturnState(ctx context.Context, id uuid.UUID, state string) error {
	if state == "" {
		return errors.New("missing return state")
	}
	fields, err := s.state.Open(state)
	if err != nil {
		return err
	}
	if fields.Get("payment_id") != id.String() {
		return errors.New("return state bound to another payment")
	}
	ok, err := s.nonces.Consume(ctx, fields.Get("nonce"))
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("return state already used or expired")
	}
	return nil
}

// publishTransition raises the domain events for an applied transition.
func (s *Service) publishTransition(p *domain.Payment, from domain.Status, channel, native, message string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewPaymentStatusChangedEvent(
		p.ID(), p.Provider(), string(from), string(p.Status()), channel, native))
	switch p.Status() {
	case domain.StatusSuccess:
		s.bus.Publish(events.NewPaymentSucceededEvent(
			p.ID(), p.Provider(), p.Amount(), p.Currency(), p.Reference()))
	case domain.StatusFailure:
		s.bus.Publish(events.NewPaymentFailedEvent(
			p.ID(), p.Provider(), native, message))
	}
}
