// Package credential manages OAuth credentials for providers whose APIs
// are bearer-token signed. One Manager per provider configuration.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/payhub/server/internal/module/payment/signature"
	"github.com/payhub/server/internal/shared/httpclient"
)

// ErrAuthRejected is returned when a call still fails authentication
// after the single post-refresh retry. Terminal for the caller.
var ErrAuthRejected = errors.New("provider rejected credentials after refresh")

// expirySkew refreshes slightly early so a token does not expire on the
// wire between Token and the provider call.
const expirySkew = 30 * time.Second

// Store persists sealed credentials between restarts. Defined here on
// the consumer side; the payment repository satisfies it.
type Store interface {
	SaveProviderCredential(ctx context.Context, provider, sealed string) error
	LoadProviderCredential(ctx context.Context, provider string) (string, error)
}

// Manager holds one credential set and serializes refreshes. Two
// concurrent 401s must not trigger two refreshes that invalidate each
// other's new token.
type Manager struct {
	mu       sync.Mutex
	conf     *clientcredentials.Config
	envelope *signature.Envelope
	store    Store
	provider string
	logger   *zap.Logger

	token    *oauth2.Token
	failures int
}

// NewManager creates a credential manager for one provider.
// store may be nil; tokens are then held in memory only.
func NewManager(provider string, conf *clientcredentials.Config, envelope *signature.Envelope, store Store, logger *zap.Logger) *Manager {
	return &Manager{
		conf:     conf,
		envelope: envelope,
		store:    store,
		provider: provider,
		logger:   logger,
	}
}

// Token returns a valid access token, refreshing if the cached one has
// expired. Refreshes are serialized per credential.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenLocked(ctx)
}

func (m *Manager) tokenLocked(ctx context.Context) (string, error) {
	if m.token == nil && m.store != nil {
		m.restoreLocked(ctx)
	}
	if m.token != nil && time.Now().Before(m.token.Expiry.Add(-expirySkew)) {
		return m.token.AccessToken, nil
	}
	return m.refreshLocked(ctx)
}

// invalidate drops the cached token, but only if it is still the one
// the caller used. A concurrent caller that already refreshed keeps its
// new token.
func (m *Manager) invalidate(used string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != nil && m.token.AccessToken == used {
		m.token = nil
	}
}

func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	tok, err := m.conf.Token(ctx)
	if err != nil {
		m.failures++
		return "", fmt.Errorf("refresh %s token (failure %d): %w", m.provider, m.failures, err)
	}
	m.token = tok
	m.failures = 0
	if m.store != nil {
		m.persistLocked(ctx)
	}
	return tok.AccessToken, nil
}

// Do executes one provider call built by build. On a 401 it refreshes
// the token exactly once and retries exactly once; a second 401 is
// surfaced as ErrAuthRejected.
func (m *Manager) Do(ctx context.Context, client *httpclient.Client, build func(token string) (*http.Request, error)) (*http.Response, error) {
	token, err := m.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := m.doOnce(client, build, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	m.logger.Warn("provider call unauthorized, refreshing token once",
		zap.String("provider", m.provider),
	)
	m.invalidate(token)

	token, err = m.Token(ctx)
	if err != nil {
		return nil, err
	}
	resp, err = m.doOnce(client, build, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, ErrAuthRejected
	}
	return resp, nil
}

func (m *Manager) doOnce(client *httpclient.Client, build func(token string) (*http.Request, error), token string) (*http.Response, error) {
	req, err := build(token)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}

// persistLocked seals the token before it touches storage.
func (m *Manager) persistLocked(ctx context.Context) {
	sealed, err := m.envelope.Seal(url.Values{
		"access_token": {m.token.AccessToken},
		"expiry":       {strconv.FormatInt(m.token.Expiry.Unix(), 10)},
	})
	if err != nil {
		m.logger.Error("seal credential", zap.String("provider", m.provider), zap.Error(err))
		return
	}
	if err := m.store.SaveProviderCredential(ctx, m.provider, sealed); err != nil {
		m.logger.Error("persist credential", zap.String("provider", m.provider), zap.Error(err))
	}
}

func (m *Manager) restoreLocked(ctx context.Context) {
	sealed, err := m.store.LoadProviderCredential(ctx, m.provider)
	if err != nil || sealed == "" {
		return
	}
	fields, err := m.envelope.Open(sealed)
	if err != nil {
		// Tampered or re-keyed credential row: ignore it and fetch fresh.
		m.logger.Warn("stored credential failed authenticity check",
			zap.String("provider", m.provider), zap.Error(err),
		)
		return
	}
	expiry, err := strconv.ParseInt(fields.Get("expiry"), 10, 64)
	if err != nil {
		return
	}
	m.token = &oauth2.Token{
		AccessToken: fields.Get("access_token"),
		Expiry:      time.Unix(expiry, 0),
	}
}
