package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/payhub/server/internal/module/payment/signature"
	"github.com/payhub/server/internal/shared/httpclient"
)

// fakeStore keeps sealed credentials in memory.
type fakeStore struct {
	mu     sync.Mutex
	sealed map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{sealed: make(map[string]string)}
}

func (s *fakeStore) SaveProviderCredential(_ context.Context, provider, sealed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed[provider] = sealed
	return nil
}

func (s *fakeStore) LoadProviderCredential(_ context.Context, provider string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed[provider], nil
}

// newTokenServer serves the client-credentials grant and counts issued
// tokens. Each token is "tok-<n>".
func newTokenServer(t *testing.T, issued *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := issued.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
}

func newTestManager(t *testing.T, tokenURL string, store Store) *Manager {
	t.Helper()
	conf := &clientcredentials.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     tokenURL,
	}
	return NewManager("paypal", conf, signature.NewEnvelope("cred-secret"), store, zap.NewNop())
}

func TestManager_Token(t *testing.T) {
	var issued atomic.Int64
	ts := newTokenServer(t, &issued)
	defer ts.Close()

	m := newTestManager(t, ts.URL, nil)
	ctx := context.Background()

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// A valid cached token is reused without another grant call.
	tok, err = m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int64(1), issued.Load())
}

func TestManager_Do_RefreshesOnceOn401(t *testing.T) {
	var issued atomic.Int64
	ts := newTokenServer(t, &issued)
	defer ts.Close()

	// The API rejects the first token and accepts any later one.
	var calls atomic.Int64
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	m := newTestManager(t, ts.URL, nil)
	client := httpclient.New("test", time.Second)

	resp, err := m.Do(context.Background(), client, func(_ string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, api.URL, nil)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), calls.Load(), "exactly one retry after refresh")
	assert.Equal(t, int64(2), issued.Load(), "exactly one refresh")
}

func TestManager_Do_SecondRejectionIsTerminal(t *testing.T) {
	var issued atomic.Int64
	ts := newTokenServer(t, &issued)
	defer ts.Close()

	var calls atomic.Int64
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	m := newTestManager(t, ts.URL, nil)
	client := httpclient.New("test", time.Second)

	_, err := m.Do(context.Background(), client, func(_ string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, api.URL, nil)
	})
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.Equal(t, int64(2), calls.Load(), "no retry loop past the single refresh")
}

func TestManager_PersistAndRestore(t *testing.T) {
	var issued atomic.Int64
	ts := newTokenServer(t, &issued)
	defer ts.Close()

	store := newFakeStore()
	ctx := context.Background()

	m := newTestManager(t, ts.URL, store)
	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// The stored row is sealed, never plaintext.
	sealed, err := store.LoadProviderCredential(ctx, "paypal")
	require.NoError(t, err)
	require.NotEmpty(t, sealed)
	assert.NotContains(t, sealed, "tok-1")

	// A fresh manager restores the persisted token instead of
	// fetching a new grant.
	m2 := newTestManager(t, ts.URL, store)
	tok, err = m2.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int64(1), issued.Load())
}

func TestManager_TamperedCredentialRowIsIgnored(t *testing.T) {
	var issued atomic.Int64
	ts := newTokenServer(t, &issued)
	defer ts.Close()

	store := newFakeStore()
	require.NoError(t, store.SaveProviderCredential(context.Background(), "paypal", "v2.not-an-envelope.AAAA"))

	m := newTestManager(t, ts.URL, store)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok, "tampered row ignored, fresh grant fetched")
}

func TestManager_ConcurrentRefreshIsSerialized(t *testing.T) {
	var issued atomic.Int64
	ts := newTokenServer(t, &issued)
	defer ts.Close()

	m := newTestManager(t, ts.URL, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Token(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), issued.Load(), "one refresh, however many callers race")
}
