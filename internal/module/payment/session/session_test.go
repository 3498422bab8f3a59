package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_PollToken(t *testing.T) {
	m := NewManager(&Config{Secret: "poll-secret", Expiry: time.Minute, Issuer: "payhub"})
	paymentID := uuid.New()

	t.Run("issue and validate", func(t *testing.T) {
		token, expiresAt, err := m.IssuePollToken(paymentID)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

		assert.NoError(t, m.ValidatePollToken(token, paymentID))
	})

	t.Run("token is bound to one payment", func(t *testing.T) {
		token, _, err := m.IssuePollToken(paymentID)
		require.NoError(t, err)

		err = m.ValidatePollToken(token, uuid.New())
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("forged token is refused", func(t *testing.T) {
		forger := NewManager(&Config{Secret: "other-secret", Expiry: time.Minute})
		token, _, err := forger.IssuePollToken(paymentID)
		require.NoError(t, err)

		err = m.ValidatePollToken(token, paymentID)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("garbage token is refused", func(t *testing.T) {
		assert.ErrorIs(t, m.ValidatePollToken("not-a-jwt", paymentID), ErrInvalidSession)
		assert.ErrorIs(t, m.ValidatePollToken("", paymentID), ErrInvalidSession)
	})

	t.Run("expired token is refused", func(t *testing.T) {
		short := NewManager(&Config{Secret: "poll-secret", Expiry: time.Millisecond})
		token, _, err := short.IssuePollToken(paymentID)
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		err = m.ValidatePollToken(token, paymentID)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(nil)
	require.NotNil(t, m)
	assert.Equal(t, DefaultConfig().Expiry, m.config.Expiry)

	m = NewManager(&Config{Secret: "s"})
	assert.Equal(t, DefaultConfig().Expiry, m.config.Expiry)
}
