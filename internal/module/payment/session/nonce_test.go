package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNonceStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryNonceStore()

	t.Run("consume once", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "n-1", time.Minute))

		ok, err := store.Consume(ctx, "n-1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Consume(ctx, "n-1")
		require.NoError(t, err)
		assert.False(t, ok, "a nonce must not be consumable twice")
	})

	t.Run("unknown nonce", func(t *testing.T) {
		ok, err := store.Consume(ctx, "never-stored")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired nonce", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "n-2", time.Millisecond))
		time.Sleep(10 * time.Millisecond)

		ok, err := store.Consume(ctx, "n-2")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
