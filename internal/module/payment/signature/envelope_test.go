package signature

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	env := NewEnvelope("shared-secret")
	fields := url.Values{
		"payment_id": {"b7f9a7d0-0000-4000-8000-000000000001"},
		"nonce":      {"n-123"},
	}

	sealed, err := env.Seal(fields)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v2."))

	opened, err := env.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, fields.Get("payment_id"), opened.Get("payment_id"))
	assert.Equal(t, "n-123", opened.Get("nonce"))
}

func TestEnvelope_SealIsRandomized(t *testing.T) {
	env := NewEnvelope("shared-secret")
	fields := url.Values{"k": {"v"}}

	a, err := env.Seal(fields)
	require.NoError(t, err)
	b, err := env.Seal(fields)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEnvelope_Open_FailsClosed(t *testing.T) {
	env := NewEnvelope("shared-secret")
	sealed, err := env.Seal(url.Values{"k": {"v"}})
	require.NoError(t, err)

	t.Run("tampered mac", func(t *testing.T) {
		idx := strings.LastIndex(sealed, ".")
		tampered := sealed[:idx] + ".AAAA" + sealed[idx+1:]
		_, err := env.Open(tampered)
		assert.ErrorIs(t, err, ErrAuthenticity)
	})

	t.Run("tampered body", func(t *testing.T) {
		tampered := strings.Replace(sealed, "v2.", "v2.A", 1)
		_, err := env.Open(tampered)
		assert.ErrorIs(t, err, ErrAuthenticity)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewEnvelope("another-secret")
		_, err := other.Open(sealed)
		assert.ErrorIs(t, err, ErrAuthenticity)
	})

	t.Run("garbage input", func(t *testing.T) {
		for _, in := range []string{"", ".", "v2", "not an envelope", "v9.Zm9v.Zm9v"} {
			_, err := env.Open(in)
			assert.ErrorIs(t, err, ErrAuthenticity, "input %q", in)
		}
	})
}

func TestEnvelope_LegacyCBC(t *testing.T) {
	env := NewEnvelope("shared-secret")
	fields := url.Values{
		"access_token": {"tok-abc"},
		"expiry":       {"1756500000"},
	}

	sealed, err := env.SealLegacy(fields)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1."))

	opened, err := env.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", opened.Get("access_token"))
	assert.Equal(t, "1756500000", opened.Get("expiry"))

	t.Run("tampered legacy envelope", func(t *testing.T) {
		idx := strings.LastIndex(sealed, ".")
		_, err := env.Open(sealed[:idx] + ".AAAA")
		assert.ErrorIs(t, err, ErrAuthenticity)
	})
}
