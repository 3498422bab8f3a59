package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldSigner_RoundTrip(t *testing.T) {
	signer := NewFieldSigner("s3cret", "key", "txnid", "amount")
	fields := map[string]string{
		"key":    "merchant-1",
		"txnid":  "tx-42",
		"amount": "10.00",
	}

	sig := signer.Sign(fields)
	require.NotEmpty(t, sig)
	assert.True(t, signer.Verify(fields, sig))
}

func TestFieldSigner_Tampered(t *testing.T) {
	signer := NewFieldSigner("s3cret", "key", "txnid", "amount")
	fields := map[string]string{
		"key":    "merchant-1",
		"txnid":  "tx-42",
		"amount": "10.00",
	}
	sig := signer.Sign(fields)

	t.Run("changed value", func(t *testing.T) {
		tampered := map[string]string{
			"key":    "merchant-1",
			"txnid":  "tx-42",
			"amount": "9999.00",
		}
		assert.False(t, signer.Verify(tampered, sig))
	})

	t.Run("changed signature", func(t *testing.T) {
		assert.False(t, signer.Verify(fields, sig+"x"))
	})

	t.Run("empty signature", func(t *testing.T) {
		assert.False(t, signer.Verify(fields, ""))
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewFieldSigner("different", "key", "txnid", "amount")
		assert.False(t, other.Verify(fields, sig))
	})
}

func TestFieldSigner_AbsentEqualsEmpty(t *testing.T) {
	signer := NewFieldSigner("s3cret", "key", "txnid", "udf1")

	withEmpty := signer.Sign(map[string]string{
		"key":   "m",
		"txnid": "tx",
		"udf1":  "",
	})
	withAbsent := signer.Sign(map[string]string{
		"key":   "m",
		"txnid": "tx",
	})

	assert.Equal(t, withEmpty, withAbsent)
}

func TestFieldSigner_OrderIsCanonical(t *testing.T) {
	// The signing order is fixed by case-insensitive field name sort,
	// not by declaration order.
	a := NewFieldSigner("s3cret", "amount", "key", "txnid")
	b := NewFieldSigner("s3cret", "txnid", "KEY", "Amount")

	assert.Equal(t, []string{"amount", "key", "txnid"}, a.Names())

	fields := map[string]string{"key": "m", "txnid": "tx", "amount": "1.00"}
	// b sorts to [Amount KEY txnid]; lookups are by exact name, so the
	// values for differently cased names differ, but the ordering rule
	// itself is case-insensitive.
	assert.Equal(t, []string{"Amount", "KEY", "txnid"}, b.Names())
	assert.NotEmpty(t, a.Sign(fields))
}

func TestFieldSigner_EscapingBlocksBoundaryShifts(t *testing.T) {
	signer := NewFieldSigner("s3cret", "a", "b")

	// Without escaping, {"a": "x|y", "b": ""} and {"a": "x", "b": "y"}
	// would concatenate to the same signed string.
	shifted := signer.Sign(map[string]string{"a": "x|y", "b": ""})
	plain := signer.Sign(map[string]string{"a": "x", "b": "y"})
	assert.NotEqual(t, shifted, plain)

	// The escape character itself must also be escaped.
	backslash := signer.Sign(map[string]string{"a": `x\`, "b": "|y"})
	assert.NotEqual(t, backslash, signer.Sign(map[string]string{"a": "x", "b": `\|y`}))
}
