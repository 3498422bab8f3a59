// Package signature implements the per-provider authenticity strategies:
// ordered-concat field hashing for form-post protocols and an
// authenticated symmetric envelope for opaque blobs. Verification is
// always constant-time and always fails closed.
package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"sort"
	"strings"
)

// FieldSigner produces and verifies ordered-concat signatures. The
// designated field names are sorted case-insensitively once, values are
// escaped, joined with a pipe delimiter, the shared secret is appended
// and the result is SHA-512 hashed and base64 encoded.
//
// A field that is absent from the input contributes an explicit empty
// placeholder. Omission and empty string must hash identically; several
// PSP protocols are broken by implementations that get this wrong.
type FieldSigner struct {
	names  []string
	secret string
}

// NewFieldSigner creates a signer over the designated fields.
func NewFieldSigner(secret string, names ...string) *FieldSigner {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i]) < strings.ToLower(sorted[j])
	})
	return &FieldSigner{names: sorted, secret: secret}
}

// Names returns the designated fields in signing order.
func (s *FieldSigner) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Sign computes the signature over the designated fields of the input.
func (s *FieldSigner) Sign(fields map[string]string) string {
	parts := make([]string, 0, len(s.names))
	for _, name := range s.names {
		parts = append(parts, escapeField(fields[name]))
	}
	payload := strings.Join(parts, "|") + "|" + s.secret

	sum := sha512.Sum512([]byte(payload))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Verify recomputes the signature over the received fields and compares
// it to the presented one in constant time.
func (s *FieldSigner) Verify(fields map[string]string, presented string) bool {
	if presented == "" {
		return false
	}
	expected := s.Sign(fields)
	return hmac.Equal([]byte(expected), []byte(presented))
}

// escapeField escapes the delimiter and the escape character itself so
// that crafted values cannot shift field boundaries in the signed string.
func escapeField(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `|`, `\|`)
	return v
}
