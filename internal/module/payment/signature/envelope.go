package signature

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ErrAuthenticity is returned whenever an inbound blob fails its MAC or
// integrity tag. Callers must treat the payload as hostile and never
// parse any of its content.
var ErrAuthenticity = errors.New("authenticity check failed")

const (
	envelopeV2 = "v2" // AES-GCM plus detached HMAC over the whole envelope
	envelopeV1 = "v1" // legacy AES-CBC, HMAC checked before any decryption

	kdfIterations = 4096
	keyLen        = 32
)

// Envelope seals and opens url-encoded field blobs. The cipher key and
// the MAC key are derived separately from the shared secret, so a leaked
// MAC key cannot decrypt historical envelopes.
type Envelope struct {
	encKey []byte
	macKey []byte
}

// NewEnvelope derives the envelope keys from the provider shared secret.
func NewEnvelope(secret string) *Envelope {
	return &Envelope{
		encKey: pbkdf2.Key([]byte(secret), []byte("payhub/envelope/enc"), kdfIterations, keyLen, sha256.New),
		macKey: pbkdf2.Key([]byte(secret), []byte("payhub/envelope/mac"), kdfIterations, keyLen, sha256.New),
	}
}

// Seal encrypts the fields with AES-GCM and appends a detached HMAC over
// the complete envelope. Output shape: v2.<b64(nonce|ciphertext)>.<b64(mac)>.
func (e *Envelope) Seal(fields url.Values) (string, error) {
	block, err := aes.NewCipher(e.encKey)
	if err != nil {
		return "", fmt.Errorf("envelope cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("envelope gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("envelope nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(fields.Encode()), nil)
	body := envelopeV2 + "." + base64.RawURLEncoding.EncodeToString(append(nonce, ciphertext...))

	mac := e.mac(body)
	return body + "." + base64.RawURLEncoding.EncodeToString(mac), nil
}

// Open verifies and decrypts an envelope produced by Seal, or a legacy
// v1 (CBC) envelope written by an earlier release. The detached HMAC is
// checked before any decryption; on mismatch the payload is never
// touched and ErrAuthenticity is returned.
func (e *Envelope) Open(sealed string) (url.Values, error) {
	idx := strings.LastIndex(sealed, ".")
	if idx <= 0 {
		return nil, ErrAuthenticity
	}
	body, macPart := sealed[:idx], sealed[idx+1:]

	presented, err := base64.RawURLEncoding.DecodeString(macPart)
	if err != nil {
		return nil, ErrAuthenticity
	}
	if !hmac.Equal(presented, e.mac(body)) {
		return nil, ErrAuthenticity
	}

	version, payload, ok := strings.Cut(body, ".")
	if !ok {
		return nil, ErrAuthenticity
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrAuthenticity
	}

	var plaintext []byte
	switch version {
	case envelopeV2:
		plaintext, err = e.openGCM(raw)
	case envelopeV1:
		plaintext, err = e.openCBC(raw)
	default:
		return nil, ErrAuthenticity
	}
	if err != nil {
		return nil, err
	}

	fields, err := url.ParseQuery(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("envelope payload: %w", err)
	}
	return fields, nil
}

func (e *Envelope) openGCM(raw []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.encKey)
	if err != nil {
		return nil, fmt.Errorf("envelope cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope gcm: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return nil, ErrAuthenticity
	}
	plaintext, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return nil, ErrAuthenticity
	}
	return plaintext, nil
}

// openCBC decrypts the historical CBC layout: the key is the shared
// cipher key, the IV is the first block. The outer HMAC has already been
// verified at this point, but padding errors still fail closed.
func (e *Envelope) openCBC(raw []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.encKey)
	if err != nil {
		return nil, fmt.Errorf("envelope cipher: %w", err)
	}
	if len(raw) < aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, ErrAuthenticity
	}
	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return stripPKCS7(plaintext)
}

// SealLegacy encrypts with the v1 CBC layout. Kept so fixtures written
// by the previous release remain readable in tests and migrations.
func (e *Envelope) SealLegacy(fields url.Values) (string, error) {
	block, err := aes.NewCipher(e.encKey)
	if err != nil {
		return "", fmt.Errorf("envelope cipher: %w", err)
	}

	plaintext := padPKCS7([]byte(fields.Encode()), aes.BlockSize)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("envelope iv: %w", err)
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	body := envelopeV1 + "." + base64.RawURLEncoding.EncodeToString(append(iv, ciphertext...))
	mac := e.mac(body)
	return body + "." + base64.RawURLEncoding.EncodeToString(mac), nil
}

func (e *Envelope) mac(body string) []byte {
	h := hmac.New(sha256.New, e.macKey)
	h.Write([]byte(body))
	return h.Sum(nil)
}

func padPKCS7(b []byte, size int) []byte {
	n := size - len(b)%size
	pad := make([]byte, n)
	for i := range pad {
		pad[i] = byte(n)
	}
	return append(b, pad...)
}

func stripPKCS7(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrAuthenticity
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrAuthenticity
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrAuthenticity
		}
	}
	return b[:len(b)-n], nil
}
