// Package session issues the short-lived artifacts that tie a browser
// checkout back to a payment record: a signed poll token the status
// endpoint requires, and a single-use nonce bound into the redirect
// return state.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidSession covers expired, forged and mismatched poll tokens.
	ErrInvalidSession = errors.New("invalid poll session")
)

// PollClaims binds a poll token to exactly one payment.
type PollClaims struct {
	jwt.RegisteredClaims
	PaymentID uuid.UUID `json:"payment_id"`
}

// Config holds poll token signing configuration.
type Config struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// DefaultConfig returns defaults suitable for a checkout session.
func DefaultConfig() *Config {
	return &Config{
		Expiry: 30 * time.Minute,
		Issuer: "payhub",
	}
}

// Manager signs and validates poll tokens.
type Manager struct {
	config *Config
}

// NewManager creates a session manager.
func NewManager(config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Expiry <= 0 {
		config.Expiry = DefaultConfig().Expiry
	}
	return &Manager{config: config}
}

// IssuePollToken mints a token that authorizes status polling for one
// payment until checkout expiry.
func (m *Manager) IssuePollToken(paymentID uuid.UUID) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.config.Expiry)
	claims := &PollClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   paymentID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
		PaymentID: paymentID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign poll token: %w", err)
	}

	return signedToken, expiresAt, nil
}

// ValidatePollToken checks the token signature, expiry and that it was
// issued for the given payment.
func (m *Manager) ValidatePollToken(tokenString string, paymentID uuid.UUID) error {
	token, err := jwt.ParseWithClaims(tokenString, &PollClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	claims, ok := token.Claims.(*PollClaims)
	if !ok || !token.Valid {
		return ErrInvalidSession
	}
	if claims.PaymentID != paymentID {
		return fmt.Errorf("%w: token issued for another payment", ErrInvalidSession)
	}
	return nil
}

// NonceStore records single-use redirect nonces. Consume reports
// whether the nonce was present and removes it either way.
type NonceStore interface {
	Put(ctx context.Context, nonce string, ttl time.Duration) error
	Consume(ctx context.Context, nonce string) (bool, error)
}
