package payment

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/payhub/server/internal/module/payment/domain"
	"github.com/payhub/server/internal/module/payment/gateway"
)

// ReconcilerConfig tunes the background sweep.
type ReconcilerConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// Grace is how long a payment may sit untouched before the sweep
	// queries the provider for it. Keeps the sweep off payments the
	// browser is actively polling.
	Grace time.Duration
	// ExpireAfter is the checkout window. A payment still open this
	// long after creation, with the provider also reporting nothing
	// conclusive, is marked expired.
	ExpireAfter time.Duration
	// BatchSize caps how many payments one sweep touches.
	BatchSize int
}

// DefaultReconcilerConfig returns production defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:    time.Minute,
		Grace:       5 * time.Minute,
		ExpireAfter: 2 * time.Hour,
		BatchSize:   100,
	}
}

// Reconciler is the safety net behind returns and webhooks: it sweeps
// pending payments and re-queries their status, so a lost webhook or an
// abandoned browser tab still converges the record.
type Reconciler struct {
	service *Service
	repo    Repository
	config  ReconcilerConfig
	logger  *zap.Logger
}

// NewReconciler creates a background reconciler.
func NewReconciler(service *Service, repo Repository, config ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if config.Interval <= 0 {
		config = DefaultReconcilerConfig()
	}
	return &Reconciler{
		service: service,
		repo:    repo,
		config:  config,
		logger:  logger,
	}
}

// Run sweeps until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.config.Grace)
	pending, err := r.repo.ListPendingPayments(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		return err
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.sweepOne(ctx, p); err != nil {
			r.logger.Warn("sweep skipped payment",
				zap.String("payment_id", p.ID().String()),
				zap.Error(err))
		}
	}
	return nil
}

func (r *Reconciler) sweepOne(ctx context.Context, p *domain.Payment) error {
	adapter, err := r.service.registry.Get(p.Provider())
	if err != nil {
		return err
	}

	result, err := adapter.QueryStatus(ctx, p)
	if err != nil {
		if errors.Is(err, gateway.ErrTransientNetwork) {
			return nil
		}
		return err
	}

	if err := r.service.reconcile(ctx, p, result, "sweep"); err != nil {
		return err
	}

	// Still inconclusive past the checkout window: close it out.
	if !p.Status().IsTerminal() && time.Since(p.CreatedAt()) > r.config.ExpireAfter {
		expired := &gateway.Result{
			Status:  domain.StatusExpired,
			Native:  result.Native,
			Message: "checkout window elapsed",
		}
		return r.service.reconcile(ctx, p, expired, "sweep")
	}
	return nil
}
