// Package poll implements the fixed-interval status watch used by
// QR-style checkouts, where no redirect ever comes back and the only
// signal is repeated status queries.
package poll

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// CheckFunc performs one status check. It reports final=true when the
// payment reached a terminal status and polling should stop.
type CheckFunc func(ctx context.Context) (final bool, err error)

// Config tunes a Poller.
type Config struct {
	// Interval between checks.
	Interval time.Duration
	// MaxSkips is how many ticks may pass with a check still in
	// flight before that check is considered stuck and canceled.
	MaxSkips int
	// Deadline bounds the whole watch. Zero means no deadline.
	Deadline time.Duration
}

// DefaultConfig matches a browser checkout session.
func DefaultConfig() Config {
	return Config{
		Interval: 4 * time.Second,
		MaxSkips: 5,
		Deadline: 30 * time.Minute,
	}
}

// ErrDeadline means the watch gave up before the payment settled.
var ErrDeadline = errors.New("poll deadline elapsed")

// Poller drives a CheckFunc on a fixed interval. A tick that lands
// while the previous check is still in flight is skipped rather than
// stacked; too many consecutive skips cancel the stuck check so the
// next tick starts a fresh one.
type Poller struct {
	config Config
	logger *zap.Logger
}

// NewPoller creates a poller.
func NewPoller(config Config, logger *zap.Logger) *Poller {
	if config.Interval <= 0 {
		config = DefaultConfig()
	}
	if config.MaxSkips <= 0 {
		config.MaxSkips = DefaultConfig().MaxSkips
	}
	return &Poller{config: config, logger: logger}
}

// Run polls until the check reports final, the deadline elapses or the
// context is canceled.
func (p *Poller) Run(ctx context.Context, check CheckFunc) error {
	if p.config.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Deadline)
		defer cancel()
	}

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	type outcome struct {
		final bool
		err   error
	}

	var (
		inflight chan outcome
		cancelIn context.CancelFunc
		skips    int
	)
	startCheck := func() {
		checkCtx, cancel := context.WithCancel(ctx)
		cancelIn = cancel
		ch := make(chan outcome, 1)
		inflight = ch
		go func() {
			final, err := check(checkCtx)
			cancel()
			ch <- outcome{final: final, err: err}
		}()
	}

	startCheck()
	for {
		select {
		case <-ctx.Done():
			if cancelIn != nil {
				cancelIn()
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrDeadline
			}
			return ctx.Err()

		case out := <-inflight:
			inflight = nil
			skips = 0
			if out.err != nil {
				p.logger.Warn("status check failed", zap.Error(out.err))
			}
			if out.final {
				return nil
			}

		case <-ticker.C:
			if inflight == nil {
				startCheck()
				continue
			}
			skips++
			if skips >= p.config.MaxSkips {
				// The check is stuck. Cancel it; its outcome is
				// drained on the inflight channel and discarded
				// as a failed check.
				p.logger.Warn("status check stuck, canceling",
					zap.Int("skipped_ticks", skips))
				cancelIn()
				skips = 0
			}
		}
	}
}
