package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoller_StopsOnFinal(t *testing.T) {
	p := NewPoller(Config{Interval: 5 * time.Millisecond, MaxSkips: 5}, zap.NewNop())

	var checks atomic.Int64
	err := p.Run(context.Background(), func(_ context.Context) (bool, error) {
		return checks.Add(1) >= 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(3), checks.Load())
}

func TestPoller_CheckErrorsDoNotStopTheWatch(t *testing.T) {
	p := NewPoller(Config{Interval: 5 * time.Millisecond, MaxSkips: 5}, zap.NewNop())

	var checks atomic.Int64
	err := p.Run(context.Background(), func(_ context.Context) (bool, error) {
		n := checks.Add(1)
		if n < 3 {
			return false, errors.New("provider hiccup")
		}
		return true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(3), checks.Load())
}

func TestPoller_Deadline(t *testing.T) {
	p := NewPoller(Config{
		Interval: 5 * time.Millisecond,
		MaxSkips: 5,
		Deadline: 30 * time.Millisecond,
	}, zap.NewNop())

	err := p.Run(context.Background(), func(_ context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrDeadline)
}

func TestPoller_ContextCancel(t *testing.T) {
	p := NewPoller(Config{Interval: 5 * time.Millisecond, MaxSkips: 5}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.Run(ctx, func(_ context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoller_StuckCheckIsCanceled(t *testing.T) {
	p := NewPoller(Config{Interval: 5 * time.Millisecond, MaxSkips: 2}, zap.NewNop())

	var checks atomic.Int64
	err := p.Run(context.Background(), func(ctx context.Context) (bool, error) {
		if checks.Add(1) == 1 {
			// First check hangs until the poller cancels it.
			<-ctx.Done()
			return false, ctx.Err()
		}
		return true, nil
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, checks.Load(), int64(2))
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(Config{}, zap.NewNop())
	assert.Equal(t, DefaultConfig().Interval, p.config.Interval)
	assert.Equal(t, DefaultConfig().MaxSkips, p.config.MaxSkips)
}
