package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayStaysWithinBounds(t *testing.T) {
	t.Parallel()

	p := NewJitterPacer(time.Second, 3*time.Second, nil)
	for i := 0; i < 200; i++ {
		d := p.Delay()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestDelayUsesRandomSource(t *testing.T) {
	t.Parallel()

	p := NewJitterPacer(time.Second, 2*time.Second, nil)
	p.random = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 2*time.Second, p.Delay())

	p.random = func(int64) int64 { return 0 }
	assert.Equal(t, time.Second, p.Delay())
}

func TestInvertedRangeCollapsesToMin(t *testing.T) {
	t.Parallel()

	p := NewJitterPacer(2*time.Second, time.Second, nil)
	assert.Equal(t, 2*time.Second, p.Delay())
}

func TestWaitReturnsAfterDelay(t *testing.T) {
	t.Parallel()

	p := NewJitterPacer(10*time.Millisecond, 20*time.Millisecond, nil)
	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestWaitIsInterruptible(t *testing.T) {
	t.Parallel()

	p := NewJitterPacer(time.Hour, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := p.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), time.Second)
}

func TestZeroDelayHonoursCancellation(t *testing.T) {
	t.Parallel()

	p := NewJitterPacer(0, 0, nil)
	assert.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, p.Wait(ctx))
}
