package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"SleeperScout/internal/ports"
)

// JitterPacer sleeps a random duration in [min, max] between upstream
// requests. The sleep is abandoned as soon as ctx is done.
type JitterPacer struct {
	min, max time.Duration
	random   func(n int64) int64
	logger   *slog.Logger
}

var _ ports.Pacer = (*JitterPacer)(nil)

// NewJitterPacer builds a pacer. max below min is treated as min.
func NewJitterPacer(min, max time.Duration, log *slog.Logger) *JitterPacer {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return &JitterPacer{min: min, max: max, random: rand.Int63n, logger: log}
}

// Delay draws the next pause.
func (p *JitterPacer) Delay() time.Duration {
	span := int64(p.max - p.min)
	if span <= 0 {
		return p.min
	}
	return p.min + time.Duration(p.random(span+1))
}

// Wait blocks for one jittered delay or until ctx is done.
func (p *JitterPacer) Wait(ctx context.Context) error {
	d := p.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	if p.logger != nil {
		p.logger.Debug("pacing next request", slog.Duration("delay", d))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pacer interrupted: %w", ctx.Err())
	}
}
