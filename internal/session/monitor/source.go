package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
)

// Source feeds activity into a signal until ctx is done.
type Source interface {
	Run(ctx context.Context, sig ActivitySignal) error
}

// TickerSource marks activity at a fixed interval. It stands in for a real user in demos and tests.
type TickerSource struct {
	Clock    quartz.Clock
	Interval time.Duration
}

func (s TickerSource) Run(ctx context.Context, sig ActivitySignal) error {
	clock := s.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	if s.Interval <= 0 {
		return errors.New("ticker source: interval must be positive")
	}
	err := clock.TickerFunc(ctx, s.Interval, func() error {
		sig.MarkNow()
		return nil
	}, "monitor", "source").Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
