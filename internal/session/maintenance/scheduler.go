package maintenance

import (
	"context"
	"io"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
)

type instance struct {
	cancel context.CancelFunc
	closed chan struct{}
}

// NewScheduler runs job immediately and then every interval until Close.
// It is the caller's responsibility to call Close on the returned instance.
func NewScheduler(ctx context.Context, logger slog.Logger, clk quartz.Clock, interval time.Duration, job func(ctx context.Context)) io.Closer {
	closed := make(chan struct{})
	ctx, cancelFunc := context.WithCancel(ctx)

	// Use time.Nanosecond to force an initial tick. It will be reset to the
	// correct duration after executing once.
	ticker := clk.NewTicker(time.Nanosecond, "maintenance", "scheduler")
	doTick := func() {
		defer ticker.Reset(interval, "maintenance", "reset")

		start := clk.Now("maintenance", "start")
		job(ctx)
		logger.Debug(ctx, "scheduled maintenance finished", slog.F("duration", clk.Since(start)))
	}

	go func() {
		defer close(closed)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ticker.Stop()
				doTick()
			}
		}
	}()
	return &instance{cancel: cancelFunc, closed: closed}
}

func (i *instance) Close() error {
	i.cancel()
	<-i.closed
	return nil
}
