package maintenance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"club-manager/backend/internal/session/domain"
)

// batcher applies a per-row write in fixed-size batches. Rows inside a batch run concurrently;
// batches run one after another with a pause in between to spare the store.
type batcher struct {
	clock quartz.Clock
	size  int
	pause time.Duration
}

// run calls fn for every row and returns how many calls reported success. It stops early, between
// batches, when ctx is done.
func (b batcher) run(ctx context.Context, rows []*domain.Session, fn func(ctx context.Context, s *domain.Session) bool) int {
	size := b.size
	if size <= 0 {
		size = 10
	}
	var ok atomic.Int64
	for start := 0; start < len(rows); start += size {
		if start > 0 && !b.sleep(ctx) {
			break
		}
		end := min(start+size, len(rows))

		var eg errgroup.Group
		for _, s := range rows[start:end] {
			eg.Go(func() error {
				if fn(ctx, s) {
					ok.Add(1)
				}
				return nil
			})
		}
		_ = eg.Wait()
	}
	return int(ok.Load())
}

func (b batcher) sleep(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if b.pause <= 0 {
		return true
	}
	t := b.clock.NewTimer(b.pause, "maintenance", "pause")
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
