package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"club-manager/backend/internal/session/domain"
	"club-manager/backend/internal/session/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var today = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func newClock(t *testing.T) *quartz.Mock {
	t.Helper()
	clk := quartz.NewMock(t)
	clk.Set(today).MustWait(context.Background())
	return clk
}

func openRow(user string, login time.Time) *domain.Session {
	return &domain.Session{
		SessionID:    fmt.Sprintf("session_%d_test", login.UnixMilli()),
		UserName:     user,
		DeviceType:   domain.DeviceDesktop,
		LoginTime:    login,
		LastActivity: login,
		PageViews:    1,
	}
}

func testOptions(t *testing.T, clk quartz.Clock) Options {
	return Options{
		Clock:     clk,
		Location:  time.UTC,
		BatchSize: 10,
		Logger:    slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
	}
}

type failingRepo struct {
	*repository.MemoryRepository
	listErr   error
	failIDs   map[int64]bool
	closeHit  atomic.Int32
	deleteHit atomic.Int32
}

func (f *failingRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Session, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.MemoryRepository.ListStale(ctx, cutoff, limit)
}

func (f *failingRepo) ListOpen(ctx context.Context, limit int) ([]*domain.Session, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.MemoryRepository.ListOpen(ctx, limit)
}

func (f *failingRepo) Close(ctx context.Context, id int64, c domain.Close) error {
	f.closeHit.Add(1)
	if f.failIDs[id] {
		return errors.New("connection reset")
	}
	return f.MemoryRepository.Close(ctx, id, c)
}

func (f *failingRepo) Delete(ctx context.Context, id int64) error {
	f.deleteHit.Add(1)
	if f.failIDs[id] {
		return errors.New("connection reset")
	}
	return f.MemoryRepository.Delete(ctx, id)
}

func TestReconciler_ClosesStaleRowsInLimitedRuns(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t)
	repo := repository.NewMemoryRepository(clk)
	loginDay := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 75; i++ {
		repo.Insert(openRow(fmt.Sprintf("member%02d", i), loginDay.Add(time.Duration(i)*time.Minute)))
	}
	// Opened today: never stale.
	current := repo.Insert(openRow("kim", today.Add(-time.Hour)))

	r := NewReconciler(repo, testOptions(t, clk))

	res := r.Run(ctx)
	assert.Equal(t, ReconcileResult{Success: true, Processed: 50}, res)

	res = r.Run(ctx)
	assert.Equal(t, ReconcileResult{Success: true, Processed: 25}, res)

	res = r.Run(ctx)
	assert.Equal(t, ReconcileResult{Success: true, Processed: 0}, res)

	first, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, first.LogoutTime)
	assert.Equal(t, domain.EndOfDay(loginDay, time.UTC), *first.LogoutTime)
	require.NotNil(t, first.DurationMinutes)
	assert.Equal(t, 840, *first.DurationMinutes)

	still, err := repo.GetByID(ctx, current.ID)
	require.NoError(t, err)
	assert.True(t, still.Open())
}

func TestReconciler_FailedRowsAreNotCounted(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t)
	mem := repository.NewMemoryRepository(clk)
	yesterday := today.AddDate(0, 0, -1)
	for i := 0; i < 4; i++ {
		mem.Insert(openRow(fmt.Sprintf("m%d", i), yesterday.Add(time.Duration(i)*time.Minute)))
	}
	repo := &failingRepo{MemoryRepository: mem, failIDs: map[int64]bool{2: true}}

	res := NewReconciler(repo, testOptions(t, clk)).Run(ctx)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Processed)
	assert.EqualValues(t, 4, repo.closeHit.Load())

	failed, err := mem.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.True(t, failed.Open())
}

func TestReconciler_ListFailure(t *testing.T) {
	clk := newClock(t)
	repo := &failingRepo{MemoryRepository: repository.NewMemoryRepository(clk), listErr: errors.New("db down")}

	res := NewReconciler(repo, testOptions(t, clk)).Run(context.Background())
	assert.Equal(t, ReconcileResult{}, res)
}

func TestReconciler_PausesBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	clk := newClock(t)
	repo := repository.NewMemoryRepository(clk)
	for i := 0; i < 25; i++ {
		repo.Insert(openRow(fmt.Sprintf("m%d", i), today.AddDate(0, 0, -2).Add(time.Duration(i)*time.Second)))
	}
	opts := testOptions(t, clk)
	opts.BatchPause = time.Second

	trap := clk.Trap().NewTimer("maintenance", "pause")
	defer trap.Close()

	done := make(chan ReconcileResult, 1)
	go func() { done <- NewReconciler(repo, opts).Run(ctx) }()

	// 25 rows in batches of 10: two pauses.
	for i := 0; i < 2; i++ {
		call := trap.MustWait(ctx)
		assert.Equal(t, time.Second, call.Duration)
		call.MustRelease(ctx)
		clk.Advance(time.Second).MustWait(ctx)
	}

	select {
	case res := <-done:
		assert.Equal(t, ReconcileResult{Success: true, Processed: 25}, res)
	case <-ctx.Done():
		t.Fatal("reconciler did not finish")
	}
}

func TestReconciler_CanceledBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := newClock(t)
	repo := repository.NewMemoryRepository(clk)
	for i := 0; i < 15; i++ {
		repo.Insert(openRow(fmt.Sprintf("m%d", i), today.AddDate(0, 0, -1).Add(time.Duration(i)*time.Second)))
	}
	opts := testOptions(t, clk)
	opts.BatchPause = time.Minute

	trap := clk.Trap().NewTimer("maintenance", "pause")
	defer trap.Close()

	done := make(chan ReconcileResult, 1)
	go func() { done <- NewReconciler(repo, opts).Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	trap.MustWait(waitCtx).MustRelease(waitCtx)
	cancel()

	res := <-done
	assert.True(t, res.Success)
	assert.Equal(t, 10, res.Processed)
}

func TestCollapser_KeepsMostRecentPerUserDay(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t)
	repo := repository.NewMemoryRepository(clk)
	morning := time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)

	repo.Insert(openRow("kim", morning))
	repo.Insert(openRow("kim", morning.Add(time.Hour)))
	newest := repo.Insert(openRow("kim", morning.Add(2*time.Hour)))
	lee := repo.Insert(openRow("lee", morning))
	// Yesterday's open row is a different day and belongs to the reconciler.
	old := repo.Insert(openRow("kim", morning.AddDate(0, 0, -1)))

	res := NewCollapser(repo, testOptions(t, clk)).Run(ctx)
	assert.Equal(t, CollapseResult{Success: true, Deleted: 2}, res)
	assert.Equal(t, 3, repo.Len())

	for _, id := range []int64{newest.ID, lee.ID, old.ID} {
		s, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, s, "row %d", id)
	}

	res = NewCollapser(repo, testOptions(t, clk)).Run(ctx)
	assert.Equal(t, CollapseResult{Success: true, Deleted: 0}, res)
}

func TestCollapser_FailedDeletesAreNotCounted(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t)
	mem := repository.NewMemoryRepository(clk)
	morning := time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)
	kimOld := mem.Insert(openRow("kim", morning))
	kimMid := mem.Insert(openRow("kim", morning.Add(time.Hour)))
	kimNew := mem.Insert(openRow("kim", morning.Add(2*time.Hour)))
	leeOld := mem.Insert(openRow("lee", morning))
	leeNew := mem.Insert(openRow("lee", morning.Add(time.Hour)))
	repo := &failingRepo{MemoryRepository: mem, failIDs: map[int64]bool{kimMid.ID: true}}

	res := NewCollapser(repo, testOptions(t, clk)).Run(ctx)
	assert.Equal(t, CollapseResult{Success: true, Deleted: 2}, res)
	assert.EqualValues(t, 3, repo.deleteHit.Load(), "a failed delete does not stop the run")

	failed, err := mem.GetByID(ctx, kimMid.ID)
	require.NoError(t, err)
	require.NotNil(t, failed)
	assert.True(t, failed.Open())
	for _, id := range []int64{kimOld.ID, leeOld.ID} {
		gone, err := mem.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, gone, "row %d", id)
	}
	for _, id := range []int64{kimNew.ID, leeNew.ID} {
		kept, err := mem.GetByID(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, kept, "row %d", id)
	}
}

func TestCollapser_ListFailure(t *testing.T) {
	clk := newClock(t)
	repo := &failingRepo{MemoryRepository: repository.NewMemoryRepository(clk), listErr: errors.New("db down")}

	res := NewCollapser(repo, testOptions(t, clk)).Run(context.Background())
	assert.Equal(t, CollapseResult{}, res)
}

func TestDuplicates_UsesLocationForDay(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	// 23:30 UTC on Jan 9 is Jan 10 in Seoul, same day as 01:00 UTC Jan 10.
	a := openRow("kim", time.Date(2024, 1, 10, 1, 0, 0, 0, time.UTC))
	b := openRow("kim", time.Date(2024, 1, 9, 23, 30, 0, 0, time.UTC))

	assert.Empty(t, Duplicates([]*domain.Session{a, b}, time.UTC))
	assert.Equal(t, []*domain.Session{b}, Duplicates([]*domain.Session{a, b}, seoul))
}

func TestScheduler_RunsImmediatelyThenEveryInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	clk := quartz.NewMock(t)
	logger := slogtest.Make(t, nil)

	var runs atomic.Int32
	ran := make(chan struct{}, 4)
	trapReset := clk.Trap().TickerReset("maintenance", "reset")
	defer trapReset.Close()

	closer := NewScheduler(ctx, logger, clk, 24*time.Hour, func(context.Context) {
		runs.Add(1)
		ran <- struct{}{}
	})
	defer closer.Close()

	_, w := clk.AdvanceNext()
	w.MustWait(ctx)
	<-ran
	trapReset.MustWait(ctx).MustRelease(ctx)
	assert.EqualValues(t, 1, runs.Load())

	d, w := clk.AdvanceNext()
	w.MustWait(ctx)
	assert.Equal(t, 24*time.Hour, d)
	<-ran
	trapReset.MustWait(ctx).MustRelease(ctx)
	assert.EqualValues(t, 2, runs.Load())

	require.NoError(t, closer.Close())
}
