package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"club-manager/backend/internal/config"
	"club-manager/backend/internal/session/domain"
	"club-manager/backend/internal/session/repository"
)

var now = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T) (*app, *repository.MemoryRepository) {
	t.Helper()
	clk := quartz.NewMock(t)
	clk.Set(now).MustWait(context.Background())
	repo := repository.NewMemoryRepository(clk)
	a := &app{
		cfg: &config.Config{
			Timezone:           "UTC",
			ReconcileLimit:     50,
			DuplicateScanLimit: 100,
			CleanupBatchSize:   10,
			CleanupBatchPause:  "0s",
		},
		clock:  clk,
		logger: slogtest.Make(t, nil),
		openRepo: func(context.Context) (repository.Repository, io.Closer, error) {
			return repo, io.NopCloser(nil), nil
		},
	}
	return a, repo
}

func insert(repo *repository.MemoryRepository, user string, login time.Time, device domain.DeviceType, closedAfter int) {
	s := &domain.Session{
		SessionID:    "session_" + user + login.Format("150405"),
		UserName:     user,
		DeviceType:   device,
		LoginTime:    login,
		LastActivity: login,
		PageViews:    2,
	}
	if closedAfter > 0 {
		logout := login.Add(time.Duration(closedAfter) * time.Minute)
		s.LogoutTime = &logout
		s.DurationMinutes = &closedAfter
	}
	repo.Insert(s)
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStats_JSON(t *testing.T) {
	a, repo := newTestApp(t)
	insert(repo, "kim", now.Add(-time.Hour), domain.DeviceMobile, 30)
	insert(repo, "lee", now.Add(-30*time.Minute), domain.DeviceDesktop, 0)
	insert(repo, "kim", now.AddDate(0, 0, -1), domain.DeviceDesktop, 50)
	insert(repo, "old", now.AddDate(0, 0, -20), domain.DeviceDesktop, 10)

	out, err := execute(t, a, "stats", "--days", "7", "--format", "json")
	require.NoError(t, err)

	var got statsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 7, got.Days)
	assert.Equal(t, 3, got.Summary.TotalSessions)
	assert.Equal(t, 2, got.Summary.UniqueUsers)
	assert.Equal(t, 1, got.Summary.OpenSessions)
	assert.InDelta(t, 40.0, got.Summary.AverageDurationMinutes, 0.001)
	assert.Equal(t, 2, got.Summary.ByDevice[domain.DeviceDesktop])
	require.Len(t, got.Summary.ByDay, 2)
	assert.Equal(t, "2024-01-09", got.Summary.ByDay[0].Day)
}

func TestStats_YAMLAndTable(t *testing.T) {
	a, repo := newTestApp(t)
	insert(repo, "kim", now.Add(-time.Hour), domain.DeviceTablet, 15)

	out, err := execute(t, a, "stats", "-o", "yaml")
	require.NoError(t, err)
	var got statsOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, 1, got.Summary.TotalSessions)

	out, err = execute(t, a, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Activity sessions, last 7 days")
	assert.Contains(t, out, "tablet")
	assert.Contains(t, out, "2024-01-10")
}

func TestStats_BadFlags(t *testing.T) {
	a, _ := newTestApp(t)

	_, err := execute(t, a, "stats", "--days", "0")
	assert.ErrorContains(t, err, "--days")

	_, err = execute(t, a, "stats", "--format", "xml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestCleanup(t *testing.T) {
	a, repo := newTestApp(t)
	yesterday := now.AddDate(0, 0, -1)
	insert(repo, "stale", yesterday.Add(-2*time.Hour), domain.DeviceDesktop, 0)
	insert(repo, "kim", now.Add(-3*time.Hour), domain.DeviceDesktop, 0)
	insert(repo, "kim", now.Add(-2*time.Hour), domain.DeviceDesktop, 0)
	insert(repo, "kim", now.Add(-time.Hour), domain.DeviceDesktop, 0)

	out, err := execute(t, a, "cleanup", "stale")
	require.NoError(t, err)
	assert.Contains(t, out, "closed 1 stale sessions")

	out, err = execute(t, a, "cleanup", "all")
	require.NoError(t, err)
	assert.Contains(t, out, "closed 0 stale sessions")
	assert.Contains(t, out, "removed 2 duplicate sessions")

	open, err := repo.ListOpen(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, now.Add(-time.Hour), open[0].LoginTime)
}
