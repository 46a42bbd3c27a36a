package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/stock-ingest-pipeline/internal/logger"
)

func TestRegister(t *testing.T) {
	s := New(context.Background(), time.Minute, nil)

	t.Run("six-field spec with seconds", func(t *testing.T) {
		assert.NoError(t, s.Register("0 0 18 * * 1-5", "daily", func(context.Context) {}))
	})

	t.Run("invalid spec", func(t *testing.T) {
		err := s.Register("not a cron", "broken", func(context.Context) {})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken")
	})
}

func TestRunAppliesTimeout(t *testing.T) {
	rec := logger.NewRecorder()
	s := New(context.Background(), 50*time.Millisecond, rec)

	var deadline time.Time
	var hasDeadline bool
	s.run("ingest", func(ctx context.Context) {
		deadline, hasDeadline = ctx.Deadline()
		<-ctx.Done()
	})

	assert.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now(), deadline, time.Second)
	assert.Len(t, rec.Find("Task started"), 1)
	assert.Len(t, rec.Find("Task finished"), 1)
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping timing test in short mode")
	}

	rec := logger.NewRecorder()
	s := New(context.Background(), time.Minute, rec)

	var started atomic.Int32
	release := make(chan struct{})
	require.NoError(t, s.Register("@every 1s", "slow", func(ctx context.Context) {
		started.Add(1)
		<-release
	}))

	s.Start()
	time.Sleep(2500 * time.Millisecond)
	close(release)
	s.Stop()

	assert.Equal(t, int32(1), started.Load())
	assert.NotEmpty(t, rec.Find("cron: skip"))
}

func TestCronLoggerFields(t *testing.T) {
	rec := logger.NewRecorder()
	cl := cronLogger{log: rec}

	cl.Info("wake", "now", "2024-01-15", "dangling")

	entries := rec.Find("cron: wake")
	require.Len(t, entries, 1)
	assert.Equal(t, logger.DebugLevel, entries[0].Level)
	assert.Equal(t, "2024-01-15", entries[0].Fields["now"])
	assert.NotContains(t, entries[0].Fields, "dangling")
}

func TestRunNowSharesTheOverlapGuard(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping timing test in short mode")
	}

	rec := logger.NewRecorder()
	s := New(context.Background(), time.Minute, rec)

	var started atomic.Int32
	release := make(chan struct{})
	require.NoError(t, s.Register("@every 1s", "slow", func(ctx context.Context) {
		started.Add(1)
		<-release
	}))
	s.Start()

	done := make(chan error, 1)
	go func() { done <- s.RunNow("slow") }()

	// the run started now is still going when the first tick fires
	time.Sleep(1500 * time.Millisecond)
	close(release)
	require.NoError(t, <-done)
	s.Stop()

	assert.Equal(t, int32(1), started.Load())
	assert.NotEmpty(t, rec.Find("cron: skip"))
}

func TestRunNowUnknownTask(t *testing.T) {
	s := New(context.Background(), time.Minute, nil)
	err := s.RunNow("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}
