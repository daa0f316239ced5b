package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/store"
	"github.com/BTreeMap/FlowPipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJobValidatesExpression(t *testing.T) {
	s := NewScheduler()
	noop := func(context.Context) error { return nil }

	assert.NoError(t, s.AddJob("*/5 * * * *", "five-field", noop))
	assert.NoError(t, s.AddJob("@every 5m", "descriptor", noop))
	assert.Error(t, s.AddJob("every now and then", "bogus", noop))
}

func TestJobsRunAndSurviveFailures(t *testing.T) {
	s := NewScheduler()
	var ok, failed atomic.Int32
	require.NoError(t, s.AddJob("@every 1s", "ok", func(context.Context) error {
		ok.Add(1)
		return nil
	}))
	require.NoError(t, s.AddJob("@every 1s", "failing", func(context.Context) error {
		failed.Add(1)
		return errors.New("boom")
	}))
	require.NoError(t, s.AddJob("@every 1s", "panicking", func(context.Context) error {
		panic("boom")
	}))

	s.Start()
	defer s.Stop()
	assert.True(t, testutil.Eventually(func() bool { return ok.Load() > 0 && failed.Load() > 0 }))
}

func TestRunAppliesTimeout(t *testing.T) {
	s := NewScheduler()
	s.timeout = 10 * time.Millisecond
	var hadDeadline bool
	s.run("deadline", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})
	assert.True(t, hadDeadline)
}

type failingSweeper struct{}

func (failingSweeper) DeleteExpired(context.Context) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestSweepSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 5, 14, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	mem := store.NewInMemoryStore(store.WithClock(clock))
	require.NoError(t, mem.Upsert(ctx, models.NewSession("5511999998888", "main", models.FlowBilling)))

	now = now.Add(store.DefaultSessionTTL + time.Second)
	require.NoError(t, SweepSessions(mem)(ctx))
	n, err := mem.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "sweep already removed the expired session")

	assert.Error(t, SweepSessions(failingSweeper{})(ctx))
}
