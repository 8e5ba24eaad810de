package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"service-dispatch/internal/dispatch"
	testlog "service-dispatch/internal/testutil"
)

type countingTarget struct {
	calls atomic.Int32
	res   dispatch.SweepResult
}

func (c *countingTarget) Sweep(time.Time) dispatch.SweepResult {
	c.calls.Add(1)
	return c.res
}

func TestSweeper_RunsOnSchedule(t *testing.T) {
	t.Parallel()

	target := &countingTarget{res: dispatch.SweepResult{ExpiredSessions: 1}}
	rec := testlog.New()
	s, err := buildSweeper("@every 1s", target, rec.Logger())
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return target.calls.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	require.Eventually(t, func() bool { return rec.Has("sweep done") }, time.Second, 10*time.Millisecond)
}

func TestSweeper_QuietWhenNothingRemoved(t *testing.T) {
	t.Parallel()

	rec := testlog.New()
	s, err := buildSweeper("@every 1m", &countingTarget{}, rec.Logger())
	require.NoError(t, err)

	s.sweep()
	require.False(t, rec.Has("sweep done"))
}

func TestSweeper_BadSchedule(t *testing.T) {
	t.Parallel()

	_, err := buildSweeper("every minute", &countingTarget{}, testlog.New().Logger())
	require.Error(t, err)
}

func TestKvFields(t *testing.T) {
	t.Parallel()

	f := kvFields([]interface{}{"entry", 3, 42, "x", "dangling"})
	require.Len(t, f, 2)
	require.Equal(t, "entry", f[0].Key)
	require.Equal(t, "42", f[1].Key)
}
