package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendtrack/internal/logging"
)

type countingHeartbeat struct{ n atomic.Int32 }

func (c *countingHeartbeat) Heartbeat() { c.n.Add(1) }

type fakeSweeper struct {
	calls    int
	deadline bool
}

func (f *fakeSweeper) MarkAbsent(ctx context.Context) int {
	f.calls++
	_, f.deadline = ctx.Deadline()
	return 2
}

func newScheduler() *Scheduler {
	return New(time.UTC, logging.Component(logging.Discard(), "jobs"))
}

func TestScheduleJobs(t *testing.T) {
	s := newScheduler()
	require.NoError(t, s.AddHeartbeat(5*time.Second, &countingHeartbeat{}))
	require.NoError(t, s.AddAbsentSweep("", &fakeSweeper{}, 0))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.AddAbsentSweep("0 17 * * 1-5", &fakeSweeper{}, 0))
	assert.Equal(t, 2, s.Len())

	assert.Error(t, s.AddAbsentSweep("not a schedule", &fakeSweeper{}, 0))
	assert.Error(t, s.AddHeartbeat(0, &countingHeartbeat{}))
}

func TestSweepJobUsesDeadline(t *testing.T) {
	sw := &fakeSweeper{}
	newScheduler().sweep(sw, time.Second)()
	assert.Equal(t, 1, sw.calls)
	assert.True(t, sw.deadline)
}

func TestHeartbeatRuns(t *testing.T) {
	s := newScheduler()
	hb := &countingHeartbeat{}
	require.NoError(t, s.AddHeartbeat(time.Second, hb))
	s.Start()
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool { return hb.n.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
