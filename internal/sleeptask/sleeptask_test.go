package sleeptask

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-project/gaia-core/internal/types"
)

func TestScheduler_NextTaskPrefersHigherPriority(t *testing.T) {
	low := &types.SleepTask{ID: "low", Priority: 1, NeverRun: true}
	high := &types.SleepTask{ID: "high", Priority: 5, NeverRun: true}
	s := New("gaia", []*types.SleepTask{low, high})

	assert.Equal(t, "high", s.NextTask().ID)
}

func TestScheduler_NextTaskPrefersNeverRunOnTie(t *testing.T) {
	ran := &types.SleepTask{ID: "ran", Priority: 1, LastRunAt: time.Now()}
	never := &types.SleepTask{ID: "never", Priority: 1, NeverRun: true}
	s := New("gaia", []*types.SleepTask{ran, never})

	assert.Equal(t, "never", s.NextTask().ID)
}

func TestScheduler_NextTaskPrefersOldestLastRun(t *testing.T) {
	recent := &types.SleepTask{ID: "recent", Priority: 1, LastRunAt: time.Now()}
	stale := &types.SleepTask{ID: "stale", Priority: 1, LastRunAt: time.Now().Add(-time.Hour)}
	s := New("gaia", []*types.SleepTask{recent, stale})

	assert.Equal(t, "stale", s.NextTask().ID)
}

func TestScheduler_ExecuteUpdatesLastRunAndClearsNeverRun(t *testing.T) {
	task := &types.SleepTask{
		ID:       "t1",
		NeverRun: true,
		Action:   func(cancelRequested func() bool) error { return nil },
	}
	s := New("gaia", []*types.SleepTask{task})

	require.NoError(t, s.Execute(task))
	assert.False(t, task.NeverRun)
	assert.WithinDuration(t, time.Now(), task.LastRunAt, time.Second)
}

func TestScheduler_ExecutePropagatesActionError(t *testing.T) {
	boom := errors.New("boom")
	task := &types.SleepTask{ID: "t1", Action: func(cancelRequested func() bool) error { return boom }}
	s := New("gaia", []*types.SleepTask{task})

	err := s.Execute(task)
	assert.ErrorIs(t, err, boom)
}

func TestScheduler_CancelRequestedVisibleInsideAction(t *testing.T) {
	task := &types.SleepTask{ID: "t1", Interruptible: true}
	s := New("gaia", []*types.SleepTask{task})

	sawCancel := make(chan bool, 1)
	task.Action = func(cancelRequested func() bool) error {
		s.RequestCancel()
		sawCancel <- cancelRequested()
		return nil
	}

	require.NoError(t, s.Execute(task))
	assert.True(t, <-sawCancel)
}

func TestScheduler_CurrentReflectsRunningTask(t *testing.T) {
	task := &types.SleepTask{ID: "t1", Interruptible: true}
	s := New("gaia", []*types.SleepTask{task})

	var observedRunning bool
	task.Action = func(cancelRequested func() bool) error {
		current, running := s.Current()
		observedRunning = running
		assert.Equal(t, "t1", current.ID)
		return nil
	}

	require.NoError(t, s.Execute(task))
	assert.True(t, observedRunning)

	_, running := s.Current()
	assert.False(t, running, "current clears once execution finishes")
}

func TestScheduler_StartStopRunsRoster(t *testing.T) {
	ran := make(chan struct{}, 1)
	task := &types.SleepTask{
		ID:       "t1",
		NeverRun: true,
		Action: func(cancelRequested func() bool) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	}
	s := New("gaia", []*types.SleepTask{task})

	s.Start()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
	s.Stop()
}
