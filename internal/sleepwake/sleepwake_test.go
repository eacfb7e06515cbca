package sleepwake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-project/gaia-core/internal/checkpoint"
	"github.com/gaia-project/gaia-core/internal/config"
	"github.com/gaia-project/gaia-core/internal/container"
	"github.com/gaia-project/gaia-core/internal/gaiaerr"
	"github.com/gaia-project/gaia-core/internal/queue"
	"github.com/gaia-project/gaia-core/internal/sleeptask"
	"github.com/gaia-project/gaia-core/internal/types"
)

type fakeBackend struct {
	mu        sync.Mutex
	startErr  error
	startedAt map[types.WorkerName]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{startedAt: make(map[types.WorkerName]int)}
}

func (f *fakeBackend) Start(ctx context.Context, worker types.WorkerName) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.startedAt[worker]++
	return nil
}
func (f *fakeBackend) Stop(ctx context.Context, worker types.WorkerName, grace time.Duration) error {
	return nil
}
func (f *fakeBackend) Status(ctx context.Context, worker types.WorkerName) (container.Status, error) {
	return container.Status{State: types.WorkerStateRunning}, nil
}
func (f *fakeBackend) HealthcheckEndpoint(worker types.WorkerName) string { return "" }

type fakeChecker struct{ ok bool }

func (f *fakeChecker) Check(ctx context.Context) types.HealthSnapshot {
	return types.HealthSnapshot{OK: f.ok, ObservedAt: time.Now()}
}

type fakeResponder struct {
	mu       sync.Mutex
	received []types.QueuedMessage
}

func (f *fakeResponder) Respond(ctx context.Context, reviewContext string, msg types.QueuedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
	return nil
}

func (f *fakeResponder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

type fakeProducer struct {
	text  string
	err   error
	delay time.Duration
}

func (f *fakeProducer) Produce(ctx context.Context) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.text, f.err
}

func newTestCheckpointStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	s, err := checkpoint.New(t.TempDir(), 0)
	require.NoError(t, err)
	return s
}

func newTestManager(t *testing.T, backend *fakeBackend, checker *fakeChecker, responder *fakeResponder, producer CheckpointProducer) *Manager {
	t.Helper()
	m := New(Config{
		Service:        "cognition",
		PrimaryWorker:  types.WorkerPrime,
		Checkpoints:    newTestCheckpointStore(t),
		CheckpointKey:  "cognition",
		Producer:       producer,
		Queue:          queue.New("cognition"),
		Scheduler:      sleeptask.New("cognition", nil),
		Backend:        backend,
		PrimaryChecker: checker,
		Responder:      responder,
		Sleep: config.SleepConfig{
			IdleThreshold:   50 * time.Millisecond,
			WakeBackoffBase: 10 * time.Millisecond,
			WakeBackoffMax:  40 * time.Millisecond,
		},
	})
	return m
}

func waitForState(t *testing.T, m *Manager, want types.GaiaState) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, _ := m.State()
		return state == want
	}, 2*time.Second, 5*time.Millisecond, "never reached state %s", want)
}

func TestManager_StartsActive(t *testing.T) {
	m := newTestManager(t, newFakeBackend(), &fakeChecker{ok: true}, &fakeResponder{}, &fakeProducer{text: "ctx"})
	state, phase := m.State()
	assert.Equal(t, types.StateActive, state)
	assert.Equal(t, types.PhaseNoneInternal, phase)
}

func TestManager_IdleTicksDriveActiveToAsleep(t *testing.T) {
	m := newTestManager(t, newFakeBackend(), &fakeChecker{ok: true}, &fakeResponder{}, &fakeProducer{text: "ctx"})

	time.Sleep(60 * time.Millisecond)
	m.Tick()
	waitForState(t, m, types.StateAsleep)

	text, ok := m.checkpoints.Read("cognition")
	require.True(t, ok)
	assert.Equal(t, "ctx", text)
}

func TestManager_WakeSignalDuringDrowsyAbortsCheckpointAndReturnsActive(t *testing.T) {
	slowProducer := &fakeProducer{text: "ctx", delay: 200 * time.Millisecond}
	m := newTestManager(t, newFakeBackend(), &fakeChecker{ok: true}, &fakeResponder{}, slowProducer)

	m.enterDrowsy()
	state, _ := m.State()
	require.Equal(t, types.StateDrowsy, state)

	m.WakeSignal()
	waitForState(t, m, types.StateActive)

	_, ok := m.checkpoints.Read("cognition")
	assert.False(t, ok, "aborted checkpoint must not become visible")
}

func TestManager_CheckpointWriteFailureFallsBackToActive(t *testing.T) {
	m := newTestManager(t, newFakeBackend(), &fakeChecker{ok: true}, &fakeResponder{}, &fakeProducer{err: errors.New("boom")})

	m.enterDrowsy()
	waitForState(t, m, types.StateActive)
}

func TestManager_WakeSignalFromAsleepRunsFastAndSlowPaths(t *testing.T) {
	backend := newFakeBackend()
	checker := &fakeChecker{ok: true}
	responder := &fakeResponder{}
	m := newTestManager(t, backend, checker, responder, &fakeProducer{text: "ctx"})

	m.checkpoints.Write("cognition", "resume context")
	m.queue.Enqueue(types.QueuedMessage{ID: "m1", Content: "hello", EnqueuedAt: time.Now()})
	m.setState(types.StateAsleep)

	m.WakeSignal()
	waitForState(t, m, types.StateActive)

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.startedAt[types.WorkerPrime] == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, responder.count())
}

func TestManager_NonInterruptibleTaskDelaysWakeUntilFinishingTask(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	task := &types.SleepTask{ID: "train", Interruptible: false}
	task.Action = func(cancelRequested func() bool) error {
		close(started)
		<-release
		return nil
	}
	sched := sleeptask.New("cognition", []*types.SleepTask{task})

	m := New(Config{
		Service:        "cognition",
		PrimaryWorker:  types.WorkerPrime,
		Checkpoints:    newTestCheckpointStore(t),
		CheckpointKey:  "cognition",
		Queue:          queue.New("cognition"),
		Scheduler:      sched,
		Backend:        newFakeBackend(),
		PrimaryChecker: &fakeChecker{ok: true},
		Responder:      &fakeResponder{},
		Sleep:          config.SleepConfig{IdleThreshold: time.Hour},
	})
	m.setState(types.StateAsleep)

	go sched.Execute(task)
	<-started

	m.WakeSignal()
	_, phase := m.State()
	assert.Equal(t, types.PhaseFinishingTask, phase)

	close(release)
	waitForState(t, m, types.StateActive)
}

func TestManager_DistractionOverlayRecordsAndRestoresResumeTarget(t *testing.T) {
	m := newTestManager(t, newFakeBackend(), &fakeChecker{ok: true}, &fakeResponder{}, &fakeProducer{text: "ctx"})
	m.setState(types.StateAsleep)

	m.DistractionChanged(true)
	waitForState(t, m, types.StateDistracted)

	m.DistractionChanged(false)
	waitForState(t, m, types.StateAsleep)
}

func TestManager_DistractionIgnoredWhenOffline(t *testing.T) {
	m := newTestManager(t, newFakeBackend(), &fakeChecker{ok: true}, &fakeResponder{}, &fakeProducer{text: "ctx"})
	m.Shutdown()

	m.DistractionChanged(true)
	state, _ := m.State()
	assert.Equal(t, types.StateOffline, state)
}

func TestManager_HandoffTerminalEntersAndLeavesDreaming(t *testing.T) {
	m := newTestManager(t, newFakeBackend(), &fakeChecker{ok: true}, &fakeResponder{}, &fakeProducer{text: "ctx"})
	m.setState(types.StateAsleep)

	m.OnHandoffTerminal(types.HandoffRecord{
		ID: "h1", From: types.WorkerPrime, To: types.WorkerStudy, Result: types.ResultCompleted,
	})
	waitForState(t, m, types.StateDreaming)

	m.OnHandoffTerminal(types.HandoffRecord{
		ID: "h2", From: types.WorkerStudy, To: types.WorkerPrime, Result: types.ResultCompleted,
	})
	waitForState(t, m, types.StateAsleep)
}

func TestManager_MismatchedExitNotificationIgnoredWhenNotDreaming(t *testing.T) {
	m := newTestManager(t, newFakeBackend(), &fakeChecker{ok: true}, &fakeResponder{}, &fakeProducer{text: "ctx"})

	m.OnHandoffTerminal(types.HandoffRecord{
		ID: "stale", From: types.WorkerStudy, To: types.WorkerPrime, Result: types.ResultCompleted,
	})
	state, _ := m.State()
	assert.Equal(t, types.StateActive, state)
}

func TestManager_EntryNotificationRejectedWhenNotAsleep(t *testing.T) {
	m := newTestManager(t, newFakeBackend(), &fakeChecker{ok: true}, &fakeResponder{}, &fakeProducer{text: "ctx"})

	err := m.HandoffTerminal(types.HandoffRecord{
		ID: "early", From: types.WorkerPrime, To: types.WorkerStudy, Result: types.ResultCompleted,
	})
	require.ErrorIs(t, err, gaiaerr.ErrStateViolation)

	state, _ := m.State()
	assert.Equal(t, types.StateActive, state)
}

func TestManager_CannedResponseOnlyDuringDreamingOrDistracted(t *testing.T) {
	m := New(Config{
		Service:            "cognition",
		PrimaryWorker:      types.WorkerPrime,
		Checkpoints:        newTestCheckpointStore(t),
		Queue:              queue.New("cognition"),
		Scheduler:          sleeptask.New("cognition", nil),
		Backend:            newFakeBackend(),
		PrimaryChecker:     &fakeChecker{ok: true},
		Responder:          &fakeResponder{},
		CannedResponseText: "still dreaming",
	})

	_, ok := m.CannedResponse()
	assert.False(t, ok)

	m.setState(types.StateDreaming)
	text, ok := m.CannedResponse()
	assert.True(t, ok)
	assert.Equal(t, "still dreaming", text)
}

func TestManager_SlowPathRetriesWithBackoffUntilBackendRecovers(t *testing.T) {
	backend := newFakeBackend()
	backend.startErr = errors.New("gpu busy")

	m := newTestManager(t, backend, &fakeChecker{ok: true}, &fakeResponder{}, &fakeProducer{text: "ctx"})
	m.setState(types.StateAsleep)

	m.WakeSignal()
	waitForState(t, m, types.StateActive) // fast path still proceeds immediately

	time.Sleep(30 * time.Millisecond)
	backend.mu.Lock()
	backend.startErr = nil
	backend.mu.Unlock()

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.startedAt[types.WorkerPrime] > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_ShutdownStopsIdleLoopAndGoesOffline(t *testing.T) {
	m := newTestManager(t, newFakeBackend(), &fakeChecker{ok: true}, &fakeResponder{}, &fakeProducer{text: "ctx"})
	m.Start()
	m.Shutdown()

	state, _ := m.State()
	assert.Equal(t, types.StateOffline, state)
}
