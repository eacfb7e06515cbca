package container

import (
	"context"
	"sync"
	"time"

	"github.com/gaia-project/gaia-core/internal/types"
)

// FakeBackend is an in-memory Backend used by tests and local/dev runs
// where no real containerd socket is available, mirroring the teacher's
// use of lightweight fakes alongside its real runtime client.
type FakeBackend struct {
	mu        sync.Mutex
	status    map[types.WorkerName]Status
	endpoints map[types.WorkerName]string

	// FailStart/FailStop, when set for a worker, make the corresponding
	// call return ErrorKindUnavailable. Tests flip these to simulate a
	// worker that refuses to start or release.
	FailStart map[types.WorkerName]bool
	FailStop  map[types.WorkerName]bool

	// StartDelay/StopDelay simulate slow operations for deadline tests.
	StartDelay map[types.WorkerName]time.Duration
	StopDelay  map[types.WorkerName]time.Duration
}

// NewFakeBackend returns a FakeBackend with all configured workers
// initially stopped.
func NewFakeBackend(endpoints map[types.WorkerName]string) *FakeBackend {
	f := &FakeBackend{
		status:     make(map[types.WorkerName]Status),
		endpoints:  endpoints,
		FailStart:  make(map[types.WorkerName]bool),
		FailStop:   make(map[types.WorkerName]bool),
		StartDelay: make(map[types.WorkerName]time.Duration),
		StopDelay:  make(map[types.WorkerName]time.Duration),
	}
	for w := range endpoints {
		f.status[w] = Status{State: types.WorkerStateStopped}
	}
	return f
}

func (f *FakeBackend) Start(ctx context.Context, worker types.WorkerName) error {
	f.mu.Lock()
	delay := f.StartDelay[worker]
	fail := f.FailStart[worker]
	current := f.status[worker]
	f.mu.Unlock()

	if current.State == types.WorkerStateRunning {
		return nil
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &OpError{Kind: ErrorKindTimeout, Op: "start", Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if fail {
		return &OpError{Kind: ErrorKindUnavailable, Op: "start"}
	}

	restarts := f.status[worker].Restarts
	if !f.status[worker].StartedAt.IsZero() {
		restarts++
	}
	f.status[worker] = Status{State: types.WorkerStateRunning, Restarts: restarts, StartedAt: time.Now()}
	return nil
}

func (f *FakeBackend) Stop(ctx context.Context, worker types.WorkerName, grace time.Duration) error {
	f.mu.Lock()
	delay := f.StopDelay[worker]
	fail := f.FailStop[worker]
	f.mu.Unlock()

	if delay > 0 {
		wait := delay
		if wait > grace {
			wait = grace
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return &OpError{Kind: ErrorKindTimeout, Op: "stop", Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if fail {
		return &OpError{Kind: ErrorKindUnavailable, Op: "stop"}
	}

	s := f.status[worker]
	s.State = types.WorkerStateStopped
	f.status[worker] = s
	return nil
}

func (f *FakeBackend) Status(ctx context.Context, worker types.WorkerName) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.status[worker]
	if !ok {
		return Status{State: types.WorkerStateStopped}, nil
	}
	return s, nil
}

func (f *FakeBackend) HealthcheckEndpoint(worker types.WorkerName) string {
	return f.endpoints[worker]
}

// SetCrashed forces worker into the crashed state, for watchdog and
// handoff-failure test scenarios.
func (f *FakeBackend) SetCrashed(worker types.WorkerName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.status[worker]
	s.State = types.WorkerStateCrashed
	f.status[worker] = s
}
