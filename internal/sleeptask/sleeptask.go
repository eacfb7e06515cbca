// Package sleeptask implements the SleepTaskScheduler: it
// selects the highest-priority, oldest-last-run background task and
// runs it cooperatively while a cognitive service is ASLEEP. Grounded on
// the teacher's pkg/scheduler Start/Stop/ticker-loop shape, but the
// selection itself is a plain sort instead of a bin-packing placement
// decision, since there is exactly one thing to schedule onto: "now".
package sleeptask

import (
	"sort"
	"sync"
	"time"

	"github.com/gaia-project/gaia-core/internal/log"
	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/types"
)

// Scheduler holds a fixed roster of SleepTasks and runs one at a time
// on behalf of a single cognitive service.
type Scheduler struct {
	service string

	mu    sync.Mutex
	tasks []*types.SleepTask

	current         *types.SleepTask
	cancelRequested bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a Scheduler over the given task roster. Tasks are held by
// pointer so LastRunAt/NeverRun updates are visible to the caller's
// original slice.
func New(service string, tasks []*types.SleepTask) *Scheduler {
	return &Scheduler{service: service, tasks: tasks}
}

// NextTask selects the highest-priority task whose last run is oldest,
// ties broken by never-run-yet first. Returns nil if the
// roster is empty.
func (s *Scheduler) NextTask() *types.SleepTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextTaskLocked()
}

func (s *Scheduler) nextTaskLocked() *types.SleepTask {
	if len(s.tasks) == 0 {
		return nil
	}

	candidates := append([]*types.SleepTask(nil), s.tasks...)
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.NeverRun != b.NeverRun {
			return a.NeverRun // never-run first
		}
		return a.LastRunAt.Before(b.LastRunAt)
	})
	return candidates[0]
}

// Current returns the task presently executing and whether one is
// running. The SleepWakeManager consults Interruptible on this to
// decide between _WAKING and _FINISHING_TASK on a wake signal.
func (s *Scheduler) Current() (task types.SleepTask, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return types.SleepTask{}, false
	}
	return *s.current, true
}

// RequestCancel asks the currently-running task to abort at its next
// cooperative checkpoint. A no-op if no task is running or the running
// task is non-interruptible: non-interruptible tasks must
// complete before the manager may leave ASLEEP via a wake signal.
func (s *Scheduler) RequestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.Interruptible {
		s.cancelRequested = true
	}
}

func (s *Scheduler) cancelRequestedFlag() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

// Execute runs task synchronously, tracking it as current for the
// duration, and updates its LastRunAt/NeverRun metadata on return.
func (s *Scheduler) Execute(task *types.SleepTask) error {
	logger := log.WithComponent("sleeptask")

	s.mu.Lock()
	s.current = task
	s.cancelRequested = false
	s.mu.Unlock()

	timer := metrics.NewTimer()
	err := task.Action(s.cancelRequestedFlag)
	timer.ObserveDurationVec(metrics.SleepTaskDuration, task.ID)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.SleepTasksRunTotal.WithLabelValues(s.service, task.ID, outcome).Inc()

	task.LastRunAt = time.Now()
	task.NeverRun = false

	s.mu.Lock()
	s.current = nil
	s.cancelRequested = false
	s.mu.Unlock()

	if err != nil {
		logger.Warn().Err(err).Str("task_id", task.ID).Msg("sleep task returned an error")
	}
	return err
}

// Start begins a background loop that repeatedly selects and executes
// the next task, pausing briefly whenever the roster is empty or every
// task is currently running (never, since only one runs at a time).
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(stopCh)
}

// Stop halts the loop after the currently-executing task returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	s.wg.Wait()
}

func (s *Scheduler) run(stopCh chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		task := s.NextTask()
		if task == nil {
			select {
			case <-time.After(time.Second):
			case <-stopCh:
				return
			}
			continue
		}

		_ = s.Execute(task)
	}
}
