package sleepwake

import (
	"context"
	"time"

	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/types"
)

// WakeSignal is the single entry point every wake trigger (queue
// wake_needed, an explicit API call, a handoff reversal side effect)
// calls. Behavior depends entirely on the current state: DROWSY aborts
// its checkpoint and returns to ACTIVE; ASLEEP moves to _WAKING directly,
// or to _FINISHING_TASK first if the running sleep task is not
// interruptible; every other state is a no-op.
func (m *Manager) WakeSignal() {
	m.mu.Lock()
	state := m.state
	phase := m.phase
	m.mu.Unlock()

	switch state {
	case types.StateDrowsy:
		m.mu.Lock()
		m.pendingWake = true
		m.mu.Unlock()

	case types.StateAsleep:
		if phase == types.PhaseWaking || phase == types.PhaseFinishingTask {
			return // a wake is already in progress
		}
		m.beginAsleepWake()

	default:
		// ACTIVE, DREAMING, DISTRACTED, OFFLINE: no transition defined.
	}
}

func (m *Manager) beginAsleepWake() {
	if m.scheduler == nil {
		m.setPhase(types.PhaseWaking)
		go m.runWake()
		return
	}

	current, running := m.scheduler.Current()
	if running && !current.Interruptible {
		m.setPhase(types.PhaseFinishingTask)
		go m.awaitTaskThenWake()
		return
	}
	if running && current.Interruptible {
		m.scheduler.RequestCancel()
	}

	m.setPhase(types.PhaseWaking)
	go m.runWake()
}

// awaitTaskThenWake polls until the non-interruptible task currently
// running finishes, then proceeds to _WAKING.
func (m *Manager) awaitTaskThenWake() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.closed:
			return
		case <-ticker.C:
			if _, running := m.scheduler.Current(); !running {
				m.setPhase(types.PhaseWaking)
				go m.runWake()
				return
			}
		}
	}
}

// runWake drives the two concurrent wake paths. The
// manager transitions to ACTIVE as soon as the fast path acknowledges
// the first queued message, regardless of whether the slow path has
// finished bringing the primary worker up.
func (m *Manager) runWake() {
	go m.runSlowPath()
	m.runFastPath()
}

func (m *Manager) runFastPath() {
	timer := metrics.NewTimer()

	var reviewContext string
	if m.checkpoints != nil {
		reviewContext, _ = m.checkpoints.Read(m.checkpointKey)
	}

	if m.queue != nil && m.responder != nil {
		if msg, ok := m.queue.Dequeue(); ok {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := m.responder.Respond(ctx, reviewContext, msg); err != nil {
				m.logger.Warn().Err(err).Msg("fast-path wake responder failed")
			}
			cancel()
		}
	}

	timer.ObserveDurationVec(metrics.WakeLatency, "fast")
	m.setState(types.StateActive)
}

// runSlowPath brings the primary worker to a healthy running state,
// retrying with exponential backoff capped at 60s on failure. The
// service remains in ACTIVE, served by the responder, while this retries
// in the background. The manager has usually
// already reached ACTIVE via the fast path by the time this succeeds.
func (m *Manager) runSlowPath() {
	timer := metrics.NewTimer()

	for {
		select {
		case <-m.closed:
			return
		default:
		}

		if m.attemptSlowPath() {
			timer.ObserveDurationVec(metrics.WakeLatency, "slow")
			m.backoff.reset()
			return
		}

		wait := m.backoff.next()
		select {
		case <-time.After(wait):
		case <-m.closed:
			return
		}
	}
}

func (m *Manager) attemptSlowPath() bool {
	if m.backend == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := m.backend.Start(ctx, m.primaryWorker); err != nil {
		m.logger.Warn().Err(err).Msg("slow-path wake: primary worker start failed")
		return false
	}
	if err := m.waitHealthy(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("slow-path wake: primary worker never reported healthy")
		return false
	}
	return true
}

func (m *Manager) waitHealthy(ctx context.Context) error {
	if m.primaryChecker == nil {
		return nil
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.primaryChecker.Check(ctx).OK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
