// Package sleepwake implements the SleepWakeManager: the
// six-public-state lifecycle (ACTIVE/DROWSY/ASLEEP/DREAMING/DISTRACTED/
// OFFLINE) one cognitive service moves through, plus the two internal
// ASLEEP-only phases (_FINISHING_TASK, _WAKING) that are never externally
// observable. Grounded on the same cooperative-loop idiom the teacher's
// pkg/reconciler and the sibling internal/watchdog and internal/sleeptask
// packages use (Start/Stop over a stopCh, a single-writer state machine
// serialized by one mutex), since nothing in the teacher's own pack
// models a multi-state lifecycle of this shape.
package sleepwake

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaia-project/gaia-core/internal/checkpoint"
	"github.com/gaia-project/gaia-core/internal/config"
	"github.com/gaia-project/gaia-core/internal/container"
	"github.com/gaia-project/gaia-core/internal/gaiaerr"
	"github.com/gaia-project/gaia-core/internal/health"
	"github.com/gaia-project/gaia-core/internal/log"
	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/queue"
	"github.com/gaia-project/gaia-core/internal/sleeptask"
	"github.com/gaia-project/gaia-core/internal/types"
)

// Responder dispatches a queued message to whatever answers user
// requests, optionally prefixed with review context produced from a
// checkpoint. The fast wake path and normal ACTIVE serving both use it;
// the core never looks past the interface.
type Responder interface {
	Respond(ctx context.Context, reviewContext string, msg types.QueuedMessage) error
}

// CheckpointProducer builds the text written to the CheckpointStore when
// entering DROWSY. Left pluggable since producing a working-context
// summary is the cognitive service's own concern, not this package's.
type CheckpointProducer interface {
	Produce(ctx context.Context) (string, error)
}

// Config wires a Manager to its collaborators.
type Config struct {
	Service       string
	PrimaryWorker types.WorkerName

	Checkpoints   *checkpoint.Store
	CheckpointKey string
	Producer      CheckpointProducer

	Queue     *queue.Queue
	Scheduler *sleeptask.Scheduler

	Backend        container.Backend
	PrimaryChecker health.Checker
	Responder      Responder

	// StreamingActive reports whether a response is currently streaming
	// to the user; ACTIVE->DROWSY is refused while true. Nil means never.
	StreamingActive func() bool

	// Distracted mirrors internal/resourceprobe.Probe.Distracted and is
	// polled once per tick of the idle-watch loop.
	Distracted func() bool

	CannedResponseText string

	Sleep config.SleepConfig
}

// Manager drives one cognitive service's lifecycle state machine.
type Manager struct {
	service       string
	primaryWorker types.WorkerName

	checkpoints   *checkpoint.Store
	checkpointKey string
	producer      CheckpointProducer

	queue     *queue.Queue
	scheduler *sleeptask.Scheduler

	backend        container.Backend
	primaryChecker health.Checker
	responder      Responder

	streamingActive func() bool
	distractedFn    func() bool
	cannedResponse  string

	idleThreshold time.Duration
	backoff       *wakeBackoff

	logger zerolog.Logger

	mu           sync.Mutex
	state        types.GaiaState
	phase        types.InternalPhase
	resumeTarget types.GaiaState
	pendingWake  bool
	dreamHandoffID string
	lastActivityAt time.Time
	lastChangeAt   time.Time

	idleStopCh chan struct{}
	idleWg     sync.WaitGroup

	closed    chan struct{}
	closeOnce sync.Once
}

// New constructs a Manager in the ACTIVE state.
func New(cfg Config) *Manager {
	idle := cfg.Sleep.IdleThreshold
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	base := cfg.Sleep.WakeBackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := cfg.Sleep.WakeBackoffMax
	if max <= 0 {
		max = 60 * time.Second
	}

	m := &Manager{
		service:         cfg.Service,
		primaryWorker:   cfg.PrimaryWorker,
		checkpoints:     cfg.Checkpoints,
		checkpointKey:   cfg.CheckpointKey,
		producer:        cfg.Producer,
		queue:           cfg.Queue,
		scheduler:       cfg.Scheduler,
		backend:         cfg.Backend,
		primaryChecker:  cfg.PrimaryChecker,
		responder:       cfg.Responder,
		streamingActive: cfg.StreamingActive,
		distractedFn:    cfg.Distracted,
		cannedResponse:  cfg.CannedResponseText,
		idleThreshold:   idle,
		backoff:         newWakeBackoff(cfg.Service, base, max),
		logger:          log.WithService(cfg.Service),
		state:           types.StateActive,
		phase:           types.PhaseNoneInternal,
		lastActivityAt:  time.Now(),
		lastChangeAt:    time.Now(),
		closed:          make(chan struct{}),
	}

	metrics.ServiceState.WithLabelValues(m.service, string(types.StateActive)).Set(1)

	if m.queue != nil {
		m.queue.OnWakeNeeded(m.WakeSignal)
	}
	return m
}

// State returns the current public state and, when ASLEEP, the internal
// phase (PhaseNoneInternal otherwise).
func (m *Manager) State() (types.GaiaState, types.InternalPhase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.phase
}

// NotifyActivity resets the idle clock; callers report it on every
// inbound user interaction while ACTIVE.
func (m *Manager) NotifyActivity() {
	m.mu.Lock()
	m.lastActivityAt = time.Now()
	m.mu.Unlock()
}

// CannedResponse returns the pre-configured text to send instead of
// dispatching to the responder, when the state is DREAMING or
// DISTRACTED, its canned_response gate.
func (m *Manager) CannedResponse() (string, bool) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == types.StateDreaming || state == types.StateDistracted {
		return m.cannedResponse, true
	}
	return "", false
}

// Start begins the idle/distraction watch loop.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.idleStopCh != nil {
		m.mu.Unlock()
		return
	}
	m.idleStopCh = make(chan struct{})
	stopCh := m.idleStopCh
	m.mu.Unlock()

	m.idleWg.Add(1)
	go m.runIdleWatch(stopCh)
}

// Stop halts the idle/distraction watch loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	stopCh := m.idleStopCh
	m.idleStopCh = nil
	m.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	m.idleWg.Wait()
}

// Shutdown transitions to the terminal OFFLINE state and halts every
// background loop, including in-flight wake backoff retries.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() { close(m.closed) })
	m.Stop()
	m.setState(types.StateOffline)
}

func (m *Manager) runIdleWatch(stopCh chan struct{}) {
	defer m.idleWg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Tick()
		case <-stopCh:
			return
		}
	}
}

// Tick runs one idle/distraction evaluation cycle. Exported so tests can
// drive it synchronously.
func (m *Manager) Tick() {
	if m.distractedFn != nil {
		m.DistractionChanged(m.distractedFn())
	}

	m.mu.Lock()
	state := m.state
	idleFor := time.Since(m.lastActivityAt)
	m.mu.Unlock()

	streaming := m.streamingActive != nil && m.streamingActive()
	if state == types.StateActive && !streaming && idleFor >= m.idleThreshold {
		m.enterDrowsy()
	}
}

// DistractionChanged applies the DISTRACTED overlay from any non-OFFLINE
// state, or returns from it to the recorded resume target once load
// subsides. A trigger that arrives in a state where it has no effect
// (already DISTRACTED/OFFLINE on the way in, or not DISTRACTED on the
// way out) is a state-machine violation and is logged, not applied.
func (m *Manager) DistractionChanged(active bool) {
	m.mu.Lock()
	cur := m.state
	if active && (cur == types.StateDistracted || cur == types.StateOffline) {
		m.mu.Unlock()
		m.logger.Warn().Str("state", string(cur)).Msg("distraction trigger refused: already distracted or offline")
		return
	}
	if !active && cur != types.StateDistracted {
		m.mu.Unlock()
		m.logger.Warn().Str("state", string(cur)).Msg("distraction-cleared trigger refused: not distracted")
		return
	}

	var target types.GaiaState
	if active {
		m.resumeTarget = cur
		target = types.StateDistracted
	} else {
		target = m.resumeTarget
	}
	m.mu.Unlock()

	m.setState(target)
}

// OnHandoffTerminal implements internal/handoff.OwnerChangeListener. See
// HandoffTerminal for the transition rules; the listener interface has
// no error return, so a rejected trigger is logged and otherwise
// dropped here.
func (m *Manager) OnHandoffTerminal(record types.HandoffRecord) {
	_ = m.HandoffTerminal(record)
}

// HandoffTerminal enters DREAMING once a prime->study handoff completes
// while ASLEEP, and leaves DREAMING once the matching study->prime
// handoff completes. Either trigger arriving in a state it is not
// permitted from (a prime->study completion while not ASLEEP, or a
// study->prime completion while not DREAMING) is a state-machine
// violation: it is logged at WARN and rejected with ErrStateViolation
// rather than applied, so callers with their own request to answer (the
// HTTP study-handoff notification surface) can report it.
func (m *Manager) HandoffTerminal(record types.HandoffRecord) error {
	if record.Result != types.ResultCompleted {
		return nil
	}

	switch {
	case record.From == types.WorkerPrime && record.To == types.WorkerStudy:
		m.mu.Lock()
		if m.state != types.StateAsleep {
			cur := m.state
			m.mu.Unlock()
			m.logger.Warn().Str("state", string(cur)).Str("handoff_id", record.ID).
				Msg("prime->study handoff completion refused: not asleep")
			return gaiaerr.ErrStateViolation
		}
		m.dreamHandoffID = record.ID
		m.mu.Unlock()
		m.setState(types.StateDreaming)

	case record.From == types.WorkerStudy && record.To == types.WorkerPrime:
		m.mu.Lock()
		if m.state != types.StateDreaming {
			cur := m.state
			m.mu.Unlock()
			m.logger.Warn().Str("state", string(cur)).Str("handoff_id", record.ID).
				Msg("study->prime handoff completion refused: not dreaming")
			return gaiaerr.ErrStateViolation
		}
		m.dreamHandoffID = ""
		m.mu.Unlock()
		m.setState(types.StateAsleep)
	}
	return nil
}

// StatusSnapshot is the read-only view the HTTP surface reports at
// GET /sleep/status.
type StatusSnapshot struct {
	State          types.GaiaState
	Phase          types.InternalPhase
	WakePending    bool
	CurrentTask    string
	LastChangeAt   time.Time
	SecondsInState float64
}

// Status returns a point-in-time snapshot for the HTTP status surface.
func (m *Manager) Status() StatusSnapshot {
	m.mu.Lock()
	snap := StatusSnapshot{
		State:        m.state,
		Phase:        m.phase,
		WakePending:  m.pendingWake,
		LastChangeAt: m.lastChangeAt,
	}
	m.mu.Unlock()

	snap.SecondsInState = time.Since(snap.LastChangeAt).Seconds()
	if m.scheduler != nil {
		if task, running := m.scheduler.Current(); running {
			snap.CurrentTask = task.ID
		}
	}
	return snap
}

func (m *Manager) setState(newState types.GaiaState) {
	m.mu.Lock()
	old := m.state
	m.state = newState
	m.phase = types.PhaseNoneInternal
	if old != newState {
		m.lastChangeAt = time.Now()
	}
	m.mu.Unlock()

	if old == newState {
		return
	}
	metrics.ServiceState.WithLabelValues(m.service, string(old)).Set(0)
	metrics.ServiceState.WithLabelValues(m.service, string(newState)).Set(1)
	metrics.SleepTransitionsTotal.WithLabelValues(m.service, string(old), string(newState)).Inc()
	m.logger.Info().Str("from", string(old)).Str("to", string(newState)).Msg("state transition")
}

func (m *Manager) setPhase(p types.InternalPhase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}
