// Package types holds the shared data model for the GAIA orchestration
// core: devices, workers, handoffs, health, routing, checkpoints, queued
// messages and the cognitive lifecycle state. It mirrors the role the
// teacher's pkg/types plays for Warren's cluster model, but the entities
// here are GAIA's own (Device/Worker/HandoffRecord/GaiaState/...) rather
// than Warren's (Node/Service/Container/...).
package types

import "time"

// WorkerName identifies one of the two workers that can own the Device.
type WorkerName string

const (
	WorkerPrime WorkerName = "prime"
	WorkerStudy WorkerName = "study"
)

// WorkerStatusState is the observed runtime state of a worker's container.
type WorkerStatusState string

const (
	WorkerStateRunning  WorkerStatusState = "running"
	WorkerStateStopped  WorkerStatusState = "stopped"
	WorkerStateCrashed  WorkerStatusState = "crashed"
	WorkerStateStarting WorkerStatusState = "starting"
)

// Worker is a unit that may own the Device (prime, study, or a candidate
// variant of either).
type Worker struct {
	Name             WorkerName
	ContainerHandle  string
	DesiredRunning   bool
	Health           WorkerStatusState
	LastStartedAt    time.Time
	RestartCount     int
	HealthEndpoint   string
}

// Device is the single exclusive compute resource arbitrated by the
// GPUHandoffCoordinator. At most one Worker owns it at any instant.
type Device struct {
	ID          string
	TotalMemMB  int64
	UsedMemMB   int64
}

// HandoffPhase is one state in the handoff state machine.
type HandoffPhase string

const (
	PhaseRequested       HandoffPhase = "requested"
	PhaseDrainingSource  HandoffPhase = "draining_source"
	PhaseWaitingRelease  HandoffPhase = "waiting_release"
	PhaseStartingTarget  HandoffPhase = "starting_target"
	PhaseVerifyingHealth HandoffPhase = "verifying_health"
	PhaseCompleted       HandoffPhase = "completed"
	PhaseFailed          HandoffPhase = "failed"
	PhaseCancelled       HandoffPhase = "cancelled"
)

// Terminal reports whether the phase is a terminal state.
func (p HandoffPhase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// HandoffResult is the terminal outcome of a handoff attempt.
type HandoffResult string

const (
	ResultCompleted HandoffResult = "completed"
	ResultFailed    HandoffResult = "failed"
	ResultCancelled HandoffResult = "cancelled"
	ResultTimedOut  HandoffResult = "timed_out"
)

// HandoffRecord is the audit record for one handoff attempt. Terminal
// records are retained for at least 24h.
type HandoffRecord struct {
	ID          string
	From        WorkerName
	To          WorkerName
	Phase       HandoffPhase
	Reason      string
	RequestedAt time.Time
	Deadline    time.Time
	CompletedAt time.Time
	Result      HandoffResult
	Error       string
}

// HealthSnapshot is the result of one HealthProbe check against a target.
type HealthSnapshot struct {
	Target     string
	OK         bool
	LatencyMS  int64
	ObservedAt time.Time
	HTTPCode   int
	ErrorKind  string
}

// Endpoint identifies a dialable network location for a logical role.
type Endpoint string

// RouteEntry is one role's routing state inside the HARouteTable.
type RouteEntry struct {
	Role                 string
	Primary              Endpoint
	Fallback              Endpoint
	Route                Endpoint
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// GaiaState is the public lifecycle state of one cognitive service.
// Only these six values are ever externally observable.
type GaiaState string

const (
	StateActive     GaiaState = "ACTIVE"
	StateDrowsy     GaiaState = "DROWSY"
	StateAsleep     GaiaState = "ASLEEP"
	StateDreaming   GaiaState = "DREAMING"
	StateDistracted GaiaState = "DISTRACTED"
	StateOffline    GaiaState = "OFFLINE"
)

// InternalPhase is an ASLEEP-only transient sub-state, never observable
// outside the SleepWakeManager.
type InternalPhase string

const (
	PhaseFinishingTask InternalPhase = "_FINISHING_TASK"
	PhaseWaking        InternalPhase = "_WAKING"
	PhaseNoneInternal  InternalPhase = ""
)

// SleepTask is one unit of background work the SleepTaskScheduler may run
// while the service is ASLEEP.
type SleepTask struct {
	ID                 string
	Priority            int
	Interruptible       bool
	EstimatedDuration   time.Duration
	LastRunAt           time.Time
	NeverRun            bool
	Action              func(cancelRequested func() bool) error
}

// QueuedMessage is one inbound user message held by the MessageQueue while
// the cognitive service is not ACTIVE.
type QueuedMessage struct {
	ID         string
	SessionID  string
	Content    string
	Source     string
	Priority   int
	EnqueuedAt time.Time
	Attempts   int
}

// Checkpoint is one versioned slot (current/previous) of a cognitive
// service's working-context summary.
type Checkpoint struct {
	Key  string
	Text string
	At   time.Time
}
