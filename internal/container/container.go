// Package container defines the ContainerBackend contract: the minimum
// set of operations the orchestration core requires of
// whatever process supervisor actually owns the prime/study worker
// containers. Backend is a black box to every other package in this
// module; internal/handoff, internal/sleepwake and the promotion hooks
// in cmd/gaia call it.
package container

import (
	"context"
	"time"

	"github.com/gaia-project/gaia-core/internal/types"
)

// ErrorKind classifies a Backend operation failure.
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindUnavailable ErrorKind = "unavailable"
	ErrorKindInternal    ErrorKind = "internal"
)

// OpError is returned by Backend operations that fail; Kind lets callers
// (the handoff coordinator, the sleep/wake manager) decide whether to
// retry, escalate, or surface a contract violation.
type OpError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Kind)
	}
	return e.Op + ": " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// Status is the observed runtime state of a worker's container.
type Status struct {
	State     types.WorkerStatusState
	Restarts  int
	StartedAt time.Time
}

// Backend starts, stops, and inspects the processes that own a GPU
// device. Implementations may wrap any process supervisor; the core
// never looks past this interface.
type Backend interface {
	// Start begins the worker's process. Idempotent: starting an
	// already-running worker is a no-op.
	Start(ctx context.Context, worker types.WorkerName) error

	// Stop signals graceful shutdown, escalating to a forceful stop once
	// grace elapses.
	Stop(ctx context.Context, worker types.WorkerName, grace time.Duration) error

	// Status reports the worker's current observed state.
	Status(ctx context.Context, worker types.WorkerName) (Status, error)

	// HealthcheckEndpoint returns the URL the HealthProbe should dial for
	// this worker.
	HealthcheckEndpoint(worker types.WorkerName) string
}
