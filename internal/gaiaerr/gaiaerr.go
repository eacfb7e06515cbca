// Package gaiaerr defines the contract-violation error taxonomy: errors
// a caller invoked incorrectly (unknown worker, wrong owner, handoff
// already in flight). These are returned as structured refusals
// immediately and are never retried by the core.
package gaiaerr

import "errors"

var (
	// ErrBusy is returned when a handoff is requested while another is
	// still in flight for the same device.
	ErrBusy = errors.New("gaiaerr: another handoff is already in progress")

	// ErrNotOwner is returned when request_handoff's "from" worker does
	// not currently own the device.
	ErrNotOwner = errors.New("gaiaerr: source worker does not own the device")

	// ErrUnknownWorker is returned when a handoff names a worker the
	// coordinator was not configured with.
	ErrUnknownWorker = errors.New("gaiaerr: unknown worker")

	// ErrUnknownHandoff is returned by status()/cancel() for an ID the
	// coordinator has never seen.
	ErrUnknownHandoff = errors.New("gaiaerr: unknown handoff id")

	// ErrCancelRefused is returned when cancel is requested on a handoff
	// that has already progressed to verifying_health or later.
	ErrCancelRefused = errors.New("gaiaerr: handoff cannot be cancelled past verifying_health")

	// ErrUnavailable marks a collaborator (ContainerBackend, HealthProbe,
	// CheckpointStore) as unreachable. Recoverable: callers should degrade,
	// not crash.
	ErrUnavailable = errors.New("gaiaerr: dependency unavailable")

	// ErrStateViolation marks a transition trigger that arrived in a state
	// where it is not permitted. Logged at WARN and ignored, never
	// promoted to a different transition.
	ErrStateViolation = errors.New("gaiaerr: illegal state transition")

	// ErrNotConfigured is returned when an optional collaborator a stage
	// or operation requires was never wired into its Config.
	ErrNotConfigured = errors.New("gaiaerr: required collaborator not configured")
)
