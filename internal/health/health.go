// Package health carries over the teacher's Checker/Status shape
// (pkg/health) near-verbatim, generalized to probe arbitrary named
// targets — workers and HA endpoints — rather than only containers, and
// to produce the types.HealthSnapshot the rest of the core consumes.
package health

import (
	"context"
	"time"

	"github.com/gaia-project/gaia-core/internal/types"
)

// Checker performs one liveness check against a target and reports a
// HealthSnapshot. HTTPChecker and TCPChecker are the two concrete
// implementations; both satisfy the same probe contract.
type Checker interface {
	Check(ctx context.Context) types.HealthSnapshot
}

// Config tunes the consecutive-failure/success hysteresis of a Status.
type Config struct {
	FailThreshold    int
	RecoverThreshold int
}

// DefaultConfig returns the watchdog's default hysteresis thresholds.
func DefaultConfig() Config {
	return Config{FailThreshold: 2, RecoverThreshold: 3}
}

// Status tracks the hysteresis window for one probed target: streaks of
// consecutive failures/successes, and the resulting Healthy bit. A single
// under-threshold sample never flips Healthy on its own — the window
// must be crossed in either direction.
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastSnapshot         types.HealthSnapshot
	Healthy              bool
	StartedAt            time.Time
}

// NewStatus returns a Status that starts optimistic, matching the
// teacher's NewStatus (assume healthy until proven otherwise) — correct
// here too since the watchdog's first tick should not immediately trip
// failover before any sample has been taken.
func NewStatus() *Status {
	return &Status{Healthy: true, StartedAt: time.Now()}
}

// Update folds in a new snapshot and applies the hysteresis rule.
func (s *Status) Update(snapshot types.HealthSnapshot, cfg Config) {
	s.LastSnapshot = snapshot

	if snapshot.OK {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		if s.ConsecutiveSuccesses >= cfg.RecoverThreshold {
			s.Healthy = true
		}
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= cfg.FailThreshold {
			s.Healthy = false
		}
	}
}
