// Package watchdog implements the HealthWatchdog: a
// single-threaded cooperative loop modeled directly on the teacher's
// pkg/reconciler ticker pattern (fixed interval, one cycle at a time,
// errors logged and the loop continues). Each tick probes every
// protected role's primary and candidate endpoints, folds the result
// into the HARouteTable's hysteresis, and — when HA is active and
// maintenance is off — drives one incremental StateSyncer pass.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaia-project/gaia-core/internal/config"
	"github.com/gaia-project/gaia-core/internal/harouter"
	"github.com/gaia-project/gaia-core/internal/health"
	"github.com/gaia-project/gaia-core/internal/log"
	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/types"
)

// Syncer is the subset of internal/statesync.Syncer the watchdog drives
// on every tick; declared as an interface so tests can substitute a
// fake without dragging in filesystem state.
type Syncer interface {
	Running() bool
	Incremental() error
}

// Role is one protected role's probe configuration.
type Role struct {
	Name                string
	PrimaryEndpoint     types.Endpoint
	CandidateEndpoint   types.Endpoint // "" if no HA candidate configured for this role
	PrimaryChecker      health.Checker
	CandidateChecker    health.Checker // nil if CandidateEndpoint == ""
}

// Watchdog runs the cooperative health-probe loop for a fixed set of
// roles against one shared HARouteTable.
type Watchdog struct {
	roles  []Role
	table  *harouter.Table
	syncer Syncer
	cfg    config.WatchdogConfig
	logger zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup

	candidateMu      sync.Mutex
	candidateHealthy map[string]bool // role -> last candidate probe result
}

// New constructs a Watchdog over roles, writing results to table and
// driving syncer on ticks where HA is active.
func New(roles []Role, table *harouter.Table, syncer Syncer, cfg config.WatchdogConfig) *Watchdog {
	return &Watchdog{
		candidateHealthy: make(map[string]bool),
		roles:  roles,
		table:  table,
		syncer: syncer,
		cfg:    cfg,
		logger: log.WithComponent("watchdog"),
	}
}

// Start begins the tick loop in a background goroutine.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh != nil {
		return
	}
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go w.run(w.stopCh)
}

// Stop halts the tick loop and waits for the current tick to finish.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	stopCh := w.stopCh
	w.stopCh = nil
	w.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	w.wg.Wait()
}

func (w *Watchdog) run(stopCh chan struct{}) {
	defer w.wg.Done()

	interval := w.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", interval).Msg("watchdog started")

	for {
		select {
		case <-ticker.C:
			w.Tick()
		case <-stopCh:
			w.logger.Info().Msg("watchdog stopped")
			return
		}
	}
}

// Tick runs exactly one probe cycle over every configured role. It is
// exported so tests (and a future manual-trigger admin endpoint) can
// drive a cycle synchronously instead of waiting on the ticker.
func (w *Watchdog) Tick() {
	for _, role := range w.roles {
		w.probeRole(role)
	}

	if w.syncer != nil && !w.table.MaintenanceActive() && w.haActive() {
		if w.syncer.Running() {
			w.logger.Warn().Msg("skipping state sync tick: previous sync still running")
		} else if err := w.syncer.Incremental(); err != nil {
			w.logger.Error().Err(err).Msg("incremental state sync failed")
		}
	}
}

// haActive reports whether any configured role has both a primary and a
// candidate endpoint — the gate for considering HA active for that role.
func (w *Watchdog) haActive() bool {
	for _, r := range w.roles {
		if r.CandidateEndpoint != "" {
			return true
		}
	}
	return false
}

// HAStatus reports the aggregate HA condition across every configured
// role for the GET /status surface:
//   - "active": no role is currently failed over.
//   - "degraded": the maintenance flag is pinning routes at primary
//     regardless of observed health.
//   - "failover_active": at least one role is routed to its candidate
//     and that candidate is currently healthy.
//   - "failed": at least one role is routed to its candidate but the
//     candidate itself is currently failing its probes too.
//
// Roles with no candidate configured never contribute a non-"active"
// verdict; an instance with no HA roles at all reports "active".
func (w *Watchdog) HAStatus() string {
	if w.table.MaintenanceActive() {
		return "degraded"
	}

	w.candidateMu.Lock()
	candidateSnapshot := make(map[string]bool, len(w.candidateHealthy))
	for role, ok := range w.candidateHealthy {
		candidateSnapshot[role] = ok
	}
	w.candidateMu.Unlock()

	status := "active"
	for _, role := range w.roles {
		if role.CandidateEndpoint == "" {
			continue
		}
		entry, ok := w.table.Entry(role.Name)
		if !ok || entry.Route != entry.Fallback {
			continue
		}
		if candidateSnapshot[role.Name] {
			status = "failover_active"
		} else {
			return "failed"
		}
	}
	return status
}

func (w *Watchdog) probeRole(role Role) {
	ctx, cancel := context.WithTimeout(context.Background(), w.probeTimeout())
	defer cancel()

	primaryOK := w.probe(ctx, role.PrimaryChecker, string(role.PrimaryEndpoint))
	if role.CandidateChecker != nil {
		candidateOK := w.probe(ctx, role.CandidateChecker, string(role.CandidateEndpoint))
		w.candidateMu.Lock()
		w.candidateHealthy[role.Name] = candidateOK
		w.candidateMu.Unlock()
	}

	flipped := w.table.Observe(role.Name, role.PrimaryEndpoint, role.CandidateEndpoint, primaryOK, w.failThreshold(), w.recoverThreshold())
	if flipped {
		w.logger.Info().Str("role", role.Name).Msg("route flip applied")
	}
}

func (w *Watchdog) probe(ctx context.Context, checker health.Checker, target string) bool {
	if checker == nil {
		return false
	}

	timer := metrics.NewTimer()
	snapshot := checker.Check(ctx)
	timer.ObserveDurationVec(metrics.HealthCheckDuration, target)

	value := 0.0
	if snapshot.OK {
		value = 1.0
	}
	metrics.HealthStatus.WithLabelValues(target).Set(value)

	return snapshot.OK
}

func (w *Watchdog) probeTimeout() time.Duration {
	if w.cfg.ProbeTimeout <= 0 {
		return 3 * time.Second
	}
	return w.cfg.ProbeTimeout
}

func (w *Watchdog) failThreshold() int {
	if w.cfg.FailThreshold <= 0 {
		return 2
	}
	return w.cfg.FailThreshold
}

func (w *Watchdog) recoverThreshold() int {
	if w.cfg.RecoverThreshold <= 0 {
		return 3
	}
	return w.cfg.RecoverThreshold
}
