// Package handoff implements the GPUHandoffCoordinator: a
// single-threaded state machine that safely transfers exclusive
// ownership of one Device between exactly two Workers, never leaving it
// half-owned, and bounded by an outer deadline split into per-phase
// sub-deadlines. It is modeled on the teacher's pkg/manager Apply/Command
// pattern — every phase transition is a single call into internal/ledger
// so the audit trail is durable and "exactly one HandoffRecord appended
// per call" falls out of the ledger's own guarantee.
package handoff

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gaia-project/gaia-core/internal/config"
	"github.com/gaia-project/gaia-core/internal/container"
	"github.com/gaia-project/gaia-core/internal/gaiaerr"
	"github.com/gaia-project/gaia-core/internal/health"
	"github.com/gaia-project/gaia-core/internal/ledger"
	"github.com/gaia-project/gaia-core/internal/log"
	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/types"
)

// Drainer lets the source worker reach a quiescent state before its
// container is stopped. Implementations may simply return nil
// immediately if the worker has no in-flight work to flush.
type Drainer interface {
	Drain(ctx context.Context, worker types.WorkerName) error
}

// NoopDrainer is a Drainer that always succeeds immediately.
type NoopDrainer struct{}

func (NoopDrainer) Drain(ctx context.Context, worker types.WorkerName) error { return nil }

// OwnerChangeListener is notified once a handoff reaches a terminal
// phase: the coordinator notifies the sleep manager at the two moments
// a device changes hands.
type OwnerChangeListener interface {
	OnHandoffTerminal(record types.HandoffRecord)
}

// inFlightHandoff tracks the one non-terminal handoff a Coordinator may
// have running, plus the cancellation flag cancel() sets. This is kept
// out of types.HandoffRecord because cancellation is coordinator-local
// bookkeeping, not part of the durable audit record.
type inFlightHandoff struct {
	id              string
	cancelRequested bool
}

// Coordinator is the GPUHandoffCoordinator for a single Device. One
// Coordinator instance owns one Device and references exactly the two
// Workers it was configured with.
type Coordinator struct {
	deviceID string
	workers  map[types.WorkerName]bool

	backend   container.Backend
	checkers  map[types.WorkerName]health.Checker
	drainer   Drainer
	deadlines config.HandoffDeadlines
	led       *ledger.Ledger

	mu        sync.Mutex
	inFlight  *inFlightHandoff
	listeners []OwnerChangeListener
}

// Config configures one Coordinator.
type Config struct {
	DeviceID  string
	Workers   []types.WorkerName
	Backend   container.Backend
	Checkers  map[types.WorkerName]health.Checker
	Drainer   Drainer
	Deadlines config.HandoffDeadlines
	Ledger    *ledger.Ledger
}

// New constructs a Coordinator. Workers must list exactly the worker
// names this device arbitrates between (normally {prime, study}).
func New(cfg Config) *Coordinator {
	drainer := cfg.Drainer
	if drainer == nil {
		drainer = NoopDrainer{}
	}
	workers := make(map[types.WorkerName]bool, len(cfg.Workers))
	for _, w := range cfg.Workers {
		workers[w] = true
	}
	return &Coordinator{
		deviceID:  cfg.DeviceID,
		workers:   workers,
		backend:   cfg.Backend,
		checkers:  cfg.Checkers,
		drainer:   drainer,
		deadlines: cfg.Deadlines,
		led:       cfg.Ledger,
	}
}

// OnTerminal registers a listener notified once per terminal handoff.
func (c *Coordinator) OnTerminal(l OwnerChangeListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// CurrentOwner returns the device's current logical owner, or "" (none).
func (c *Coordinator) CurrentOwner() types.WorkerName {
	owner, err := c.led.GetDeviceOwner(c.deviceID)
	if err != nil {
		return ""
	}
	return owner
}

// RequestHandoff starts a new handoff asynchronously and returns its ID
// immediately; callers poll Status for the terminal phase.
func (c *Coordinator) RequestHandoff(from, to types.WorkerName, reason string, deadline time.Duration) (string, error) {
	if !c.workers[from] || !c.workers[to] || from == to {
		return "", gaiaerr.ErrUnknownWorker
	}
	if deadline <= 0 {
		deadline = c.deadlines.Outer
	}

	c.mu.Lock()
	if c.inFlight != nil {
		c.mu.Unlock()
		return "", gaiaerr.ErrBusy
	}
	if c.CurrentOwner() != from {
		c.mu.Unlock()
		return "", gaiaerr.ErrNotOwner
	}

	record := &types.HandoffRecord{
		ID:          uuid.NewString(),
		From:        from,
		To:          to,
		Phase:       types.PhaseRequested,
		Reason:      reason,
		RequestedAt: time.Now(),
		Deadline:    time.Now().Add(deadline),
	}
	c.inFlight = &inFlightHandoff{id: record.ID}
	c.mu.Unlock()

	if err := c.led.PutHandoffRecord(record); err != nil {
		c.mu.Lock()
		c.inFlight = nil
		c.mu.Unlock()
		return "", fmt.Errorf("handoff: failed to record request: %w", err)
	}
	metrics.HandoffInFlight.Set(1)

	go c.run(record.ID)

	return record.ID, nil
}

// Status returns the latest known record for id; always succeeds for a
// known ID.
func (c *Coordinator) Status(id string) (*types.HandoffRecord, error) {
	record, err := c.led.GetHandoffRecord(id)
	if err != nil {
		return nil, gaiaerr.ErrUnknownHandoff
	}
	return record, nil
}

// Cancel transitions the named handoff to cancelled, unless it has
// already progressed to verifying_health or later.
func (c *Coordinator) Cancel(id string) error {
	record, err := c.led.GetHandoffRecord(id)
	if err != nil {
		return gaiaerr.ErrUnknownHandoff
	}
	if record.Phase.Terminal() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight == nil || c.inFlight.id != id {
		// Not the in-flight handoff anymore but also not terminal: the
		// running goroutine raced us to completion between the reads
		// above; treat as already resolved rather than erroring.
		return nil
	}

	switch record.Phase {
	case types.PhaseVerifyingHealth:
		return gaiaerr.ErrCancelRefused
	default:
		c.inFlight.cancelRequested = true
		return nil
	}
}

func (c *Coordinator) cancelRequested(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight != nil && c.inFlight.id == id && c.inFlight.cancelRequested
}

// run drives one handoff from requested through to a terminal phase. It
// is the single goroutine allowed to mutate this device's ownership;
// RequestHandoff's Busy check keeps a second run from ever starting
// concurrently.
func (c *Coordinator) run(id string) {
	logger := log.WithHandoff(id)
	record, err := c.led.GetHandoffRecord(id)
	if err != nil {
		logger.Error().Err(err).Msg("handoff record vanished after request")
		return
	}

	timer := metrics.NewTimer()
	outerCtx, cancel := context.WithDeadline(context.Background(), record.Deadline)
	defer cancel()

	result, failErr := c.driveImpl(outerCtx, record, logger)

	record.CompletedAt = time.Now()
	record.Result = result
	switch result {
	case types.ResultCompleted:
		record.Phase = types.PhaseCompleted
	case types.ResultCancelled:
		record.Phase = types.PhaseCancelled
	default:
		record.Phase = types.PhaseFailed
		if failErr != nil {
			record.Error = failErr.Error()
		}
	}

	if err := c.led.PutHandoffRecord(record); err != nil {
		logger.Error().Err(err).Msg("failed to persist terminal handoff record")
	}

	metrics.HandoffsTotal.WithLabelValues(string(record.From), string(record.To), string(result)).Inc()
	timer.ObserveDurationVec(metrics.HandoffDuration, string(result))
	metrics.HandoffInFlight.Set(0)

	c.mu.Lock()
	c.inFlight = nil
	listeners := append([]OwnerChangeListener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l.OnHandoffTerminal(*record)
	}
}
