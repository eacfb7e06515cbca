package handoff

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaia-project/gaia-core/internal/container"
	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/types"
)

// driveImpl walks record through draining_source, waiting_release,
// starting_target, and verifying_health in order, persisting each phase
// transition to the ledger before attempting the phase's work. Returns
// the terminal result; record.Phase is advanced through the intermediate
// phases here, but the terminal Phase/Result/Error are NOT set here —
// the caller (run) sets them once the terminal result is known.
func (c *Coordinator) driveImpl(ctx context.Context, record *types.HandoffRecord, logger zerolog.Logger) (types.HandoffResult, error) {
	phases := []struct {
		phase types.HandoffPhase
		sub   time.Duration
		run   func(context.Context) error
	}{
		{types.PhaseDrainingSource, c.deadlines.Drain, func(ctx context.Context) error {
			return c.drainer.Drain(ctx, record.From)
		}},
		{types.PhaseWaitingRelease, c.deadlines.Release, func(ctx context.Context) error {
			return c.releaseSource(ctx, record.From)
		}},
		{types.PhaseStartingTarget, c.deadlines.Start, func(ctx context.Context) error {
			return c.backend.Start(ctx, record.To)
		}},
		{types.PhaseVerifyingHealth, c.deadlines.Verify, func(ctx context.Context) error {
			return c.verifyHealthy(ctx, record.To)
		}},
	}

	for _, p := range phases {
		// Cancel only accepts a request while the phase is still before
		// verifying_health, so a flag seen here was set in an earlier phase.
		if c.cancelRequested(record.ID) {
			logger.Info().Str("phase", string(p.phase)).Msg("handoff cancelled before phase start")
			return types.ResultCancelled, nil
		}

		record.Phase = p.phase
		if err := c.led.PutHandoffRecord(record); err != nil {
			logger.Error().Err(err).Msg("failed to persist phase transition")
		}

		phaseCtx, phaseCancel := context.WithTimeout(ctx, p.sub)
		timer := metrics.NewTimer()
		err := p.run(phaseCtx)
		timer.ObserveDurationVec(metrics.HandoffPhaseDuration, string(p.phase))
		phaseCancel()

		if err != nil {
			logger.Error().Err(err).Str("phase", string(p.phase)).Msg("handoff phase failed")
			c.attemptReturnToSource(context.Background(), record, logger)
			if c.cancelRequested(record.ID) {
				return types.ResultCancelled, nil
			}
			return types.ResultFailed, err
		}
	}

	if err := c.led.PutDeviceOwner(c.deviceID, record.To); err != nil {
		logger.Error().Err(err).Msg("failed to record new device owner")
		return types.ResultFailed, err
	}

	return types.ResultCompleted, nil
}

// releaseSource stops the source worker's container, escalating to a
// forceful stop once grace elapses, then polls until the backend
// reports the worker stopped or crashed.
func (c *Coordinator) releaseSource(ctx context.Context, worker types.WorkerName) error {
	grace := c.deadlines.Release / 2
	if err := c.backend.Stop(ctx, worker, grace); err != nil {
		return err
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := c.backend.Status(ctx, worker)
		if err == nil && (status.State == types.WorkerStateStopped || status.State == types.WorkerStateCrashed) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// verifyHealthy polls the target's HealthProbe until it reports healthy
// or the phase deadline elapses. If no Checker was
// configured for the worker, it falls back to trusting the backend's
// status report — fail-open, matching ResourceProbe's treatment of an
// unavailable collaborator.
func (c *Coordinator) verifyHealthy(ctx context.Context, worker types.WorkerName) error {
	checker, ok := c.checkers[worker]
	if !ok {
		status, err := c.backend.Status(ctx, worker)
		if err != nil {
			return err
		}
		if status.State != types.WorkerStateRunning {
			return &container.OpError{Kind: container.ErrorKindUnavailable, Op: "verify_health", Err: err}
		}
		return nil
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		snapshot := checker.Check(ctx)
		if snapshot.OK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// attemptReturnToSource makes exactly one effort to restart the source
// worker after a failed handoff, so the device is not left orphaned. If
// this also fails, the device's owner is cleared to none and an
// operator must intervene.
func (c *Coordinator) attemptReturnToSource(ctx context.Context, record *types.HandoffRecord, logger zerolog.Logger) {
	restoreCtx, cancel := context.WithTimeout(ctx, c.deadlines.Start)
	defer cancel()

	if err := c.backend.Start(restoreCtx, record.From); err != nil {
		logger.Error().Err(err).Msg("return-to-source failed; marking device owner none")
		if err := c.led.PutDeviceOwner(c.deviceID, ""); err != nil {
			logger.Error().Err(err).Msg("failed to clear device owner after failed return-to-source")
		}
		return
	}

	if err := c.led.PutDeviceOwner(c.deviceID, record.From); err != nil {
		logger.Error().Err(err).Msg("failed to restore device owner after return-to-source")
	}
}
