package promotion

import (
	"context"
	"fmt"
	"time"

	"github.com/gaia-project/gaia-core/internal/gaiaerr"
	"github.com/gaia-project/gaia-core/internal/types"
)

// stageGPUNormalization is stage 1: query the GPU owner; if it is not
// the desired owner, request a handoff via the GPUHandoffCoordinator and
// wait for a terminal result.
func (p *Pipeline) stageGPUNormalization(ctx context.Context) error {
	if p.cfg.Handoff == nil {
		return nil
	}

	current := p.cfg.Handoff.CurrentOwner()
	if current == p.cfg.DesiredGPUOwner {
		return nil
	}

	from := p.cfg.CurrentGPUSource
	if from == "" {
		from = current
	}

	normCtx, cancel := context.WithTimeout(ctx, p.cfg.GPUOuterDeadline)
	defer cancel()

	id, err := p.cfg.Handoff.RequestHandoff(from, p.cfg.DesiredGPUOwner, "promotion: normalize GPU owner", p.cfg.GPUOuterDeadline)
	if err != nil {
		return fmt.Errorf("requesting GPU handoff: %w", err)
	}

	for {
		record, err := p.cfg.Handoff.Status(id)
		if err != nil {
			return fmt.Errorf("polling GPU handoff status: %w", err)
		}
		if record.Phase.Terminal() {
			if record.Result != types.ResultCompleted {
				return fmt.Errorf("GPU normalization handoff ended in %s: %s", record.Result, record.Error)
			}
			return nil
		}
		select {
		case <-normCtx.Done():
			return fmt.Errorf("GPU normalization timed out: %w", normCtx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// stageGracefulShutdown is stage 2: verify the candidate is healthy,
// stop live with a grace period, verify zero live containers remain,
// and arm the safety trap.
func (p *Pipeline) stageGracefulShutdown(ctx context.Context) error {
	if p.cfg.KeepLive {
		return nil
	}

	if p.cfg.CandidateHealthy != nil {
		if err := p.cfg.CandidateHealthy(ctx); err != nil {
			return fmt.Errorf("candidate not healthy, refusing to stop live: %w", err)
		}
	}

	if p.cfg.StopLive != nil {
		if err := p.cfg.StopLive(ctx, p.cfg.LiveServices, p.cfg.GraceShutdown); err != nil {
			return fmt.Errorf("stopping live services: %w", err)
		}
	}
	p.rubiconCrossed = true

	if p.cfg.LiveContainerCount != nil {
		count, err := p.cfg.LiveContainerCount(ctx)
		if err != nil {
			return fmt.Errorf("verifying live is stopped: %w", err)
		}
		if count != 0 {
			return fmt.Errorf("%d live containers still running after stop", count)
		}
	}

	return nil
}

// stagePreflight is stage 3: candidate endpoints reachable (unless smoke
// tests are skipped, in which case this check is deferred to them),
// shared-library files in sync.
func (p *Pipeline) stagePreflight(ctx context.Context) error {
	if !p.cfg.SkipSmokeTests && p.cfg.CandidateEndpointsReachable != nil {
		if err := p.cfg.CandidateEndpointsReachable(ctx); err != nil {
			return fmt.Errorf("candidate endpoints unreachable: %w", err)
		}
	}
	if p.cfg.SharedLibrariesSynced != nil {
		if err := p.cfg.SharedLibrariesSynced(); err != nil {
			return fmt.Errorf("shared libraries not in sync: %w", err)
		}
	}
	return nil
}

// stageValidation is stage 4 (optional): delegate to an external
// validator per service.
func (p *Pipeline) stageValidation(ctx context.Context) error {
	if p.cfg.SkipValidation || p.cfg.Validate == nil {
		return nil
	}
	for _, service := range p.cfg.LiveServices {
		if err := p.cfg.Validate(ctx, service); err != nil {
			return fmt.Errorf("validation failed for %s: %w", service, err)
		}
	}
	return nil
}

// stageSmokeTests is stage 5 (optional): run the cognitive test battery
// against the candidate endpoint.
func (p *Pipeline) stageSmokeTests(ctx context.Context) error {
	if p.cfg.SkipSmokeTests || p.cfg.SmokeTest == nil {
		return nil
	}
	if err := p.cfg.SmokeTest(ctx, p.cfg.CandidateEndpoint); err != nil {
		return fmt.Errorf("smoke tests failed: %w", err)
	}
	return nil
}

// stageServicePromotion is stage 6: for each service in dependency
// order, atomically replace live source with candidate source (keeping
// a timestamped backup), then rebuild container images. Past this
// stage, failures are reported but never trigger a file rollback.
func (p *Pipeline) stageServicePromotion(ctx context.Context) error {
	if p.cfg.Promote == nil {
		return gaiaerr.ErrNotConfigured
	}
	for _, service := range p.cfg.LiveServices {
		if _, err := p.cfg.Promote(ctx, service); err != nil {
			return fmt.Errorf("promoting %s: %w", service, err)
		}
	}
	if p.cfg.RebuildImages != nil {
		if err := p.cfg.RebuildImages(ctx); err != nil {
			return fmt.Errorf("rebuilding images: %w", err)
		}
	}
	return nil
}

// stagePostPromotionVerification is stage 7: restart the live stack,
// poll each service's health up to LiveHealthDeadline, run a reduced
// smoke subset against live.
func (p *Pipeline) stagePostPromotionVerification(ctx context.Context) error {
	if p.cfg.StartLive != nil {
		if err := p.cfg.StartLive(ctx, p.cfg.LiveServices); err != nil {
			return fmt.Errorf("restarting live stack: %w", err)
		}
	}

	if p.cfg.LiveHealthCheck != nil {
		healthCtx, cancel := context.WithTimeout(ctx, p.cfg.LiveHealthDeadline)
		defer cancel()
		for _, service := range p.cfg.LiveServices {
			if err := p.waitHealthy(healthCtx, service); err != nil {
				return fmt.Errorf("%s never became healthy: %w", service, err)
			}
		}
	}

	if p.cfg.ReducedSmokeTest != nil {
		if err := p.cfg.ReducedSmokeTest(ctx); err != nil {
			return fmt.Errorf("reduced smoke subset failed against live: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) waitHealthy(ctx context.Context, service string) error {
	for {
		if err := p.cfg.LiveHealthCheck(ctx, service); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// stageJournalAndCommit is stage 8: write a promotion record and
// optionally commit/push.
func (p *Pipeline) stageJournalAndCommit(ctx context.Context) error {
	if p.cfg.Journal != nil {
		record := JournalRecord{
			StartedAt: p.runStarted,
			Duration:  time.Since(p.runStarted),
			Stages:    append([]StageResult(nil), p.results...),
			Success:   true,
		}
		if err := p.cfg.Journal(record); err != nil {
			return fmt.Errorf("writing promotion journal: %w", err)
		}
	}
	if p.cfg.Commit != nil {
		if err := p.cfg.Commit(); err != nil {
			return fmt.Errorf("committing promotion: %w", err)
		}
	}
	return nil
}

// stageAdapterValidation is stage 9 (optional): hand the GPU to the
// training worker, run training and validation, then hand it back.
func (p *Pipeline) stageAdapterValidation(ctx context.Context) error {
	if !p.cfg.RunAdapterValidation {
		return nil
	}
	if p.cfg.Handoff == nil || p.cfg.AdapterTrain == nil {
		return gaiaerr.ErrNotConfigured
	}

	primary := p.cfg.Handoff.CurrentOwner()
	id, err := p.cfg.Handoff.RequestHandoff(primary, p.cfg.TrainingWorker, "promotion: adapter validation", p.cfg.GPUOuterDeadline)
	if err != nil {
		return fmt.Errorf("handing GPU to training worker: %w", err)
	}
	if err := p.awaitHandoff(ctx, id); err != nil {
		return err
	}

	trainErr := p.cfg.AdapterTrain(ctx)

	backID, err := p.cfg.Handoff.RequestHandoff(p.cfg.TrainingWorker, primary, "promotion: adapter validation complete", p.cfg.GPUOuterDeadline)
	if err != nil {
		return fmt.Errorf("returning GPU from training worker: %w", err)
	}
	if err := p.awaitHandoff(ctx, backID); err != nil {
		return err
	}

	if trainErr != nil {
		return fmt.Errorf("adapter training/validation failed: %w", trainErr)
	}
	return nil
}

func (p *Pipeline) awaitHandoff(ctx context.Context, id string) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, p.cfg.GPUOuterDeadline)
	defer cancel()
	for {
		record, err := p.cfg.Handoff.Status(id)
		if err != nil {
			return fmt.Errorf("polling handoff status: %w", err)
		}
		if record.Phase.Terminal() {
			if record.Result != types.ResultCompleted {
				return fmt.Errorf("handoff ended in %s: %s", record.Result, record.Error)
			}
			return nil
		}
		select {
		case <-deadlineCtx.Done():
			return fmt.Errorf("handoff timed out: %w", deadlineCtx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}
