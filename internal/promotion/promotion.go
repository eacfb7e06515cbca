// Package promotion implements the PromotionPipeline: a
// nine-stage, fail-fast workflow that flips a candidate deployment to
// live, installing a safety trap once live services have actually been
// stopped. Grounded on the teacher's cmd/warren apply.go sequential
// read-file/parse/dispatch-by-kind shape and its cmd/warren main.go
// Ctrl+C shutdown ordering (stop scheduler, stop reconciler, stop API,
// shut down manager) — generalized from "apply one YAML resource" to
// "run nine named stages in order, each pass/fail/skip", and from
// "shutdown on signal" to "restart on abort once the rubicon is
// crossed".
package promotion

import (
	"context"
	"fmt"
	"time"

	"github.com/gaia-project/gaia-core/internal/container"
	"github.com/gaia-project/gaia-core/internal/handoff"
	"github.com/gaia-project/gaia-core/internal/log"
	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/types"
)

// StageStatus is the terminal result of one pipeline stage.
type StageStatus string

const (
	StagePass StageStatus = "pass"
	StageFail StageStatus = "fail"
	StageSkip StageStatus = "skip"
)

// StageResult records one stage's outcome.
type StageResult struct {
	Name     string
	Status   StageStatus
	Err      error
	Duration time.Duration
}

// JournalRecord is the promotion record written at stage 8.
type JournalRecord struct {
	StartedAt time.Time
	Duration  time.Duration
	Stages    []StageResult
	Success   bool
}

// Config wires the pipeline to the rest of the orchestration core and to
// the external hooks (validators, smoke tests, file promotion, image
// rebuilds) that are out of this package's scope to implement.
type Config struct {
	// Stage 1: GPU state normalization.
	Handoff          *handoff.Coordinator
	DesiredGPUOwner  types.WorkerName
	CurrentGPUSource types.WorkerName
	GPUOuterDeadline time.Duration

	// Stage 2: graceful live shutdown.
	KeepLive         bool
	CandidateHealthy func(ctx context.Context) error
	GraceShutdown    time.Duration
	Backend          container.Backend
	LiveServices     []string // dependency order, library first
	StopLive         func(ctx context.Context, services []string, grace time.Duration) error
	LiveContainerCount func(ctx context.Context) (int, error)

	// Stage 3: pre-flight checks.
	CandidateEndpointsReachable func(ctx context.Context) error
	SharedLibrariesSynced       func() error
	SkipSmokeTests              bool

	// Stage 4: validation (optional).
	SkipValidation bool
	Validate       func(ctx context.Context, service string) error

	// Stage 5: smoke tests (optional).
	SmokeTest func(ctx context.Context, endpoint string) error
	CandidateEndpoint string

	// Stage 6: service promotion.
	Promote       func(ctx context.Context, service string) (backupPath string, err error)
	RebuildImages func(ctx context.Context) error

	// Stage 7: post-promotion verification.
	StartLive          func(ctx context.Context, services []string) error
	LiveHealthDeadline time.Duration
	LiveHealthCheck    func(ctx context.Context, service string) error
	ReducedSmokeTest   func(ctx context.Context) error

	// Stage 8: journal + commit.
	Journal func(record JournalRecord) error
	Commit  func() error

	// Stage 9: adapter validation (optional).
	RunAdapterValidation bool
	TrainingWorker       types.WorkerName
	AdapterTrain         func(ctx context.Context) error
}

// Pipeline runs the nine stages in order against one Config.
type Pipeline struct {
	cfg Config

	rubiconCrossed bool // true once stage 2 has actually stopped live services

	runStarted time.Time
	results    []StageResult // stage results completed so far in the current Run; read by stageJournalAndCommit
}

// New constructs a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.GPUOuterDeadline <= 0 {
		cfg.GPUOuterDeadline = 2 * time.Minute
	}
	if cfg.GraceShutdown <= 0 {
		cfg.GraceShutdown = 30 * time.Second
	}
	if cfg.LiveHealthDeadline <= 0 {
		cfg.LiveHealthDeadline = 180 * time.Second
	}
	return &Pipeline{cfg: cfg}
}

// RubiconCrossed reports whether live services have been stopped,
// meaning the safety trap is armed and an abort should attempt a
// restart rather than a file rollback.
func (p *Pipeline) RubiconCrossed() bool { return p.rubiconCrossed }

// SafetyTrap restarts the live stack. Callers (an external interrupt
// handler, or Run itself on a mid-pipeline failure after the rubicon)
// invoke this as a best-effort recovery; it never attempts to undo file
// promotion — no destructive rollback of files.
func (p *Pipeline) SafetyTrap(ctx context.Context) error {
	if !p.rubiconCrossed || p.cfg.StartLive == nil {
		return nil
	}
	return p.cfg.StartLive(ctx, p.cfg.LiveServices)
}

// Run executes every stage in order, stopping at the first failure
// among stages 1-5 (fail-fast, before any file mutation) and continuing
// to report but never roll back files for stages 6-9 ("past the
// rubicon"). It returns the full per-stage result list and a non-nil
// error iff any stage failed.
func (p *Pipeline) Run(ctx context.Context) ([]StageResult, error) {
	started := time.Now()
	p.runStarted = started
	p.results = nil
	logger := log.WithComponent("promotion")

	stages := []struct {
		name string
		run  func(context.Context) error
	}{
		{"gpu_state_normalization", p.stageGPUNormalization},
		{"graceful_live_shutdown", p.stageGracefulShutdown},
		{"preflight_checks", p.stagePreflight},
		{"validation", p.stageValidation},
		{"smoke_tests", p.stageSmokeTests},
		{"service_promotion", p.stageServicePromotion},
		{"post_promotion_verification", p.stagePostPromotionVerification},
		{"journal_and_commit", p.stageJournalAndCommit},
		{"adapter_validation", p.stageAdapterValidation},
	}

	var failed error

	for _, stage := range stages {
		if failed != nil {
			p.results = append(p.results, StageResult{Name: stage.name, Status: StageSkip})
			continue
		}

		stageStart := time.Now()
		err := stage.run(ctx)
		duration := time.Since(stageStart)

		status := StagePass
		if err != nil {
			status = StageFail
			failed = fmt.Errorf("stage %s: %w", stage.name, err)
		}
		p.results = append(p.results, StageResult{Name: stage.name, Status: status, Err: err, Duration: duration})
		metrics.PromotionStageDuration.WithLabelValues(stage.name, string(status)).Observe(duration.Seconds())

		if err != nil {
			logger.Error().Err(err).Str("stage", stage.name).Msg("promotion stage failed")
			if p.rubiconCrossed {
				if trapErr := p.SafetyTrap(ctx); trapErr != nil {
					logger.Error().Err(trapErr).Msg("safety trap failed to restart live services")
				}
			}
		} else {
			logger.Info().Str("stage", stage.name).Dur("duration", duration).Msg("promotion stage passed")
		}
	}

	metrics.PromotionsTotal.WithLabelValues(outcomeLabel(failed)).Inc()
	logger.Info().Dur("total_duration", time.Since(started)).Bool("success", failed == nil).Msg("promotion run complete")
	return p.results, failed
}

func outcomeLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}
