// Package resourceprobe samples CPU/GPU utilization on a ticker and
// applies a symmetric hysteresis window to decide
// "sustained high utilization" (the DISTRACTED trigger), reusing the
// same consecutive-counter shape the teacher applies to health checks.
package resourceprobe

import (
	"context"
	"sync"
	"time"

	"github.com/gaia-project/gaia-core/internal/log"
)

// Sample is one utilization reading.
type Sample struct {
	GPUUtilPct  float64
	CPUUtilPct  float64
	GPUMemUsedMB int64
	ObservedAt   time.Time
}

// Sampler produces utilization samples for one worker. The reference
// implementation in production would shell out to nvidia-smi or read
// cgroup/DCGM counters; the core only depends on this interface.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// Config tunes the distraction-detection hysteresis.
type Config struct {
	ThresholdPct   float64
	WindowSamples  int
	SampleInterval time.Duration
}

// Probe polls a Sampler on SampleInterval and exposes a fail-open
// "distracted" flag: W consecutive samples at-or-above ThresholdPct set
// it, W consecutive samples below clear it. A Sampler
// error is treated as "not distracted" (fail-open).
type Probe struct {
	sampler Sampler
	cfg     Config
	name    string

	mu              sync.RWMutex
	aboveStreak     int
	belowStreak     int
	distracted      bool
	last            Sample
	lastErr         error

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Probe for worker named name, sampling via sampler.
func New(name string, sampler Sampler, cfg Config) *Probe {
	if cfg.WindowSamples < 1 {
		cfg.WindowSamples = 1
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}
	return &Probe{
		sampler: sampler,
		cfg:     cfg,
		name:    name,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Run starts the sampling ticker loop; it returns when ctx is cancelled
// or Stop is called.
func (p *Probe) Run(ctx context.Context) {
	logger := log.WithComponent("resourceprobe").With().Str("worker", p.name).Logger()
	ticker := time.NewTicker(p.cfg.SampleInterval)
	defer ticker.Stop()
	defer close(p.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			sample, err := p.sampler.Sample(ctx)
			p.record(sample, err)
			if err != nil {
				logger.Debug().Err(err).Msg("resource sample unavailable, treating as not distracted")
			}
		}
	}
}

// Stop halts the sampling loop and waits for Run to return.
func (p *Probe) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *Probe) record(sample Sample, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = err
	if err != nil {
		// Fail-open: an unavailable probe clears distracted and the
		// above-threshold streak; it does not count as a below sample.
		p.distracted = false
		p.aboveStreak = 0
		return
	}

	p.last = sample
	if sample.GPUUtilPct >= p.cfg.ThresholdPct || sample.CPUUtilPct >= p.cfg.ThresholdPct {
		p.aboveStreak++
		p.belowStreak = 0
		if p.aboveStreak >= p.cfg.WindowSamples {
			p.distracted = true
		}
	} else {
		p.belowStreak++
		p.aboveStreak = 0
		if p.belowStreak >= p.cfg.WindowSamples {
			p.distracted = false
		}
	}
}

// Distracted reports whether sustained high utilization is currently
// detected. Fail-open: if the sampler has never succeeded, returns false.
func (p *Probe) Distracted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.distracted
}

// Last returns the most recent successful sample and whether one exists.
func (p *Probe) Last() (Sample, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, !p.last.ObservedAt.IsZero()
}
