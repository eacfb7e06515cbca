package sleepwake

import (
	"time"

	"github.com/gaia-project/gaia-core/internal/metrics"
)

// wakeBackoff tracks the exponential retry interval for a slow-path wake
// that failed to reach a healthy primary worker, doubling on each
// failure and capping at 60s.
// Doubling-with-cap mirrors the teacher pack's BackoffConfig/BackoffState
// split (steveyegge-vc's watchdog config), collapsed here into one small
// struct since GAIA only needs the one knob, not AI-suggested overrides.
type wakeBackoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
	service string
}

func newWakeBackoff(service string, base, max time.Duration) *wakeBackoff {
	return &wakeBackoff{service: service, base: base, max: max}
}

// next returns the interval to wait before the next retry, doubling each
// call and saturating at max.
func (b *wakeBackoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.base
	} else {
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	}
	metrics.WakeBackoffSeconds.WithLabelValues(b.service).Set(b.current.Seconds())
	return b.current
}

// reset clears the backoff after a successful wake.
func (b *wakeBackoff) reset() {
	b.current = 0
	metrics.WakeBackoffSeconds.WithLabelValues(b.service).Set(0)
}
