package harouter

import (
	"github.com/gaia-project/gaia-core/internal/log"
	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/types"
)

// Observe folds in one probe tick's result for role's primary endpoint
// and applies the hysteresis rule: trip to fallback
// after failThreshold consecutive failures, restore to primary after
// recoverThreshold consecutive successes. When the maintenance flag is
// set, only the streak counters are updated — route stays pinned at
// primary regardless of health. Returns true if
// the route actually changed this call.
func (t *Table) Observe(role string, primary, fallback types.Endpoint, primaryHealthy bool, failThreshold, recoverThreshold int) bool {
	current := t.ensure(role, primary, fallback)

	t.mu.Lock()
	updated := *current
	updated.Primary = primary
	updated.Fallback = fallback

	if primaryHealthy {
		updated.ConsecutiveSuccesses++
		updated.ConsecutiveFailures = 0
	} else {
		updated.ConsecutiveFailures++
		updated.ConsecutiveSuccesses = 0
	}

	maintenance := t.MaintenanceActive()
	previousRoute := current.Route
	newRoute := current.Route
	if newRoute == "" {
		newRoute = primary
	}

	if !maintenance {
		switch {
		case updated.ConsecutiveFailures >= failThreshold:
			newRoute = fallback
		case updated.ConsecutiveSuccesses >= recoverThreshold:
			newRoute = primary
		}
	} else {
		newRoute = primary
	}
	updated.Route = newRoute

	// Read-copy-update: build the new value above, then swap the pointer
	// under the lock so concurrent Route() readers never see a partially
	// updated entry.
	t.entries[role] = &updated
	t.mu.Unlock()

	if err := t.led.PutRouteEntry(&updated); err != nil {
		log.WithComponent("harouter").Error().Err(err).Str("role", role).Msg("failed to persist route entry")
	}

	metrics.CurrentRoute.WithLabelValues(role).Set(routeGaugeValue(&updated))

	flipped := newRoute != previousRoute
	if flipped {
		metrics.RouteFlipsTotal.WithLabelValues(role, string(newRoute)).Inc()
		log.WithComponent("harouter").Info().
			Str("role", role).
			Str("from", string(previousRoute)).
			Str("to", string(newRoute)).
			Bool("maintenance", maintenance).
			Msg("route changed")
	}

	return flipped
}
