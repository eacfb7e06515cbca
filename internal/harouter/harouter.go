// Package harouter implements the read-only half of the HARouter/
// HARouteTable pair: a role-to-endpoint lookup table
// maintained by the HealthWatchdog and consulted by every other
// component that needs to dial a protected role. It follows the
// teacher's pkg/ingress.Router split — a single Route lookup method with
// no I/O of its own, plus a separate update path the owner calls — but
// keyed by logical role instead of host/path, and durable via
// internal/ledger instead of an in-memory-only slice.
package harouter

import (
	"os"
	"sync"

	"github.com/gaia-project/gaia-core/internal/ledger"
	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/types"
)

// Table is the HARouteTable: one RouteEntry per protected role, built by
// read-copy-update so Route() never blocks on the writer.
type Table struct {
	mu                  sync.RWMutex
	entries             map[string]*types.RouteEntry
	led                 *ledger.Ledger
	maintenanceFlagPath string
}

// New loads any previously-persisted route entries from led and returns
// a ready Table. maintenanceFlagPath is the shared-volume path whose
// mere presence freezes routing at primary.
func New(led *ledger.Ledger, maintenanceFlagPath string) (*Table, error) {
	t := &Table{
		entries:             make(map[string]*types.RouteEntry),
		led:                 led,
		maintenanceFlagPath: maintenanceFlagPath,
	}

	existing, err := led.ListRouteEntries()
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		t.entries[e.Role] = e
		metrics.CurrentRoute.WithLabelValues(e.Role).Set(routeGaugeValue(e))
	}

	return t, nil
}

// MaintenanceActive reports whether the maintenance flag file currently
// exists. Any stat error other than "not found" is treated as inactive
// (fail-open towards normal routing rather than silently freezing it).
func (t *Table) MaintenanceActive() bool {
	if t.maintenanceFlagPath == "" {
		return false
	}
	_, err := os.Stat(t.maintenanceFlagPath)
	return err == nil
}

// Route returns the role's current preferred endpoint. An unknown role
// returns "".
func (t *Table) Route(role string) types.Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[role]
	if !ok {
		return ""
	}
	return e.Route
}

// Entry returns a copy of role's full RouteEntry, for observability
// surfaces that need the streak counters as well as the route.
func (t *Table) Entry(role string) (types.RouteEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[role]
	if !ok {
		return types.RouteEntry{}, false
	}
	return *e, true
}

// List returns a copy of every role's current RouteEntry.
func (t *Table) List() []types.RouteEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.RouteEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

// ensure returns role's entry, seeding one from primary/fallback on
// first observation.
func (t *Table) ensure(role string, primary, fallback types.Endpoint) *types.RouteEntry {
	t.mu.RLock()
	e, ok := t.entries[role]
	t.mu.RUnlock()
	if ok {
		return e
	}

	fresh := &types.RouteEntry{Role: role, Primary: primary, Fallback: fallback, Route: primary}
	t.mu.Lock()
	t.entries[role] = fresh
	t.mu.Unlock()
	return fresh
}

func routeGaugeValue(e *types.RouteEntry) float64 {
	if e.Route == e.Primary {
		return 1
	}
	return 0
}
