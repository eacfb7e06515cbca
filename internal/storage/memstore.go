package storage

import (
	"fmt"
	"sync"

	"github.com/gaia-project/gaia-core/internal/types"
)

// MemStore is an in-memory Store used by tests that exercise the ledger
// FSM without needing a real BoltDB file on disk.
type MemStore struct {
	mu           sync.RWMutex
	workers      map[types.WorkerName]*types.Worker
	handoffs     map[string]*types.HandoffRecord
	deviceOwners map[string]types.WorkerName
	routes       map[string]*types.RouteEntry
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		workers:      make(map[types.WorkerName]*types.Worker),
		handoffs:     make(map[string]*types.HandoffRecord),
		deviceOwners: make(map[string]types.WorkerName),
		routes:       make(map[string]*types.RouteEntry),
	}
}

func (m *MemStore) PutWorker(worker *types.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *worker
	m.workers[worker.Name] = &cp
	return nil
}

func (m *MemStore) GetWorker(name types.WorkerName) (*types.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[name]
	if !ok {
		return nil, fmt.Errorf("worker not found: %s", name)
	}
	cp := *w
	return &cp, nil
}

func (m *MemStore) ListWorkers() ([]*types.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) PutHandoffRecord(record *types.HandoffRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.handoffs[record.ID] = &cp
	return nil
}

func (m *MemStore) GetHandoffRecord(id string) (*types.HandoffRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.handoffs[id]
	if !ok {
		return nil, fmt.Errorf("handoff record not found: %s", id)
	}
	cp := *r
	return &cp, nil
}

func (m *MemStore) ListHandoffRecords() ([]*types.HandoffRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.HandoffRecord, 0, len(m.handoffs))
	for _, r := range m.handoffs {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) PutDeviceOwner(deviceID string, owner types.WorkerName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceOwners[deviceID] = owner
	return nil
}

func (m *MemStore) GetDeviceOwner(deviceID string) (types.WorkerName, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deviceOwners[deviceID], nil
}

func (m *MemStore) PutRouteEntry(entry *types.RouteEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.routes[entry.Role] = &cp
	return nil
}

func (m *MemStore) GetRouteEntry(role string) (*types.RouteEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.routes[role]
	if !ok {
		return nil, fmt.Errorf("route entry not found: %s", role)
	}
	cp := *e
	return &cp, nil
}

func (m *MemStore) ListRouteEntries() ([]*types.RouteEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.RouteEntry, 0, len(m.routes))
	for _, e := range m.routes {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) Close() error { return nil }
