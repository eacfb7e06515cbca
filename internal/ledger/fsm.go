// Package ledger durably, monotonically records HandoffRecord transitions
// and the device-owner pointer behind a single-node Raft log, modeled
// directly on the teacher's pkg/manager (Apply/Command) and
// pkg/manager/fsm.go (WarrenFSM.Apply/Snapshot/Restore) pair. A
// single-node Raft cluster is overkill for consensus here — there is
// only ever one orchestrator process — but it gives the "transitions
// publish before being observable" and "exactly one record appended per
// call" invariants a real write-ahead log instead of
// an in-memory map that a crash could silently lose.
package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/storage"
	"github.com/gaia-project/gaia-core/internal/types"
)

// Command is one state-change operation recorded in the raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	OpPutWorker      = "put_worker"
	OpPutHandoff     = "put_handoff"
	OpPutDeviceOwner = "put_device_owner"
	OpPutRouteEntry  = "put_route_entry"
)

type deviceOwnerPayload struct {
	DeviceID string           `json:"device_id"`
	Owner    types.WorkerName `json:"owner"`
}

// FSM implements raft.FSM, applying committed log entries to the
// underlying Store.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM wraps store as a raft-applicable FSM.
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Apply is invoked once per committed raft log entry.
func (f *FSM) Apply(log *raft.Log) interface{} {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LedgerApplyDuration)
	metrics.LedgerAppliedIndex.Set(float64(log.Index))

	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("ledger: failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpPutWorker:
		var w types.Worker
		if err := json.Unmarshal(cmd.Data, &w); err != nil {
			return err
		}
		return f.store.PutWorker(&w)

	case OpPutHandoff:
		var r types.HandoffRecord
		if err := json.Unmarshal(cmd.Data, &r); err != nil {
			return err
		}
		return f.store.PutHandoffRecord(&r)

	case OpPutDeviceOwner:
		var p deviceOwnerPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.PutDeviceOwner(p.DeviceID, p.Owner)

	case OpPutRouteEntry:
		var e types.RouteEntry
		if err := json.Unmarshal(cmd.Data, &e); err != nil {
			return err
		}
		return f.store.PutRouteEntry(&e)

	default:
		return fmt.Errorf("ledger: unknown command: %s", cmd.Op)
	}
}

// Snapshot captures a point-in-time copy of all ledger state.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	workers, err := f.store.ListWorkers()
	if err != nil {
		return nil, fmt.Errorf("ledger: list workers: %w", err)
	}
	handoffs, err := f.store.ListHandoffRecords()
	if err != nil {
		return nil, fmt.Errorf("ledger: list handoff records: %w", err)
	}
	routes, err := f.store.ListRouteEntries()
	if err != nil {
		return nil, fmt.Errorf("ledger: list route entries: %w", err)
	}

	return &Snapshot{Workers: workers, Handoffs: handoffs, Routes: routes}, nil
}

// Restore replaces the FSM's state from a previously taken snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("ledger: failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range snap.Workers {
		if err := f.store.PutWorker(w); err != nil {
			return fmt.Errorf("ledger: restore worker: %w", err)
		}
	}
	for _, r := range snap.Handoffs {
		if err := f.store.PutHandoffRecord(r); err != nil {
			return fmt.Errorf("ledger: restore handoff record: %w", err)
		}
	}
	for _, e := range snap.Routes {
		if err := f.store.PutRouteEntry(e); err != nil {
			return fmt.Errorf("ledger: restore route entry: %w", err)
		}
	}

	return nil
}

// Snapshot is the point-in-time ledger state persisted by raft's
// snapshotting mechanism.
type Snapshot struct {
	Workers  []*types.Worker
	Handoffs []*types.HandoffRecord
	Routes   []*types.RouteEntry
}

// Persist writes the snapshot to sink as JSON.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is a no-op; the snapshot holds no resources to free.
func (s *Snapshot) Release() {}
