package ledger

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/gaia-project/gaia-core/internal/storage"
	"github.com/gaia-project/gaia-core/internal/types"
)

// Config configures a single-node Ledger.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Ledger durably records worker registrations, handoff transitions, the
// device-owner pointer, and HA route entries behind a bootstrapped
// single-node raft cluster.
type Ledger struct {
	raft  *raft.Raft
	fsm   *FSM
	store storage.Store
}

// Open creates (or reopens) a Ledger backed by a raft-boltdb log store
// and the given Store as the FSM's apply target, then bootstraps a
// single-node cluster if one has not already been bootstrapped on a
// prior run.
func Open(cfg Config, store storage.Store) (*Ledger, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: failed to create data dir: %w", err)
	}

	fsm := NewFSM(store)

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	// Single-node cluster: there is never an election to lose, so the
	// conservative WAN-tuned defaults only slow down startup.
	raftConfig.HeartbeatTimeout = 500 * time.Millisecond
	raftConfig.ElectionTimeout = 500 * time.Millisecond
	raftConfig.CommitTimeout = 50 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to create raft: %w", err)
	}

	hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to inspect existing raft state: %w", err)
	}
	if !hasState {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: raftConfig.LocalID, Address: transport.LocalAddr()}},
		})
		if err := future.Error(); err != nil {
			return nil, fmt.Errorf("ledger: failed to bootstrap single-node cluster: %w", err)
		}
	}

	return &Ledger{raft: r, fsm: fsm, store: store}, nil
}

// apply marshals cmd and submits it to the raft log, blocking until
// committed or timeout elapses.
func (l *Ledger) apply(cmd Command, timeout time.Duration) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("ledger: failed to marshal command: %w", err)
	}

	future := l.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("ledger: failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// PutWorker durably records worker's current state.
func (l *Ledger) PutWorker(worker *types.Worker) error {
	data, err := json.Marshal(worker)
	if err != nil {
		return err
	}
	return l.apply(Command{Op: OpPutWorker, Data: data}, 5*time.Second)
}

// PutHandoffRecord appends/updates a HandoffRecord. This is the single
// call site the coordinator uses to publish a phase transition, giving
// "exactly one record appended per call" for free: one
// Apply, one committed log entry.
func (l *Ledger) PutHandoffRecord(record *types.HandoffRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return l.apply(Command{Op: OpPutHandoff, Data: data}, 5*time.Second)
}

// PutDeviceOwner durably records the device's current logical owner.
// owner == "" clears ownership to "none".
func (l *Ledger) PutDeviceOwner(deviceID string, owner types.WorkerName) error {
	data, err := json.Marshal(deviceOwnerPayload{DeviceID: deviceID, Owner: owner})
	if err != nil {
		return err
	}
	return l.apply(Command{Op: OpPutDeviceOwner, Data: data}, 5*time.Second)
}

// PutRouteEntry durably records a role's current HA route table entry.
func (l *Ledger) PutRouteEntry(entry *types.RouteEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.apply(Command{Op: OpPutRouteEntry, Data: data}, 5*time.Second)
}

// GetHandoffRecord reads the latest committed record for id. Because
// Apply blocks until committed, a read immediately after a successful
// Put is guaranteed to observe it: transitions publish before being
// observable.
func (l *Ledger) GetHandoffRecord(id string) (*types.HandoffRecord, error) {
	return l.store.GetHandoffRecord(id)
}

// ListHandoffRecords returns every retained handoff record.
func (l *Ledger) ListHandoffRecords() ([]*types.HandoffRecord, error) {
	return l.store.ListHandoffRecords()
}

// GetDeviceOwner returns the device's current logical owner ("" = none).
func (l *Ledger) GetDeviceOwner(deviceID string) (types.WorkerName, error) {
	return l.store.GetDeviceOwner(deviceID)
}

// GetWorker returns the last recorded state for worker name.
func (l *Ledger) GetWorker(name types.WorkerName) (*types.Worker, error) {
	return l.store.GetWorker(name)
}

// ListRouteEntries returns every role's current route entry.
func (l *Ledger) ListRouteEntries() ([]*types.RouteEntry, error) {
	return l.store.ListRouteEntries()
}

// Shutdown gracefully stops the raft instance.
func (l *Ledger) Shutdown() error {
	future := l.raft.Shutdown()
	return future.Error()
}
