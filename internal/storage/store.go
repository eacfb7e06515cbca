// Package storage defines the Store interface and its BoltDB-backed
// implementation: the bucket-per-entity, JSON-marshaled persistence
// layer modeled on the teacher's pkg/storage, generalized from Warren's
// cluster entities (Node/Service/Container) to GAIA's own
// (Worker/HandoffRecord/HARouteTable).
package storage

import "github.com/gaia-project/gaia-core/internal/types"

// Store persists the orchestration core's durable entities: worker
// registration, the handoff audit log, and HA route table snapshots.
// internal/ledger's FSM applies writes through this interface; it is the
// apply target of the raft log, not itself replicated.
type Store interface {
	// Workers
	PutWorker(worker *types.Worker) error
	GetWorker(name types.WorkerName) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)

	// Handoff audit log
	PutHandoffRecord(record *types.HandoffRecord) error
	GetHandoffRecord(id string) (*types.HandoffRecord, error)
	ListHandoffRecords() ([]*types.HandoffRecord, error)

	// Device ownership pointer ("" means none)
	PutDeviceOwner(deviceID string, owner types.WorkerName) error
	GetDeviceOwner(deviceID string) (types.WorkerName, error)

	// HA route table, keyed by role
	PutRouteEntry(entry *types.RouteEntry) error
	GetRouteEntry(role string) (*types.RouteEntry, error)
	ListRouteEntries() ([]*types.RouteEntry, error)

	Close() error
}
