package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/gaia-project/gaia-core/internal/types"
)

var (
	bucketWorkers       = []byte("workers")
	bucketHandoffs      = []byte("handoff_records")
	bucketDeviceOwners  = []byte("device_owners")
	bucketRouteEntries  = []byte("route_entries")
)

// BoltStore implements Store using a local BoltDB file, following the
// teacher's bucket-per-entity layout.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "gaia.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketWorkers, bucketHandoffs, bucketDeviceOwners, bucketRouteEntries} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) PutWorker(worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(worker)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWorkers).Put([]byte(worker.Name), data)
	})
}

func (s *BoltStore) GetWorker(name types.WorkerName) (*types.Worker, error) {
	var worker types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkers).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("worker not found: %s", name)
		}
		return json.Unmarshal(data, &worker)
	})
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var w types.Worker
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			workers = append(workers, &w)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) PutHandoffRecord(record *types.HandoffRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHandoffs).Put([]byte(record.ID), data)
	})
}

func (s *BoltStore) GetHandoffRecord(id string) (*types.HandoffRecord, error) {
	var record types.HandoffRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHandoffs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("handoff record not found: %s", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListHandoffRecords() ([]*types.HandoffRecord, error) {
	var records []*types.HandoffRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHandoffs).ForEach(func(k, v []byte) error {
			var r types.HandoffRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			records = append(records, &r)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) PutDeviceOwner(deviceID string, owner types.WorkerName) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeviceOwners).Put([]byte(deviceID), []byte(owner))
	})
}

func (s *BoltStore) GetDeviceOwner(deviceID string) (types.WorkerName, error) {
	var owner types.WorkerName
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDeviceOwners).Get([]byte(deviceID))
		owner = types.WorkerName(data)
		return nil
	})
	return owner, err
}

func (s *BoltStore) PutRouteEntry(entry *types.RouteEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRouteEntries).Put([]byte(entry.Role), data)
	})
}

func (s *BoltStore) GetRouteEntry(role string) (*types.RouteEntry, error) {
	var entry types.RouteEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRouteEntries).Get([]byte(role))
		if data == nil {
			return fmt.Errorf("route entry not found: %s", role)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltStore) ListRouteEntries() ([]*types.RouteEntry, error) {
	var entries []*types.RouteEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRouteEntries).ForEach(func(k, v []byte) error {
			var e types.RouteEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, &e)
			return nil
		})
	})
	return entries, err
}
