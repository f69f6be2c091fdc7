package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cortexops/cortex/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketModules    = []byte("modules")
	bucketWorkers    = []byte("workers")
	bucketPredicates = []byte("predicates")
	bucketAlerts     = []byte("alerts")
	bucketAttempts   = []byte("attempts")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "cortex.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketModules,
			bucketWorkers,
			bucketPredicates,
			bucketAlerts,
			bucketAttempts,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
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

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Module operations
func (s *BoltStore) CreateModule(module *types.Module) error {
	return s.put(bucketModules, module.ID, module)
}

func (s *BoltStore) GetModule(id string) (*types.Module, error) {
	var module types.Module
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModules)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("module %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &module)
	})
	if err != nil {
		return nil, err
	}
	return &module, nil
}

func (s *BoltStore) GetModuleByName(name string) (*types.Module, error) {
	modules, err := s.ListModules()
	if err != nil {
		return nil, err
	}
	for _, m := range modules {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("module %q: %w", name, types.ErrNotFound)
}

func (s *BoltStore) ListModules() ([]*types.Module, error) {
	var modules []*types.Module
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModules)
		return b.ForEach(func(k, v []byte) error {
			var module types.Module
			if err := json.Unmarshal(v, &module); err != nil {
				return err
			}
			modules = append(modules, &module)
			return nil
		})
	})
	return modules, err
}

func (s *BoltStore) UpdateModule(module *types.Module) error {
	return s.CreateModule(module) // Same as create (upsert)
}

func (s *BoltStore) DeleteModule(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModules)
		return b.Delete([]byte(id))
	})
}

// Worker operations
func (s *BoltStore) CreateWorker(worker *types.Worker) error {
	return s.put(bucketWorkers, worker.DSN, worker)
}

func (s *BoltStore) GetWorker(dsn string) (*types.Worker, error) {
	var worker types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(dsn))
		if data == nil {
			return fmt.Errorf("worker %s: %w", dsn, types.ErrNotFound)
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
		b := tx.Bucket(bucketWorkers)
		return b.ForEach(func(k, v []byte) error {
			var worker types.Worker
			if err := json.Unmarshal(v, &worker); err != nil {
				return err
			}
			workers = append(workers, &worker)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) UpdateWorker(worker *types.Worker) error {
	return s.CreateWorker(worker)
}

// Predicate operations
func (s *BoltStore) CreatePredicate(predicate *types.Predicate) error {
	return s.put(bucketPredicates, predicate.ID, predicate)
}

func (s *BoltStore) GetPredicate(id string) (*types.Predicate, error) {
	var predicate types.Predicate
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPredicates)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("predicate %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &predicate)
	})
	if err != nil {
		return nil, err
	}
	return &predicate, nil
}

func (s *BoltStore) ListPredicates() ([]*types.Predicate, error) {
	var predicates []*types.Predicate
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPredicates)
		return b.ForEach(func(k, v []byte) error {
			var predicate types.Predicate
			if err := json.Unmarshal(v, &predicate); err != nil {
				return err
			}
			predicates = append(predicates, &predicate)
			return nil
		})
	})
	return predicates, err
}

// Alert operations. Alerts are append-only; keys are zero-padded
// sequence numbers so ForEach yields them in raise order.
func (s *BoltStore) AppendAlert(alert *types.Alert) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(alert)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%020d", seq)
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) ListAlerts() ([]*types.Alert, error) {
	var alerts []*types.Alert
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		return b.ForEach(func(k, v []byte) error {
			var alert types.Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return err
			}
			alerts = append(alerts, &alert)
			return nil
		})
	})
	return alerts, err
}

// Broadcast attempt operations. Keyed by predicate ID: one attempt
// record per predicate, updated in place on retries.
func (s *BoltStore) PutAttempt(attempt *types.BroadcastAttempt) error {
	return s.put(bucketAttempts, attempt.PredicateID, attempt)
}

func (s *BoltStore) GetAttempt(predicateID string) (*types.BroadcastAttempt, error) {
	var attempt types.BroadcastAttempt
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)
		data := b.Get([]byte(predicateID))
		if data == nil {
			return fmt.Errorf("attempt %s: %w", predicateID, types.ErrNotFound)
		}
		return json.Unmarshal(data, &attempt)
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (s *BoltStore) ListAttempts() ([]*types.BroadcastAttempt, error) {
	var attempts []*types.BroadcastAttempt
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)
		return b.ForEach(func(k, v []byte) error {
			var attempt types.BroadcastAttempt
			if err := json.Unmarshal(v, &attempt); err != nil {
				return err
			}
			attempts = append(attempts, &attempt)
			return nil
		})
	})
	return attempts, err
}
