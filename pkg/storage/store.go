package storage

import (
	"github.com/cortexops/cortex/pkg/types"
)

// Store defines the interface for engine state storage.
// Implemented by the BoltDB-backed store.
type Store interface {
	// Modules
	CreateModule(module *types.Module) error
	GetModule(id string) (*types.Module, error)
	GetModuleByName(name string) (*types.Module, error)
	ListModules() ([]*types.Module, error)
	UpdateModule(module *types.Module) error
	DeleteModule(id string) error

	// Workers
	CreateWorker(worker *types.Worker) error
	GetWorker(dsn string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	UpdateWorker(worker *types.Worker) error

	// Predicates
	CreatePredicate(predicate *types.Predicate) error
	GetPredicate(id string) (*types.Predicate, error)
	ListPredicates() ([]*types.Predicate, error)

	// Alerts
	AppendAlert(alert *types.Alert) error
	ListAlerts() ([]*types.Alert, error)

	// Broadcast attempts
	PutAttempt(attempt *types.BroadcastAttempt) error
	GetAttempt(predicateID string) (*types.BroadcastAttempt, error)
	ListAttempts() ([]*types.BroadcastAttempt, error)

	// Utility
	Close() error
}
