package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/exec-email-agent/internal/adapters/store"
	"github.com/mikey/exec-email-agent/internal/config"
	"github.com/mikey/exec-email-agent/internal/core"
	"go.uber.org/zap"
)

// Backend is the concrete persistence surface behind the repository ports.
// Every store backend serves all four contracts from one connection.
type Backend interface {
	core.StateRepository
	core.BehaviorRepository
	core.TaskRepository
	core.RetryRepository
	Stop()
}

// StoreFactory creates the persistence backend based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore creates a store backend based on the configuration
func (f *StoreFactory) CreateStore() (Backend, error) {
	storeType := f.cfg.GetString("store.type")

	switch storeType {
	case "memory":
		return store.NewMemoryStore(f.logger), nil
	case "sqlite":
		sqlitePath := f.cfg.GetString("store.sqlite_path")
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return store.NewSQLiteStore(sqlitePath, f.logger)
	case "mysql":
		mysqlDSN := f.cfg.GetString("store.mysql_dsn")
		return store.NewMySQLStore(mysqlDSN, f.logger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeType)
	}
}
