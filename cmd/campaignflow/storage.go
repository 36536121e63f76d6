package main

import (
	"context"
	"fmt"

	"github.com/pitabwire/frame/datastore/pool"

	cfconfig "github.com/voicetyped/campaignflow/config"
	"github.com/voicetyped/campaignflow/internal/storage/gormstore"
	"github.com/voicetyped/campaignflow/internal/storage/memstore"
	"github.com/voicetyped/campaignflow/internal/storage/sqlitestore"
	"github.com/voicetyped/campaignflow/pkg/audit"
	"github.com/voicetyped/campaignflow/pkg/lifecycle"
)

// openStorage selects the entity and audit stores named by STORAGE_DRIVER.
// The returned func releases whatever the driver opened.
func openStorage(ctx context.Context, cfg *cfconfig.ServiceConfig, dbPool pool.Pool) (lifecycle.EntityStore, audit.Store, func(), error) {
	switch cfg.StorageDriver {
	case cfconfig.StorageSQLite:
		store, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, func() { _ = store.Close() }, nil
	case cfconfig.StorageMemory:
		return memstore.NewEntityStore(), memstore.NewAuditStore(), func() {}, nil
	case cfconfig.StoragePostgres:
		store := gormstore.New(dbPool)
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return store, store, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
