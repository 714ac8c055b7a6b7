package blocksql

import (
	"context"
	"os"

	"github.com/blocksql/blocksql/internal/coordinator"
	"github.com/blocksql/blocksql/internal/errs"
	"github.com/blocksql/blocksql/internal/xport"
)

// ExportOptions controls chunking and progress reporting during Export
// (spec §4.5 Export, §6.1 db_export).
type ExportOptions = xport.ExportOptions

// Export snapshots the current database contents into a standalone SQLite
// file image (spec §4.5 Export). The export runs against whatever is
// currently durable; an in-flight transaction on this handle is not
// automatically flushed first.
func (db *DB) Export(ctx context.Context, opts ExportOptions) ([]byte, error) {
	db.handle.Scope.Clear()
	image, err := xport.Export(ctx, db.handle.Storage, opts)
	if err != nil {
		db.handle.Scope.Set(err)
		return nil, err
	}
	return image, nil
}

// Import replaces this database's entire contents with image (spec §4.5
// Import, §6.1 db_import): any open transaction and prepared statements are
// discarded, the SQL connection is closed and reopened, and block storage
// is rebuilt from the durable log's post-import state, all under the
// database's exclusive coordination lock.
func (db *DB) Import(ctx context.Context, image []byte) error {
	db.handle.Scope.Clear()

	db.mu.Lock()
	db.tx = nil
	db.mu.Unlock()
	for _, id := range db.handle.StatementIDs() {
		_ = db.handle.FinalizeStatement(id)
	}

	scope := db.scope
	if scope == nil {
		s, err := coordinator.NewScope(db.core.baseDir, db.handle.DBName, db.core.instanceID)
		if err != nil {
			db.handle.Scope.Set(err)
			return err
		}
		scope = s
	}

	if err := db.handle.SQLDB.Close(); err != nil {
		db.handle.Scope.Set(err)
		return err
	}
	db.core.adapter.Forget(db.handle.DBName)

	if err := xport.Import(ctx, db.core.log, scope, db.handle.DBName, image, db.core.opts.DefaultChecksumAlgo); err != nil {
		db.handle.Scope.Set(err)
		return err
	}

	if err := db.handle.Storage.Refresh(ctx); err != nil {
		db.handle.Scope.Set(err)
		return err
	}

	// image is already the exact post-import durable state; write it
	// straight to the OS file instead of round-tripping it back out through
	// xport.Export (see processCore's materialize/mirror doc comment).
	if err := os.WriteFile(db.core.sqlitePath(db.handle.DBName), image, 0o644); err != nil {
		writeErr := &errs.StoreError{Cause: err}
		db.handle.Scope.Set(writeErr)
		return writeErr
	}

	sqldb, err := db.core.openSQLConn(db.handle.DBName)
	if err != nil {
		db.handle.Scope.Set(err)
		return err
	}
	db.handle.SQLDB = sqldb

	if db.coordEnabled {
		if pubErr := db.notifier.Publish(coordinator.DataChanged, db.handle.DBName); pubErr != nil {
			db.logger.Error("publish DataChanged failed", "db", db.handle.DBName, "error", pubErr)
		}
		if pubErr := db.notifier.Publish(coordinator.SchemaChanged, db.handle.DBName); pubErr != nil {
			db.logger.Error("publish SchemaChanged failed", "db", db.handle.DBName, "error", pubErr)
		}
	}

	return nil
}
