package blocksql

import (
	"context"
	"sync"

	"github.com/blocksql/blocksql/internal/errs"
)

// dbRegistry maps a handle id (registry.Handle.ID, reused verbatim as the
// public handle number) to the *DB wrapping it, the package-level surface
// spec §6.1 describes for callers that address databases by integer handle
// rather than holding a *DB directly (FFI bindings, the CLI).
var dbRegistry = struct {
	mu sync.Mutex
	m  map[uint64]*DB
}{m: make(map[uint64]*DB)}

func registerDB(db *DB) uint64 {
	dbRegistry.mu.Lock()
	defer dbRegistry.mu.Unlock()
	dbRegistry.m[db.handle.ID] = db
	return db.handle.ID
}

func lookupDB(handle uint64) (*DB, error) {
	dbRegistry.mu.Lock()
	defer dbRegistry.mu.Unlock()
	db, ok := dbRegistry.m[handle]
	if !ok {
		return nil, &errs.InvalidHandleError{Handle: handle}
	}
	return db, nil
}

func forgetDB(handle uint64) {
	dbRegistry.mu.Lock()
	delete(dbRegistry.m, handle)
	dbRegistry.mu.Unlock()
}

// DBNew opens dbName and returns its handle (spec §6.1 db_new).
func DBNew(ctx context.Context, dbName string, opts Options) (uint64, error) {
	db, err := Open(ctx, dbName, opts)
	if err != nil {
		return 0, err
	}
	return registerDB(db), nil
}

// DBNewEncrypted opens dbName with key material and returns its handle
// (spec §6.1 db_new_encrypted).
func DBNewEncrypted(ctx context.Context, dbName string, keyMaterial []byte, opts Options) (uint64, error) {
	db, err := OpenEncrypted(ctx, dbName, keyMaterial, opts)
	if err != nil {
		return 0, err
	}
	return registerDB(db), nil
}

// DBRekey re-keys the database behind handle (spec §6.1 db_rekey).
func DBRekey(handle uint64, newKeyMaterial []byte) error {
	db, err := lookupDB(handle)
	if err != nil {
		return err
	}
	return db.Rekey(newKeyMaterial)
}

// DBExecute runs sqlText against handle with no bound parameters (spec
// §6.1 db_execute).
func DBExecute(ctx context.Context, handle uint64, sqlText string) (*QueryResult, error) {
	db, err := lookupDB(handle)
	if err != nil {
		return nil, err
	}
	return db.Execute(ctx, sqlText)
}

// DBExecuteWithParams runs sqlText with bound parameters (spec §6.1
// db_execute_with_params).
func DBExecuteWithParams(ctx context.Context, handle uint64, sqlText string, params []ColumnValue) (*QueryResult, error) {
	db, err := lookupDB(handle)
	if err != nil {
		return nil, err
	}
	return db.ExecuteWithParams(ctx, sqlText, params)
}

// DBExecuteBatch runs stmts as one transaction (spec §6.1 db_execute_batch).
func DBExecuteBatch(ctx context.Context, handle uint64, stmts []string) ([]*QueryResult, error) {
	db, err := lookupDB(handle)
	if err != nil {
		return nil, err
	}
	return db.ExecuteBatch(ctx, stmts)
}

// DBBeginTransaction starts a transaction on handle (spec §6.1
// db_begin_transaction).
func DBBeginTransaction(ctx context.Context, handle uint64) error {
	db, err := lookupDB(handle)
	if err != nil {
		return err
	}
	return db.Begin(ctx)
}

// DBCommitTransaction commits handle's open transaction (spec §6.1
// db_commit_transaction).
func DBCommitTransaction(ctx context.Context, handle uint64) error {
	db, err := lookupDB(handle)
	if err != nil {
		return err
	}
	return db.Commit(ctx)
}

// DBRollbackTransaction discards handle's open transaction (spec §6.1
// db_rollback_transaction).
func DBRollbackTransaction(ctx context.Context, handle uint64) error {
	db, err := lookupDB(handle)
	if err != nil {
		return err
	}
	return db.Rollback(ctx)
}

// DBPrepare compiles sqlText on handle, returning a statement id (spec §6.1
// db_prepare).
func DBPrepare(ctx context.Context, handle uint64, sqlText string) (uint64, error) {
	db, err := lookupDB(handle)
	if err != nil {
		return 0, err
	}
	return db.Prepare(ctx, sqlText)
}

// StmtExecute runs a prepared statement with params (spec §6.1
// stmt_execute).
func StmtExecute(ctx context.Context, handle, stmtID uint64, params []ColumnValue) (*QueryResult, error) {
	db, err := lookupDB(handle)
	if err != nil {
		return nil, err
	}
	return db.StmtExecute(ctx, stmtID, params)
}

// StmtFinalize releases a prepared statement (spec §6.1 stmt_finalize).
func StmtFinalize(handle, stmtID uint64) error {
	db, err := lookupDB(handle)
	if err != nil {
		return err
	}
	return db.FinalizeStatement(stmtID)
}

// DBExport snapshots handle's database into a standalone image (spec §6.1
// db_export).
func DBExport(ctx context.Context, handle uint64, opts ExportOptions) ([]byte, error) {
	db, err := lookupDB(handle)
	if err != nil {
		return nil, err
	}
	return db.Export(ctx, opts)
}

// DBImport replaces handle's database contents with image (spec §6.1
// db_import).
func DBImport(ctx context.Context, handle uint64, image []byte) error {
	db, err := lookupDB(handle)
	if err != nil {
		return err
	}
	return db.Import(ctx, image)
}

// DBClose closes handle and forgets it (spec §6.1 db_close). Reusing a
// closed handle afterward returns errs.InvalidHandleError, since handle ids
// are never recycled (spec §4.7).
func DBClose(handle uint64) error {
	db, err := lookupDB(handle)
	if err != nil {
		return err
	}
	forgetDB(handle)
	return db.Close()
}

// IsLeader reports whether handle's instance currently leads coordination
// for its database (spec §6.1 is_leader).
func IsLeader(handle uint64) (bool, error) {
	db, err := lookupDB(handle)
	if err != nil {
		return false, err
	}
	return db.IsLeader(), nil
}

// OnDataChange subscribes fn to handle's database change events (spec §6.1
// on_data_change).
func OnDataChange(ctx context.Context, handle uint64, fn func()) (func(), error) {
	db, err := lookupDB(handle)
	if err != nil {
		return nil, err
	}
	return db.OnDataChange(ctx, fn), nil
}

// GetError returns handle's last recorded error message (spec §6.1
// get_error).
func GetError(handle uint64) (string, error) {
	db, err := lookupDB(handle)
	if err != nil {
		return "", err
	}
	return db.GetError(), nil
}
