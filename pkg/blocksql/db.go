package blocksql

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/blocksql/blocksql/internal/coordinator"
	"github.com/blocksql/blocksql/internal/errs"
	"github.com/blocksql/blocksql/internal/registry"
)

// DB is one open database connection, spec §6.1's "handle" made concrete:
// it pairs a registry.Handle (block storage + SQL connection) with the
// coordination trio (Election, Notifier, WriteQueue) spec §4.6 describes
// for multi-instance deployments.
type DB struct {
	core   *processCore
	handle *registry.Handle

	coordEnabled bool
	scope        *coordinator.Scope
	election     *coordinator.Election
	notifier     *coordinator.Notifier
	writeQueue   *coordinator.WriteQueue
	unsubscribe  func()
	drainStop    chan struct{}
	drainDone    chan struct{}

	logger *slog.Logger

	mu sync.Mutex
	tx *sql.Tx
}

// Open opens (creating if necessary) the database named dbName, running
// crash recovery exactly once per process for that name (spec §4.7
// "Initialization is lazy and idempotent").
func Open(ctx context.Context, dbName string, opts Options) (*DB, error) {
	return open(ctx, dbName, nil, opts)
}

// OpenEncrypted is Open plus a key material parameter, which is accepted
// and not used (spec §6.1 db_new_encrypted; see SPEC_FULL.md §10 —
// blocksql's core performs no cryptography itself).
func OpenEncrypted(ctx context.Context, dbName string, keyMaterial []byte, opts Options) (*DB, error) {
	return open(ctx, dbName, keyMaterial, opts)
}

func open(ctx context.Context, dbName string, keyMaterial []byte, opts Options) (*DB, error) {
	c, err := initCore(opts)
	if err != nil {
		return nil, err
	}

	handle, err := c.runtime.OpenHandle(ctx, dbName, keyMaterial)
	if err != nil {
		return nil, err
	}
	c.registerStorage(dbName, handle.Storage)

	if err := c.materializeFromStorage(ctx, dbName, handle.Storage); err != nil {
		_ = c.runtime.CloseHandle(handle.ID)
		c.unregisterStorage(dbName)
		return nil, err
	}

	sqldb, err := c.openSQLConn(dbName)
	if err != nil {
		_ = c.runtime.CloseHandle(handle.ID)
		c.unregisterStorage(dbName)
		return nil, err
	}
	handle.SQLDB = sqldb

	db := &DB{core: c, handle: handle, logger: c.logger}

	if opts.EnableCoordination {
		if err := db.enableCoordination(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return db, nil
}

func (db *DB) enableCoordination(ctx context.Context) error {
	scope, err := coordinator.NewScope(db.core.baseDir, db.handle.DBName, db.core.instanceID)
	if err != nil {
		return err
	}
	notifier, err := coordinator.NewNotifier(scope)
	if err != nil {
		return err
	}
	writeQueue, err := coordinator.NewWriteQueue(scope)
	if err != nil {
		return err
	}
	election := coordinator.NewElection(scope, db.logger, func() {
		_ = notifier.Publish(coordinator.LeaderChanged, scope.DB())
	})
	if err := election.Start(ctx); err != nil {
		return err
	}

	db.scope = scope
	db.election = election
	db.notifier = notifier
	db.writeQueue = writeQueue
	db.coordEnabled = true

	db.unsubscribe = notifier.Subscribe(ctx, 0, func(ev coordinator.Event) {
		if ev.Kind != coordinator.DataChanged {
			return
		}
		if refreshErr := db.handle.Storage.Refresh(context.Background()); refreshErr != nil {
			db.logger.Error("refresh after DataChanged failed", "db", db.handle.DBName, "error", refreshErr)
		}
	})

	db.drainStop = make(chan struct{})
	db.drainDone = make(chan struct{})
	go db.drainWriteQueue()

	return nil
}

// drainWriteQueue is the leader-side half of spec §4.6's write forwarding:
// WriteQueue's own doc comment says the leader polls separately, owned by
// the caller, so this loop is that caller. While this instance
// holds leadership it periodically lists PendingRequests, executes each
// one locally, and writes back the matching response; a follower that
// becomes leader mid-poll simply starts picking up requests on its next
// tick, and a request left behind by a leader that stepped down is picked
// up by whichever instance next wins the election.
func (db *DB) drainWriteQueue() {
	defer close(db.drainDone)
	ticker := time.NewTicker(coordinator.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-db.drainStop:
			return
		case <-ticker.C:
			if !db.IsLeader() {
				continue
			}
			db.drainPendingRequests()
		}
	}
}

func (db *DB) drainPendingRequests() {
	ids, err := db.writeQueue.PendingRequests()
	if err != nil {
		db.logger.Error("list pending write requests failed", "db", db.handle.DBName, "error", err)
		return
	}
	for _, id := range ids {
		if !db.IsLeader() {
			return
		}
		sqlText, encoded, err := db.writeQueue.ReadRequest(id)
		if err != nil {
			continue
		}
		params := make([]ColumnValue, len(encoded))
		decodeErr := error(nil)
		for i, raw := range encoded {
			if err := json.Unmarshal([]byte(raw), &params[i]); err != nil {
				decodeErr = err
				break
			}
		}
		if decodeErr != nil {
			_ = db.writeQueue.Respond(id, nil, decodeErr)
			continue
		}

		drainCtx := context.Background()
		result, execErr := db.executeLocal(drainCtx, sqlText, params)
		if execErr == nil {
			execErr = db.mirrorAfterWrite(drainCtx)
		}
		if execErr != nil {
			if respErr := db.writeQueue.Respond(id, nil, execErr); respErr != nil {
				db.logger.Error("respond to write request failed", "db", db.handle.DBName, "error", respErr)
			}
			continue
		}
		if pubErr := db.notifier.Publish(coordinator.DataChanged, db.handle.DBName); pubErr != nil {
			db.logger.Error("publish DataChanged failed", "db", db.handle.DBName, "error", pubErr)
		}
		raw, err := json.Marshal(result)
		if err != nil {
			_ = db.writeQueue.Respond(id, nil, err)
			continue
		}
		if respErr := db.writeQueue.Respond(id, raw, nil); respErr != nil {
			db.logger.Error("respond to write request failed", "db", db.handle.DBName, "error", respErr)
		}
	}
}

// IsLeader reports whether this instance is the coordination leader for
// this database (spec §6.1 is_leader). A database opened without
// coordination is always its own, sole leader.
func (db *DB) IsLeader() bool {
	if !db.coordEnabled {
		return true
	}
	return db.election.IsLeader()
}

// OnDataChange subscribes handler to DataChanged events for this database
// (spec §6.1 on_data_change), returning an unsubscribe function. Databases
// opened without coordination never fire events; the returned function is a
// no-op.
func (db *DB) OnDataChange(ctx context.Context, handler func()) func() {
	if !db.coordEnabled {
		return func() {}
	}
	return db.notifier.Subscribe(ctx, 0, func(ev coordinator.Event) {
		if ev.Kind == coordinator.DataChanged {
			handler()
		}
	})
}

// GetError returns this handle's last recorded error message, or "" if none
// (spec §6.1 get_error).
func (db *DB) GetError() string {
	return db.handle.Scope.LastString()
}

// Rekey accepts new key material and discards it, clearing the handle's
// last error; blocksql's core persists no key material itself and does not
// re-encrypt already-written blocks (spec §6.1 db_rekey; see SPEC_FULL.md §10).
func (db *DB) Rekey(_ []byte) error {
	db.handle.Scope.Clear()
	return nil
}

// Close releases every resource this DB holds: prepared statements, the SQL
// connection, block storage, and (if enabled) coordination machinery (spec
// §6.1 db_close).
func (db *DB) Close() error {
	if db.unsubscribe != nil {
		db.unsubscribe()
	}
	if db.drainStop != nil {
		close(db.drainStop)
		<-db.drainDone
	}
	if db.election != nil {
		db.election.Stop()
	}
	db.core.unregisterStorage(db.handle.DBName)
	return db.core.runtime.CloseHandle(db.handle.ID)
}

// isQuery reports whether sqlText's leading keyword produces rows, so
// Execute knows whether to call QueryContext or ExecContext.
func isQuery(sqlText string) bool {
	switch strings.ToUpper(leadingKeyword(sqlText)) {
	case "SELECT", "PRAGMA", "EXPLAIN", "WITH", "VALUES":
		return true
	default:
		return false
	}
}

func leadingKeyword(sqlText string) string {
	trimmed := strings.TrimLeft(sqlText, " \t\r\n(")
	i := strings.IndexAny(trimmed, " \t\r\n(")
	if i < 0 {
		return trimmed
	}
	return trimmed[:i]
}

// Execute runs sqlText with no bound parameters (spec §6.1 db_execute).
func (db *DB) Execute(ctx context.Context, sqlText string) (*QueryResult, error) {
	return db.ExecuteWithParams(ctx, sqlText, nil)
}

// ExecuteWithParams runs sqlText with bound parameters (spec §6.1
// db_execute_with_params), forwarding writes to the coordination leader
// when this instance is a follower (spec §4.6).
func (db *DB) ExecuteWithParams(ctx context.Context, sqlText string, params []ColumnValue) (*QueryResult, error) {
	db.handle.Scope.Clear()

	kind := coordinator.ClassifyStatement(sqlText)
	if db.coordEnabled && kind == coordinator.StatementWrite && !db.IsLeader() {
		result, err := db.forward(ctx, sqlText, params)
		if err != nil {
			db.handle.Scope.Set(err)
			return nil, err
		}
		return result, nil
	}

	result, err := db.executeLocal(ctx, sqlText, params)
	if err != nil {
		db.handle.Scope.Set(err)
		return nil, err
	}

	if kind != coordinator.StatementReadOnly && !db.inTransaction() {
		if mirrorErr := db.mirrorAfterWrite(ctx); mirrorErr != nil {
			db.handle.Scope.Set(mirrorErr)
			return nil, mirrorErr
		}
	}

	if kind != coordinator.StatementReadOnly && db.coordEnabled {
		if pubErr := db.notifier.Publish(coordinator.DataChanged, db.handle.DBName); pubErr != nil {
			db.logger.Error("publish DataChanged failed", "db", db.handle.DBName, "error", pubErr)
		}
	}

	return result, nil
}

func (db *DB) forward(ctx context.Context, sqlText string, params []ColumnValue) (*QueryResult, error) {
	encoded := make([]string, len(params))
	for i, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, &errs.InvalidArgError{Arg: "params", Reason: "failed to encode parameter"}
		}
		encoded[i] = string(raw)
	}
	raw, err := db.writeQueue.Forward(ctx, sqlText, encoded)
	if err != nil {
		return nil, err
	}
	var result QueryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &errs.StoreError{Cause: err}
	}
	return &result, nil
}

func (db *DB) executeLocal(ctx context.Context, sqlText string, params []ColumnValue) (*QueryResult, error) {
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = columnValueToDriver(p)
	}

	start := time.Now()
	queryer := db.querier()

	if isQuery(sqlText) {
		rows, err := queryer.queryContext(ctx, sqlText, args...)
		if err != nil {
			return nil, &errs.SQLError{Message: err.Error(), SQL: sqlText}
		}
		defer rows.Close()
		result, err := scanRows(rows)
		if err != nil {
			return nil, &errs.SQLError{Message: err.Error(), SQL: sqlText}
		}
		result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
		return result, nil
	}

	res, err := queryer.execContext(ctx, sqlText, args...)
	if err != nil {
		return nil, &errs.SQLError{Message: err.Error(), SQL: sqlText}
	}
	affected, _ := res.RowsAffected()
	lastID, idErr := res.LastInsertId()
	result := &QueryResult{
		AffectedRows:    uint32(affected),
		ExecutionTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
	if idErr == nil {
		result.LastInsertID = &lastID
	}
	return result, nil
}

// sqlExecutor is implemented by both *sql.DB and *sql.Tx, letting
// executeLocal run identically whether or not a transaction is open.
type sqlExecutor interface {
	queryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	execContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type dbExecutor struct{ db *sql.DB }

func (e dbExecutor) queryContext(ctx context.Context, q string, args ...interface{}) (*sql.Rows, error) {
	return e.db.QueryContext(ctx, q, args...)
}
func (e dbExecutor) execContext(ctx context.Context, q string, args ...interface{}) (sql.Result, error) {
	return e.db.ExecContext(ctx, q, args...)
}

type txExecutor struct{ tx *sql.Tx }

func (e txExecutor) queryContext(ctx context.Context, q string, args ...interface{}) (*sql.Rows, error) {
	return e.tx.QueryContext(ctx, q, args...)
}
func (e txExecutor) execContext(ctx context.Context, q string, args ...interface{}) (sql.Result, error) {
	return e.tx.ExecContext(ctx, q, args...)
}

func (db *DB) querier() sqlExecutor {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.tx != nil {
		return txExecutor{db.tx}
	}
	return dbExecutor{db.handle.SQLDB}
}

// inTransaction reports whether an explicit Begin is currently open on this
// handle. Statements run inside one are mirrored once, at Commit, rather
// than after every individual statement.
func (db *DB) inTransaction() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tx != nil
}

// mirrorAfterWrite drives modernc.org/sqlite's just-written OS file through
// to blockstore.Storage (see processCore's doc comment). Callers treat its
// error as a real failure of the write it follows, not a best-effort side
// effect, since blockstore is this module's actual durable state of record.
func (db *DB) mirrorAfterWrite(ctx context.Context) error {
	return db.core.mirrorFileToStorage(ctx, db.handle.DBName)
}

// ExecuteBatch runs each statement in stmts in order inside one
// transaction, matching spec §6.1 db_execute_batch's all-or-nothing
// contract (spec §8 "a transaction buffers writes ... and flushes on
// COMMIT").
func (db *DB) ExecuteBatch(ctx context.Context, stmts []string) ([]*QueryResult, error) {
	if err := db.Begin(ctx); err != nil {
		return nil, err
	}
	results := make([]*QueryResult, 0, len(stmts))
	for _, s := range stmts {
		r, err := db.executeLocal(ctx, s, nil)
		if err != nil {
			_ = db.Rollback(ctx)
			db.handle.Scope.Set(err)
			return nil, err
		}
		results = append(results, r)
	}
	if err := db.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// Begin starts a transaction (spec §6.1 db_begin_transaction).
func (db *DB) Begin(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.tx != nil {
		return &errs.InvalidArgError{Arg: "transaction", Reason: "a transaction is already open on this handle"}
	}
	tx, err := db.handle.SQLDB.BeginTx(ctx, nil)
	if err != nil {
		return &errs.SQLError{Message: err.Error(), SQL: "BEGIN"}
	}
	db.tx = tx
	return nil
}

// Commit commits the open transaction and publishes a DataChanged event
// once it durably lands (spec §8: one durable-log batch per COMMIT).
func (db *DB) Commit(ctx context.Context) error {
	db.mu.Lock()
	tx := db.tx
	db.tx = nil
	db.mu.Unlock()
	if tx == nil {
		return &errs.InvalidArgError{Arg: "transaction", Reason: "no transaction is open on this handle"}
	}
	if err := tx.Commit(); err != nil {
		return &errs.SQLError{Message: err.Error(), SQL: "COMMIT"}
	}
	if err := db.mirrorAfterWrite(ctx); err != nil {
		return err
	}
	if db.coordEnabled {
		if err := db.notifier.Publish(coordinator.DataChanged, db.handle.DBName); err != nil {
			db.logger.Error("publish DataChanged failed", "db", db.handle.DBName, "error", err)
		}
	}
	return nil
}

// Rollback discards the open transaction (spec §6.1 db_rollback_transaction).
func (db *DB) Rollback(_ context.Context) error {
	db.mu.Lock()
	tx := db.tx
	db.tx = nil
	db.mu.Unlock()
	if tx == nil {
		return &errs.InvalidArgError{Arg: "transaction", Reason: "no transaction is open on this handle"}
	}
	if err := tx.Rollback(); err != nil {
		return &errs.SQLError{Message: err.Error(), SQL: "ROLLBACK"}
	}
	return nil
}

// Prepare compiles sqlText once for repeated execution (spec §6.1
// db_prepare), returning a statement id scoped to this handle.
func (db *DB) Prepare(ctx context.Context, sqlText string) (uint64, error) {
	stmt, err := db.handle.SQLDB.PrepareContext(ctx, sqlText)
	if err != nil {
		db.handle.Scope.Set(err)
		return 0, &errs.SQLError{Message: err.Error(), SQL: sqlText}
	}
	s := db.handle.AddStatement(sqlText, stmt)
	return s.ID, nil
}

// StmtExecute runs a previously prepared statement with params (spec §6.1
// stmt_execute).
func (db *DB) StmtExecute(ctx context.Context, stmtID uint64, params []ColumnValue) (*QueryResult, error) {
	s, err := db.handle.Statement(stmtID)
	if err != nil {
		return nil, err
	}
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = columnValueToDriver(p)
	}
	start := time.Now()
	if isQuery(s.SQL) {
		rows, err := s.Stmt.QueryContext(ctx, args...)
		if err != nil {
			return nil, &errs.SQLError{Message: err.Error(), SQL: s.SQL}
		}
		defer rows.Close()
		result, err := scanRows(rows)
		if err != nil {
			return nil, &errs.SQLError{Message: err.Error(), SQL: s.SQL}
		}
		result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
		return result, nil
	}
	res, err := s.Stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, &errs.SQLError{Message: err.Error(), SQL: s.SQL}
	}
	affected, _ := res.RowsAffected()
	lastID, idErr := res.LastInsertId()
	result := &QueryResult{AffectedRows: uint32(affected), ExecutionTimeMs: float64(time.Since(start).Microseconds()) / 1000.0}
	if idErr == nil {
		result.LastInsertID = &lastID
	}
	if !db.inTransaction() {
		if mirrorErr := db.mirrorAfterWrite(ctx); mirrorErr != nil {
			return nil, mirrorErr
		}
	}
	if db.coordEnabled {
		if pubErr := db.notifier.Publish(coordinator.DataChanged, db.handle.DBName); pubErr != nil {
			db.logger.Error("publish DataChanged failed", "db", db.handle.DBName, "error", pubErr)
		}
	}
	return result, nil
}

// FinalizeStatement releases a prepared statement (spec §6.1 stmt_finalize).
func (db *DB) FinalizeStatement(stmtID uint64) error {
	return db.handle.FinalizeStatement(stmtID)
}

func columnValueToDriver(v ColumnValue) interface{} {
	switch v.Kind {
	case KindInteger:
		return v.Integer
	case KindReal:
		return v.Real
	case KindText:
		return v.Text
	case KindBlob:
		return v.Blob
	case KindBigInt:
		return v.BigInt
	case KindDate:
		return v.DateMs
	default:
		return nil
	}
}

func scanRows(rows *sql.Rows) (*QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := &QueryResult{Columns: cols}
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		values := make([]ColumnValue, len(cols))
		for i, v := range raw {
			values[i] = driverValueToColumn(v)
		}
		result.Rows = append(result.Rows, ResultRow{Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func driverValueToColumn(v interface{}) ColumnValue {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case int64:
		return IntegerValue(t)
	case float64:
		return RealValue(t)
	case string:
		return TextValue(t)
	case []byte:
		return BlobValue(t)
	case bool:
		if t {
			return IntegerValue(1)
		}
		return IntegerValue(0)
	default:
		return NullValue()
	}
}
