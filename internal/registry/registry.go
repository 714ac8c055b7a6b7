// Package registry implements the Handle Registry & Runtime of spec §4.7/§9:
// monotonic, never-reused handle ids; a per-handle "last error" scope
// (Open Question resolution — see DESIGN.md — in place of OS-thread-local
// storage); and one owning Runtime that gates first-open recovery before any
// Storage opens on top of the shared durablelog.Log (spec §9's "bridge via
// one owning runtime"). The Log a Runtime is constructed with is already
// wrapped in internal/retry's backoff policy by pkg/blocksql's process core,
// so every call this package and blockstore/recovery/xport make against it
// retries transient errors uniformly without any of them calling out to
// internal/retry directly.
package registry

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/blocksql/blocksql/internal/blockstore"
	"github.com/blocksql/blocksql/internal/checksum"
	"github.com/blocksql/blocksql/internal/durablelog"
	"github.com/blocksql/blocksql/internal/errs"
	"github.com/blocksql/blocksql/internal/recovery"
)

// Options configures a Runtime (spec §4.2 config, §6.1 db_new options).
type Options struct {
	SyncPolicy    blockstore.SyncPolicy
	DefaultAlgo   checksum.Algo
	CacheCapacity int
	OnCorruption  recovery.OnCorruption
}

// Statement is one prepared SQL statement owned by a Handle (spec §6.1
// db_prepare / stmt_* operations).
type Statement struct {
	ID   uint64
	SQL  string
	Stmt *sql.Stmt
}

// Handle is one open database connection (spec §4.7, §6.1 db_new). Scope
// carries the per-handle "last error" state that stands in for the
// original thread-local pattern.
type Handle struct {
	ID      uint64
	DBName  string
	Scope   *errs.Scope
	Storage *blockstore.Storage
	SQLDB   *sql.DB

	mu         sync.Mutex
	statements map[uint64]*Statement
	nextStmt   atomic.Uint64
}

// AddStatement registers stmt under a new monotonic id.
func (h *Handle) AddStatement(sqlText string, stmt *sql.Stmt) *Statement {
	s := &Statement{ID: h.nextStmt.Add(1), SQL: sqlText, Stmt: stmt}
	h.mu.Lock()
	h.statements[s.ID] = s
	h.mu.Unlock()
	return s
}

// StatementIDs returns the ids of every currently prepared statement on this
// handle, for callers (e.g. db_import) that must finalize all of them before
// tearing down the underlying connection.
func (h *Handle) StatementIDs() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]uint64, 0, len(h.statements))
	for id := range h.statements {
		ids = append(ids, id)
	}
	return ids
}

// Statement looks up a previously registered statement.
func (h *Handle) Statement(id uint64) (*Statement, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.statements[id]
	if !ok {
		return nil, &errs.InvalidHandleError{Handle: id}
	}
	return s, nil
}

// FinalizeStatement drops and closes a statement.
func (h *Handle) FinalizeStatement(id uint64) error {
	h.mu.Lock()
	s, ok := h.statements[id]
	delete(h.statements, id)
	h.mu.Unlock()
	if !ok {
		return &errs.InvalidHandleError{Handle: id}
	}
	if s.Stmt != nil {
		return s.Stmt.Close()
	}
	return nil
}

// Runtime owns every open Handle for a process, the shared durablelog.Log,
// and the once-per-database recovery gate (spec §9 "Initialization is lazy
// and idempotent").
type Runtime struct {
	log    durablelog.Log
	opts   Options
	logger *slog.Logger

	mu           sync.Mutex
	handles      map[uint64]*Handle
	nextHandleID atomic.Uint64

	recoverMu   sync.Mutex
	recoverOnce map[string]*sync.Once
}

// NewRuntime constructs a Runtime over log.
func NewRuntime(log durablelog.Log, opts Options, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		log:         log,
		opts:        opts,
		logger:      logger,
		handles:     make(map[uint64]*Handle),
		recoverOnce: make(map[string]*sync.Once),
	}
}

// ensureRecovered runs recovery.Run for dbName exactly once per process
// lifetime, regardless of how many handles subsequently open it.
func (r *Runtime) ensureRecovered(ctx context.Context, dbName string) (recovery.Report, error) {
	r.recoverMu.Lock()
	once, ok := r.recoverOnce[dbName]
	if !ok {
		once = &sync.Once{}
		r.recoverOnce[dbName] = once
	}
	r.recoverMu.Unlock()

	var report recovery.Report
	var runErr error
	once.Do(func() {
		report, runErr = recovery.Run(ctx, r.log, dbName, recovery.Options{
			OnCorruption: r.opts.OnCorruption,
			DefaultAlgo:  r.opts.DefaultAlgo,
		})
		if runErr != nil {
			r.logger.Error("recovery failed", "db", dbName, "error", runErr)
		} else {
			r.logger.Info("recovery complete", "db", dbName,
				"verified", report.Verified, "corrupted", report.Corrupted,
				"repaired", report.Repaired, "duration_ms", report.DurationMs)
		}
	})
	return report, runErr
}

// OpenHandle runs first-open recovery (idempotent), opens block storage,
// and registers a new Handle under a fresh monotonic id (spec §4.7, §6.1
// db_new). keyMaterial is accepted for API shape (see SPEC_FULL.md §10,
// encryption-flag plumbing) and is not stored or passed on —
// blocksql's core implements no cryptography itself.
func (r *Runtime) OpenHandle(ctx context.Context, dbName string, keyMaterial []byte) (*Handle, error) {
	if _, err := r.ensureRecovered(ctx, dbName); err != nil {
		return nil, err
	}

	cacheCap := r.opts.CacheCapacity
	if cacheCap <= 0 {
		cacheCap = blockstore.DefaultCacheCapacity
	}
	storage, err := blockstore.Open(ctx, r.log, dbName, r.opts.SyncPolicy, r.opts.DefaultAlgo, cacheCap, r.logger)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		ID:         r.nextHandleID.Add(1),
		DBName:     dbName,
		Scope:      &errs.Scope{},
		Storage:    storage,
		statements: make(map[uint64]*Statement),
	}
	r.mu.Lock()
	r.handles[h.ID] = h
	r.mu.Unlock()
	return h, nil
}

// Handle looks up a previously opened handle.
func (r *Runtime) Handle(id uint64) (*Handle, error) {
	if id == 0 {
		return nil, &errs.InvalidHandleError{Handle: id}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, &errs.InvalidHandleError{Handle: id}
	}
	return h, nil
}

// CloseHandle closes and forgets handle id, closing its SQL connection and
// block storage (spec §6.1 db_close).
func (r *Runtime) CloseHandle(id uint64) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	r.mu.Unlock()
	if !ok {
		return &errs.InvalidHandleError{Handle: id}
	}

	h.mu.Lock()
	for sid, s := range h.statements {
		if s.Stmt != nil {
			_ = s.Stmt.Close()
		}
		delete(h.statements, sid)
	}
	h.mu.Unlock()

	if h.SQLDB != nil {
		_ = h.SQLDB.Close()
	}
	return h.Storage.Close()
}

// Handles returns every currently open handle, for CLI/export diagnostics.
func (r *Runtime) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}
