// Package blocksql is blocksql's public façade: it wires
// internal/registry's handle registry and runtime, internal/blockstore,
// internal/vfs, internal/coordinator, and internal/xport into the
// handle-based API spec §6.1 describes, the shape any host-language
// binding (mobile FFI, JS glue, generated bindings) marshals over
// (spec §1's "out of scope" list treats those bindings as thin callers of
// exactly this surface).
package blocksql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blocksql/blocksql/internal/applog"
	"github.com/blocksql/blocksql/internal/blockstore"
	"github.com/blocksql/blocksql/internal/checksum"
	"github.com/blocksql/blocksql/internal/config"
	"github.com/blocksql/blocksql/internal/durablelog"
	"github.com/blocksql/blocksql/internal/durablelog/boltlog"
	"github.com/blocksql/blocksql/internal/durablelog/fslog"
	"github.com/blocksql/blocksql/internal/errs"
	"github.com/blocksql/blocksql/internal/recovery"
	"github.com/blocksql/blocksql/internal/registry"
	"github.com/blocksql/blocksql/internal/retry"
	"github.com/blocksql/blocksql/internal/vfs"
	"github.com/blocksql/blocksql/internal/xport"

	_ "modernc.org/sqlite"
)

// Options configures process-wide behavior. Only the first call to Open in
// a process takes effect (spec §9 "Initialization is lazy and idempotent");
// later callers get the already-initialized core regardless of the Options
// they pass, matching the original design's single global runtime.
type Options struct {
	// DataDir overrides internal/config's resolved base directory.
	DataDir string
	// Backend selects the durable log implementation: "fs" (default) or
	// "bbolt".
	Backend string
	SyncPolicy          blockstore.SyncPolicy
	DefaultChecksumAlgo checksum.Algo
	CacheCapacity       int
	OnCorruption        recovery.OnCorruption
	// EnableCoordination turns on multi-instance leader election, change
	// notification, and write forwarding (spec §4.6). A single-process
	// embedding that never shares its data directory can leave this false.
	EnableCoordination bool
	Logger             *slog.Logger
}

// processCore is the process-wide singleton spec §9 describes: one
// DurableLog, one registry.Runtime, one VFS adapter, one instance id.
//
// modernc.org/sqlite has no public hook letting a caller substitute its own
// Go-implemented VFS under a DSN-selectable name (that File/VFS split is
// github.com/psanford/sqlite3vfs's shape, and it only works with the cgo
// mattn/go-sqlite3 driver, not the pure-Go driver this module uses — see
// DESIGN.md). So the adapter's File is not the engine's live storage; it is
// the mirror target. Each open database gets a real OS file under
// baseDir/sqlite, which modernc.org/sqlite reads and writes directly; after
// every local write blocksql drives that file's current bytes through
// vfs.File's Lock/WriteAt/Unlock/Truncate path (mirrorFileToStorage), the
// same write-buffering code a genuine VFS integration's callbacks would
// have driven, landing them in blockstore.Storage under one commit-marker
// version. On Open (and after Import) the last durable image is written
// back out to that OS file first (materializeFromStorage), so the engine
// always starts from blockstore's state, not a stale or empty file.
type processCore struct {
	log        durablelog.Log
	runtime    *registry.Runtime
	adapter    *vfs.Adapter
	instanceID string
	baseDir    string
	coordBase  string
	logger     *slog.Logger
	opts       Options

	mu       sync.Mutex
	storages map[string]*blockstore.Storage
}

//nolint:gochecknoglobals // process-wide singleton by design, matching internal/config's settingsOnce and the teacher's own db.go singleton pattern.
var (
	coreOnce sync.Once
	core     *processCore
	coreErr  error
)

func initCore(opts Options) (*processCore, error) {
	coreOnce.Do(func() {
		logger := opts.Logger
		if logger == nil {
			logger = applog.Default()
		}

		baseDir := opts.DataDir
		if baseDir == "" {
			if d, err := config.DataDir(); err == nil {
				baseDir = d
			} else {
				coreErr = err
				return
			}
		}

		backend := opts.Backend
		if backend == "" {
			if settings, err := config.LoadSettings(); err == nil && settings.Backend != "" {
				backend = settings.Backend
			} else {
				backend = "fs"
			}
		}

		var log durablelog.Log
		switch backend {
		case "bbolt":
			b, err := boltlog.Open(filepath.Join(baseDir, "blocksql.bbolt"))
			if err != nil {
				coreErr = err
				return
			}
			log = b
		default:
			b, err := fslog.Open(filepath.Join(baseDir, "store"))
			if err != nil {
				coreErr = err
				return
			}
			log = b
		}
		// Every caller above this line gets the retry policy (spec §4.1)
		// uniformly: blockstore, recovery, and xport never see the raw
		// backend, only this wrapped Log.
		log = retry.WrapLog(log)

		if err := os.MkdirAll(filepath.Join(baseDir, "sqlite"), 0o755); err != nil {
			coreErr = &errs.StoreError{Cause: err}
			return
		}

		c := &processCore{
			log:        log,
			instanceID: newInstanceID(),
			baseDir:    baseDir,
			coordBase:  filepath.Join(baseDir, "coordination"),
			logger:     logger,
			opts:       opts,
			storages:   make(map[string]*blockstore.Storage),
		}
		c.runtime = registry.NewRuntime(log, registry.Options{
			SyncPolicy:    opts.SyncPolicy,
			DefaultAlgo:   opts.DefaultChecksumAlgo,
			CacheCapacity: opts.CacheCapacity,
			OnCorruption:  opts.OnCorruption,
		}, logger)
		c.adapter = vfs.NewAdapter(c.storageFor)

		core = c
	})
	if coreErr != nil {
		return nil, coreErr
	}
	return core, nil
}

func (c *processCore) storageFor(dbName string) (*blockstore.Storage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.storages[dbName]
	if !ok {
		return nil, &errs.InvalidArgError{Arg: "db", Reason: "no open handle for database " + dbName}
	}
	return s, nil
}

func (c *processCore) registerStorage(dbName string, s *blockstore.Storage) {
	c.mu.Lock()
	c.storages[dbName] = s
	c.mu.Unlock()
}

func (c *processCore) unregisterStorage(dbName string) {
	c.mu.Lock()
	delete(c.storages, dbName)
	c.mu.Unlock()
	c.adapter.Forget(dbName)
}

// sqlitePath is the real OS file modernc.org/sqlite opens and manages for
// dbName; it is a working copy mirrored to and from blockstore.Storage, not
// the durable state of record.
func (c *processCore) sqlitePath(dbName string) string {
	return filepath.Join(c.baseDir, "sqlite", dbName+".db")
}

func (c *processCore) openSQLConn(dbName string) (*sql.DB, error) {
	sqldb, err := sql.Open("sqlite", c.sqlitePath(dbName))
	if err != nil {
		return nil, &errs.StoreError{Cause: err}
	}
	return sqldb, nil
}

// materializeFromStorage writes storage's currently durable image out to
// dbName's OS file, so a freshly opened SQL connection sees the last
// commit (spec §4.7 "Initialization is lazy and idempotent") instead of an
// empty or stale file. A database with no allocated block 0 has never been
// written to, so any leftover OS file from a prior process is removed
// instead, letting the engine create a fresh one.
func (c *processCore) materializeFromStorage(ctx context.Context, dbName string, storage *blockstore.Storage) error {
	path := c.sqlitePath(dbName)
	if !storage.IsAllocated(0) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return &errs.StoreError{Cause: err}
		}
		return nil
	}
	image, err := xport.Export(ctx, storage, xport.ExportOptions{})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return &errs.StoreError{Cause: err}
	}
	return nil
}

// mirrorFileToStorage reads dbName's current OS file and drives its bytes
// through the adapter's vfs.File exactly as a genuine VFS integration's
// Lock/Unlock callbacks would around one transaction: a Reserved-lock
// write-through followed by Unlock's flush lands every changed block (plus
// any now-absent tail block a Truncate catches) under one commit-marker
// version (spec §4.3 rule 3). Called after every local write so blockstore
// is never behind what the engine just durably committed to its own file.
func (c *processCore) mirrorFileToStorage(ctx context.Context, dbName string) error {
	data, err := os.ReadFile(c.sqlitePath(dbName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &errs.StoreError{Cause: err}
	}
	f, err := c.adapter.Open(dbName)
	if err != nil {
		return err
	}
	if err := f.Lock(vfs.LockReserved); err != nil {
		return err
	}
	if _, err := f.WriteAt(ctx, data, 0); err != nil {
		return err
	}
	if err := f.Unlock(ctx, vfs.LockNone); err != nil {
		return err
	}
	return f.Truncate(ctx, int64(len(data)))
}

func newInstanceID() string {
	// timestamp || random, per spec §4.6 Election (original_source's
	// leader_election.rs instance id scheme); uuid supplies the random
	// half since it is already an indirect teacher dependency (pulled by
	// goose) promoted here to a direct one (see DESIGN.md).
	return fmt.Sprintf("%016x_%s", time.Now().UnixNano(), uuid.NewString())
}
