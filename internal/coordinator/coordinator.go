// Package coordinator implements the three cross-instance subprotocols of
// spec §4.6 — leader election, change notification, and write forwarding —
// on top of a single host's filesystem, the way the original browser
// implementation's localStorage-based leader election
// (original_source/src/storage/leader_election.rs) maps onto a
// single-machine deployment once there is no shared browser tab storage to
// lean on. Every subprotocol is scoped to one database under
// <base>/<db>/coordination/ and serializes access with a gofrs/flock file
// lock, the same primitive internal/durablelog/fslog uses for its own
// per-database locking.
package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/blocksql/blocksql/internal/errs"
)

// Scope is the filesystem coordination root for one database.
type Scope struct {
	dir        string
	db         string
	instanceID string
}

// NewScope creates (if necessary) the coordination directory
// <baseDir>/<db>/coordination and returns a Scope bound to it.
func NewScope(baseDir, db, instanceID string) (*Scope, error) {
	dir := filepath.Join(baseDir, db, "coordination")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &errs.StoreError{Cause: err}
	}
	return &Scope{dir: dir, db: db, instanceID: instanceID}, nil
}

func (s *Scope) path(parts ...string) string {
	return filepath.Join(append([]string{s.dir}, parts...)...)
}

func (s *Scope) lockPath() string { return s.path(".lock") }

// DB returns the database name this scope coordinates.
func (s *Scope) DB() string { return s.db }

// WithExclusiveLock runs fn while holding this scope's cross-process lock,
// for callers outside this package that need the same exclusivity Election
// uses internally (spec §4.5 export/import "acquire an exclusive
// database-scoped lock", §5 "30s timeout"). timeout bounds the acquire
// attempt; exceeding it returns errs.LockTimeoutError.
func (s *Scope) WithExclusiveLock(ctx context.Context, timeout time.Duration, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.withLock(lockCtx, fn)
}

// withLock serializes fn against every other instance coordinating on this
// scope, cross-process, via an advisory file lock (mirrors
// fslog.Backend.withLock's combination of in-process exclusion plus flock,
// minus the in-process mutex since each Scope is owned by exactly one
// goroutine tree per instance).
func (s *Scope) withLock(ctx context.Context, fn func() error) error {
	fl := flock.New(s.lockPath())
	locked, err := fl.TryLockContext(ctx, lockPollInterval)
	if err != nil {
		return &errs.LockTimeoutError{DB: s.db}
	}
	if !locked {
		return &errs.LockTimeoutError{DB: s.db}
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}
