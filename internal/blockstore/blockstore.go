// Package blockstore implements the Block Storage layer of spec §4.2: an
// allocator, an LRU payload cache, checksum-gated reads/writes, and the
// commit-marker-driven sync protocol that sits directly on top of
// internal/durablelog. It is the one place blocksql turns "is this block
// visible yet" into a concrete decision.
package blockstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/blocksql/blocksql/internal/checksum"
	"github.com/blocksql/blocksql/internal/durablelog"
	"github.com/blocksql/blocksql/internal/errs"
)

// Storage is the block storage state for a single database, grounded on the
// original CLI's internal/store/db.go: one struct owns a mutex-guarded view
// of durable state plus an in-memory cache, and every public method takes
// that lock for its duration.
type Storage struct {
	dbName      string
	log         durablelog.Log
	defaultAlgo checksum.Algo
	policy      SyncPolicy
	logger      *slog.Logger
	Counters    *Counters

	mu           sync.Mutex
	cache        *lru
	allocated    map[uint64]struct{}
	tombstones   map[uint64]struct{}
	nextBlockID  uint64
	commitMarker uint64
	dirtyBytes   int
	lastWrite    time.Time

	stopAuto chan struct{}
	autoWG   sync.WaitGroup
}

// DefaultCacheCapacity is the number of blocks kept in the LRU before
// non-dirty entries are evicted.
const DefaultCacheCapacity = 1024

// Open restores in-memory allocator and cache state for db from the durable
// log (which must already have been reconciled by internal/recovery — see
// internal/registry for the once-per-process ordering) and, if
// policy.IntervalMs is set, starts the background auto-sync worker.
func Open(ctx context.Context, log durablelog.Log, dbName string, policy SyncPolicy, defaultAlgo checksum.Algo, cacheCapacity int, logger *slog.Logger) (*Storage, error) {
	if cacheCapacity <= 0 {
		cacheCapacity = DefaultCacheCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	marker, err := log.GetMarker(ctx, dbName)
	if err != nil {
		return nil, err
	}
	metas, err := log.ScanMeta(ctx, dbName)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		dbName:       dbName,
		log:          log,
		defaultAlgo:  defaultAlgo,
		policy:       policy,
		logger:       logger.With("db", dbName),
		Counters:     &Counters{},
		cache:        newLRU(cacheCapacity),
		allocated:    make(map[uint64]struct{}),
		tombstones:   make(map[uint64]struct{}),
		commitMarker: marker,
	}

	var maxID uint64
	for id, m := range metas {
		if uint64(m.Version) > marker {
			// Not yet visible; recovery should already have reconciled this
			// away, but Open tolerates leftovers defensively by ignoring them.
			continue
		}
		s.allocated[id] = struct{}{}
		if id > maxID {
			maxID = id
		}
	}
	// Block 0 is always reserved (spec §3 invariant 6 / §8): the SQLite
	// header page lives there, so AllocateBlock never hands it out.
	if maxID == 0 {
		s.nextBlockID = 1
	} else {
		s.nextBlockID = maxID + 1
	}

	if policy.IntervalMs > 0 {
		s.startAutoSync()
	}
	return s, nil
}

// Close stops the auto-sync worker (if running) and releases no other
// resources; the durable log's lifecycle is owned by the caller.
func (s *Storage) Close() error {
	if s.stopAuto != nil {
		close(s.stopAuto)
		s.autoWG.Wait()
	}
	return nil
}

// AllocateBlock reserves the next free block id, preferring ids freed by a
// prior DeallocateBlock (spec §4.2 "id reuse").
func (s *Storage) AllocateBlock(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id uint64
	if len(s.tombstones) > 0 {
		for cand := range s.tombstones {
			id = cand
			break
		}
		delete(s.tombstones, id)
	} else {
		id = s.nextBlockID
		s.nextBlockID++
	}
	s.allocated[id] = struct{}{}
	s.Counters.Allocations.Add(1)

	zero := make([]byte, durablelog.BlockSize)
	s.cache.put(id, zero, true)
	s.cache.markDirty(id)
	s.dirtyBytes += durablelog.BlockSize
	s.maybeFlushLocked(ctx)
	return id, nil
}

// EnsureAllocated marks id allocated directly, without drawing from the
// free-list cursor. The VFS adapter uses this instead of AllocateBlock
// because the SQL engine dictates block identity by byte offset (block id
// is effectively the SQLite page number); the allocator still needs to
// track that id as in-use and advance next_block_id past it so a later
// AllocateBlock call never collides with an engine-addressed block.
func (s *Storage) EnsureAllocated(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.allocated[id]; ok {
		return
	}
	delete(s.tombstones, id)
	s.allocated[id] = struct{}{}
	s.Counters.Allocations.Add(1)
	if id+1 > s.nextBlockID {
		s.nextBlockID = id + 1
	}
}

// DeallocateBlock frees id, making it eligible for reuse by a future
// AllocateBlock, and erases its metadata and payload from the durable log
// immediately, outside any Sync batch; the removal does not wait for the
// next sync.
func (s *Storage) DeallocateBlock(ctx context.Context, id uint64) error {
	if id == 0 {
		return &errs.InvalidArgError{Arg: "block_id", Reason: "block 0 cannot be deallocated"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.allocated[id]; !ok {
		return &errs.BlockNotAllocatedError{DB: s.dbName, BlockID: id}
	}
	delete(s.allocated, id)
	s.tombstones[id] = struct{}{}
	s.cache.remove(id)
	s.Counters.Deallocs.Add(1)

	if err := s.log.DeleteMeta(ctx, s.dbName, id); err != nil {
		return err
	}
	return s.log.DeleteBlock(ctx, s.dbName, id)
}

// ReadBlock returns the current visible payload for id. Block 0 bypasses
// visibility gating and checksum verification entirely (spec §3 invariant 6):
// it is the SQLite file header page and must always read back whatever was
// last written, even mid-transaction.
func (s *Storage) ReadBlock(ctx context.Context, id uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Counters.Reads.Add(1)

	if id != 0 {
		if _, ok := s.allocated[id]; !ok {
			return nil, &errs.BlockNotAllocatedError{DB: s.dbName, BlockID: id}
		}
	}

	if e, ok := s.cache.get(id); ok {
		s.Counters.CacheHits.Add(1)
		return append([]byte(nil), e.payload...), nil
	}
	s.Counters.CacheMisses.Add(1)

	payload, found, err := s.log.GetBlock(ctx, s.dbName, id)
	if err != nil {
		return nil, err
	}
	if !found {
		if id == 0 {
			zero := make([]byte, durablelog.BlockSize)
			s.cache.put(id, zero, false)
			return zero, nil
		}
		return nil, &errs.BlockNotAllocatedError{DB: s.dbName, BlockID: id}
	}

	if id != 0 {
		meta, hasMeta, err := s.log.GetMeta(ctx, s.dbName, id)
		if err != nil {
			return nil, err
		}
		if hasMeta && uint64(meta.Version) > s.commitMarker {
			// Written (e.g. by another instance) but not yet visible: the
			// SQL engine must see zeros, not the staged payload, so a
			// subsequent read-modify-write composes safely (spec §4.2
			// read_block, §3 invariant 3).
			zero := make([]byte, durablelog.BlockSize)
			return zero, nil
		}
		if hasMeta {
			if verr := checksum.Verify(s.dbName, id, checksum.Algo(meta.Algo), payload, meta.Checksum); verr != nil {
				s.Counters.ChecksumFail.Add(1)
				return nil, verr
			}
		}
	}

	s.cache.put(id, payload, false)
	return append([]byte(nil), payload...), nil
}

// Refresh re-synchronizes the in-memory allocated set and commit marker
// against the durable log, without discarding dirty cache entries. Used by
// internal/coordinator's notifier callback when another instance reports a
// DataChanged event, so cross-instance writes become visible without a
// full re-open (spec §4.6 cross-instance visibility via notifications).
func (s *Storage) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	marker, err := s.log.GetMarker(ctx, s.dbName)
	if err != nil {
		return err
	}
	metas, err := s.log.ScanMeta(ctx, s.dbName)
	if err != nil {
		return err
	}

	var maxID uint64
	newAllocated := make(map[uint64]struct{}, len(metas))
	for id, m := range metas {
		if uint64(m.Version) > marker {
			continue
		}
		newAllocated[id] = struct{}{}
		if id > maxID {
			maxID = id
		}
	}
	s.commitMarker = marker
	s.allocated = newAllocated
	if maxID+1 > s.nextBlockID {
		s.nextBlockID = maxID + 1
	}
	// Drop clean cache entries so the next read picks up the refreshed
	// state; dirty entries (this instance's own uncommitted writes) are
	// left alone.
	for id := range s.cache.elems {
		if e, ok := s.cache.get(id); ok && !e.dirty {
			s.cache.remove(id)
		}
	}
	return nil
}

// WriteBlock validates the payload size, optionally verifies the block's
// current payload is not already corrupt (policy.VerifyAfterWrite), then
// updates the cache, marks the entry dirty, and triggers a threshold-based
// flush (spec §4.2 write_block / sync policy).
func (s *Storage) WriteBlock(ctx context.Context, id uint64, payload []byte) error {
	if len(payload) != durablelog.BlockSize {
		return &errs.InvalidBlockSizeError{Got: len(payload)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != 0 {
		if _, ok := s.allocated[id]; !ok {
			return &errs.BlockNotAllocatedError{DB: s.dbName, BlockID: id}
		}
	}

	if s.policy.VerifyAfterWrite && id != 0 {
		if meta, hasMeta, err := s.log.GetMeta(ctx, s.dbName, id); err == nil && hasMeta {
			if existing, found, _ := s.log.GetBlock(ctx, s.dbName, id); found {
				if verr := checksum.Verify(s.dbName, id, checksum.Algo(meta.Algo), existing, meta.Checksum); verr != nil {
					s.Counters.ChecksumFail.Add(1)
					return verr
				}
			}
		}
	}

	cp := append([]byte(nil), payload...)
	s.cache.put(id, cp, true)
	s.cache.markDirty(id)
	s.dirtyBytes += durablelog.BlockSize
	s.lastWrite = time.Now()
	s.Counters.Writes.Add(1)

	s.maybeFlushLocked(ctx)
	return nil
}

// maybeFlushLocked triggers a synchronous Sync when a configured threshold
// is crossed. Caller must hold s.mu; it calls syncLocked rather than Sync,
// since Go mutexes are not reentrant.
func (s *Storage) maybeFlushLocked(ctx context.Context) {
	dirty := s.cache.dirtyEntries()
	overCount := s.policy.MaxDirty > 0 && len(dirty) >= s.policy.MaxDirty
	overBytes := s.policy.MaxDirtyBytes > 0 && s.dirtyBytes >= s.policy.MaxDirtyBytes
	if !overCount && !overBytes {
		return
	}
	if s.policy.DebounceMs > 0 {
		// A genuine debounce needs a timer independent of the call stack;
		// the auto-sync worker (autosync.go) already polls at IntervalMs
		// and will pick this up, so a threshold crossing under debounce
		// just defers to that worker instead of flushing inline.
		return
	}
	if err := s.syncLocked(ctx); err != nil {
		s.logger.Error("threshold-triggered sync failed", "error", err)
	}
}

// Sync flushes all dirty blocks and advances the commit marker (spec §4.2
// sync(), §3 invariant 4, §4.4 crash-recovery protocol). A call with no
// dirty data is a no-op.
func (s *Storage) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked(ctx)
}

func (s *Storage) syncLocked(ctx context.Context) error {
	dirty := s.cache.dirtyEntries()
	if len(dirty) == 0 {
		return nil
	}

	newVersion := s.commitMarker + 1
	nowMs := uint64(time.Now().UnixMilli())

	ops := make([]durablelog.Op, 0, len(dirty)*2)
	for _, e := range dirty {
		algo := s.defaultAlgo
		sum := uint64(0)
		if e.id != 0 {
			sum = checksum.Sum(algo, e.payload)
		}
		ops = append(ops,
			durablelog.Op{Kind: durablelog.OpPutBlock, BlockID: e.id, Payload: e.payload},
			durablelog.Op{Kind: durablelog.OpPutMeta, BlockID: e.id, Meta: durablelog.BlockMeta{
				Checksum:       sum,
				Algo:           uint8(algo),
				Version:        uint32(newVersion),
				LastModifiedMs: nowMs,
			}},
		)
	}

	// Payloads and metadata become durable first; only once that succeeds is
	// a pending marker written, so any crash before this point leaves no
	// trace for recovery to act on (it is cleaned up by reconciliation
	// instead of the explicit finalize/rollback branch, spec §4.4 step 2).
	if err := s.log.AtomicBatch(ctx, s.dbName, ops); err != nil {
		return err
	}
	if err := s.log.PutPendingMarker(ctx, s.dbName, newVersion); err != nil {
		return err
	}
	if err := s.log.PutMarker(ctx, s.dbName, newVersion); err != nil {
		return err
	}
	if err := s.log.ClearPendingMarker(ctx, s.dbName); err != nil {
		return err
	}

	s.commitMarker = newVersion
	for _, e := range dirty {
		s.cache.markClean(e.id)
	}
	s.dirtyBytes = 0
	s.Counters.Syncs.Add(1)
	return nil
}

// CommitMarker returns the last committed version, mostly for tests and
// diagnostics.
func (s *Storage) CommitMarker() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitMarker
}

// IsAllocated reports whether id is currently allocated (not a tombstone,
// not never-allocated).
func (s *Storage) IsAllocated(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.allocated[id]
	return ok
}
