// Package durablelog defines the abstract persistence capability set of
// spec §4.1: primitive put/get/delete of block payloads and per-block
// metadata, an atomic per-database commit marker (plus its pending
// counterpart for crash recovery, spec §6.3), prefix scanning for recovery
// and import, and an atomic batch operation. Concrete implementations
// (fslog, boltlog) are the only place dynamic dispatch happens in blocksql
// (spec §9 "Dynamic dispatch... only at the log boundary"); everything
// above this package is written against the Log interface alone.
package durablelog

import "context"

// BlockSize is the fixed payload size of every block (spec §3).
const BlockSize = 4096

// BlockMeta is the per-block metadata record of spec §3.
type BlockMeta struct {
	Checksum       uint64
	Algo           uint8 // checksum.Algo, stored as a plain uint8 to avoid an import cycle
	Version        uint32
	LastModifiedMs uint64
}

// OpKind identifies the kind of a batched operation.
type OpKind uint8

const (
	OpPutBlock OpKind = iota
	OpDeleteBlock
	OpPutMeta
	OpDeleteMeta
	OpPutMarker
	OpPutPendingMarker
	OpClearPendingMarker
)

// Op is one operation inside an AtomicBatch (spec §4.1: "all ops succeed
// together or all fail; ordering within a batch is irrelevant but the
// boundary is durable").
type Op struct {
	Kind    OpKind
	BlockID uint64
	Payload []byte
	Meta    BlockMeta
	Marker  uint64
}

// Log is the abstract durable persistence capability set of spec §4.1.
// All methods are namespaced by database name, matching spec §6.3's
// key layout.
type Log interface {
	PutBlock(ctx context.Context, db string, id uint64, payload []byte) error
	GetBlock(ctx context.Context, db string, id uint64) ([]byte, bool, error)
	DeleteBlock(ctx context.Context, db string, id uint64) error

	PutMeta(ctx context.Context, db string, id uint64, meta BlockMeta) error
	GetMeta(ctx context.Context, db string, id uint64) (BlockMeta, bool, error)
	DeleteMeta(ctx context.Context, db string, id uint64) error

	PutMarker(ctx context.Context, db string, v uint64) error
	GetMarker(ctx context.Context, db string) (uint64, error)

	PutPendingMarker(ctx context.Context, db string, v uint64) error
	GetPendingMarker(ctx context.Context, db string) (uint64, bool, error)
	ClearPendingMarker(ctx context.Context, db string) error

	// ScanBlocks returns all (block_id, payload) pairs currently persisted
	// for db, used by recovery and import (spec §4.1 scan_prefix, §4.4, §4.5).
	ScanBlocks(ctx context.Context, db string) (map[uint64][]byte, error)
	// ScanMeta returns all (block_id, metadata) pairs currently persisted.
	ScanMeta(ctx context.Context, db string) (map[uint64]BlockMeta, error)

	// AtomicBatch durably applies every op in ops, all-or-nothing, serialized
	// per database by the implementation (spec §4.1, §5).
	AtomicBatch(ctx context.Context, db string, ops []Op) error

	// DeleteDatabase removes every block, metadata entry, and marker for db
	// (spec §4.5 import step 2, §9 cleanup_all_state).
	DeleteDatabase(ctx context.Context, db string) error

	// Close releases any resources (open files, bbolt handle) held by the
	// backend.
	Close() error
}
