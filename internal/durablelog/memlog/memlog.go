// Package memlog is an in-memory durablelog.Log used as a fast test double,
// grounded on the original CLI's own pattern of running its store tests
// against both a real SQLite file and an in-memory (":memory:") database —
// here generalized to a from-scratch in-memory implementation of the
// DurableLog capability set rather than a mode flag on a single backend.
package memlog

import (
	"context"
	"sync"

	"github.com/blocksql/blocksql/internal/durablelog"
)

type dbState struct {
	blocks         map[uint64][]byte
	meta           map[uint64]durablelog.BlockMeta
	marker         uint64
	hasMarker      bool
	pendingMarker  uint64
	hasPending     bool
}

func newDBState() *dbState {
	return &dbState{
		blocks: make(map[uint64][]byte),
		meta:   make(map[uint64]durablelog.BlockMeta),
	}
}

// Backend is an in-memory durablelog.Log, safe for concurrent use.
type Backend struct {
	mu sync.Mutex
	db map[string]*dbState
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{db: make(map[string]*dbState)}
}

func (b *Backend) Close() error { return nil }

func (b *Backend) state(db string) *dbState {
	s, ok := b.db[db]
	if !ok {
		s = newDBState()
		b.db[db] = s
	}
	return s
}

func (b *Backend) PutBlock(ctx context.Context, db string, id uint64, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.state(db).blocks[id] = cp
	return nil
}

func (b *Backend) GetBlock(ctx context.Context, db string, id uint64) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.state(db).blocks[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *Backend) DeleteBlock(ctx context.Context, db string, id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state(db).blocks, id)
	return nil
}

func (b *Backend) PutMeta(ctx context.Context, db string, id uint64, meta durablelog.BlockMeta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state(db).meta[id] = meta
	return nil
}

func (b *Backend) GetMeta(ctx context.Context, db string, id uint64) (durablelog.BlockMeta, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.state(db).meta[id]
	return m, ok, nil
}

func (b *Backend) DeleteMeta(ctx context.Context, db string, id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state(db).meta, id)
	return nil
}

func (b *Backend) PutMarker(ctx context.Context, db string, v uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state(db)
	s.marker, s.hasMarker = v, true
	return nil
}

func (b *Backend) GetMarker(ctx context.Context, db string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state(db).marker, nil
}

func (b *Backend) PutPendingMarker(ctx context.Context, db string, v uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state(db)
	s.pendingMarker, s.hasPending = v, true
	return nil
}

func (b *Backend) GetPendingMarker(ctx context.Context, db string) (uint64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state(db)
	return s.pendingMarker, s.hasPending, nil
}

func (b *Backend) ClearPendingMarker(ctx context.Context, db string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state(db)
	s.hasPending = false
	s.pendingMarker = 0
	return nil
}

func (b *Backend) ScanBlocks(ctx context.Context, db string) (map[uint64][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[uint64][]byte, len(b.state(db).blocks))
	for k, v := range b.state(db).blocks {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func (b *Backend) ScanMeta(ctx context.Context, db string) (map[uint64]durablelog.BlockMeta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[uint64]durablelog.BlockMeta, len(b.state(db).meta))
	for k, v := range b.state(db).meta {
		out[k] = v
	}
	return out, nil
}

func (b *Backend) AtomicBatch(ctx context.Context, db string, ops []durablelog.Op) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state(db)
	for _, op := range ops {
		switch op.Kind {
		case durablelog.OpPutBlock:
			cp := make([]byte, len(op.Payload))
			copy(cp, op.Payload)
			s.blocks[op.BlockID] = cp
		case durablelog.OpDeleteBlock:
			delete(s.blocks, op.BlockID)
		case durablelog.OpPutMeta:
			s.meta[op.BlockID] = op.Meta
		case durablelog.OpDeleteMeta:
			delete(s.meta, op.BlockID)
		case durablelog.OpPutMarker:
			s.marker, s.hasMarker = op.Marker, true
		case durablelog.OpPutPendingMarker:
			s.pendingMarker, s.hasPending = op.Marker, true
		case durablelog.OpClearPendingMarker:
			s.hasPending, s.pendingMarker = false, 0
		}
	}
	return nil
}

func (b *Backend) DeleteDatabase(ctx context.Context, db string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.db, db)
	return nil
}

var _ durablelog.Log = (*Backend)(nil)
