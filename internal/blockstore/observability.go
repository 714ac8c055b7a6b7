package blockstore

import "sync/atomic"

// Counters is the supplemented observability surface (SPEC_FULL.md
// "Supplemented Features"): plain atomic counters a caller can snapshot for
// metrics/CLI stats output, grounded on the original CLI's habit of
// returning small stats structs from its store layer (internal/store/db.go
// Stats()) rather than wiring a metrics client.
type Counters struct {
	Reads        atomic.Uint64
	Writes       atomic.Uint64
	Allocations  atomic.Uint64
	Deallocs     atomic.Uint64
	Syncs        atomic.Uint64
	CacheHits    atomic.Uint64
	CacheMisses  atomic.Uint64
	ChecksumFail atomic.Uint64
}

// Snapshot is a point-in-time, plain-struct copy of Counters suitable for
// JSON/printf output.
type Snapshot struct {
	Reads        uint64
	Writes       uint64
	Allocations  uint64
	Deallocs     uint64
	Syncs        uint64
	CacheHits    uint64
	CacheMisses  uint64
	ChecksumFail uint64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Reads:        c.Reads.Load(),
		Writes:       c.Writes.Load(),
		Allocations:  c.Allocations.Load(),
		Deallocs:     c.Deallocs.Load(),
		Syncs:        c.Syncs.Load(),
		CacheHits:    c.CacheHits.Load(),
		CacheMisses:  c.CacheMisses.Load(),
		ChecksumFail: c.ChecksumFail.Load(),
	}
}
