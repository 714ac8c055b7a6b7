// Package recovery implements the startup crash-recovery protocol of spec
// §4.4: reconciling a durable log that may hold state from a process that
// crashed mid-sync. It runs once per database per process lifetime (the
// once-per-process gating lives in internal/registry, keyed by database
// name) before any Storage is opened on top of the same log.
package recovery

import (
	"context"
	"time"

	"github.com/blocksql/blocksql/internal/checksum"
	"github.com/blocksql/blocksql/internal/durablelog"
	"github.com/blocksql/blocksql/internal/errs"
)

// OnCorruption selects what Run does when a visible, committed block fails
// checksum verification (spec §4.4 corruption policy).
type OnCorruption int

const (
	// Repair recomputes the checksum for the corrupt block's current
	// payload under the configured default algorithm and writes it back,
	// accepting whatever bytes are on disk as authoritative.
	Repair OnCorruption = iota
	// Report leaves the corrupt entry untouched and only counts it.
	Report
	// Fail aborts recovery with a StartupRecoveryFailedError.
	Fail
)

// Options configures a Run call.
type Options struct {
	OnCorruption OnCorruption
	DefaultAlgo  checksum.Algo
}

// Report summarizes one recovery pass (spec §4.4 RecoveryReport).
type Report struct {
	Verified   int
	Corrupted  int
	Repaired   int
	DurationMs int64
}

// Run reconciles db's durable log state: it resolves any pending commit
// (finalizing if every referenced block is sound, rolling back otherwise),
// then reconciles leftover/stray entries and verifies every committed
// block's checksum under opts.OnCorruption.
func Run(ctx context.Context, log durablelog.Log, db string, opts Options) (Report, error) {
	start := time.Now()
	report := Report{}

	if err := resolvePendingCommit(ctx, log, db); err != nil {
		return report, err
	}

	committed, err := log.GetMarker(ctx, db)
	if err != nil {
		return report, err
	}

	metas, err := log.ScanMeta(ctx, db)
	if err != nil {
		return report, err
	}
	blocks, err := log.ScanBlocks(ctx, db)
	if err != nil {
		return report, err
	}

	for id, meta := range metas {
		if uint64(meta.Version) > committed {
			// Orphaned write: either the crash happened before a pending
			// marker was ever written, or a pending commit was rolled back
			// above. Either way this entry was never visible and is dropped.
			_ = log.DeleteMeta(ctx, db, id)
			_ = log.DeleteBlock(ctx, db, id)
			continue
		}

		payload, found := blocks[id]
		if !found {
			// Metadata with no backing payload: drop the dangling entry.
			_ = log.DeleteMeta(ctx, db, id)
			continue
		}
		if len(payload) != durablelog.BlockSize {
			_ = log.DeleteMeta(ctx, db, id)
			_ = log.DeleteBlock(ctx, db, id)
			continue
		}

		report.Verified++
		if id == 0 {
			// Block 0 is exempt from checksum verification (spec §3
			// invariant 6); it always just reads back as-is.
			continue
		}
		if checksum.Sum(checksum.Algo(meta.Algo), payload) == meta.Checksum {
			continue
		}

		report.Corrupted++
		switch opts.OnCorruption {
		case Fail:
			return report, &errs.StartupRecoveryFailedError{DB: db, Reason: "checksum mismatch on block " + itoa(id)}
		case Repair:
			newSum := checksum.Sum(opts.DefaultAlgo, payload)
			repaired := meta
			repaired.Checksum = newSum
			repaired.Algo = uint8(opts.DefaultAlgo)
			if err := log.PutMeta(ctx, db, id, repaired); err != nil {
				return report, err
			}
			report.Repaired++
		case Report:
			// leave as-is, already counted
		}
	}

	// Stray block payloads with no metadata at all (e.g. a crash between
	// writing a payload and writing its metadata, if a backend ever allowed
	// that ordering) are removed too.
	for id := range blocks {
		if _, ok := metas[id]; !ok {
			_ = log.DeleteBlock(ctx, db, id)
		}
	}

	report.DurationMs = time.Since(start).Milliseconds()
	return report, nil
}

// resolvePendingCommit implements spec §4.4 step 1: detect a pending commit
// marker, validate every block it references, and finalize or roll back.
func resolvePendingCommit(ctx context.Context, log durablelog.Log, db string) error {
	pending, hasPending, err := log.GetPendingMarker(ctx, db)
	if err != nil {
		return err
	}
	if !hasPending {
		return nil
	}

	metas, err := log.ScanMeta(ctx, db)
	if err != nil {
		return err
	}
	blocks, err := log.ScanBlocks(ctx, db)
	if err != nil {
		return err
	}

	sound := true
	var referenced []uint64
	for id, meta := range metas {
		if uint64(meta.Version) != pending {
			continue
		}
		referenced = append(referenced, id)
		payload, found := blocks[id]
		if !found || len(payload) != durablelog.BlockSize {
			sound = false
			continue
		}
		if id == 0 {
			continue
		}
		if checksum.Sum(checksum.Algo(meta.Algo), payload) != meta.Checksum {
			sound = false
		}
	}

	if sound && len(referenced) > 0 {
		if err := log.PutMarker(ctx, db, pending); err != nil {
			return err
		}
		return log.ClearPendingMarker(ctx, db)
	}

	// Rollback: the pending commit cannot be trusted (or referenced nothing
	// at all), so drop every entry it staged and leave the committed marker
	// untouched.
	for _, id := range referenced {
		_ = log.DeleteMeta(ctx, db, id)
		_ = log.DeleteBlock(ctx, db, id)
	}
	return log.ClearPendingMarker(ctx, db)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
