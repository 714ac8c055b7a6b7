package xport

import (
	"context"
	"time"

	"github.com/blocksql/blocksql/internal/checksum"
	"github.com/blocksql/blocksql/internal/coordinator"
	"github.com/blocksql/blocksql/internal/durablelog"
	"github.com/blocksql/blocksql/internal/errs"
)

// Import replaces every block/metadata/marker entry for db with the
// contents of image (spec §4.5 Import): validate the header, take the
// scope's exclusive lock for the duration, wipe the existing log state
// with DeleteDatabase, then split the image into BlockSize-sized blocks
// (the last zero-padded), write them at version 1 along with metadata, and
// advance the commit marker to 1. The writes and the marker advance share
// one AtomicBatch; the wipe is a separate call before it, so a failed batch
// leaves the database empty rather than restoring its old contents.
//
// Closing any connections already open against db and refreshing their
// in-memory blockstore.Storage state is the caller's responsibility
// (pkg/blocksql.Import does this around the call to Import here), since
// this package has no visibility into open handles.
func Import(ctx context.Context, log durablelog.Log, scope *coordinator.Scope, dbName string, image []byte, defaultAlgo checksum.Algo) error {
	if len(image) < HeaderSize {
		return &errs.InvalidSQLiteFileError{Reason: "image shorter than header"}
	}
	geom, err := ParseHeader(image)
	if err != nil {
		return err
	}
	if err := ValidateImageSize(geom, uint64(len(image))); err != nil {
		return err
	}

	return scope.WithExclusiveLock(ctx, coordinator.ExclusiveLockTimeout, func() error {
		if err := log.DeleteDatabase(ctx, dbName); err != nil {
			return &errs.ImportSyncFailedError{DB: dbName, Cause: err}
		}

		ops := buildImportOps(image, defaultAlgo)
		if err := log.AtomicBatch(ctx, dbName, ops); err != nil {
			return &errs.ImportSyncFailedError{DB: dbName, Cause: err}
		}
		return nil
	})
}

// buildImportOps splits image into BlockSize-sized blocks (the last
// zero-padded), assigns each one version-1 metadata, and appends the marker
// advance, all as one flat op list for AtomicBatch.
func buildImportOps(image []byte, defaultAlgo checksum.Algo) []durablelog.Op {
	blockCount := (len(image) + durablelog.BlockSize - 1) / durablelog.BlockSize
	ops := make([]durablelog.Op, 0, blockCount*2+1)
	nowMs := uint64(time.Now().UnixMilli())

	for i := 0; i < blockCount; i++ {
		start := i * durablelog.BlockSize
		end := start + durablelog.BlockSize
		var payload []byte
		if end <= len(image) {
			payload = append([]byte(nil), image[start:end]...)
		} else {
			payload = make([]byte, durablelog.BlockSize)
			copy(payload, image[start:])
		}

		id := uint64(i)
		var sum uint64
		var algo checksum.Algo
		if id != 0 {
			algo = defaultAlgo
			sum = checksum.Sum(algo, payload)
		}

		ops = append(ops,
			durablelog.Op{Kind: durablelog.OpPutBlock, BlockID: id, Payload: payload},
			durablelog.Op{Kind: durablelog.OpPutMeta, BlockID: id, Meta: durablelog.BlockMeta{
				Checksum:       sum,
				Algo:           uint8(algo),
				Version:        1,
				LastModifiedMs: nowMs,
			}},
		)
	}
	ops = append(ops, durablelog.Op{Kind: durablelog.OpPutMarker, Marker: 1})
	return ops
}
