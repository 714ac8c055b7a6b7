package xport

import (
	"bytes"
	"context"
	"runtime"

	"github.com/blocksql/blocksql/internal/blockstore"
	"github.com/blocksql/blocksql/internal/durablelog"
	"github.com/blocksql/blocksql/internal/errs"
)

// DefaultMaxExportSizeBytes and DefaultChunkSizeBytes are spec §4.5's
// export defaults.
const (
	DefaultMaxExportSizeBytes = 2 << 30  // 2 GiB
	DefaultChunkSizeBytes     = 10 << 20 // 10 MiB
)

// ExportOptions configures Export (spec §4.5 "Inputs... options { max_size?,
// chunk_size?, progress? }").
type ExportOptions struct {
	MaxSizeBytes   uint64
	ChunkSizeBytes int
	// Progress, if non-nil, is invoked after every chunk with bytes copied
	// so far and the total exact size.
	Progress func(done, total uint64)
}

func (o ExportOptions) normalized() ExportOptions {
	if o.MaxSizeBytes == 0 {
		o.MaxSizeBytes = DefaultMaxExportSizeBytes
	}
	if o.ChunkSizeBytes <= 0 {
		o.ChunkSizeBytes = DefaultChunkSizeBytes
	}
	return o
}

// Export converts storage's current block layout into a canonical
// single-file SQLite image (spec §4.5 Export steps): sync if dirty, parse
// and validate the header in block 0, refuse databases over MaxSizeBytes,
// then read blocks in ChunkSizeBytes-sized runs, yielding between runs so a
// host scheduler (or just other goroutines) gets a turn, before
// concatenating and truncating to the exact byte size the header promises.
func Export(ctx context.Context, storage *blockstore.Storage, opts ExportOptions) ([]byte, error) {
	opts = opts.normalized()

	if err := storage.Sync(ctx); err != nil {
		return nil, err
	}

	header, err := storage.ReadBlock(ctx, 0)
	if err != nil {
		return nil, err
	}
	geom, err := ParseHeader(header)
	if err != nil {
		return nil, err
	}

	sizeBytes := geom.SizeBytes()
	if sizeBytes > opts.MaxSizeBytes {
		return nil, &errs.DatabaseTooLargeError{SizeBytes: sizeBytes, MaxSizeBytes: opts.MaxSizeBytes}
	}

	totalBlocks := (sizeBytes + durablelog.BlockSize - 1) / durablelog.BlockSize
	blocksPerChunk := uint64(opts.ChunkSizeBytes) / durablelog.BlockSize
	if blocksPerChunk == 0 {
		blocksPerChunk = 1
	}

	buf := bytes.NewBuffer(make([]byte, 0, sizeBytes))
	var id uint64
	for id = 0; id < totalBlocks; {
		runEnd := id + blocksPerChunk
		if runEnd > totalBlocks {
			runEnd = totalBlocks
		}
		for ; id < runEnd; id++ {
			payload, err := storage.ReadBlock(ctx, id)
			if err != nil {
				return nil, err
			}
			buf.Write(payload)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if opts.Progress != nil {
			done := uint64(buf.Len())
			if done > sizeBytes {
				done = sizeBytes
			}
			opts.Progress(done, sizeBytes)
		}
		// Yield to the host scheduler between chunk runs (spec §4.5
		// "yielding to the host scheduler between runs").
		runtime.Gosched()
	}

	image := buf.Bytes()
	if uint64(len(image)) > sizeBytes {
		image = image[:sizeBytes]
	}
	return image, nil
}
