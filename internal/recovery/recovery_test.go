package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blocksql/blocksql/internal/checksum"
	"github.com/blocksql/blocksql/internal/durablelog"
	"github.com/blocksql/blocksql/internal/durablelog/memlog"
)

func putBlockAndMeta(t *testing.T, log durablelog.Log, db string, id uint64, version uint32, corrupt bool) {
	t.Helper()
	payload := make([]byte, durablelog.BlockSize)
	copy(payload, []byte("block-data"))
	require.NoError(t, log.PutBlock(context.Background(), db, id, payload))

	sum := checksum.Sum(checksum.FastHash, payload)
	if corrupt {
		sum ^= 0xFF
	}
	require.NoError(t, log.PutMeta(context.Background(), db, id, durablelog.BlockMeta{
		Checksum: sum,
		Algo:     uint8(checksum.FastHash),
		Version:  version,
	}))
}

func TestRun_CrashBeforePendingMarker_LeavesCommitMarkerUnchangedAndDropsOrphans(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })

	require.NoError(t, log.PutMarker(ctx, "db", 0))
	// Simulate a crash after writing payload+metadata for version 1 but
	// before any pending marker was ever written.
	putBlockAndMeta(t, log, "db", 1, 1, false)
	putBlockAndMeta(t, log, "db", 2, 1, false)

	report, err := Run(ctx, log, "db", Options{OnCorruption: Report, DefaultAlgo: checksum.FastHash})
	require.NoError(t, err)
	require.Equal(t, 0, report.Corrupted)

	marker, err := log.GetMarker(ctx, "db")
	require.NoError(t, err)
	require.Equal(t, uint64(0), marker)

	_, found, err := log.GetBlock(ctx, "db", 1)
	require.NoError(t, err)
	require.False(t, found, "orphaned version-1 block should be dropped by reconciliation")
}

func TestRun_SoundPendingMarker_Finalizes(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })

	require.NoError(t, log.PutMarker(ctx, "db", 0))
	putBlockAndMeta(t, log, "db", 1, 1, false)
	putBlockAndMeta(t, log, "db", 2, 1, false)
	require.NoError(t, log.PutPendingMarker(ctx, "db", 1))

	report, err := Run(ctx, log, "db", Options{OnCorruption: Report, DefaultAlgo: checksum.FastHash})
	require.NoError(t, err)
	require.Equal(t, 0, report.Corrupted)

	marker, err := log.GetMarker(ctx, "db")
	require.NoError(t, err)
	require.Equal(t, uint64(1), marker)

	_, found, err := log.GetBlock(ctx, "db", 1)
	require.NoError(t, err)
	require.True(t, found, "finalized block should remain visible")

	_, hasPending, err := log.GetPendingMarker(ctx, "db")
	require.NoError(t, err)
	require.False(t, hasPending)
}

func TestRun_UnsoundPendingMarker_RollsBack(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })

	require.NoError(t, log.PutMarker(ctx, "db", 0))
	putBlockAndMeta(t, log, "db", 1, 1, false)
	// Block 2's metadata references a payload that never actually landed,
	// simulating a crash mid-batch after the pending marker was staged.
	require.NoError(t, log.PutMeta(ctx, "db", 2, durablelog.BlockMeta{Version: 1}))
	require.NoError(t, log.PutPendingMarker(ctx, "db", 1))

	_, err := Run(ctx, log, "db", Options{OnCorruption: Report, DefaultAlgo: checksum.FastHash})
	require.NoError(t, err)

	marker, err := log.GetMarker(ctx, "db")
	require.NoError(t, err)
	require.Equal(t, uint64(0), marker, "unsound pending commit must not finalize")

	_, found, err := log.GetBlock(ctx, "db", 1)
	require.NoError(t, err)
	require.False(t, found, "rolled-back entries must be removed")
}

func TestRun_CorruptCommittedBlock_ReportPolicyCountsButLeavesData(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })

	putBlockAndMeta(t, log, "db", 1, 1, true)
	require.NoError(t, log.PutMarker(ctx, "db", 1))

	report, err := Run(ctx, log, "db", Options{OnCorruption: Report, DefaultAlgo: checksum.FastHash})
	require.NoError(t, err)
	require.Equal(t, 1, report.Corrupted)
	require.Equal(t, 0, report.Repaired)
}

func TestRun_CorruptCommittedBlock_RepairPolicyFixesChecksum(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })

	putBlockAndMeta(t, log, "db", 1, 1, true)
	require.NoError(t, log.PutMarker(ctx, "db", 1))

	report, err := Run(ctx, log, "db", Options{OnCorruption: Repair, DefaultAlgo: checksum.FastHash})
	require.NoError(t, err)
	require.Equal(t, 1, report.Repaired)

	meta, _, err := log.GetMeta(ctx, "db", 1)
	require.NoError(t, err)
	payload, _, err := log.GetBlock(ctx, "db", 1)
	require.NoError(t, err)
	require.Equal(t, checksum.Sum(checksum.FastHash, payload), meta.Checksum)
}

func TestRun_CorruptCommittedBlock_FailPolicyReturnsError(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })

	putBlockAndMeta(t, log, "db", 1, 1, true)
	require.NoError(t, log.PutMarker(ctx, "db", 1))

	_, err := Run(ctx, log, "db", Options{OnCorruption: Fail, DefaultAlgo: checksum.FastHash})
	require.Error(t, err)
}

func TestRun_Block0ExemptFromChecksumVerification(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })

	// Block 0's metadata, if present at all, is never checked: write a
	// mismatching checksum and confirm it is not reported as corrupt.
	payload := make([]byte, durablelog.BlockSize)
	require.NoError(t, log.PutBlock(ctx, "db", 0, payload))
	require.NoError(t, log.PutMeta(ctx, "db", 0, durablelog.BlockMeta{Checksum: 0xDEADBEEF, Version: 1}))
	require.NoError(t, log.PutMarker(ctx, "db", 1))

	report, err := Run(ctx, log, "db", Options{OnCorruption: Report, DefaultAlgo: checksum.FastHash})
	require.NoError(t, err)
	require.Equal(t, 0, report.Corrupted)
}
