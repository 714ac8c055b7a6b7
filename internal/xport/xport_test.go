package xport

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blocksql/blocksql/internal/blockstore"
	"github.com/blocksql/blocksql/internal/checksum"
	"github.com/blocksql/blocksql/internal/coordinator"
	"github.com/blocksql/blocksql/internal/durablelog"
	"github.com/blocksql/blocksql/internal/durablelog/memlog"
)

// fakeHeader builds a minimal valid SQLite header block with the given page
// size and page count, zero-padded to one full block.
func fakeHeader(pageSize uint16, pageCount uint32) []byte {
	block := make([]byte, durablelog.BlockSize)
	copy(block, HeaderMagic)
	binary.BigEndian.PutUint16(block[pageSizeOffset:], pageSize)
	binary.BigEndian.PutUint32(block[pageCountOffset:], pageCount)
	return block
}

func TestParseHeader_RejectsBadMagic(t *testing.T) {
	block := make([]byte, durablelog.BlockSize)
	copy(block, "not a sqlite file")
	_, err := ParseHeader(block)
	require.Error(t, err)
}

func TestParseHeader_PageSizeOneMeans65536(t *testing.T) {
	block := fakeHeader(1, 2)
	g, err := ParseHeader(block)
	require.NoError(t, err)
	require.Equal(t, uint32(65536), g.PageSize)
}

func TestParseHeader_RejectsNonPowerOfTwoPageSize(t *testing.T) {
	block := fakeHeader(4097, 1)
	_, err := ParseHeader(block)
	require.Error(t, err)
}

func TestParseHeader_RejectsPageSizeBelowMinimum(t *testing.T) {
	block := fakeHeader(256, 1)
	_, err := ParseHeader(block)
	require.Error(t, err)
}

func openTestStorage(t *testing.T, log durablelog.Log, db string) *blockstore.Storage {
	t.Helper()
	s, err := blockstore.Open(context.Background(), log, db, blockstore.SyncPolicy{}, checksum.FastHash, 16, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExport_RoundTripsThroughImport(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })

	s := openTestStorage(t, log, "srcdb")
	header := fakeHeader(4096, 3)
	require.NoError(t, s.WriteBlock(ctx, 0, header))

	id1, err := s.AllocateBlock(ctx)
	require.NoError(t, err)
	require.NoError(t, s.WriteBlock(ctx, id1, paddedPayload(t, "row-one")))
	id2, err := s.AllocateBlock(ctx)
	require.NoError(t, err)
	require.NoError(t, s.WriteBlock(ctx, id2, paddedPayload(t, "row-two")))
	require.NoError(t, s.Sync(ctx))

	image, err := Export(ctx, s, ExportOptions{})
	require.NoError(t, err)
	require.Equal(t, uint64(4096*3), uint64(len(image)))
	require.Equal(t, header, image[:durablelog.BlockSize])

	scope, err := coordinator.NewScope(t.TempDir(), "dstdb", "test-instance")
	require.NoError(t, err)
	require.NoError(t, Import(ctx, log, scope, "dstdb", image, checksum.FastHash))

	marker, err := log.GetMarker(ctx, "dstdb")
	require.NoError(t, err)
	require.Equal(t, uint64(1), marker)

	got, found, err := log.GetBlock(ctx, "dstdb", 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, paddedPayload(t, "row-one"), got)
}

func TestExport_RefusesOversizedDatabase(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })

	s := openTestStorage(t, log, "bigdb")
	header := fakeHeader(4096, 10)
	require.NoError(t, s.WriteBlock(ctx, 0, header))
	require.NoError(t, s.Sync(ctx))

	_, err := Export(ctx, s, ExportOptions{MaxSizeBytes: 4096 * 5})
	require.Error(t, err)
}

func TestImport_RejectsSizeMismatch(t *testing.T) {
	ctx := context.Background()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })

	header := fakeHeader(4096, 5)
	scope, err := coordinator.NewScope(t.TempDir(), "mismatchdb", "test-instance")
	require.NoError(t, err)

	err = Import(ctx, log, scope, "mismatchdb", header, checksum.FastHash)
	require.Error(t, err)
}

func paddedPayload(t *testing.T, s string) []byte {
	t.Helper()
	b := make([]byte, durablelog.BlockSize)
	copy(b, s)
	return b
}
