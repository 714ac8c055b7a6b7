package vfs

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blocksql/blocksql/internal/blockstore"
	"github.com/blocksql/blocksql/internal/checksum"
	"github.com/blocksql/blocksql/internal/durablelog"
	"github.com/blocksql/blocksql/internal/durablelog/memlog"
)

func openTestFile(t *testing.T) (*File, *blockstore.Storage) {
	t.Helper()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })
	storage, err := blockstore.Open(context.Background(), log, "testdb", blockstore.SyncPolicy{}, checksum.FastHash, 8, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return New(storage, "testdb"), storage
}

func TestWriteAt_OutsideTransaction_WritesStraightThrough(t *testing.T) {
	f, storage := openTestFile(t)
	ctx := context.Background()

	data := make([]byte, 100)
	copy(data, []byte("hello"))
	n, err := f.WriteAt(ctx, data, 0)
	require.NoError(t, err)
	require.Equal(t, 100, n)

	require.True(t, storage.IsAllocated(0))
	got, err := storage.ReadBlock(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, data, got[:100])
}

func TestWriteAt_UnderReservedLock_BuffersUntilUnlock(t *testing.T) {
	f, storage := openTestFile(t)
	ctx := context.Background()

	require.NoError(t, f.Lock(LockReserved))
	data := make([]byte, 100)
	copy(data, []byte("buffered"))
	_, err := f.WriteAt(ctx, data, 0)
	require.NoError(t, err)

	// Not yet durable: storage has no allocated block 0 until the buffer
	// flushes on Unlock.
	require.False(t, storage.IsAllocated(0))

	require.NoError(t, f.Unlock(ctx, LockNone))
	require.True(t, storage.IsAllocated(0))
	got, err := storage.ReadBlock(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, data, got[:100])
}

func TestRollback_DiscardsBufferWithoutPromoting(t *testing.T) {
	f, storage := openTestFile(t)
	ctx := context.Background()

	require.NoError(t, f.Lock(LockReserved))
	data := make([]byte, 100)
	copy(data, []byte("never written"))
	_, err := f.WriteAt(ctx, data, 0)
	require.NoError(t, err)

	f.Rollback()
	require.NoError(t, f.Unlock(ctx, LockNone))
	require.False(t, storage.IsAllocated(0))
}

func TestReadAt_ReadsBackBufferedWriteBeforeFlush(t *testing.T) {
	f, _ := openTestFile(t)
	ctx := context.Background()

	require.NoError(t, f.Lock(LockReserved))
	data := make([]byte, durablelog.BlockSize)
	copy(data, []byte("round trip"))
	_, err := f.WriteAt(ctx, data, 0)
	require.NoError(t, err)

	out := make([]byte, durablelog.BlockSize)
	n, err := f.ReadAt(ctx, out, 0)
	require.NoError(t, err)
	require.Equal(t, durablelog.BlockSize, n)
	require.Equal(t, data, out)
}

func TestSize_ParsesPageSizeAndCountFromHeader(t *testing.T) {
	f, _ := openTestFile(t)
	ctx := context.Background()

	header := make([]byte, durablelog.BlockSize)
	binary.BigEndian.PutUint16(header[16:18], 4096)
	binary.BigEndian.PutUint32(header[28:32], 10)
	_, err := f.WriteAt(ctx, header, 0)
	require.NoError(t, err)

	size, err := f.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4096*10), size)
}

func TestSize_PageSizeValueOneMeans65536(t *testing.T) {
	f, _ := openTestFile(t)
	ctx := context.Background()

	header := make([]byte, durablelog.BlockSize)
	binary.BigEndian.PutUint16(header[16:18], 1)
	binary.BigEndian.PutUint32(header[28:32], 2)
	_, err := f.WriteAt(ctx, header, 0)
	require.NoError(t, err)

	size, err := f.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(65536*2), size)
}

func TestTruncate_TombstonesBlocksAboveNewSize(t *testing.T) {
	f, storage := openTestFile(t)
	ctx := context.Background()

	for i := uint64(0); i < 3; i++ {
		data := make([]byte, durablelog.BlockSize)
		_, err := f.WriteAt(ctx, data, int64(i*durablelog.BlockSize))
		require.NoError(t, err)
	}
	require.True(t, storage.IsAllocated(2))

	require.NoError(t, f.Truncate(ctx, durablelog.BlockSize))
	require.False(t, storage.IsAllocated(1))
	require.False(t, storage.IsAllocated(2))
	require.True(t, storage.IsAllocated(0))
}
