package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blocksql/blocksql/internal/checksum"
	"github.com/blocksql/blocksql/internal/durablelog/memlog"
	"github.com/blocksql/blocksql/internal/errs"
	"github.com/blocksql/blocksql/internal/recovery"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })
	return NewRuntime(log, Options{DefaultAlgo: checksum.FastHash, OnCorruption: recovery.Report}, nil)
}

func TestOpenHandle_AssignsMonotonicIncreasingIDs(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	h1, err := r.OpenHandle(ctx, "db1", nil)
	require.NoError(t, err)
	h2, err := r.OpenHandle(ctx, "db2", nil)
	require.NoError(t, err)

	require.Equal(t, uint64(1), h1.ID)
	require.Equal(t, uint64(2), h2.ID)
}

func TestHandle_LookupUnknownIDIsInvalidHandle(t *testing.T) {
	r := newTestRuntime(t)
	_, err := r.Handle(999)
	require.ErrorIs(t, err, errs.ErrInvalidHandle)
}

func TestHandle_ZeroIDIsAlwaysInvalid(t *testing.T) {
	r := newTestRuntime(t)
	_, err := r.Handle(0)
	require.ErrorIs(t, err, errs.ErrInvalidHandle)
}

func TestCloseHandle_RemovesFromRegistry(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	h, err := r.OpenHandle(ctx, "db1", nil)
	require.NoError(t, err)

	require.NoError(t, r.CloseHandle(h.ID))
	_, err = r.Handle(h.ID)
	require.ErrorIs(t, err, errs.ErrInvalidHandle)
}

func TestCloseHandle_UnknownIDIsInvalidHandle(t *testing.T) {
	r := newTestRuntime(t)
	err := r.CloseHandle(42)
	require.ErrorIs(t, err, errs.ErrInvalidHandle)
}

func TestOpenHandle_RunsRecoveryExactlyOncePerDatabase(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	h1, err := r.OpenHandle(ctx, "shared", nil)
	require.NoError(t, err)
	h2, err := r.OpenHandle(ctx, "shared", nil)
	require.NoError(t, err)

	require.NotEqual(t, h1.ID, h2.ID)
	r.recoverMu.Lock()
	_, ok := r.recoverOnce["shared"]
	r.recoverMu.Unlock()
	require.True(t, ok)
}

func TestHandle_StatementLifecycle(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()
	h, err := r.OpenHandle(ctx, "db1", nil)
	require.NoError(t, err)

	s := h.AddStatement("SELECT 1", nil)
	require.Equal(t, uint64(1), s.ID)

	got, err := h.Statement(s.ID)
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", got.SQL)

	require.NoError(t, h.FinalizeStatement(s.ID))
	_, err = h.Statement(s.ID)
	require.ErrorIs(t, err, errs.ErrInvalidHandle)
}
