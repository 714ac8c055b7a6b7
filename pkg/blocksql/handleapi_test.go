package blocksql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blocksql/blocksql/internal/errs"
	"github.com/blocksql/blocksql/internal/registry"
)

func newTestDB(t *testing.T, id uint64) *DB {
	t.Helper()
	return &DB{
		handle: &registry.Handle{
			ID:     id,
			DBName: "testdb",
			Scope:  &errs.Scope{},
		},
	}
}

func TestLookupDB_UnknownHandleReturnsInvalidHandleError(t *testing.T) {
	_, err := lookupDB(999999)
	require.Error(t, err)
	var ihe *errs.InvalidHandleError
	require.True(t, errors.As(err, &ihe))
}

func TestRegisterAndForgetDB(t *testing.T) {
	db := newTestDB(t, 123456789)
	h := registerDB(db)
	require.Equal(t, uint64(123456789), h)

	got, err := lookupDB(h)
	require.NoError(t, err)
	require.Same(t, db, got)

	forgetDB(h)
	_, err = lookupDB(h)
	require.Error(t, err)
}

func TestDB_IsLeader_WithoutCoordinationIsAlwaysTrue(t *testing.T) {
	db := newTestDB(t, 1)
	require.True(t, db.IsLeader())
}

func TestDB_GetError_ReflectsScope(t *testing.T) {
	db := newTestDB(t, 2)
	require.Empty(t, db.GetError())

	db.handle.Scope.Set(&errs.LockTimeoutError{DB: "testdb"})
	require.NotEmpty(t, db.GetError())
}

func TestDB_Rekey_ClearsScope(t *testing.T) {
	db := newTestDB(t, 3)
	db.handle.Scope.Set(errors.New("stale"))
	require.NoError(t, db.Rekey([]byte("new-key")))
	require.Empty(t, db.GetError())
}

func TestDB_OnDataChange_WithoutCoordinationIsNoOp(t *testing.T) {
	db := newTestDB(t, 4)
	stop := db.OnDataChange(nil, func() {})
	require.NotPanics(t, func() { stop() })
}

func TestIsQuery_ClassifiesLeadingKeyword(t *testing.T) {
	require.True(t, isQuery("SELECT * FROM t"))
	require.True(t, isQuery("  select 1"))
	require.True(t, isQuery("PRAGMA page_size"))
	require.False(t, isQuery("INSERT INTO t VALUES (1)"))
	require.False(t, isQuery("CREATE TABLE t (id INTEGER)"))
}
