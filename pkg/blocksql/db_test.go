package blocksql

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// resetCoreForTest clears the process-wide singleton, mirroring the
// teacher's own `settingsOnce = sync.Once{}` reset idiom in
// internal/app/db_test.go, so each test below gets its own processCore
// over its own t.TempDir() instead of reusing whatever an earlier test in
// this package already initialized.
func resetCoreForTest() {
	coreOnce = sync.Once{}
	core = nil
	coreErr = nil
}

func TestDB_ExecuteWithParams_RoutesThroughBlockstoreNotJustTheOSFile(t *testing.T) {
	resetCoreForTest()
	ctx := context.Background()
	dataDir := t.TempDir()

	db, err := Open(ctx, "livedb", Options{DataDir: dataDir})
	require.NoError(t, err)

	_, err = db.Execute(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	_, err = db.ExecuteWithParams(ctx, "INSERT INTO t (id, name) VALUES (?, ?)",
		[]ColumnValue{IntegerValue(1), TextValue("alice")})
	require.NoError(t, err)

	result, err := db.Execute(ctx, "SELECT id, name FROM t ORDER BY id")
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Equal(t, int64(1), result.Rows[0].Values[0].Integer)
	require.Equal(t, "alice", result.Rows[0].Values[1].Text)

	// blockstore.Storage, not modernc.org/sqlite's own file, is the real
	// state of record: block 0 (the SQLite header page) must already be
	// allocated in Storage as a direct result of the INSERT above, proving
	// mirrorFileToStorage actually ran rather than Execute having silently
	// run against an unmirrored OS file.
	require.True(t, db.handle.Storage.IsAllocated(0))

	require.NoError(t, db.Close())

	// Delete the OS-level sqlite file a fresh process would also start
	// without, to prove the next Open's materializeFromStorage step, not
	// any leftover file, is what makes the row reappear.
	require.NoError(t, os.Remove(db.core.sqlitePath("livedb")))

	db2, err := Open(ctx, "livedb", Options{DataDir: dataDir})
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()

	result, err = db2.Execute(ctx, "SELECT id, name FROM t ORDER BY id")
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Equal(t, "alice", result.Rows[0].Values[1].Text)
}

func TestDB_ExecuteBatch_CommitMirrorsOnce(t *testing.T) {
	resetCoreForTest()
	ctx := context.Background()
	dataDir := t.TempDir()

	db, err := Open(ctx, "batchdb", Options{DataDir: dataDir})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Execute(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	_, err = db.ExecuteBatch(ctx, []string{
		"INSERT INTO t (id) VALUES (1)",
		"INSERT INTO t (id) VALUES (2)",
	})
	require.NoError(t, err)

	result, err := db.Execute(ctx, "SELECT id FROM t ORDER BY id")
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, db.handle.Storage.IsAllocated(0))
}
