package xport

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blocksql/blocksql/internal/checksum"
	"github.com/blocksql/blocksql/internal/coordinator"
	"github.com/blocksql/blocksql/internal/durablelog/memlog"
	"github.com/blocksql/blocksql/internal/fixtures"

	_ "modernc.org/sqlite"
)

// buildFixtureImage applies internal/fixtures's goose migrations to a real
// on-disk SQLite file and returns its bytes, giving Export/Import tests a
// database image shaped like one an actual engine produced rather than a
// hand-assembled header.
func buildFixtureImage(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, fixtures.Apply(db))
	require.NoError(t, db.Close())

	image, err := os.ReadFile(path)
	require.NoError(t, err)
	return image
}

func TestImport_AcceptsRealSQLiteFixtureImage(t *testing.T) {
	image := buildFixtureImage(t)
	geom, err := ParseHeader(image)
	require.NoError(t, err)
	require.NoError(t, ValidateImageSize(geom, uint64(len(image))))

	ctx := context.Background()
	log := memlog.New()
	t.Cleanup(func() { _ = log.Close() })

	scope, err := coordinator.NewScope(t.TempDir(), "fixturedb", "test-instance")
	require.NoError(t, err)

	require.NoError(t, Import(ctx, log, scope, "fixturedb", image, checksum.FastHash))

	marker, err := log.GetMarker(ctx, "fixturedb")
	require.NoError(t, err)
	require.Equal(t, uint64(1), marker)

	header, found, err := log.GetBlock(ctx, "fixturedb", 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte(HeaderMagic), header[:len(HeaderMagic)])
}
