package blocksql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSqlitePath_JoinsBaseDirAndDBName(t *testing.T) {
	c := &processCore{baseDir: "/tmp/blocksql-test"}
	require.Equal(t, "/tmp/blocksql-test/sqlite/mydb.db", c.sqlitePath("mydb"))
}

func TestNewInstanceID_IsUniqueAndNonEmpty(t *testing.T) {
	a := newInstanceID()
	b := newInstanceID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
	require.True(t, strings.Contains(a, "_"))
}
