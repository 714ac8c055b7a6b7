package output

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blocksql/blocksql/internal/errs"
)

func TestPrintWith_CompactJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Writer: &buf, Pretty: false}
	require.NoError(t, PrintWith(cfg, map[string]string{"hello": "world"}))
	require.Equal(t, "{\"hello\":\"world\"}\n", buf.String())
}

func TestPrintWith_PrettyJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Writer: &buf, Pretty: true}
	require.NoError(t, PrintWith(cfg, map[string]string{"hello": "world"}))
	require.Contains(t, buf.String(), "\n  \"hello\": \"world\"\n")
}

func TestError_PlainErrorHasNoEnrichedFields(t *testing.T) {
	resp := Error(errors.New("something broke"))
	require.Equal(t, "v1", resp.SchemaVersion)
	require.False(t, resp.Success)
	require.Equal(t, "something broke", resp.Error)
	require.Empty(t, resp.ErrorCode)
}

func TestError_RecoverableErrorPopulatesEnrichedFields(t *testing.T) {
	resp := Error(&errs.LockTimeoutError{DB: "mydb"})
	require.Equal(t, "LOCK_TIMEOUT", resp.ErrorCode)
	require.Equal(t, "mydb", resp.ErrorContext["db"])
	require.NotEmpty(t, resp.SuggestedAction)
}

func TestSuccess(t *testing.T) {
	resp := Success(map[string]int{"count": 2})
	require.True(t, resp.Success)
	require.Equal(t, "v1", resp.SchemaVersion)
}
