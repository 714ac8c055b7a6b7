package blocksql

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColumnValue_JSONRoundTrip(t *testing.T) {
	cases := []ColumnValue{
		NullValue(),
		IntegerValue(42),
		RealValue(3.5),
		TextValue("hello"),
		BlobValue([]byte{0x01, 0x02, 0xff}),
		BigIntValue("9223372036854775808"),
		DateValue(1_700_000_000_000),
	}
	for _, in := range cases {
		raw, err := json.Marshal(in)
		require.NoError(t, err)

		var out ColumnValue
		require.NoError(t, json.Unmarshal(raw, &out))
		require.Equal(t, in, out)
	}
}

func TestColumnValue_MarshalShape(t *testing.T) {
	raw, err := json.Marshal(IntegerValue(5))
	require.NoError(t, err)
	require.JSONEq(t, `{"Integer":5}`, string(raw))

	raw, err = json.Marshal(NullValue())
	require.NoError(t, err)
	require.JSONEq(t, `{"Null":null}`, string(raw))
}

func TestColumnValue_UnmarshalInvalidJSON(t *testing.T) {
	var v ColumnValue
	err := v.UnmarshalJSON([]byte(`"not an object"`))
	require.Error(t, err)
}

func TestQueryResult_JSONFieldNames(t *testing.T) {
	id := int64(7)
	qr := QueryResult{
		Columns:         []string{"id"},
		Rows:            []ResultRow{{Values: []ColumnValue{IntegerValue(7)}}},
		AffectedRows:    1,
		LastInsertID:    &id,
		ExecutionTimeMs: 0.5,
	}
	raw, err := json.Marshal(qr)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"affectedRows":1`)
	require.Contains(t, string(raw), `"lastInsertId":7`)
	require.Contains(t, string(raw), `"executionTimeMs":0.5`)
}
