package coordinator

import "testing"

func TestClassifyStatement(t *testing.T) {
	cases := map[string]StatementKind{
		"INSERT INTO t VALUES (1)":    StatementWrite,
		"update t set x=1":            StatementWrite,
		"DELETE FROM t":                StatementWrite,
		"REPLACE INTO t VALUES (1)":   StatementWrite,
		"  SELECT * FROM t":           StatementReadOnly,
		"CREATE TABLE t (x int)":      StatementDDL,
		"ALTER TABLE t ADD COLUMN y":  StatementDDL,
		"PRAGMA journal_mode=WAL":     StatementDDL,
		"":                             StatementReadOnly,
	}
	for sqlText, want := range cases {
		if got := ClassifyStatement(sqlText); got != want {
			t.Errorf("ClassifyStatement(%q) = %v, want %v", sqlText, got, want)
		}
	}
}
