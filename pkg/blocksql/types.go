package blocksql

import (
	"encoding/base64"
	"encoding/json"

	"github.com/blocksql/blocksql/internal/errs"
)

// ValueKind identifies which arm of the ColumnValue tagged union is set
// (spec §6.2 wire formats).
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
	KindBigInt
	KindDate
)

// ColumnValue is the tagged union spec §6.2 describes:
// {Null} | {Integer:i64} | {Real:f64} | {Text:string} | {Blob:bytes} |
// {BigInt:string} | {Date:i64_ms}. BigInt is a base-10 string so values
// beyond 64-bit precision survive the JSON round trip intact.
type ColumnValue struct {
	Kind    ValueKind
	Integer int64
	Real    float64
	Text    string
	Blob    []byte
	BigInt  string
	DateMs  int64
}

// NullValue, IntegerValue, ... are constructors for each arm.
func NullValue() ColumnValue                { return ColumnValue{Kind: KindNull} }
func IntegerValue(v int64) ColumnValue      { return ColumnValue{Kind: KindInteger, Integer: v} }
func RealValue(v float64) ColumnValue       { return ColumnValue{Kind: KindReal, Real: v} }
func TextValue(v string) ColumnValue        { return ColumnValue{Kind: KindText, Text: v} }
func BlobValue(v []byte) ColumnValue        { return ColumnValue{Kind: KindBlob, Blob: v} }
func BigIntValue(v string) ColumnValue      { return ColumnValue{Kind: KindBigInt, BigInt: v} }
func DateValue(msSinceEpoch int64) ColumnValue { return ColumnValue{Kind: KindDate, DateMs: msSinceEpoch} }

// MarshalJSON emits the single-key tagged-union shape spec §6.2 names.
func (v ColumnValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindInteger:
		return json.Marshal(struct {
			Integer int64 `json:"Integer"`
		}{v.Integer})
	case KindReal:
		return json.Marshal(struct {
			Real float64 `json:"Real"`
		}{v.Real})
	case KindText:
		return json.Marshal(struct {
			Text string `json:"Text"`
		}{v.Text})
	case KindBlob:
		return json.Marshal(struct {
			Blob string `json:"Blob"`
		}{base64.StdEncoding.EncodeToString(v.Blob)})
	case KindBigInt:
		return json.Marshal(struct {
			BigInt string `json:"BigInt"`
		}{v.BigInt})
	case KindDate:
		return json.Marshal(struct {
			Date int64 `json:"Date"`
		}{v.DateMs})
	default:
		return []byte(`{"Null":null}`), nil
	}
}

// UnmarshalJSON parses the tagged-union shape back into a ColumnValue.
func (v *ColumnValue) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return &errs.InvalidArgError{Arg: "column_value", Reason: "not a JSON object"}
	}
	switch {
	case has(probe, "Integer"):
		var n int64
		if err := json.Unmarshal(probe["Integer"], &n); err != nil {
			return err
		}
		*v = IntegerValue(n)
	case has(probe, "Real"):
		var f float64
		if err := json.Unmarshal(probe["Real"], &f); err != nil {
			return err
		}
		*v = RealValue(f)
	case has(probe, "Text"):
		var s string
		if err := json.Unmarshal(probe["Text"], &s); err != nil {
			return err
		}
		*v = TextValue(s)
	case has(probe, "Blob"):
		var s string
		if err := json.Unmarshal(probe["Blob"], &s); err != nil {
			return err
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return &errs.InvalidArgError{Arg: "column_value", Reason: "invalid base64 in Blob"}
		}
		*v = BlobValue(b)
	case has(probe, "BigInt"):
		var s string
		if err := json.Unmarshal(probe["BigInt"], &s); err != nil {
			return err
		}
		*v = BigIntValue(s)
	case has(probe, "Date"):
		var n int64
		if err := json.Unmarshal(probe["Date"], &n); err != nil {
			return err
		}
		*v = DateValue(n)
	default:
		*v = NullValue()
	}
	return nil
}

func has(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}

// ResultRow is one row of a QueryResult (spec §6.2 "rows: [{values:
// [ColumnValue]}]").
type ResultRow struct {
	Values []ColumnValue `json:"values"`
}

// QueryResult is the wire shape every Execute/StmtExecute call returns
// (spec §6.2).
type QueryResult struct {
	Columns         []string    `json:"columns"`
	Rows            []ResultRow `json:"rows"`
	AffectedRows    uint32      `json:"affectedRows"`
	LastInsertID    *int64      `json:"lastInsertId,omitempty"`
	ExecutionTimeMs float64     `json:"executionTimeMs"`
}
