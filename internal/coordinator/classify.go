package coordinator

import "strings"

// StatementKind classifies a SQL statement for write forwarding (spec §4.6
// "Followers classify statements they receive as read-only or writing").
type StatementKind int

const (
	StatementReadOnly StatementKind = iota
	StatementWrite
	StatementDDL
)

var writeKeywords = []string{"INSERT", "UPDATE", "DELETE", "REPLACE"}
var ddlKeywords = []string{"CREATE", "ALTER", "DROP", "VACUUM", "PRAGMA", "REINDEX", "ANALYZE"}

// ClassifyStatement matches the leading keyword of sqlText (spec §4.6):
// INSERT/UPDATE/DELETE/REPLACE are writes a follower must forward to the
// leader; DDL (CREATE/ALTER/…) is always allowed locally since it is
// idempotent enough to replay after a DataChanged notification; everything
// else is treated as read-only.
func ClassifyStatement(sqlText string) StatementKind {
	word := leadingKeyword(sqlText)
	for _, kw := range writeKeywords {
		if word == kw {
			return StatementWrite
		}
	}
	for _, kw := range ddlKeywords {
		if word == kw {
			return StatementDDL
		}
	}
	return StatementReadOnly
}

func leadingKeyword(sqlText string) string {
	s := strings.TrimSpace(sqlText)
	end := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	if end == -1 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}
