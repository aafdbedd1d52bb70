package database

import (
	"regexp"
	"strings"
	"time"
)

// Backend source identifiers reported in QueryResult.Source.
const (
	SourcePostgres = "postgres"
	SourceSQLite   = "sqlite"
	SourceNone     = "none"
)

// OperationType classifies a statement by its leading keyword.
type OperationType string

const (
	OpSelect      OperationType = "select"
	OpInsert      OperationType = "insert"
	OpUpdate      OperationType = "update"
	OpDelete      OperationType = "delete"
	OpCreateTable OperationType = "create_table"
	OpDropTable   OperationType = "drop_table"
	OpTransaction OperationType = "transaction"
	OpUnknown     OperationType = "unknown"
)

// Classify derives the operation type from the leading keyword of the
// trimmed, lowercased statement text.
func Classify(query string) OperationType {
	q := strings.ToLower(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(q, "select"):
		return OpSelect
	case strings.HasPrefix(q, "insert"):
		return OpInsert
	case strings.HasPrefix(q, "update"):
		return OpUpdate
	case strings.HasPrefix(q, "delete"):
		return OpDelete
	case strings.HasPrefix(q, "create table"):
		return OpCreateTable
	case strings.HasPrefix(q, "drop table"):
		return OpDropTable
	case strings.HasPrefix(q, "begin"), strings.HasPrefix(q, "commit"), strings.HasPrefix(q, "rollback"):
		return OpTransaction
	default:
		return OpUnknown
	}
}

// IsWrite reports whether a statement of this type mutates state and is
// therefore eligible for replay queuing. Anything that is not a select is
// treated as a write.
func (t OperationType) IsWrite() bool {
	return t != OpSelect
}

var tablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*insert\s+into\s+([\w."]+)`),
	regexp.MustCompile(`(?i)^\s*update\s+([\w."]+)`),
	regexp.MustCompile(`(?i)^\s*delete\s+from\s+([\w."]+)`),
	regexp.MustCompile(`(?i)^\s*create\s+table\s+(?:if\s+not\s+exists\s+)?([\w."]+)`),
	regexp.MustCompile(`(?i)^\s*drop\s+table\s+(?:if\s+exists\s+)?([\w."]+)`),
	regexp.MustCompile(`(?i)^\s*select\s+.*?\bfrom\s+([\w."]+)`),
}

// TableName extracts the target table from a statement, best-effort.
// Returns "" when no table can be determined.
func TableName(query string) string {
	for _, re := range tablePatterns {
		if m := re.FindStringSubmatch(query); m != nil {
			return strings.Trim(m[1], `"`)
		}
	}
	return ""
}

// QueryResult describes the outcome of one statement or batch. Created
// fresh per call and never mutated afterward. Errors are always captured
// here rather than raised across the public API.
type QueryResult struct {
	Success      bool
	Data         []map[string]interface{}
	Error        string
	Duration     time.Duration
	RowsAffected int64
	Source       string
}

// failure builds an unsuccessful result for the given backend.
func failure(source, errMsg string, start time.Time) *QueryResult {
	return &QueryResult{
		Success:  false,
		Error:    errMsg,
		Duration: time.Since(start),
		Source:   source,
	}
}
