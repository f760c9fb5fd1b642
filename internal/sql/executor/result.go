package executor

import "github.com/tuannm99/sealdb/internal/record"

// Result is the generic query result returned to the caller.
type Result struct {
	Columns []string
	Rows    [][]record.Value
	RowIDs  []int64

	// For DML:
	AffectedRows int64
	// LastInsertID is the rowid of the last row written by an insert, or -1
	// when every row was skipped.
	LastInsertID int64

	// For COUNT:
	Count int64
}
