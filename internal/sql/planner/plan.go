// Package planner defines the compiled statements the executor runs. Plans are
// built directly by callers; there is no SQL text front end.
package planner

import (
	"github.com/tuannm99/sealdb/internal/record"
)

// Plan is the interface for executable plans.
type Plan interface {
	planNode()
}

// Conflict selects what happens when a row violates a UNIQUE or PRIMARY KEY
// constraint.
type Conflict uint8

const (
	ConflictAbort   Conflict = iota // fail the statement
	ConflictReplace                 // delete the conflicting rows, then write
	ConflictIgnore                  // skip the offending row
)

func (c Conflict) String() string {
	switch c {
	case ConflictAbort:
		return "ABORT"
	case ConflictReplace:
		return "REPLACE"
	case ConflictIgnore:
		return "IGNORE"
	default:
		return "UNKNOWN"
	}
}

type Op uint8

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIsNull
	OpNotNull
)

// Cond compares one column (or "rowid") with Value. IsNull/NotNull ignore Value.
type Cond struct {
	Column string
	Op     Op
	Value  record.Value
}

// Where is a conjunction; an empty Where matches every row.
type Where []Cond

// Values maps column names to values for one row. Missing columns are NULL.
type Values map[string]record.Value

type Assignment struct {
	Column string
	Value  record.Value
}

type OrderBy struct {
	Column string
	Desc   bool
}

// ----- Plan nodes -----

type CreateTablePlan struct {
	TableName string
	Schema    record.Schema
}

func (*CreateTablePlan) planNode() {}

// InsertPlan writes Rows in order. A row may carry an explicit "rowid".
type InsertPlan struct {
	TableName  string
	Rows       []Values
	OnConflict Conflict
}

func (*InsertPlan) planNode() {}

type UpdatePlan struct {
	TableName  string
	Assigns    []Assignment
	Where      Where
	OnConflict Conflict
}

func (*UpdatePlan) planNode() {}

type DeletePlan struct {
	TableName string
	Where     Where
}

func (*DeletePlan) planNode() {}

// CountColumn names the row count of each group in a grouped select.
const CountColumn = "count"

// SelectPlan is a filtered sequential scan. Empty Columns selects all columns;
// Limit <= 0 means no limit.
//
// With GroupBy set, matching rows collapse into one row per distinct
// combination of the grouped columns (NULLs group together). Columns and
// OrderBy may then name only grouped columns and CountColumn; empty Columns
// selects the grouped columns followed by CountColumn. Groups come out in
// ascending key order unless OrderBy says otherwise.
type SelectPlan struct {
	TableName string
	Columns   []string
	Where     Where
	GroupBy   []string
	OrderBy   []OrderBy
	Limit     int
	Offset    int
}

func (*SelectPlan) planNode() {}

type CountPlan struct {
	TableName string
	Where     Where
}

func (*CountPlan) planNode() {}

// IsWrite reports whether p needs an exclusive transaction.
func IsWrite(p Plan) bool {
	switch p.(type) {
	case *SelectPlan, *CountPlan:
		return false
	default:
		return true
	}
}
