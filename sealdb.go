// Package sealdb is an embedded row store whose pages are encrypted at rest.
//
// A database is a single file plus a write-ahead log next to it (path + "-wal").
// Every page is sealed with XChaCha20-Poly1305 under a key derived from the
// password with argon2id. Transactions are serialisable for the single writer
// and snapshot-isolated for any number of concurrent readers.
package sealdb

import (
	"fmt"

	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/engine"
	"github.com/tuannm99/sealdb/internal/record"
	"github.com/tuannm99/sealdb/internal/sql/executor"
	"github.com/tuannm99/sealdb/internal/sql/planner"
)

type Mode = engine.Mode

const (
	CreateIfMissing = engine.CreateIfMissing
	OpenExisting    = engine.OpenExisting
)

var (
	ErrInvalidPage    = dberr.ErrInvalidPage
	ErrIntegrity      = dberr.ErrIntegrity
	ErrInvalidKey     = dberr.ErrInvalidKey
	ErrBusy           = dberr.ErrBusy
	ErrReadOnlyTx     = dberr.ErrReadOnlyTx
	ErrConstraint     = dberr.ErrConstraint
	ErrIO             = dberr.ErrIO
	ErrClosed         = dberr.ErrClosed
	ErrTxDone         = dberr.ErrTxDone
	ErrNoSuchTable    = dberr.ErrNoSuchTable
	ErrTableExists    = dberr.ErrTableExists
	ErrSchemaMismatch = dberr.ErrSchema
)

type (
	ConstraintError = dberr.ConstraintError
	ConstraintKind  = dberr.ConstraintKind
)

const (
	NotNullConstraint    = dberr.NotNull
	UniqueConstraint     = dberr.Unique
	PrimaryKeyConstraint = dberr.PrimaryKey
	ForeignKeyConstraint = dberr.ForeignKey
)

// Schema types.
type (
	Schema     = record.Schema
	Column     = record.Column
	ColumnType = record.ColumnType
	References = record.ForeignKey
	Value      = record.Value
)

const (
	Integer = record.ColInteger
	Real    = record.ColReal
	Text    = record.ColText
	Blob    = record.ColBlob
)

// RowID names the implicit auto-increment key of every table.
const RowID = record.RowIDColumn

// CountColumn is the row count column of a grouped Query.
const CountColumn = planner.CountColumn

// Statement types.
type (
	Conflict = planner.Conflict
	Op       = planner.Op
	Cond     = planner.Cond
	Where    = planner.Where
	OrderBy  = planner.OrderBy
	Query    = planner.SelectPlan
	Result   = executor.Result
)

// Row maps column names to Go values: nil, integers, floats, bool, string
// or []byte.
type Row = map[string]any

const (
	ConflictAbort   = planner.ConflictAbort
	ConflictReplace = planner.ConflictReplace
	ConflictIgnore  = planner.ConflictIgnore
)

const (
	OpEq      = planner.OpEq
	OpNe      = planner.OpNe
	OpLt      = planner.OpLt
	OpLe      = planner.OpLe
	OpGt      = planner.OpGt
	OpGe      = planner.OpGe
	OpIsNull  = planner.OpIsNull
	OpNotNull = planner.OpNotNull
)

var (
	NullValue = record.Null
	IntValue  = record.Int
	RealValue = record.Real
	TextValue = record.Text
	BlobValue = record.Blob
)

// C builds a condition from a plain Go value.
func C(column string, op Op, x any) (Cond, error) {
	v, err := record.FromAny(x)
	if err != nil {
		return Cond{}, fmt.Errorf("%w: column %s: %w", ErrSchemaMismatch, column, err)
	}
	return Cond{Column: column, Op: op, Value: v}, nil
}
