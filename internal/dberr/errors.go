// Package dberr holds the error taxonomy shared by every sealdb layer.
// Callers match with errors.Is; the root package re-exports the sentinels.
package dberr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPage = errors.New("sealdb: invalid page")
	// ErrIntegrity means a tag did not verify: tampering or a wrong key.
	// It is fatal to the handle that observed it.
	ErrIntegrity   = errors.New("sealdb: integrity check failed")
	ErrInvalidKey  = errors.New("sealdb: invalid key")
	ErrBusy        = errors.New("sealdb: database is busy")
	ErrReadOnlyTx  = errors.New("sealdb: write in read-only transaction")
	ErrConstraint  = errors.New("sealdb: constraint violation")
	ErrIO          = errors.New("sealdb: I/O error")
	ErrClosed      = errors.New("sealdb: database is closed")
	ErrTxDone      = errors.New("sealdb: transaction has already been committed or rolled back")
	ErrNoSuchTable = errors.New("sealdb: no such table")
	ErrTableExists = errors.New("sealdb: table already exists")
	ErrSchema      = errors.New("sealdb: schema mismatch")
)

// IO wraps a storage-medium failure so it matches both ErrIO and the cause.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

// ConstraintKind names the rule a row broke.
type ConstraintKind string

const (
	NotNull    ConstraintKind = "NOT NULL"
	Unique     ConstraintKind = "UNIQUE"
	PrimaryKey ConstraintKind = "PRIMARY KEY"
	ForeignKey ConstraintKind = "FOREIGN KEY"
)

// ConstraintError reports which table/column rejected a statement.
type ConstraintError struct {
	Kind   ConstraintKind
	Table  string
	Column string
	Detail string
}

func (e *ConstraintError) Error() string {
	msg := fmt.Sprintf("sealdb: %s constraint failed: %s.%s", e.Kind, e.Table, e.Column)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ConstraintError) Is(target error) bool { return target == ErrConstraint }
