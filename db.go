package sealdb

import (
	"context"
	"time"

	"github.com/tuannm99/sealdb/internal/engine"
	"github.com/tuannm99/sealdb/internal/sql/planner"
	"github.com/tuannm99/sealdb/internal/txn"
)

// DB is a handle on one database. It is safe for concurrent use; each
// transaction belongs to one goroutine.
type DB struct {
	eng *engine.Database
}

// Open opens the database at path with password. With CreateIfMissing a
// missing or empty file is initialised.
func Open(path string, password []byte, mode Mode, opts ...Option) (*DB, error) {
	eng, err := engine.Open(path, password, mode, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return &DB{eng: eng}, nil
}

// OpenInMemory creates a database that disappears when the handle is closed.
func OpenInMemory(password []byte, opts ...Option) (*DB, error) {
	eng, err := engine.OpenInMemory(password, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return &DB{eng: eng}, nil
}

// Path is empty for in-memory databases.
func (db *DB) Path() string { return db.eng.Path }

// TxOptions configure Begin. A zero Timeout uses the handle's busy timeout.
type TxOptions struct {
	Exclusive bool
	Timeout   time.Duration
}

func (db *DB) Begin(ctx context.Context, opts TxOptions) (*Tx, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = -1
	}
	t, err := db.eng.Begin(ctx, opts.Exclusive, timeout)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: t}, nil
}

func (db *DB) BeginExclusive(ctx context.Context) (*Tx, error) {
	return db.Begin(ctx, TxOptions{Exclusive: true})
}

func (db *DB) BeginRead(ctx context.Context) (*Tx, error) {
	return db.Begin(ctx, TxOptions{})
}

// InTransaction reports whether a write transaction is open on the handle.
func (db *DB) InTransaction() bool { return db.eng.InTransaction() }

// exec runs p in tx, or in a transaction of its own when tx is nil.
func (db *DB) exec(tx *Tx, p planner.Plan) (*Result, error) {
	if tx != nil {
		return db.eng.Exec(tx.tx, p)
	}
	own, err := db.Begin(context.Background(), TxOptions{Exclusive: planner.IsWrite(p)})
	if err != nil {
		return nil, err
	}
	res, err := db.eng.Exec(own.tx, p)
	if err != nil {
		_ = own.Rollback()
		return nil, err
	}
	if !planner.IsWrite(p) {
		return res, own.Rollback()
	}
	if err := own.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

func (db *DB) CreateTable(tx *Tx, name string, schema Schema) error {
	_, err := db.exec(tx, &planner.CreateTablePlan{TableName: name, Schema: schema})
	return err
}

// Insert returns the new rowid, or -1 when ConflictIgnore skipped the row.
func (db *DB) Insert(tx *Tx, table string, row Row, onConflict Conflict) (int64, error) {
	p, err := planner.BuildInsert(table, row, onConflict)
	if err != nil {
		return -1, err
	}
	res, err := db.exec(tx, p)
	if err != nil {
		return -1, err
	}
	return res.LastInsertID, nil
}

// Update sets the columns in set on every row matching where and returns
// how many rows changed.
func (db *DB) Update(tx *Tx, table string, set Row, where Where, onConflict Conflict) (int64, error) {
	p, err := planner.BuildUpdate(table, set, where, onConflict)
	if err != nil {
		return 0, err
	}
	res, err := db.exec(tx, p)
	if err != nil {
		return 0, err
	}
	return res.AffectedRows, nil
}

func (db *DB) Delete(tx *Tx, table string, where Where) (int64, error) {
	res, err := db.exec(tx, &planner.DeletePlan{TableName: table, Where: where})
	if err != nil {
		return 0, err
	}
	return res.AffectedRows, nil
}

func (db *DB) Query(tx *Tx, q Query) (*Result, error) {
	return db.exec(tx, &q)
}

// Count returns the number of rows in table matching where.
func (db *DB) Count(tx *Tx, table string, where Where) (int64, error) {
	res, err := db.exec(tx, &planner.CountPlan{TableName: table, Where: where})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Tables lists table names in creation order.
func (db *DB) Tables() ([]string, error) {
	metas, err := db.eng.Tables(context.Background())
	if err != nil {
		return nil, err
	}
	names := make([]string, len(metas))
	for i, m := range metas {
		names[i] = m.Name
	}
	return names, nil
}

// TableSchema returns the declared columns of table.
func (db *DB) TableSchema(table string) (Schema, error) {
	metas, err := db.eng.Tables(context.Background())
	if err != nil {
		return Schema{}, err
	}
	for _, m := range metas {
		if m.Name == table {
			return m.Schema, nil
		}
	}
	return Schema{}, ErrNoSuchTable
}

func (db *DB) SetForeignKeyEnforcement(on bool) error {
	return db.eng.SetForeignKeys(context.Background(), on)
}

func (db *DB) ForeignKeyEnforcement() (bool, error) {
	meta, err := db.eng.Meta(context.Background())
	if err != nil {
		return false, err
	}
	return meta.ForeignKeys(), nil
}

func (db *DB) SchemaVersion() (int, error) {
	meta, err := db.eng.Meta(context.Background())
	if err != nil {
		return 0, err
	}
	return int(meta.SchemaVersion), nil
}

func (db *DB) SetSchemaVersion(v int) error {
	return db.eng.SetSchemaVersion(context.Background(), int64(v))
}

// IsWriteAheadLoggingEnabled is always true: the log is how commits become
// durable and cannot be switched off.
func (db *DB) IsWriteAheadLoggingEnabled() bool { return true }

// Checkpoint copies committed pages into the database file and trims the
// log as far as open readers allow. It waits for the writer slot.
func (db *DB) Checkpoint() error {
	return db.eng.Checkpoint(context.Background())
}

// Close fails with ErrBusy while a write transaction is open.
func (db *DB) Close() error { return db.eng.Close() }

// Tx is one transaction. Methods on DB take it as their first argument.
type Tx struct {
	tx *txn.Tx
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }
func (t *Tx) IsActive() bool  { return t.tx.IsActive() }
func (t *Tx) Exclusive() bool { return t.tx.Exclusive() }
