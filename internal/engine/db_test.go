package engine

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/sealdb/internal/crypto"
	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/record"
	"github.com/tuannm99/sealdb/internal/sql/planner"
	"github.com/tuannm99/sealdb/internal/storage"
)

var password = []byte("correct horse")

func testOptions() Options {
	opts := DefaultOptions()
	opts.PageSize = storage.MinPageSize
	opts.Argon2 = crypto.Argon2Params{Memory: crypto.MinArgon2MemoryKiB, Iterations: 1, Parallelism: 1}
	return opts
}

var notes = record.Schema{Cols: []record.Column{
	{Name: "id", Type: record.ColInteger, PrimaryKey: true},
	{Name: "body", Type: record.ColText, Nullable: true},
}}

func writeNotes(t *testing.T, db *Database, bodies ...string) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.Begin(ctx, true, 0)
	require.NoError(t, err)

	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	if len(tables) == 0 {
		_, err = db.Exec(tx, &planner.CreateTablePlan{TableName: "notes", Schema: notes})
		require.NoError(t, err)
	}
	for _, b := range bodies {
		_, err = db.Exec(tx, &planner.InsertPlan{TableName: "notes", Rows: []planner.Values{
			{"id": record.Int(int64(len(b))), "body": record.Text(b)},
		}})
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
}

func readNotes(t *testing.T, db *Database) []string {
	t.Helper()
	tx, err := db.Begin(context.Background(), false, 0)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	res, err := db.Exec(tx, &planner.SelectPlan{
		TableName: "notes",
		Columns:   []string{"body"},
		OrderBy:   []planner.OrderBy{{Column: "id"}},
	})
	require.NoError(t, err)
	var out []string
	for _, row := range res.Rows {
		out = append(out, row[0].S)
	}
	return out
}

func TestOpen_CreateReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := Open(path, password, CreateIfMissing, testOptions())
	require.NoError(t, err)
	writeNotes(t, db, "a", "bb")
	require.NoError(t, db.SetSchemaVersion(context.Background(), 7))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	// the header keeps the page size chosen at create time
	opts := testOptions()
	opts.PageSize = storage.DefaultPageSize
	db, err = Open(path, password, OpenExisting, opts)
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, storage.MinPageSize, db.Header.PageSize)
	require.Equal(t, []string{"a", "bb"}, readNotes(t, db))
	meta, err := db.Meta(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 7, meta.SchemaVersion)
	require.False(t, meta.ForeignKeys())
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.db"), password, OpenExisting, testOptions())
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, err = Open(filepath.Join(dir, "x.db"), nil, CreateIfMissing, testOptions())
	require.ErrorIs(t, err, dberr.ErrInvalidKey)

	path := filepath.Join(dir, "app.db")
	db, err := Open(path, password, CreateIfMissing, testOptions())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path, []byte("wrong"), OpenExisting, testOptions())
	require.ErrorIs(t, err, dberr.ErrIntegrity)

	junk := filepath.Join(dir, "junk.db")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not a database"), 0o600))
	_, err = Open(junk, password, OpenExisting, testOptions())
	require.ErrorIs(t, err, dberr.ErrIntegrity)
}

func TestOpen_WALFromAnotherDatabase(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.db")
	b := filepath.Join(dir, "b.db")
	for _, p := range []string{a, b} {
		db, err := Open(p, password, CreateIfMissing, testOptions())
		require.NoError(t, err)
		require.NoError(t, db.Close())
	}

	walA, err := os.ReadFile(a + WALSuffix)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(b+WALSuffix, walA, 0o600))

	_, err = Open(b, password, OpenExisting, testOptions())
	require.ErrorIs(t, err, dberr.ErrIntegrity)

	// creating over the same path starts a new log
	require.NoError(t, os.Remove(b))
	db, err := Open(b, password, CreateIfMissing, testOptions())
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestInMemory(t *testing.T) {
	db, err := OpenInMemory(password, testOptions())
	require.NoError(t, err)
	defer db.Close()

	writeNotes(t, db, "x")
	require.Equal(t, []string{"x"}, readNotes(t, db))

	ctx := context.Background()
	require.NoError(t, db.SetForeignKeys(ctx, true))
	meta, err := db.Meta(ctx)
	require.NoError(t, err)
	require.True(t, meta.ForeignKeys())

	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Equal(t, "notes", tables[0].Name)
}

func TestClose_RefusesOpenWriter(t *testing.T) {
	db, err := OpenInMemory(password, testOptions())
	require.NoError(t, err)

	tx, err := db.Begin(context.Background(), true, 0)
	require.NoError(t, err)
	require.True(t, db.InTransaction())
	require.ErrorIs(t, db.Close(), dberr.ErrBusy)

	require.NoError(t, tx.Rollback())
	require.False(t, db.InTransaction())
	require.NoError(t, db.Close())

	_, err = db.Begin(context.Background(), false, 0)
	require.ErrorIs(t, err, dberr.ErrClosed)
}

func TestExec_FinishedTransaction(t *testing.T) {
	db, err := OpenInMemory(password, testOptions())
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Begin(context.Background(), true, 0)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	_, err = db.Exec(tx, &planner.CountPlan{TableName: "notes"})
	require.ErrorIs(t, err, dberr.ErrTxDone)
}

func TestVerify_FindsTamperedPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := Open(path, password, CreateIfMissing, testOptions())
	require.NoError(t, err)
	writeNotes(t, db, "hello")

	bad, err := db.Verify(context.Background())
	require.NoError(t, err)
	require.Empty(t, bad)
	require.NoError(t, db.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	off := int64(storage.CatalogPageID)*storage.MinPageSize + crypto.NonceSize + 1
	b := make([]byte, 1)
	_, err = f.ReadAt(b, off)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b, off)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	db, err = Open(path, password, OpenExisting, testOptions())
	require.NoError(t, err)
	defer db.Close()
	bad, err = db.Verify(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint32{storage.CatalogPageID}, bad)

	_, err = db.Tables(context.Background())
	require.ErrorIs(t, err, dberr.ErrIntegrity)
}
