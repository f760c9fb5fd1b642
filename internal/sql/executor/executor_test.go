package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/sealdb/internal/btree"
	"github.com/tuannm99/sealdb/internal/catalog"
	"github.com/tuannm99/sealdb/internal/crypto"
	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/record"
	"github.com/tuannm99/sealdb/internal/sql/planner"
	"github.com/tuannm99/sealdb/internal/storage"
	"github.com/tuannm99/sealdb/internal/txn"
	"github.com/tuannm99/sealdb/internal/wal"
)

const testPageSize = storage.MinPageSize

// newTestManager builds an in-memory transaction manager with initialised
// reserved pages.
func newTestManager(t *testing.T) *txn.Manager {
	t.Helper()
	params := crypto.Argon2Params{Memory: crypto.MinArgon2MemoryKiB, Iterations: 1, Parallelism: 1}
	kr, err := crypto.NewKeyring([]byte("pw"), []byte("0123456789abcdef0123456789abcdef"), params, uuid.New())
	require.NoError(t, err)
	t.Cleanup(kr.Destroy)

	w, err := wal.Open(storage.NewMemFile(), kr.WALKey(), kr.DatabaseID(), testPageSize, nil)
	require.NoError(t, err)
	m, err := txn.NewManager(txn.Config{
		Store:     storage.NewStore(storage.NewMemFile(), testPageSize),
		Codec:     crypto.NewPageCodec(kr, testPageSize),
		WAL:       w,
		PageCount: storage.FirstUserPageID,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	tx := begin(t, m, true)
	require.NoError(t, storage.InitPages(tx, m.UsableSize()))
	require.NoError(t, tx.Commit())
	return m
}

func begin(t *testing.T, m *txn.Manager, exclusive bool) *txn.Tx {
	t.Helper()
	tx, err := m.Begin(context.Background(), exclusive, 0)
	require.NoError(t, err)
	return tx
}

func mustExec(t *testing.T, ex *Executor, tx Txn, p planner.Plan) *Result {
	t.Helper()
	res, err := ex.Exec(tx, p)
	require.NoError(t, err)
	return res
}

var usersSchema = record.Schema{Cols: []record.Column{
	{Name: "id", Type: record.ColInteger, PrimaryKey: true},
	{Name: "email", Type: record.ColText, Unique: true},
	{Name: "name", Type: record.ColText},
	{Name: "score", Type: record.ColReal, Nullable: true},
}}

func user(id int64, email, name string) planner.Values {
	return planner.Values{"id": record.Int(id), "email": record.Text(email), "name": record.Text(name)}
}

func seedUsers(t *testing.T, ex *Executor, tx Txn) {
	t.Helper()
	mustExec(t, ex, tx, &planner.CreateTablePlan{TableName: "users", Schema: usersSchema})
	res := mustExec(t, ex, tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{
		user(1, "a@x", "ann"),
		user(2, "b@x", "bob"),
		user(3, "c@x", "cat"),
	}})
	require.Equal(t, int64(3), res.AffectedRows)
	require.Equal(t, int64(3), res.LastInsertID)
}

func count(t *testing.T, ex *Executor, tx Txn, table string, where planner.Where) int64 {
	t.Helper()
	return mustExec(t, ex, tx, &planner.CountPlan{TableName: table, Where: where}).Count
}

func TestExecutor_InsertAndSelect(t *testing.T) {
	m := newTestManager(t)
	ex := NewExecutor(nil)
	tx := begin(t, m, true)
	seedUsers(t, ex, tx)
	require.NoError(t, tx.Commit())

	r := begin(t, m, false)
	defer func() { _ = r.Rollback() }()

	res := mustExec(t, ex, r, &planner.SelectPlan{
		TableName: "users",
		Columns:   []string{"rowid", "name"},
		Where:     planner.Where{{Column: "id", Op: planner.OpGe, Value: record.Int(2)}},
		OrderBy:   []planner.OrderBy{{Column: "name", Desc: true}},
	})
	require.Equal(t, []string{"rowid", "name"}, res.Columns)
	require.Equal(t, [][]record.Value{
		{record.Int(3), record.Text("cat")},
		{record.Int(2), record.Text("bob")},
	}, res.Rows)
	require.Equal(t, []int64{3, 2}, res.RowIDs)

	res = mustExec(t, ex, r, &planner.SelectPlan{
		TableName: "users",
		OrderBy:   []planner.OrderBy{{Column: "id"}},
		Offset:    1,
		Limit:     1,
	})
	require.Equal(t, usersSchema.Names(), res.Columns)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "bob", res.Rows[0][2].S)
	require.True(t, res.Rows[0][3].IsNull())

	require.Equal(t, int64(3), count(t, ex, r, "users", nil))
	require.Equal(t, int64(3), count(t, ex, r, "users", planner.Where{{Column: "score", Op: planner.OpIsNull}}))
	require.Zero(t, count(t, ex, r, "users", planner.Where{{Column: "score", Op: planner.OpEq, Value: record.Null()}}))

	_, err := ex.Exec(r, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{user(9, "z@x", "zed")}})
	require.ErrorIs(t, err, dberr.ErrReadOnlyTx)
}

func TestExecutor_UnknownTableAndColumn(t *testing.T) {
	m := newTestManager(t)
	ex := NewExecutor(nil)
	tx := begin(t, m, true)
	defer func() { _ = tx.Rollback() }()
	seedUsers(t, ex, tx)

	_, err := ex.Exec(tx, &planner.SelectPlan{TableName: "ghosts"})
	require.ErrorIs(t, err, dberr.ErrNoSuchTable)

	_, err = ex.Exec(tx, &planner.SelectPlan{TableName: "users", Columns: []string{"nope"}})
	require.ErrorIs(t, err, dberr.ErrSchema)

	_, err = ex.Exec(tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{{"nope": record.Int(1)}}})
	require.ErrorIs(t, err, dberr.ErrSchema)

	_, err = ex.Exec(tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{
		{"id": record.Text("x"), "email": record.Text("q@x"), "name": record.Text("q")},
	}})
	require.ErrorIs(t, err, dberr.ErrSchema)

	_, err = ex.Exec(tx, &planner.CreateTablePlan{TableName: "users", Schema: usersSchema})
	require.ErrorIs(t, err, dberr.ErrTableExists)
}

func TestExecutor_NotNullAndConflictStrategies(t *testing.T) {
	m := newTestManager(t)
	ex := NewExecutor(nil)
	tx := begin(t, m, true)
	defer func() { _ = tx.Rollback() }()
	seedUsers(t, ex, tx)

	_, err := ex.Exec(tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{
		{"id": record.Int(4), "email": record.Text("d@x")},
	}})
	var ce *dberr.ConstraintError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, dberr.NotNull, ce.Kind)
	require.Equal(t, "name", ce.Column)

	t.Run("abort is atomic across rows", func(t *testing.T) {
		_, err := ex.Exec(tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{
			user(10, "new@x", "new"),
			user(11, "a@x", "dup"),
		}})
		require.ErrorIs(t, err, dberr.ErrConstraint)
		var ce *dberr.ConstraintError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, dberr.Unique, ce.Kind)
		require.Equal(t, "email", ce.Column)
		require.Equal(t, int64(3), count(t, ex, tx, "users", nil))
	})

	t.Run("ignore skips the row", func(t *testing.T) {
		res := mustExec(t, ex, tx, &planner.InsertPlan{
			TableName:  "users",
			Rows:       []planner.Values{user(1, "other@x", "dup id")},
			OnConflict: planner.ConflictIgnore,
		})
		require.Zero(t, res.AffectedRows)
		require.Equal(t, int64(-1), res.LastInsertID)
		require.Equal(t, int64(3), count(t, ex, tx, "users", nil))
	})

	t.Run("replace removes the clashing rows", func(t *testing.T) {
		// clashes with ann on id and with bob on email
		res := mustExec(t, ex, tx, &planner.InsertPlan{
			TableName:  "users",
			Rows:       []planner.Values{user(1, "b@x", "merged")},
			OnConflict: planner.ConflictReplace,
		})
		require.Equal(t, int64(1), res.AffectedRows)
		require.Equal(t, int64(2), count(t, ex, tx, "users", nil))

		sel := mustExec(t, ex, tx, &planner.SelectPlan{
			TableName: "users",
			Columns:   []string{"name"},
			Where:     planner.Where{{Column: "id", Op: planner.OpEq, Value: record.Int(1)}},
		})
		require.Equal(t, [][]record.Value{{record.Text("merged")}}, sel.Rows)
	})

	t.Run("rowids keep increasing", func(t *testing.T) {
		res := mustExec(t, ex, tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{user(20, "t@x", "tom")}})
		require.Equal(t, int64(5), res.LastInsertID)

		res = mustExec(t, ex, tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{
			{"rowid": record.Int(100), "id": record.Int(21), "email": record.Text("u@x"), "name": record.Text("uma")},
		}})
		require.Equal(t, int64(100), res.LastInsertID)

		_, err := ex.Exec(tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{
			{"rowid": record.Int(100), "id": record.Int(22), "email": record.Text("v@x"), "name": record.Text("vic")},
		}})
		var ce *dberr.ConstraintError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, dberr.PrimaryKey, ce.Kind)

		res = mustExec(t, ex, tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{user(23, "w@x", "wes")}})
		require.Equal(t, int64(101), res.LastInsertID)
	})
}

func TestExecutor_UpdateAndDelete(t *testing.T) {
	m := newTestManager(t)
	ex := NewExecutor(nil)
	tx := begin(t, m, true)
	defer func() { _ = tx.Rollback() }()
	seedUsers(t, ex, tx)

	res := mustExec(t, ex, tx, &planner.UpdatePlan{
		TableName: "users",
		Assigns:   []planner.Assignment{{Column: "score", Value: record.Int(7)}},
		Where:     planner.Where{{Column: "id", Op: planner.OpLe, Value: record.Int(2)}},
	})
	require.Equal(t, int64(2), res.AffectedRows)
	require.Equal(t, int64(2), count(t, ex, tx, "users", planner.Where{{Column: "score", Op: planner.OpEq, Value: record.Real(7)}}))

	_, err := ex.Exec(tx, &planner.UpdatePlan{
		TableName: "users",
		Assigns:   []planner.Assignment{{Column: "email", Value: record.Text("a@x")}},
		Where:     planner.Where{{Column: "id", Op: planner.OpEq, Value: record.Int(2)}},
	})
	require.ErrorIs(t, err, dberr.ErrConstraint)

	res = mustExec(t, ex, tx, &planner.UpdatePlan{
		TableName:  "users",
		Assigns:    []planner.Assignment{{Column: "email", Value: record.Text("a@x")}},
		Where:      planner.Where{{Column: "id", Op: planner.OpEq, Value: record.Int(2)}},
		OnConflict: planner.ConflictIgnore,
	})
	require.Zero(t, res.AffectedRows)

	res = mustExec(t, ex, tx, &planner.UpdatePlan{
		TableName:  "users",
		Assigns:    []planner.Assignment{{Column: "email", Value: record.Text("a@x")}},
		Where:      planner.Where{{Column: "id", Op: planner.OpEq, Value: record.Int(2)}},
		OnConflict: planner.ConflictReplace,
	})
	require.Equal(t, int64(1), res.AffectedRows)
	require.Equal(t, int64(2), count(t, ex, tx, "users", nil))

	_, err = ex.Exec(tx, &planner.UpdatePlan{
		TableName: "users",
		Assigns:   []planner.Assignment{{Column: "rowid", Value: record.Int(9)}},
	})
	require.ErrorIs(t, err, dberr.ErrSchema)

	res = mustExec(t, ex, tx, &planner.DeletePlan{
		TableName: "users",
		Where:     planner.Where{{Column: "name", Op: planner.OpNe, Value: record.Text("bob")}},
	})
	require.Equal(t, int64(1), res.AffectedRows)
	require.Equal(t, int64(1), count(t, ex, tx, "users", nil))
}

// emailEntries returns the rowids the email index holds for email.
func emailEntries(t *testing.T, tx *txn.Tx, email string) []int64 {
	t.Helper()
	cat, err := catalog.Open(tx, tx.UsableSize(), nil)
	require.NoError(t, err)
	m, err := cat.Get("users")
	require.NoError(t, err)
	tids, err := cat.Index(m, "email").SearchEqual(btree.KeyOf(record.Text(email)))
	require.NoError(t, err)
	out := make([]int64, 0, len(tids))
	for _, tid := range tids {
		row, err := cat.Table(m).Get(tid)
		require.NoError(t, err)
		out = append(out, row.RowID)
	}
	return out
}

func TestExecutor_UniqueIndexFollowsRows(t *testing.T) {
	m := newTestManager(t)
	ex := NewExecutor(nil)
	tx := begin(t, m, true)
	defer func() { _ = tx.Rollback() }()
	mustExec(t, ex, tx, &planner.CreateTablePlan{TableName: "users", Schema: usersSchema})

	const n = 600
	rows := make([]planner.Values, n)
	for i := range rows {
		rows[i] = user(int64(i+1), fmt.Sprintf("u%d@x", i+1), "user")
	}
	res := mustExec(t, ex, tx, &planner.InsertPlan{TableName: "users", Rows: rows})
	require.Equal(t, int64(n), res.AffectedRows)

	cat, err := catalog.Open(tx, tx.UsableSize(), nil)
	require.NoError(t, err)
	meta, err := cat.Get("users")
	require.NoError(t, err)
	pages, err := cat.Table(meta).Pages()
	require.NoError(t, err)
	require.Equal(t, pages[len(pages)-1], meta.Last)
	idxPages, err := cat.Index(meta, "email").Pages()
	require.NoError(t, err)
	require.Greater(t, len(idxPages), 3, "index should have split")

	_, err = ex.Exec(tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{user(n+1, "u599@x", "dup")}})
	var ce *dberr.ConstraintError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "email", ce.Column)
	require.Equal(t, []int64{599}, emailEntries(t, tx, "u599@x"))

	t.Run("update moves the entry", func(t *testing.T) {
		mustExec(t, ex, tx, &planner.UpdatePlan{
			TableName: "users",
			Assigns:   []planner.Assignment{{Column: "email", Value: record.Text("renamed@x")}},
			Where:     planner.Where{{Column: "id", Op: planner.OpEq, Value: record.Int(10)}},
		})
		require.Empty(t, emailEntries(t, tx, "u10@x"))
		require.Equal(t, []int64{10}, emailEntries(t, tx, "renamed@x"))

		mustExec(t, ex, tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{user(1000, "u10@x", "reuse")}})
		_, err := ex.Exec(tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{user(1001, "renamed@x", "dup")}})
		require.ErrorIs(t, err, dberr.ErrConstraint)
	})

	t.Run("relocated rows stay indexed", func(t *testing.T) {
		mustExec(t, ex, tx, &planner.UpdatePlan{
			TableName: "users",
			Assigns:   []planner.Assignment{{Column: "name", Value: record.Text(strings.Repeat("n", 300))}},
			Where:     planner.Where{{Column: "id", Op: planner.OpLe, Value: record.Int(5)}},
		})
		require.Equal(t, []int64{3}, emailEntries(t, tx, "u3@x"))
		_, err := ex.Exec(tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{user(1002, "u3@x", "dup")}})
		require.ErrorIs(t, err, dberr.ErrConstraint)
	})

	t.Run("delete frees the value", func(t *testing.T) {
		mustExec(t, ex, tx, &planner.DeletePlan{
			TableName: "users",
			Where:     planner.Where{{Column: "id", Op: planner.OpEq, Value: record.Int(20)}},
		})
		require.Empty(t, emailEntries(t, tx, "u20@x"))
		mustExec(t, ex, tx, &planner.InsertPlan{TableName: "users", Rows: []planner.Values{user(20, "u20@x", "back")}})
	})

	t.Run("replace drops the clashing entries", func(t *testing.T) {
		mustExec(t, ex, tx, &planner.InsertPlan{
			TableName:  "users",
			Rows:       []planner.Values{user(30, "u31@x", "merged")},
			OnConflict: planner.ConflictReplace,
		})
		require.Empty(t, emailEntries(t, tx, "u30@x"))
		got := emailEntries(t, tx, "u31@x")
		require.Len(t, got, 1)
		require.NotEqual(t, int64(31), got[0])
	})
}

func TestExecutor_ForeignKeys(t *testing.T) {
	m := newTestManager(t)
	ex := NewExecutor(nil)
	tx := begin(t, m, true)
	defer func() { _ = tx.Rollback() }()
	seedUsers(t, ex, tx)

	mustExec(t, ex, tx, &planner.CreateTablePlan{TableName: "posts", Schema: record.Schema{Cols: []record.Column{
		{Name: "title", Type: record.ColText},
		{Name: "author", Type: record.ColInteger, Nullable: true, References: &record.ForeignKey{Table: "users", Column: "id"}},
	}}})
	post := func(title string, author int64) planner.Values {
		return planner.Values{"title": record.Text(title), "author": record.Int(author)}
	}

	// enforcement is off by default
	mustExec(t, ex, tx, &planner.InsertPlan{TableName: "posts", Rows: []planner.Values{post("orphan", 99)}})
	mustExec(t, ex, tx, &planner.DeletePlan{TableName: "posts"})

	meta, err := tx.Meta()
	require.NoError(t, err)
	meta.SetForeignKeys(true)
	require.NoError(t, tx.SetMeta(meta))

	_, err = ex.Exec(tx, &planner.InsertPlan{TableName: "posts", Rows: []planner.Values{post("orphan", 99)}})
	var ce *dberr.ConstraintError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, dberr.ForeignKey, ce.Kind)
	require.Equal(t, "author", ce.Column)

	mustExec(t, ex, tx, &planner.InsertPlan{TableName: "posts", Rows: []planner.Values{post("hello", 1), {"title": record.Text("anon")}}})

	// a referenced parent cannot go away, and the failed delete changes nothing
	_, err = ex.Exec(tx, &planner.DeletePlan{TableName: "users", Where: planner.Where{{Column: "id", Op: planner.OpEq, Value: record.Int(1)}}})
	require.ErrorAs(t, err, &ce)
	require.Equal(t, dberr.ForeignKey, ce.Kind)
	require.Equal(t, "posts", ce.Table)
	require.Equal(t, int64(3), count(t, ex, tx, "users", nil))

	_, err = ex.Exec(tx, &planner.UpdatePlan{
		TableName: "users",
		Assigns:   []planner.Assignment{{Column: "id", Value: record.Int(50)}},
		Where:     planner.Where{{Column: "id", Op: planner.OpEq, Value: record.Int(1)}},
	})
	require.ErrorIs(t, err, dberr.ErrConstraint)

	// unreferenced parents are free to go
	res := mustExec(t, ex, tx, &planner.DeletePlan{TableName: "users", Where: planner.Where{{Column: "id", Op: planner.OpEq, Value: record.Int(2)}}})
	require.Equal(t, int64(1), res.AffectedRows)

	mustExec(t, ex, tx, &planner.DeletePlan{TableName: "posts"})
	mustExec(t, ex, tx, &planner.DeletePlan{TableName: "users", Where: planner.Where{{Column: "id", Op: planner.OpEq, Value: record.Int(1)}}})
}

func TestExecutor_GroupByCount(t *testing.T) {
	m := newTestManager(t)
	ex := NewExecutor(nil)
	tx := begin(t, m, true)
	defer func() { _ = tx.Rollback() }()

	mustExec(t, ex, tx, &planner.CreateTablePlan{TableName: "pets", Schema: record.Schema{Cols: []record.Column{
		{Name: "species", Type: record.ColText},
		{Name: "legs", Type: record.ColInteger, Nullable: true},
	}}})
	pet := func(species string, legs record.Value) planner.Values {
		return planner.Values{"species": record.Text(species), "legs": legs}
	}
	mustExec(t, ex, tx, &planner.InsertPlan{TableName: "pets", Rows: []planner.Values{
		pet("dog", record.Int(4)),
		pet("cat", record.Int(4)),
		pet("bird", record.Int(2)),
		pet("dog", record.Int(4)),
		pet("snake", record.Null()),
		pet("cat", record.Int(4)),
		pet("dog", record.Int(3)),
	}})

	res := mustExec(t, ex, tx, &planner.SelectPlan{TableName: "pets", GroupBy: []string{"species"}})
	require.Equal(t, []string{"species", planner.CountColumn}, res.Columns)
	require.Equal(t, [][]record.Value{
		{record.Text("bird"), record.Int(1)},
		{record.Text("cat"), record.Int(2)},
		{record.Text("dog"), record.Int(3)},
		{record.Text("snake"), record.Int(1)},
	}, res.Rows)
	require.Empty(t, res.RowIDs)

	t.Run("nulls form one group", func(t *testing.T) {
		res := mustExec(t, ex, tx, &planner.SelectPlan{
			TableName: "pets",
			Columns:   []string{planner.CountColumn, "legs"},
			GroupBy:   []string{"legs"},
		})
		require.Equal(t, [][]record.Value{
			{record.Int(1), record.Null()},
			{record.Int(1), record.Int(2)},
			{record.Int(1), record.Int(3)},
			{record.Int(4), record.Int(4)},
		}, res.Rows)
	})

	t.Run("where order and limit apply to groups", func(t *testing.T) {
		res := mustExec(t, ex, tx, &planner.SelectPlan{
			TableName: "pets",
			Where:     planner.Where{{Column: "legs", Op: planner.OpNotNull}},
			GroupBy:   []string{"species", "legs"},
			OrderBy:   []planner.OrderBy{{Column: planner.CountColumn, Desc: true}, {Column: "species"}},
			Limit:     2,
		})
		require.Equal(t, []string{"species", "legs", planner.CountColumn}, res.Columns)
		require.Equal(t, [][]record.Value{
			{record.Text("cat"), record.Int(4), record.Int(2)},
			{record.Text("dog"), record.Int(4), record.Int(2)},
		}, res.Rows)
	})

	t.Run("ungrouped columns are rejected", func(t *testing.T) {
		_, err := ex.Exec(tx, &planner.SelectPlan{TableName: "pets", Columns: []string{"legs"}, GroupBy: []string{"species"}})
		require.ErrorIs(t, err, dberr.ErrSchema)
		_, err = ex.Exec(tx, &planner.SelectPlan{TableName: "pets", GroupBy: []string{"color"}})
		require.ErrorIs(t, err, dberr.ErrSchema)
	})
}
