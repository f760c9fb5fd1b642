package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/sealdb/internal/crypto"
	"github.com/tuannm99/sealdb/internal/engine"
	"github.com/tuannm99/sealdb/internal/record"
	"github.com/tuannm99/sealdb/internal/sql/planner"
	"github.com/tuannm99/sealdb/internal/storage"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv(DefaultPasswordEnv, "cli-password")
	t.Setenv("SEALDB_STORAGE_PAGE_SIZE", strconv.Itoa(storage.MinPageSize))
	t.Setenv("SEALDB_CRYPTO_ARGON2_MEMORY_KIB", strconv.Itoa(int(crypto.MinArgon2MemoryKiB)))
	t.Setenv("SEALDB_CRYPTO_ARGON2_ITERATIONS", "1")
	t.Setenv("SEALDB_CRYPTO_ARGON2_PARALLELISM", "1")
	t.Setenv("SEALDB_LOGGING_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Execute(context.Background(), &out, args)
	return out.String(), err
}

func seed(t *testing.T, path string) {
	t.Helper()
	opts := engine.DefaultOptions()
	opts.Argon2 = crypto.Argon2Params{Memory: crypto.MinArgon2MemoryKiB, Iterations: 1, Parallelism: 1}
	db, err := engine.Open(path, []byte("cli-password"), engine.OpenExisting, opts)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	tx, err := db.Begin(context.Background(), true, 0)
	require.NoError(t, err)
	_, err = db.Exec(tx, &planner.CreateTablePlan{TableName: "pets", Schema: record.Schema{Cols: []record.Column{
		{Name: "name", Type: record.ColText, Unique: true},
		{Name: "legs", Type: record.ColInteger, Nullable: true},
	}}})
	require.NoError(t, err)
	_, err = db.Exec(tx, &planner.InsertPlan{TableName: "pets", Rows: []planner.Values{
		{"name": record.Text("rex"), "legs": record.Int(4)},
		{"name": record.Text("tweety"), "legs": record.Int(2)},
	}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func TestCommands(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "pets.db")

	out, err := run(t, "init", path)
	require.NoError(t, err)
	require.Contains(t, out, "created "+path)

	_, err = run(t, "init", path)
	require.Equal(t, ExitCodeUsage, err.(*ExitError).ExitCode())

	seed(t, path)

	out, err = run(t, "tables", path)
	require.NoError(t, err)
	require.Equal(t, "pets (name TEXT UNIQUE NOT NULL, legs INTEGER)\n", out)

	out, err = run(t, "dump", path, "pets")
	require.NoError(t, err)
	require.Contains(t, out, "rex")
	require.Contains(t, out, "tweety")

	out, err = run(t, "dump", path, "pets", "--limit", "1")
	require.NoError(t, err)
	require.NotContains(t, out, "tweety")

	out, err = run(t, "schema-version", path, "12")
	require.NoError(t, err)
	require.Equal(t, "12\n", out)
	out, err = run(t, "schema-version", path)
	require.NoError(t, err)
	require.Equal(t, "12\n", out)

	out, err = run(t, "info", path)
	require.NoError(t, err)
	require.Contains(t, out, "schema version  12")
	require.Contains(t, out, "tables          1")

	out, err = run(t, "checkpoint", path)
	require.NoError(t, err)
	require.Contains(t, out, "wal size")

	out, err = run(t, "verify", path)
	require.NoError(t, err)
	require.Equal(t, "ok\n", out)

	out, err = run(t, "page", path, strconv.Itoa(int(storage.FirstUserPageID)))
	require.NoError(t, err)
	require.Contains(t, out, "type   heap\n")
	require.Contains(t, out, "owner  pets\n")
	require.Contains(t, out, "slots  2\n")
	require.Contains(t, out, `inline rowid=1 name="rex" legs=4`)
	require.Contains(t, out, `inline rowid=2 name="tweety" legs=2`)

	// the unique name column's index root follows the heap root
	out, err = run(t, "page", path, strconv.Itoa(int(storage.FirstUserPageID+1)))
	require.NoError(t, err)
	require.Contains(t, out, "type   index-leaf\n")
	require.Contains(t, out, "owner  pets(name)\n")
	require.Contains(t, out, "row=(4,0)")
	require.Contains(t, out, "row=(4,1)")
}

func TestErrorsMapToExitCodes(t *testing.T) {
	setupEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "x.db")

	_, err := run(t, "info", filepath.Join(dir, "missing.db"))
	require.Equal(t, ExitCodeNotFound, err.(*ExitError).ExitCode())

	_, err = run(t, "init", path)
	require.NoError(t, err)

	_, err = run(t, "dump", path, "ghosts")
	require.Equal(t, ExitCodeNotFound, err.(*ExitError).ExitCode())

	_, err = run(t, "schema-version", path, "twelve")
	require.Equal(t, ExitCodeUsage, err.(*ExitError).ExitCode())

	t.Setenv(DefaultPasswordEnv, "wrong")
	_, err = run(t, "info", path)
	require.Equal(t, ExitCodeIntegrity, err.(*ExitError).ExitCode())

	t.Setenv(DefaultPasswordEnv, "")
	_, err = run(t, "info", path)
	require.Equal(t, ExitCodeUsage, err.(*ExitError).ExitCode())

	cfg := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("storage:\n  page_size: 3\n"), 0o600))
	_, err = run(t, "--config", cfg, "info", path)
	require.Equal(t, ExitCodeUsage, err.(*ExitError).ExitCode())
}
