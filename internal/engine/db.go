// Package engine wires the encrypted page store, the write-ahead log, the
// transaction manager and the executor into one database handle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tuannm99/sealdb/internal/btree"
	"github.com/tuannm99/sealdb/internal/catalog"
	"github.com/tuannm99/sealdb/internal/crypto"
	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/heap"
	"github.com/tuannm99/sealdb/internal/sql/executor"
	"github.com/tuannm99/sealdb/internal/sql/planner"
	"github.com/tuannm99/sealdb/internal/storage"
	"github.com/tuannm99/sealdb/internal/txn"
	"github.com/tuannm99/sealdb/internal/wal"
)

// WALSuffix is appended to the database path to name its log.
const WALSuffix = "-wal"

type Database struct {
	Path   string // empty for in-memory databases
	Header storage.Header

	kr    *crypto.Keyring
	store *storage.Store
	codec *crypto.PageCodec
	mgr   *txn.Manager
	exec  *executor.Executor
	log   *slog.Logger

	busyTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// Open opens or creates the database at path.
func Open(path string, password []byte, mode Mode, opts Options) (*Database, error) {
	if path == "" {
		return nil, fmt.Errorf("engine: empty path")
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: password must not be empty", dberr.ErrInvalidKey)
	}

	create := false
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mode == OpenExisting {
			return nil, fmt.Errorf("engine: open %s: %w", path, fs.ErrNotExist)
		}
		create = true
	case err != nil:
		return nil, dberr.IO("stat database", err)
	default:
		create = info.Size() == 0 && mode == CreateIfMissing
	}

	dbFile, err := storage.OpenFile(path, create)
	if err != nil {
		return nil, dberr.IO("open database", err)
	}
	walFile, err := storage.OpenFile(path+WALSuffix, true)
	if err != nil {
		_ = dbFile.Close()
		return nil, dberr.IO("open wal", err)
	}

	db, err := open(dbFile, walFile, password, create, opts)
	if err != nil {
		_ = walFile.Close()
		_ = dbFile.Close()
		return nil, err
	}
	db.Path = path
	db.log.Info("database opened", "path", path, "created", create, "page_size", db.Header.PageSize)
	return db, nil
}

// OpenInMemory creates a fresh database that lives only as long as the handle.
func OpenInMemory(password []byte, opts Options) (*Database, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: password must not be empty", dberr.ErrInvalidKey)
	}
	return open(storage.NewMemFile(), storage.NewMemFile(), password, true, opts)
}

func open(dbFile, walFile storage.BlockFile, password []byte, create bool, opts Options) (*Database, error) {
	logger := opts.logger()

	var (
		hdr *storage.Header
		kr  *crypto.Keyring
		err error
	)
	if create {
		hdr, kr, err = createHeader(dbFile, password, opts)
	} else {
		hdr, kr, err = readHeader(dbFile, password)
	}
	if err != nil {
		return nil, err
	}

	codec := crypto.NewPageCodec(kr, hdr.PageSize)
	if !create {
		if err := codec.VerifyKeyCheck(hdr.KeyCheck); err != nil {
			kr.Destroy()
			return nil, err
		}
	}

	w, err := openWAL(walFile, kr, hdr.PageSize, create, logger)
	if err != nil {
		kr.Destroy()
		return nil, err
	}

	store := storage.NewStore(dbFile, hdr.PageSize)
	cfg := txn.Config{
		Store:        store,
		Codec:        codec,
		WAL:          w,
		SyncOnCommit: opts.SyncOnCommit,
		CacheMaxCost: opts.CacheMaxCost,
		Logger:       logger,
	}
	if create {
		cfg.PageCount = storage.FirstUserPageID
	}
	mgr, err := txn.NewManager(cfg)
	if err != nil {
		kr.Destroy()
		if errors.Is(err, storage.ErrBadHeader) {
			return nil, fmt.Errorf("%w: %w", dberr.ErrIntegrity, err)
		}
		return nil, err
	}

	db := &Database{
		Header:      *hdr,
		kr:          kr,
		store:       store,
		codec:       codec,
		mgr:         mgr,
		exec:        executor.NewExecutor(logger),
		log:         logger,
		busyTimeout: opts.BusyTimeout,
	}
	if create {
		if err := db.bootstrap(); err != nil {
			_ = mgr.Close()
			kr.Destroy()
			return nil, err
		}
	}
	return db, nil
}

func createHeader(f storage.BlockFile, password []byte, opts Options) (*storage.Header, *crypto.Keyring, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = storage.DefaultPageSize
	}
	if err := storage.ValidatePageSize(pageSize); err != nil {
		return nil, nil, err
	}
	params := opts.Argon2
	if params == (crypto.Argon2Params{}) {
		params = crypto.DefaultArgon2Params()
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, nil, err
	}
	kr, err := crypto.NewKeyring(password, salt, params, uuid.New())
	if err != nil {
		return nil, nil, err
	}
	check, err := crypto.NewPageCodec(kr, pageSize).SealKeyCheck()
	if err != nil {
		kr.Destroy()
		return nil, nil, err
	}

	hdr := &storage.Header{
		PageSize:        pageSize,
		ArgonMemory:     params.Memory,
		ArgonIterations: params.Iterations,
		ArgonParallel:   params.Parallelism,
		Salt:            salt,
		DatabaseID:      kr.DatabaseID(),
		KeyCheck:        check,
	}
	if err := f.Truncate(0); err != nil {
		kr.Destroy()
		return nil, nil, dberr.IO("truncate database", err)
	}
	if err := storage.WriteHeader(f, hdr); err != nil {
		kr.Destroy()
		return nil, nil, err
	}
	if err := f.Sync(); err != nil {
		kr.Destroy()
		return nil, nil, dberr.IO("sync header", err)
	}
	return hdr, kr, nil
}

func readHeader(f storage.BlockFile, password []byte) (*storage.Header, *crypto.Keyring, error) {
	hdr, err := storage.ReadHeader(f)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, storage.ErrBadHeader) || errors.Is(err, storage.ErrBadPageSize) {
			return nil, nil, fmt.Errorf("%w: %w", dberr.ErrIntegrity, err)
		}
		return nil, nil, err
	}
	params := crypto.Argon2Params{
		Memory:      hdr.ArgonMemory,
		Iterations:  hdr.ArgonIterations,
		Parallelism: hdr.ArgonParallel,
	}
	kr, err := crypto.NewKeyring(password, hdr.Salt, params, hdr.DatabaseID)
	if err != nil {
		return nil, nil, err
	}
	return hdr, kr, nil
}

// openWAL binds the log to this database. A log left over from an earlier
// file at the same path is discarded on create; on open it is refused, since
// it may hold committed data the store does not have.
func openWAL(f storage.BlockFile, kr *crypto.Keyring, pageSize int, create bool, logger *slog.Logger) (*wal.Manager, error) {
	if create {
		if err := f.Truncate(0); err != nil {
			return nil, dberr.IO("truncate wal", err)
		}
	}
	w, err := wal.Open(f, kr.WALKey(), kr.DatabaseID(), pageSize, logger)
	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, wal.ErrForeign), errors.Is(err, wal.ErrBadMagic), errors.Is(err, wal.ErrBadRecord):
		return nil, fmt.Errorf("%w: %w", dberr.ErrIntegrity, err)
	default:
		return nil, dberr.IO("open wal", err)
	}
}

func (db *Database) bootstrap() error {
	tx, err := db.mgr.Begin(context.Background(), true, 0)
	if err != nil {
		return err
	}
	if err := storage.InitPages(tx, tx.UsableSize()); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Begin starts a transaction. A negative timeout means the handle's busy
// timeout.
func (db *Database) Begin(ctx context.Context, exclusive bool, timeout time.Duration) (*txn.Tx, error) {
	if timeout < 0 {
		timeout = db.busyTimeout
	}
	return db.mgr.Begin(ctx, exclusive, timeout)
}

func (db *Database) Exec(tx *txn.Tx, p planner.Plan) (*executor.Result, error) {
	if !tx.IsActive() {
		return nil, dberr.ErrTxDone
	}
	return db.exec.Exec(tx, p)
}

// InTransaction reports whether a write transaction is open on the handle.
func (db *Database) InTransaction() bool { return db.mgr.WriterActive() }

// update runs fn in its own write transaction.
func (db *Database) update(ctx context.Context, fn func(tx *txn.Tx) error) error {
	tx, err := db.Begin(ctx, true, -1)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (db *Database) view(ctx context.Context, fn func(tx *txn.Tx) error) error {
	tx, err := db.Begin(ctx, false, 0)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}

func (db *Database) Meta(ctx context.Context) (storage.Meta, error) {
	var meta storage.Meta
	err := db.view(ctx, func(tx *txn.Tx) error {
		var err error
		meta, err = tx.Meta()
		return err
	})
	return meta, err
}

func (db *Database) updateMeta(ctx context.Context, fn func(*storage.Meta)) error {
	return db.update(ctx, func(tx *txn.Tx) error {
		meta, err := tx.Meta()
		if err != nil {
			return err
		}
		fn(&meta)
		return tx.SetMeta(meta)
	})
}

func (db *Database) SetForeignKeys(ctx context.Context, on bool) error {
	return db.updateMeta(ctx, func(m *storage.Meta) { m.SetForeignKeys(on) })
}

func (db *Database) SetSchemaVersion(ctx context.Context, v int64) error {
	return db.updateMeta(ctx, func(m *storage.Meta) { m.SchemaVersion = v })
}

func (db *Database) Tables(ctx context.Context) ([]catalog.TableMeta, error) {
	var out []catalog.TableMeta
	err := db.view(ctx, func(tx *txn.Tx) error {
		cat, err := catalog.Open(tx, tx.UsableSize(), db.log)
		if err != nil {
			return err
		}
		out, err = cat.List()
		return err
	})
	return out, err
}

func (db *Database) FreePages(ctx context.Context) (int, error) {
	var n int
	err := db.view(ctx, func(tx *txn.Tx) error {
		var err error
		n, err = tx.FreePageCount()
		return err
	})
	return n, err
}

// DumpPage writes the slot directory of one committed page. Heap tuples are
// decoded with the owning table's schema and index pages show their entries.
func (db *Database) DumpPage(ctx context.Context, id uint32, w io.Writer) error {
	return db.view(ctx, func(tx *txn.Tx) error {
		buf, err := tx.ReadPage(id)
		if err != nil {
			return err
		}
		p, err := storage.WrapPage(buf)
		if err != nil {
			return fmt.Errorf("%w: page %d is not a slotted page: %w", dberr.ErrInvalidPage, id, err)
		}
		cat, err := catalog.Open(tx, tx.UsableSize(), db.log)
		if err != nil {
			return err
		}
		owner, found, err := cat.Owner(id)
		if err != nil {
			return err
		}

		opts := storage.DebugOptions{}
		switch p.Type() {
		case storage.PageTypeHeap:
			if found {
				opts.Owner = owner.Table
				opts.Format = func(tup []byte) string { return heap.DescribeTuple(tup, &owner.Schema) }
			} else {
				opts.Format = func(tup []byte) string { return heap.DescribeTuple(tup, nil) }
			}
		case storage.PageTypeIndexLeaf, storage.PageTypeIndexInternal:
			if found {
				opts.Owner = fmt.Sprintf("%s(%s)", owner.Table, owner.Index)
			}
			typ := p.Type()
			opts.Format = func(tup []byte) string { return btree.DescribeEntry(typ, tup) }
		}
		return p.Debug(w, opts)
	})
}

// Select runs a read-only query in its own snapshot.
func (db *Database) Select(ctx context.Context, p *planner.SelectPlan) (*executor.Result, error) {
	var res *executor.Result
	err := db.view(ctx, func(tx *txn.Tx) error {
		var err error
		res, err = db.exec.Exec(tx, p)
		return err
	})
	return res, err
}

func (db *Database) Checkpoint(ctx context.Context) error {
	return db.mgr.Checkpoint(ctx)
}

func (db *Database) Stats() txn.Stats { return db.mgr.Stats() }

// Verify checkpoints and then decodes every page on disk, returning the ids
// whose integrity tag does not verify.
func (db *Database) Verify(ctx context.Context) ([]uint32, error) {
	if err := db.Checkpoint(ctx); err != nil {
		return nil, err
	}
	count, err := db.store.CountPages()
	if err != nil {
		return nil, err
	}
	var bad []uint32
	for id := storage.MetaPageID; id < count; id++ {
		if err := ctx.Err(); err != nil {
			return bad, err
		}
		sealed, err := db.store.ReadPage(id)
		if err != nil {
			return bad, err
		}
		if _, err := db.codec.Decode(id, sealed); err != nil {
			if !errors.Is(err, dberr.ErrIntegrity) {
				return bad, err
			}
			db.log.Warn("page failed verification", "page", id)
			bad = append(bad, id)
		}
	}
	return bad, nil
}

// Close fails with ErrBusy while a write transaction is open. Key material is
// wiped once the files are closed.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	if err := db.mgr.Close(); err != nil {
		if errors.Is(err, dberr.ErrBusy) {
			return err
		}
		db.log.Warn("close finished with errors", "err", err)
		db.closed = true
		db.kr.Destroy()
		return err
	}
	db.closed = true
	db.kr.Destroy()
	if db.Path != "" {
		db.log.Info("database closed", "path", db.Path)
	}
	return nil
}
