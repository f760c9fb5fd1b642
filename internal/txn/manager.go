// Package txn coordinates transactions over the encrypted page store: one
// writer at a time, any number of snapshot readers, WAL-backed commits and
// deferred checkpoints.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/tuannm99/sealdb/internal/crypto"
	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/storage"
	"github.com/tuannm99/sealdb/internal/wal"
)

const DefaultCacheMaxCost = 32 << 20

type Config struct {
	Store *storage.Store
	Codec *crypto.PageCodec
	WAL   *wal.Manager

	// PageCount is the committed page count the manager starts from. Zero
	// means "read it from the meta page".
	PageCount uint32

	SyncOnCommit bool
	CacheMaxCost int64
	Logger       *slog.Logger
}

// version is one committed page image not yet written to the store.
type version struct {
	seq    uint64
	plain  []byte
	sealed []byte
}

// freeSet is the set of pages on the free list. A published set is never
// mutated; a transaction clones it before its first change.
type freeSet map[uint32]struct{}

type snapshot struct {
	seq       uint64
	pageCount uint32
	free      freeSet
}

type Manager struct {
	store  *storage.Store
	codec  *crypto.PageCodec
	wal    *wal.Manager
	cache  *ristretto.Cache[uint64, []byte]
	log    *slog.Logger
	sync   bool
	usable int

	// writer is the single write slot.
	writer chan struct{}

	mu        sync.Mutex
	seq       uint64
	pageCount uint32
	free      freeSet
	versions  map[uint32][]version // ascending seq
	diskGen   map[uint32]uint32
	readers   map[uint64]int // snapshot seq -> open transactions
	poisoned  error
	closed    bool
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil || cfg.Codec == nil || cfg.WAL == nil {
		return nil, errors.New("txn: store, codec and wal are required")
	}
	maxCost := cfg.CacheMaxCost
	if maxCost <= 0 {
		maxCost = DefaultCacheMaxCost
	}
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: max(maxCost/int64(cfg.Codec.PageSize())*10, 1000),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("txn: page cache: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		store:    cfg.Store,
		codec:    cfg.Codec,
		wal:      cfg.WAL,
		cache:    cache,
		log:      logger,
		sync:     cfg.SyncOnCommit,
		usable:   cfg.Codec.UsableSize(),
		writer:   make(chan struct{}, 1),
		versions: make(map[uint32][]version),
		diskGen:  make(map[uint32]uint32),
		readers:  make(map[uint64]int),
	}

	if err := m.recover(); err != nil {
		cache.Close()
		return nil, err
	}
	m.pageCount = cfg.PageCount
	if m.pageCount == 0 {
		meta, err := m.readMetaFromDisk()
		if err != nil {
			cache.Close()
			return nil, err
		}
		m.pageCount = meta.PageCount
		free, err := storage.FreePageIDs(committedView{m})
		if err != nil {
			cache.Close()
			return nil, err
		}
		m.free = free
	}
	return m, nil
}

// committedView reads the newest committed pages. It backs the free-list
// walk while the manager is being built.
type committedView struct{ m *Manager }

func (v committedView) ReadPage(pageID uint32) ([]byte, error) {
	v.m.mu.Lock()
	snap := snapshot{seq: v.m.seq}
	v.m.mu.Unlock()
	return v.m.readCommitted(pageID, snap)
}

func (v committedView) WritePage(uint32, []byte) error { return dberr.ErrReadOnlyTx }

// recover replays committed WAL transactions into the store and empties the log.
func (m *Manager) recover() error {
	txs, err := m.wal.Replay()
	if err != nil {
		return dberr.IO("wal replay", err)
	}
	if len(txs) == 0 {
		return nil
	}
	pages := 0
	for _, tx := range txs {
		for _, img := range tx.Pages {
			if err := m.store.WritePage(img.PageID, img.Data); err != nil {
				return err
			}
			pages++
		}
	}
	if err := m.store.Sync(); err != nil {
		return err
	}
	if err := m.wal.Checkpoint(); err != nil {
		return dberr.IO("wal truncate", err)
	}
	m.log.Info("recovered transactions from wal", "transactions", len(txs), "pages", pages)
	return nil
}

func (m *Manager) readMetaFromDisk() (storage.Meta, error) {
	plain, err := m.readCommitted(storage.MetaPageID, snapshot{})
	if err != nil {
		return storage.Meta{}, err
	}
	return storage.DecodeMeta(plain)
}

// UsableSize is the logical page size transactions read and write.
func (m *Manager) UsableSize() int { return m.usable }

func (m *Manager) state() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return dberr.ErrClosed
	}
	return m.poisoned
}

func (m *Manager) poison(err error) {
	m.mu.Lock()
	first := m.poisoned == nil
	if first {
		m.poisoned = err
	}
	m.mu.Unlock()
	if first {
		m.log.Error("integrity failure, handle must be reopened", "err", err)
	}
}

// Begin starts a transaction. Read transactions never wait. An exclusive
// transaction takes the writer slot: with timeout 0 it fails fast with
// ErrBusy, otherwise it waits up to timeout or until ctx is done.
func (m *Manager) Begin(ctx context.Context, exclusive bool, timeout time.Duration) (*Tx, error) {
	if err := m.state(); err != nil {
		return nil, err
	}
	if exclusive {
		if err := m.acquireWriter(ctx, timeout); err != nil {
			return nil, err
		}
		if err := m.state(); err != nil {
			<-m.writer
			return nil, err
		}
	}

	m.mu.Lock()
	snap := snapshot{seq: m.seq, pageCount: m.pageCount, free: m.free}
	m.readers[snap.seq]++
	m.mu.Unlock()

	tx := &Tx{m: m, exclusive: exclusive, snap: snap, free: snap.free}
	if exclusive {
		tx.id = m.wal.NextTxID()
		tx.dirty = make(map[uint32][]byte)
	}
	tx.setState(Active)
	return tx, nil
}

func (m *Manager) acquireWriter(ctx context.Context, timeout time.Duration) error {
	select {
	case m.writer <- struct{}{}:
		return nil
	default:
	}
	if timeout <= 0 {
		return dberr.ErrBusy
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m.writer <- struct{}{}:
		return nil
	case <-timer.C:
		return dberr.ErrBusy
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", dberr.ErrBusy, ctx.Err())
	}
}

// WriterActive reports whether a write transaction currently holds the slot.
func (m *Manager) WriterActive() bool { return len(m.writer) > 0 }

func (m *Manager) endSnapshot(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readers[seq] <= 1 {
		delete(m.readers, seq)
		return
	}
	m.readers[seq]--
}

func cacheKey(pageID, gen uint32) uint64 { return uint64(pageID)<<32 | uint64(gen) }

// readCommitted returns a private copy of the newest committed image of
// pageID visible at snap.
func (m *Manager) readCommitted(pageID uint32, snap snapshot) ([]byte, error) {
	m.mu.Lock()
	chain := m.versions[pageID]
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].seq <= snap.seq {
			plain := chain[i].plain
			m.mu.Unlock()
			return clone(plain), nil
		}
	}
	gen := m.diskGen[pageID]
	m.mu.Unlock()

	key := cacheKey(pageID, gen)
	if plain, ok := m.cache.Get(key); ok {
		return clone(plain), nil
	}
	sealed, err := m.store.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	plain, err := m.codec.Decode(pageID, sealed)
	if err != nil {
		if errors.Is(err, dberr.ErrIntegrity) {
			m.poison(err)
		}
		return nil, err
	}
	m.cache.Set(key, plain, int64(len(plain)))
	return clone(plain), nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Stats is a point-in-time view used by diagnostics.
type Stats struct {
	CommitSeq       uint64
	PageCount       uint32
	PendingVersions int
	ActiveReaders   int
	WALBytes        int64
	Poisoned        bool
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{CommitSeq: m.seq, PageCount: m.pageCount, Poisoned: m.poisoned != nil}
	for _, c := range m.versions {
		s.PendingVersions += len(c)
	}
	for _, n := range m.readers {
		s.ActiveReaders += n
	}
	s.WALBytes = m.wal.Size()
	return s
}

// Close checkpoints what it can and releases the cache and files. It fails
// with ErrBusy while a write transaction is open.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	select {
	case m.writer <- struct{}{}:
	default:
		return dberr.ErrBusy
	}
	defer func() { <-m.writer }()

	m.mu.Lock()
	m.closed = true
	poisoned := m.poisoned
	m.mu.Unlock()

	var errs []error
	if poisoned == nil {
		if err := m.checkpointLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	m.cache.Close()
	if err := m.wal.Close(); err != nil {
		errs = append(errs, dberr.IO("close wal", err))
	}
	if err := m.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
