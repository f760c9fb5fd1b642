package txn

import (
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/tuannm99/sealdb/internal/alias/bx"
	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/storage"
)

type State int32

const (
	Active State = iota + 1
	Committing
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled back"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Tx is used by one goroutine at a time. Dirty pages live only here until
// Commit, so Rollback never touches shared state beyond releasing slots.
type Tx struct {
	m         *Manager
	id        uint64
	exclusive bool
	snap      snapshot
	dirty     map[uint32][]byte
	state     atomic.Int32

	free        freeSet
	freeOwned   bool
	freeChanged bool
}

var (
	_ storage.PageAccessor  = (*Tx)(nil)
	_ storage.PageAllocator = (*Tx)(nil)
)

func (t *Tx) State() State     { return State(t.state.Load()) }
func (t *Tx) setState(s State) { t.state.Store(int32(s)) }
func (t *Tx) IsActive() bool   { return t.State() == Active }
func (t *Tx) Exclusive() bool  { return t.exclusive }
func (t *Tx) UsableSize() int  { return t.m.usable }

// SnapshotSeq is the commit sequence this transaction reads at.
func (t *Tx) SnapshotSeq() uint64 { return t.snap.seq }

func (t *Tx) checkActive() error {
	if !t.IsActive() {
		return dberr.ErrTxDone
	}
	return nil
}

// pageCount honours allocations made earlier in this transaction.
func (t *Tx) pageCount() (uint32, error) {
	if buf, ok := t.dirty[storage.MetaPageID]; ok {
		meta, err := storage.DecodeMeta(buf)
		if err != nil {
			return 0, err
		}
		return meta.PageCount, nil
	}
	return t.snap.pageCount, nil
}

// checkPageID rejects the file header, ids past the page count and, unless
// the caller is the free-list code itself, pages on the free list.
func (t *Tx) checkPageID(pageID uint32, allowFree bool) error {
	if pageID == storage.HeaderPageID {
		return fmt.Errorf("%w: page %d is the file header", dberr.ErrInvalidPage, pageID)
	}
	n, err := t.pageCount()
	if err != nil {
		return err
	}
	if pageID >= n {
		return fmt.Errorf("%w: page %d not allocated (page count %d)", dberr.ErrInvalidPage, pageID, n)
	}
	if !allowFree && t.IsFree(pageID) {
		return fmt.Errorf("%w: page %d is free", dberr.ErrInvalidPage, pageID)
	}
	return nil
}

// ReadPage returns a private copy of the page: this transaction's own dirty
// image if it has one, else the committed image as of its snapshot.
func (t *Tx) ReadPage(pageID uint32) ([]byte, error) {
	return t.readPage(pageID, false)
}

// WritePage stages data for pageID. Short buffers are zero padded.
func (t *Tx) WritePage(pageID uint32, data []byte) error {
	return t.writePage(pageID, data, false)
}

func (t *Tx) readPage(pageID uint32, allowFree bool) ([]byte, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	if err := t.checkPageID(pageID, allowFree); err != nil {
		return nil, err
	}
	if buf, ok := t.dirty[pageID]; ok {
		return bx.Clone(buf), nil
	}
	return t.m.readCommitted(pageID, t.snap)
}

func (t *Tx) writePage(pageID uint32, data []byte, allowFree bool) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if !t.exclusive {
		return dberr.ErrReadOnlyTx
	}
	if err := t.checkPageID(pageID, allowFree); err != nil {
		return err
	}
	buf, ok := bx.Padded(data, t.m.usable)
	if !ok {
		return fmt.Errorf("%w: %d bytes exceed usable page size %d", dberr.ErrInvalidPage, len(data), t.m.usable)
	}
	t.dirty[pageID] = buf
	return nil
}

// IsFree reports whether pageID is on the free list as this transaction
// sees it.
func (t *Tx) IsFree(pageID uint32) bool {
	_, ok := t.free[pageID]
	return ok
}

func (t *Tx) markFree(pageID uint32, free bool) {
	if !t.freeOwned {
		t.free = maps.Clone(t.free)
		if t.free == nil {
			t.free = make(freeSet)
		}
		t.freeOwned = true
	}
	if free {
		t.free[pageID] = struct{}{}
	} else {
		delete(t.free, pageID)
	}
	t.freeChanged = true
}

// freeListView is the accessor the free-list code runs on: it may touch pages
// that are themselves free, and answers membership from the free set.
type freeListView struct{ t *Tx }

func (v freeListView) ReadPage(pageID uint32) ([]byte, error) { return v.t.readPage(pageID, true) }

func (v freeListView) WritePage(pageID uint32, data []byte) error {
	return v.t.writePage(pageID, data, true)
}

func (v freeListView) IsFree(pageID uint32) bool { return v.t.IsFree(pageID) }

// Allocate hands out a zeroed page, reusing the free list first.
func (t *Tx) Allocate() (uint32, error) {
	if err := t.checkActive(); err != nil {
		return 0, err
	}
	if !t.exclusive {
		return 0, dberr.ErrReadOnlyTx
	}
	id, err := storage.Allocate(freeListView{t}, t.m.usable)
	if err != nil {
		return 0, err
	}
	if t.IsFree(id) {
		t.markFree(id, false)
	}
	return id, nil
}

// Free wipes pageID and puts it on the free list. Reading or writing it
// afterwards fails with ErrInvalidPage until it is allocated again.
func (t *Tx) Free(pageID uint32) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if !t.exclusive {
		return dberr.ErrReadOnlyTx
	}
	if err := storage.Free(freeListView{t}, pageID, t.m.usable); err != nil {
		return err
	}
	t.markFree(pageID, true)
	return nil
}

// FreePageCount walks the free list as this transaction sees it.
func (t *Tx) FreePageCount() (int, error) {
	if err := t.checkActive(); err != nil {
		return 0, err
	}
	return storage.FreePageCount(freeListView{t})
}

func (t *Tx) Meta() (storage.Meta, error) { return storage.LoadMeta(t) }

func (t *Tx) SetMeta(meta storage.Meta) error { return storage.SaveMeta(t, meta, t.m.usable) }

// DirtyPages is the number of pages this transaction has staged.
func (t *Tx) DirtyPages() int { return len(t.dirty) }

// Savepoint captures the dirty set so a failed statement can be undone
// without abandoning the whole transaction.
type Savepoint struct {
	dirty map[uint32][]byte
	free  freeSet
}

func (t *Tx) Savepoint() Savepoint {
	t.freeOwned = false
	return Savepoint{dirty: maps.Clone(t.dirty), free: t.free}
}

// RollbackTo restores the dirty set captured by sp. Staged buffers are never
// mutated in place, so sharing them with the savepoint is safe.
func (t *Tx) RollbackTo(sp Savepoint) {
	if t.exclusive && t.IsActive() {
		t.dirty = maps.Clone(sp.dirty)
		if t.dirty == nil {
			t.dirty = make(map[uint32][]byte)
		}
		t.free = sp.free
		t.freeOwned = false
	}
}

// Rollback discards the dirty set. It always succeeds and is idempotent.
func (t *Tx) Rollback() error {
	if !t.state.CompareAndSwap(int32(Active), int32(RolledBack)) {
		return nil
	}
	t.dirty = nil
	t.release()
	return nil
}

func (t *Tx) release() {
	t.m.endSnapshot(t.snap.seq)
	if t.exclusive {
		<-t.m.writer
	}
}

// Commit makes the dirty set durable. The pages are sealed in ascending id
// order, logged with a commit marker and flushed; only then do new snapshots
// see them. A failure before the flush completes rewinds the log, leaves the
// store untouched and reports the transaction as rolled back.
func (t *Tx) Commit() error {
	if !t.state.CompareAndSwap(int32(Active), int32(Committing)) {
		return dberr.ErrTxDone
	}
	if !t.exclusive || len(t.dirty) == 0 {
		t.setState(Committed)
		t.release()
		return nil
	}

	m := t.m
	ids := slices.Sorted(maps.Keys(t.dirty))
	sealed := make([][]byte, len(ids))
	start := m.wal.Offset()
	pageCount, pcErr := t.pageCount()

	fail := func(op string, err error) error {
		if rerr := m.wal.Rewind(start); rerr != nil {
			m.log.Error("wal rewind after failed commit", "tx", t.id, "err", rerr)
		}
		t.dirty = nil
		t.setState(RolledBack)
		t.release()
		return fmt.Errorf("txn: commit rolled back: %w", dberr.IO(op, err))
	}

	if pcErr != nil {
		return fail("meta", pcErr)
	}
	for i, id := range ids {
		enc, err := m.codec.Encode(id, t.dirty[id])
		if err != nil {
			return fail("seal page", err)
		}
		sealed[i] = enc
		if _, err := m.wal.AppendPageImage(t.id, id, enc); err != nil {
			return fail("wal append", err)
		}
	}
	lsn, err := m.wal.AppendCommit(t.id, uint32(len(ids)))
	if err != nil {
		return fail("wal commit", err)
	}
	if m.sync {
		if err := m.wal.Flush(lsn); err != nil {
			return fail("wal flush", err)
		}
	}

	m.mu.Lock()
	m.seq++
	seq := m.seq
	for i, id := range ids {
		m.versions[id] = append(m.versions[id], version{seq: seq, plain: t.dirty[id], sealed: sealed[i]})
	}
	m.pageCount = pageCount
	if t.freeChanged {
		m.free = t.free
	}
	m.mu.Unlock()

	t.dirty = nil
	t.setState(Committed)
	m.log.Debug("commit", "tx", t.id, "seq", seq, "pages", len(ids), "lsn", lsn)

	// The snapshot goes first so it does not hold back its own checkpoint;
	// the writer slot goes last so no other writer appends to the log while
	// it may be truncated.
	m.endSnapshot(t.snap.seq)
	if err := m.checkpointLocked(); err != nil {
		m.log.Warn("checkpoint after commit failed", "seq", seq, "err", err)
	}
	<-m.writer
	return nil
}
