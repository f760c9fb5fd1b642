// Package wal is the redo log in front of the page store. Each committed
// transaction is a run of sealed page images followed by a commit marker;
// every frame carries a blake3 checksum keyed with the database's WAL key.
package wal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/tuannm99/sealdb/internal/alias/bx"
)

var (
	ErrBadMagic  = errors.New("wal: bad magic")
	ErrBadSum    = errors.New("wal: bad checksum")
	ErrBadRecord = errors.New("wal: bad record")
	ErrShortRead = errors.New("wal: short read")
	ErrNoWALFile = errors.New("wal: wal file is closed")
	ErrForeign   = errors.New("wal: log belongs to another database")
)

const (
	magicU32   uint32 = 0x4C414553 // "SEAL"
	versionU16        = 1

	recPageImage uint8 = 1
	recCommit    uint8 = 2

	sumSize = 16

	// magic(4) ver(2) typ(1) rsv(1) totalLen(4) lsn(8) txID(8) pageID(4)
	frameFixed = 4 + 2 + 1 + 1 + 4 + 8 + 8 + 4

	// fileMagic(8) ver(2) rsv(2) pageSize(4) dbID(16) sum(16)
	HeaderSize = 8 + 2 + 2 + 4 + 16 + sumSize
)

var fileMagic = [8]byte{'S', 'E', 'A', 'L', 'W', 'A', 'L', '1'}

// File is the slice of a block file the log needs. storage.BlockFile satisfies it.
type File interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Truncate(size int64) error
	Size() (int64, error)
	Close() error
}

// PageImage is one sealed page carried by a committed transaction.
type PageImage struct {
	PageID uint32
	Data   []byte
}

// Tx is a committed transaction recovered from the log.
type Tx struct {
	ID    uint64
	Pages []PageImage
}

type Manager struct {
	mu       sync.Mutex
	f        File
	key      []byte
	dbID     uuid.UUID
	pageSize int
	log      *slog.Logger

	off     int64
	lsn     uint64
	flushed uint64
	nextTx  uint64
}

// Open binds f to the database identified by dbID. An empty file gets a fresh
// header. A header for another database or page size is ErrForeign; the caller
// decides whether to discard it. A nil logger discards.
func Open(f File, key []byte, dbID uuid.UUID, pageSize int, logger *slog.Logger) (*Manager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be 32 bytes", ErrBadRecord)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Manager{f: f, key: bx.Clone(key), dbID: dbID, pageSize: pageSize, log: logger, nextTx: 1}

	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	if size < HeaderSize {
		if err := m.reset(); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err := m.checkHeader(); err != nil {
		return nil, err
	}
	m.off = size
	return m, nil
}

// Discard drops whatever the file holds and starts a new log for this database.
func (m *Manager) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reset()
}

func (m *Manager) reset() error {
	if err := m.f.Truncate(0); err != nil {
		return err
	}
	hdr := make([]byte, HeaderSize)
	copy(hdr[0:8], fileMagic[:])
	bx.PutU16At(hdr, 8, versionU16)
	bx.PutU32At(hdr, 12, uint32(m.pageSize))
	copy(hdr[16:32], m.dbID[:])
	copy(hdr[32:], m.sum(hdr[:32]))
	if _, err := m.f.WriteAt(hdr, 0); err != nil {
		return err
	}
	if err := m.f.Sync(); err != nil {
		return err
	}
	m.off = HeaderSize
	return nil
}

func (m *Manager) checkHeader() error {
	hdr := make([]byte, HeaderSize)
	if _, err := m.f.ReadAt(hdr, 0); err != nil {
		return err
	}
	if [8]byte(hdr[0:8]) != fileMagic {
		return ErrBadMagic
	}
	if !sumEqual(hdr[32:], m.sum(hdr[:32])) {
		return fmt.Errorf("%w: header", ErrForeign)
	}
	if bx.U16At(hdr, 8) != versionU16 {
		return ErrBadRecord
	}
	if int(bx.U32At(hdr, 12)) != m.pageSize || uuid.UUID(hdr[16:32]) != m.dbID {
		return ErrForeign
	}
	return nil
}

func (m *Manager) sum(parts ...[]byte) []byte {
	h, err := blake3.NewKeyed(m.key)
	if err != nil {
		// key length is checked in Open
		panic(err)
	}
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return h.Sum(nil)[:sumSize]
}

func sumEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var d byte
	for i := range a {
		d |= a[i] ^ b[i]
	}
	return d == 0
}

func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	bx.Zero(m.key)
	return err
}

// Offset is where the next frame will be written.
func (m *Manager) Offset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.off
}

// NextTxID hands out transaction ids for AppendPageImage/AppendCommit.
func (m *Manager) NextTxID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextTx
	m.nextTx++
	return id
}

// AppendPageImage logs one sealed page of txID.
func (m *Manager) AppendPageImage(txID uint64, pageID uint32, sealed []byte) (uint64, error) {
	if len(sealed) != m.pageSize {
		return 0, ErrBadRecord
	}
	return m.append(recPageImage, txID, pageID, sealed)
}

// AppendCommit logs the marker that makes txID's preceding images durable
// once flushed. pages is the image count, checked on replay.
func (m *Manager) AppendCommit(txID uint64, pages uint32) (uint64, error) {
	var payload [4]byte
	bx.PutU32(payload[:], pages)
	return m.append(recCommit, txID, 0, payload[:])
}

func (m *Manager) append(typ uint8, txID uint64, pageID uint32, payload []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return 0, ErrNoWALFile
	}

	lsn := m.lsn + 1
	totalLen := frameFixed + len(payload) + sumSize
	buf := make([]byte, totalLen)
	off := 0

	putU32 := func(v uint32) { bx.PutU32(buf[off:off+4], v); off += 4 }
	putU16 := func(v uint16) { bx.PutU16(buf[off:off+2], v); off += 2 }
	putU64 := func(v uint64) { bx.PutU64(buf[off:off+8], v); off += 8 }
	putU8 := func(v uint8) { buf[off] = v; off++ }

	putU32(magicU32)
	putU16(versionU16)
	putU8(typ)
	putU8(0)
	putU32(uint32(totalLen))
	putU64(lsn)
	putU64(txID)
	putU32(pageID)
	off += copy(buf[off:], payload)

	if off != totalLen-sumSize {
		return 0, ErrBadRecord
	}
	copy(buf[off:], m.sum(m.dbID[:], buf[:off]))

	if _, err := m.f.WriteAt(buf, m.off); err != nil {
		return 0, err
	}
	m.off += int64(totalLen)
	m.lsn = lsn
	return lsn, nil
}

// Flush makes every frame up to lsn durable.
func (m *Manager) Flush(upto uint64) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return ErrNoWALFile
	}
	if upto == 0 || upto <= m.flushed {
		return nil
	}
	if err := m.f.Sync(); err != nil {
		return err
	}
	m.flushed = upto
	return nil
}

// Rewind cuts the log back to off, dropping frames of a transaction whose
// flush failed so a later replay cannot resurrect it.
func (m *Manager) Rewind(off int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return ErrNoWALFile
	}
	if off < HeaderSize || off > m.off {
		return fmt.Errorf("%w: rewind to %d", ErrBadRecord, off)
	}
	if err := m.f.Truncate(off); err != nil {
		return err
	}
	m.off = off
	if err := m.f.Sync(); err != nil {
		return fmt.Errorf("wal: sync after truncate to %d: %w", off, err)
	}
	return nil
}

// Checkpoint empties the log once every committed page has reached the store.
func (m *Manager) Checkpoint() error {
	return m.Rewind(HeaderSize)
}

// Size is the current log length in bytes, header included.
func (m *Manager) Size() int64 { return m.Offset() }

// Replay scans the log and returns its committed transactions in commit
// order. Scanning stops at the first torn or damaged frame; the log is cut
// back to the end of the last intact commit marker so half-written tails and
// uncommitted images never survive a restart.
func (m *Manager) Replay() ([]Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil, ErrNoWALFile
	}

	var (
		committed []Tx
		pending   = map[uint64][]PageImage{}
		off       = int64(HeaderSize)
		goodEnd   = int64(HeaderSize)
		maxTx     uint64
	)

	for off < m.off {
		rec, n, err := m.readOne(off)
		if err != nil {
			m.log.Warn("wal: stopping replay at damaged frame", "offset", off, "err", err)
			break
		}
		off += n
		if rec.lsn > m.lsn {
			m.lsn = rec.lsn
		}
		if rec.txID > maxTx {
			maxTx = rec.txID
		}

		switch rec.typ {
		case recPageImage:
			pending[rec.txID] = append(pending[rec.txID], PageImage{PageID: rec.pageID, Data: rec.payload})
		case recCommit:
			pages := pending[rec.txID]
			if len(rec.payload) != 4 || int(bx.U32(rec.payload)) != len(pages) {
				m.log.Warn("wal: commit marker does not match its images", "tx", rec.txID)
				off = m.off
				continue
			}
			committed = append(committed, Tx{ID: rec.txID, Pages: pages})
			delete(pending, rec.txID)
			goodEnd = off
		}
	}

	if goodEnd < m.off {
		if err := m.f.Truncate(goodEnd); err != nil {
			return nil, err
		}
		if err := m.f.Sync(); err != nil {
			return nil, err
		}
		m.off = goodEnd
	}
	m.flushed = m.lsn
	if maxTx >= m.nextTx {
		m.nextTx = maxTx + 1
	}
	return committed, nil
}

type decodedRecord struct {
	typ     uint8
	lsn     uint64
	txID    uint64
	pageID  uint32
	payload []byte
}

func (m *Manager) readOne(off int64) (*decodedRecord, int64, error) {
	var fixed [frameFixed]byte
	if err := m.readFull(fixed[:], off); err != nil {
		return nil, 0, err
	}
	if bx.U32(fixed[0:4]) != magicU32 {
		return nil, 0, ErrBadMagic
	}
	if bx.U16(fixed[4:6]) != versionU16 {
		return nil, 0, ErrBadRecord
	}
	typ := fixed[6]
	totalLen := int64(bx.U32(fixed[8:12]))
	if totalLen < frameFixed+sumSize || off+totalLen > m.off {
		return nil, 0, ErrShortRead
	}

	rest := make([]byte, totalLen-frameFixed)
	if err := m.readFull(rest, off+frameFixed); err != nil {
		return nil, 0, err
	}
	payload := rest[:len(rest)-sumSize]
	if !sumEqual(rest[len(rest)-sumSize:], m.sum(m.dbID[:], fixed[:], payload)) {
		return nil, 0, ErrBadSum
	}

	rec := &decodedRecord{
		typ:     typ,
		lsn:     bx.U64(fixed[12:20]),
		txID:    bx.U64(fixed[20:28]),
		pageID:  bx.U32(fixed[28:32]),
		payload: payload,
	}
	switch typ {
	case recPageImage:
		if len(payload) != m.pageSize {
			return nil, 0, ErrBadRecord
		}
	case recCommit:
	default:
		return nil, 0, ErrBadRecord
	}
	return rec, totalLen, nil
}

func (m *Manager) readFull(p []byte, off int64) error {
	n, err := m.f.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return ErrShortRead
	}
	return err
}
