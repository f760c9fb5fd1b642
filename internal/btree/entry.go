package btree

import (
	"cmp"
	"fmt"
	"math"

	"github.com/zeebo/blake3"

	"github.com/tuannm99/sealdb/internal/alias/bx"
	"github.com/tuannm99/sealdb/internal/heap"
	"github.com/tuannm99/sealdb/internal/record"
)

// Key is the 64-bit digest of an indexed value. Different values may share a
// key, so a hit is only a candidate until the row itself is compared.
type Key uint64

// KeyOf digests a non-null value that was already coerced to its column type.
// Values that compare equal get the same key.
func KeyOf(v record.Value) Key {
	var buf []byte
	switch v.Kind {
	case record.KindInteger:
		buf = make([]byte, 9)
		bx.PutI64(buf[1:], v.I)
	case record.KindReal:
		f := v.F
		switch {
		case f == 0:
			f = 0 // -0 and +0 compare equal
		case math.IsNaN(f):
			f = math.NaN()
		}
		buf = make([]byte, 9)
		bx.PutU64(buf[1:], math.Float64bits(f))
	case record.KindText:
		buf = append([]byte{0}, v.S...)
	case record.KindBlob:
		buf = append([]byte{0}, v.B...)
	default:
		buf = []byte{0}
	}
	buf[0] = byte(v.Kind)
	sum := blake3.Sum256(buf)
	return Key(bx.U64(sum[:8]))
}

// Entry is one (key, row location) pair. Entries are unique and ordered by
// key, then by TID, which lets duplicate keys live in one tree.
type Entry struct {
	Key Key
	TID heap.TID
}

func compareEntries(a, b Entry) int {
	if c := cmp.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	if c := cmp.Compare(a.TID.PageID, b.TID.PageID); c != 0 {
		return c
	}
	return cmp.Compare(a.TID.Slot, b.TID.Slot)
}

func (e Entry) String() string { return fmt.Sprintf("%016x@%s", uint64(e.Key), e.TID) }

const (
	// LeafEntrySize is 8 bytes key + 4 bytes PageID + 2 bytes Slot.
	LeafEntrySize = 8 + 4 + 2

	// InternalEntrySize is a full separator entry + 4 bytes childPageID.
	InternalEntrySize = LeafEntrySize + 4
)

// EncodeLeafEntry lays e out as [key u64][PageID u32][Slot u16].
func EncodeLeafEntry(e Entry) []byte {
	buf := make([]byte, LeafEntrySize)
	bx.PutU64(buf[0:8], uint64(e.Key))
	bx.PutU32(buf[8:12], e.TID.PageID)
	bx.PutU16(buf[12:14], e.TID.Slot)
	return buf
}

func DecodeLeafEntry(b []byte) (Entry, error) {
	if len(b) != LeafEntrySize {
		return Entry{}, fmt.Errorf("%w: leaf entry of %d bytes", ErrCorruptNode, len(b))
	}
	return Entry{
		Key: Key(bx.U64(b[0:8])),
		TID: heap.TID{PageID: bx.U32(b[8:12]), Slot: bx.U16(b[12:14])},
	}, nil
}

// EncodeInternalEntry lays out (separator, child) as a leaf entry followed by
// [childPageID u32].
func EncodeInternalEntry(sep Entry, child uint32) []byte {
	buf := make([]byte, InternalEntrySize)
	copy(buf, EncodeLeafEntry(sep))
	bx.PutU32(buf[LeafEntrySize:], child)
	return buf
}

func DecodeInternalEntry(b []byte) (Entry, uint32, error) {
	if len(b) != InternalEntrySize {
		return Entry{}, 0, fmt.Errorf("%w: internal entry of %d bytes", ErrCorruptNode, len(b))
	}
	sep, err := DecodeLeafEntry(b[:LeafEntrySize])
	if err != nil {
		return Entry{}, 0, err
	}
	return sep, bx.U32(b[LeafEntrySize:]), nil
}
