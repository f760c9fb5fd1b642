package heap

import (
	"errors"
	"fmt"

	"github.com/tuannm99/sealdb/internal/alias/bx"
	"github.com/tuannm99/sealdb/internal/record"
	"github.com/tuannm99/sealdb/internal/storage"
)

// Every tuple starts with a kind byte:
//
//	inline:   [0] [encoded row]
//	overflow: [1] [rowid i64] [first page u32] [length u32]
const (
	tupleInline   byte = 0
	tupleOverflow byte = 1

	overflowTupleSize = 1 + 8 + 4 + 4
)

var ErrBadTuple = errors.New("heap: malformed tuple")

// Row is one decoded table row.
type Row struct {
	RowID  int64
	Values []record.Value
}

// HeapPage = Page + Schema, row-level wrapper on top of Page.
// Rows too large to share a page are spilled to an overflow chain.
type HeapPage struct {
	Page   *storage.Page
	Schema record.Schema

	ovf       *storage.OverflowManager
	maxInline int
}

func NewHeapPage(p *storage.Page, s record.Schema, ovf *storage.OverflowManager, usable int) HeapPage {
	return HeapPage{Page: p, Schema: s, ovf: ovf, maxInline: maxInline(usable)}
}

// maxInline keeps at least four rows per page before spilling.
func maxInline(usable int) int {
	return max(storage.MaxTuple(usable)/4-storage.SlotSize, overflowTupleSize)
}

// encode builds the tuple for a row, writing an overflow chain when needed.
// The returned ref is non-zero when a chain was written.
func (hp *HeapPage) encode(rowID int64, values []record.Value) ([]byte, storage.OverflowRef, error) {
	data, err := record.EncodeRow(hp.Schema, rowID, values)
	if err != nil {
		return nil, storage.OverflowRef{}, err
	}
	if 1+len(data) <= hp.maxInline {
		return append([]byte{tupleInline}, data...), storage.OverflowRef{}, nil
	}
	if uint64(len(data)) > uint64(^uint32(0)) {
		return nil, storage.OverflowRef{}, record.ErrVarTooLong
	}
	ref, err := hp.ovf.Write(data)
	if err != nil {
		return nil, storage.OverflowRef{}, err
	}
	tup := make([]byte, overflowTupleSize)
	tup[0] = tupleOverflow
	bx.PutI64(tup[1:9], rowID)
	bx.PutU32(tup[9:13], ref.FirstPageID)
	bx.PutU32(tup[13:17], ref.Length)
	return tup, ref, nil
}

func decodeRef(tup []byte) (storage.OverflowRef, error) {
	if len(tup) != overflowTupleSize || tup[0] != tupleOverflow {
		return storage.OverflowRef{}, ErrBadTuple
	}
	return storage.OverflowRef{FirstPageID: bx.U32(tup[9:13]), Length: bx.U32(tup[13:17])}, nil
}

func (hp *HeapPage) InsertRow(rowID int64, values []record.Value) (int, error) {
	tup, ref, err := hp.encode(rowID, values)
	if err != nil {
		return -1, err
	}
	slot, err := hp.Page.InsertTuple(tup)
	if err != nil && ref.FirstPageID != 0 {
		if rerr := hp.ovf.Release(ref); rerr != nil {
			return -1, rerr
		}
	}
	return slot, err
}

func (hp *HeapPage) ReadRow(slot int) (Row, error) {
	tup, err := hp.Page.ReadTuple(slot)
	if err != nil {
		return Row{}, err
	}
	if len(tup) == 0 {
		return Row{}, ErrBadTuple
	}
	data := tup[1:]
	switch tup[0] {
	case tupleInline:
	case tupleOverflow:
		ref, err := decodeRef(tup)
		if err != nil {
			return Row{}, err
		}
		if data, err = hp.ovf.Read(ref); err != nil {
			return Row{}, err
		}
	default:
		return Row{}, fmt.Errorf("%w: kind %d", ErrBadTuple, tup[0])
	}
	rowID, values, err := record.DecodeRow(hp.Schema, data)
	if err != nil {
		return Row{}, err
	}
	return Row{RowID: rowID, Values: values}, nil
}

// releaseOverflow frees the chain behind slot, if any.
func (hp *HeapPage) releaseOverflow(slot int) error {
	tup, err := hp.Page.ReadTuple(slot)
	if err != nil {
		return err
	}
	if len(tup) == 0 || tup[0] != tupleOverflow {
		return nil
	}
	ref, err := decodeRef(tup)
	if err != nil {
		return err
	}
	return hp.ovf.Release(ref)
}

// UpdateRow rewrites slot keeping its rowid. storage.ErrNoSpace means the row
// no longer fits this page; the slot is then left untouched.
func (hp *HeapPage) UpdateRow(slot int, rowID int64, values []record.Value) error {
	tup, ref, err := hp.encode(rowID, values)
	if err != nil {
		return err
	}
	old, err := hp.Page.ReadTuple(slot)
	if err != nil {
		return err
	}
	old = bx.Clone(old)

	if err := hp.Page.UpdateTuple(slot, tup); err != nil {
		if ref.FirstPageID != 0 {
			if rerr := hp.ovf.Release(ref); rerr != nil {
				return rerr
			}
		}
		return err
	}
	if len(old) > 0 && old[0] == tupleOverflow {
		oldRef, err := decodeRef(old)
		if err != nil {
			return err
		}
		return hp.ovf.Release(oldRef)
	}
	return nil
}

func (hp *HeapPage) DeleteRow(slot int) error {
	if err := hp.releaseOverflow(slot); err != nil {
		return err
	}
	return hp.Page.DeleteTuple(slot)
}
