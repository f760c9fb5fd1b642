package executor

import (
	"github.com/tuannm99/sealdb/internal/btree"
	"github.com/tuannm99/sealdb/internal/heap"
	"github.com/tuannm99/sealdb/internal/record"
)

// columnIndex is the index of one unique column.
type columnIndex struct {
	pos  int
	tree *btree.Tree
}

func (t *tableRef) index(pos int) *btree.Tree {
	for _, ix := range t.indexes {
		if ix.pos == pos {
			return ix.tree
		}
	}
	return nil
}

// insertRow writes a new row and registers its unique values.
func (t *tableRef) insertRow(rowID int64, vals []record.Value) (heap.TID, error) {
	tid, err := t.heap.Insert(rowID, vals)
	if err != nil {
		return heap.TID{}, err
	}
	for _, ix := range t.indexes {
		if vals[ix.pos].IsNull() {
			continue
		}
		if err := ix.tree.Insert(btree.KeyOf(vals[ix.pos]), tid); err != nil {
			return heap.TID{}, err
		}
	}
	return tid, nil
}

// updateRow rewrites m with vals. Index entries move when the value changes
// or when the row lands on a different page.
func (t *tableRef) updateRow(m match, vals []record.Value) error {
	tid, err := t.heap.Update(m.tid, m.row.RowID, vals)
	if err != nil {
		return err
	}
	for _, ix := range t.indexes {
		old, cur := m.row.Values[ix.pos], vals[ix.pos]
		if tid == m.tid && sameKey(old, cur) {
			continue
		}
		if !old.IsNull() {
			if err := ix.tree.Delete(btree.KeyOf(old), m.tid); err != nil {
				return err
			}
		}
		if !cur.IsNull() {
			if err := ix.tree.Insert(btree.KeyOf(cur), tid); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteRow drops m's index entries, then the row itself.
func (t *tableRef) deleteRow(m match) error {
	for _, ix := range t.indexes {
		v := m.row.Values[ix.pos]
		if v.IsNull() {
			continue
		}
		if err := ix.tree.Delete(btree.KeyOf(v), m.tid); err != nil {
			return err
		}
	}
	return t.heap.Delete(m.tid)
}

func sameKey(a, b record.Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() == b.IsNull()
	}
	return btree.KeyOf(a) == btree.KeyOf(b)
}

// lookup returns the rows whose column pos equals v. Indexed columns go
// through the tree and confirm each candidate against the stored row; other
// columns are scanned.
func (t *tableRef) lookup(pos int, v record.Value, limit int) ([]match, error) {
	var out []match
	if idx := t.index(pos); idx != nil {
		tids, err := idx.SearchEqual(btree.KeyOf(v))
		if err != nil {
			return nil, err
		}
		for _, tid := range tids {
			row, err := t.heap.Get(tid)
			if err != nil {
				return nil, err
			}
			if row.Values[pos].Equal(v) {
				out = append(out, match{tid: tid, row: row})
				if limit > 0 && len(out) == limit {
					break
				}
			}
		}
		return out, nil
	}
	err := t.heap.Scan(func(id heap.TID, row heap.Row) error {
		if row.Values[pos].Equal(v) {
			out = append(out, match{tid: id, row: row})
			if limit > 0 && len(out) == limit {
				return heap.ErrStopScan
			}
		}
		return nil
	})
	return out, err
}

func (t *tableRef) exists(pos int, v record.Value) (bool, error) {
	hits, err := t.lookup(pos, v, 1)
	return len(hits) > 0, err
}
