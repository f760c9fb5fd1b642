package btree

import (
	"fmt"
	"sort"

	"github.com/tuannm99/sealdb/internal/storage"
)

// InternalNode is a thin wrapper around a page used as an internal node.
// Each entry is (separator, childPageID), kept in ascending separator order.
//
// The separator of child i is the smallest entry that may live under it,
// except for child 0 whose separator is ignored and acts as minus infinity.
// To route an entry E, take the last child whose separator is <= E.
type InternalNode struct {
	Page *storage.Page
}

type internalEntry struct {
	sep   Entry
	child uint32
}

func (n *InternalNode) NumKeys() int { return n.Page.NumSlots() }

func (n *InternalNode) EntryAt(i int) (Entry, uint32, error) {
	data, err := n.Page.ReadTuple(i)
	if err != nil {
		return Entry{}, 0, err
	}
	return DecodeInternalEntry(data)
}

func (n *InternalNode) readEntries() ([]internalEntry, error) {
	num := n.NumKeys()
	if num == 0 {
		return nil, fmt.Errorf("%w: internal node %d has no children", ErrCorruptNode, n.Page.PageID())
	}
	out := make([]internalEntry, 0, num)
	for i := range num {
		sep, child, err := n.EntryAt(i)
		if err != nil {
			return nil, fmt.Errorf("%w: internal %d slot %d: %w", ErrCorruptNode, n.Page.PageID(), i, err)
		}
		out = append(out, internalEntry{sep: sep, child: child})
	}
	return out, nil
}

func (n *InternalNode) rewrite(entries []internalEntry) error {
	n.Page.Reset(n.Page.PageID(), storage.PageTypeIndexInternal)
	for _, e := range entries {
		if _, err := n.Page.AppendTuple(EncodeInternalEntry(e.sep, e.child)); err != nil {
			return err
		}
	}
	return nil
}

// childIndex picks the child an entry routes to.
func childIndex(entries []internalEntry, e Entry) int {
	i := sort.Search(len(entries), func(i int) bool {
		return compareEntries(entries[i].sep, e) > 0
	})
	return max(i-1, 0)
}
