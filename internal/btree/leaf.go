package btree

import (
	"fmt"
	"slices"

	"github.com/tuannm99/sealdb/internal/storage"
)

// LeafNode is a thin wrapper around a page holding sorted leaf entries.
// Leaves are chained left to right through the page's next pointer.
type LeafNode struct {
	Page *storage.Page
}

func (n *LeafNode) NumKeys() int { return n.Page.NumSlots() }

func (n *LeafNode) EntryAt(i int) (Entry, error) {
	data, err := n.Page.ReadTuple(i)
	if err != nil {
		return Entry{}, err
	}
	return DecodeLeafEntry(data)
}

// readEntries returns the entries in slot order, which rewrite keeps sorted.
func (n *LeafNode) readEntries() ([]Entry, error) {
	out := make([]Entry, 0, n.NumKeys())
	for i := range n.NumKeys() {
		e, err := n.EntryAt(i)
		if err != nil {
			return nil, fmt.Errorf("%w: leaf %d slot %d: %w", ErrCorruptNode, n.Page.PageID(), i, err)
		}
		out = append(out, e)
	}
	if !slices.IsSortedFunc(out, compareEntries) {
		return nil, fmt.Errorf("%w: leaf %d is out of order", ErrCorruptNode, n.Page.PageID())
	}
	return out, nil
}

// rewrite formats the page afresh with entries, keeping the next pointer.
func (n *LeafNode) rewrite(entries []Entry) error {
	next := n.Page.Next()
	n.Page.Reset(n.Page.PageID(), storage.PageTypeIndexLeaf)
	n.Page.SetNext(next)
	for _, e := range entries {
		if _, err := n.Page.AppendTuple(EncodeLeafEntry(e)); err != nil {
			return err
		}
	}
	return nil
}

// searchEntries returns the position of the first entry >= e and whether
// that entry is e.
func searchEntries(entries []Entry, e Entry) (int, bool) {
	return slices.BinarySearchFunc(entries, e, compareEntries)
}
