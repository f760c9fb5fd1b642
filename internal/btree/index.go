package btree

import "github.com/tuannm99/sealdb/internal/heap"

// Index is what the executor needs from a column index.
type Index interface {
	Insert(key Key, tid heap.TID) error
	Delete(key Key, tid heap.TID) error
	SearchEqual(key Key) ([]heap.TID, error)
}

var _ Index = (*Tree)(nil)
