package catalog

import (
	"github.com/tuannm99/sealdb/internal/record"
)

// TableMeta is the persisted definition of one table.
type TableMeta struct {
	Name      string        `json:"name"`
	Root      uint32        `json:"root"`
	NextRowID int64         `json:"next_rowid"`
	Schema    record.Schema `json:"schema"`

	// Last is the tail page of the heap chain, 0 until the first insert.
	Last uint32 `json:"last,omitempty"`
	// Indexes maps each unique column to the root page of its index.
	Indexes map[string]uint32 `json:"indexes,omitempty"`
}
