// Package catalog keeps table definitions in a heap table rooted at the
// reserved catalog page. Each row is (name TEXT, def BLOB) with def holding
// the JSON encoded TableMeta.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tuannm99/sealdb/internal/btree"
	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/heap"
	"github.com/tuannm99/sealdb/internal/record"
	"github.com/tuannm99/sealdb/internal/storage"
)

var schema = record.Schema{Cols: []record.Column{
	{Name: "name", Type: record.ColText},
	{Name: "def", Type: record.ColBlob},
}}

type Catalog struct {
	acc    storage.PageAccessor
	usable int
	tbl    *heap.Table
	log    *slog.Logger
}

// Open reads the catalog root from the meta page. A nil logger discards.
func Open(acc storage.PageAccessor, usable int, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	meta, err := storage.LoadMeta(acc)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		acc:    acc,
		usable: usable,
		tbl:    heap.NewTable("catalog", schema, meta.CatalogRoot, acc, usable, logger),
		log:    logger,
	}, nil
}

type entry struct {
	tid  heap.TID
	meta TableMeta
}

func (c *Catalog) entries() ([]entry, error) {
	var out []entry
	err := c.tbl.Scan(func(id heap.TID, row heap.Row) error {
		var m TableMeta
		if err := json.Unmarshal(row.Values[1].B, &m); err != nil {
			return fmt.Errorf("catalog: table %s: %w", row.Values[0].S, err)
		}
		out = append(out, entry{tid: id, meta: m})
		return nil
	})
	return out, err
}

func (c *Catalog) find(name string) (entry, error) {
	all, err := c.entries()
	if err != nil {
		return entry{}, err
	}
	for _, e := range all {
		if e.meta.Name == name {
			return e, nil
		}
	}
	return entry{}, fmt.Errorf("%w: %s", dberr.ErrNoSuchTable, name)
}

func (c *Catalog) List() ([]TableMeta, error) {
	all, err := c.entries()
	if err != nil {
		return nil, err
	}
	out := make([]TableMeta, len(all))
	for i, e := range all {
		out[i] = e.meta
	}
	return out, nil
}

func (c *Catalog) Get(name string) (TableMeta, error) {
	e, err := c.find(name)
	return e.meta, err
}

// Create validates the schema, including that every foreign key points at a
// unique column of an existing table (or of the table itself), and allocates
// the table's root page plus one index root per unique column.
func (c *Catalog) Create(name string, s record.Schema) (TableMeta, error) {
	if name == "" {
		return TableMeta{}, fmt.Errorf("%w: empty table name", dberr.ErrSchema)
	}
	if err := s.Validate(); err != nil {
		return TableMeta{}, fmt.Errorf("%w: %w", dberr.ErrSchema, err)
	}
	all, err := c.entries()
	if err != nil {
		return TableMeta{}, err
	}
	byName := make(map[string]TableMeta, len(all))
	for _, e := range all {
		byName[e.meta.Name] = e.meta
	}
	if _, ok := byName[name]; ok {
		return TableMeta{}, fmt.Errorf("%w: %s", dberr.ErrTableExists, name)
	}
	for _, col := range s.Cols {
		if col.References == nil {
			continue
		}
		target := s
		if col.References.Table != name {
			parent, ok := byName[col.References.Table]
			if !ok {
				return TableMeta{}, fmt.Errorf("%w: %s.%s references missing table %s", dberr.ErrSchema, name, col.Name, col.References.Table)
			}
			target = parent.Schema
		}
		idx := target.ColIndex(col.References.Column)
		if idx < 0 || !target.Cols[idx].IsUnique() {
			return TableMeta{}, fmt.Errorf("%w: %s.%s must reference a unique column", dberr.ErrSchema, name, col.Name)
		}
	}

	root, err := heap.Create(c.acc, c.usable)
	if err != nil {
		return TableMeta{}, err
	}
	m := TableMeta{Name: name, Root: root, NextRowID: 1, Schema: s}
	for _, col := range s.Cols {
		if !col.IsUnique() {
			continue
		}
		idx, err := btree.Create(c.acc, c.usable)
		if err != nil {
			return TableMeta{}, err
		}
		if m.Indexes == nil {
			m.Indexes = make(map[string]uint32)
		}
		m.Indexes[col.Name] = idx
		c.log.Debug("index created", "table", name, "column", col.Name, "root", idx)
	}
	def, err := json.Marshal(m)
	if err != nil {
		return TableMeta{}, err
	}
	if _, err := c.tbl.Insert(int64(len(all)+1), []record.Value{record.Text(name), record.Blob(def)}); err != nil {
		return TableMeta{}, err
	}
	return m, nil
}

// Save persists an updated definition, typically a bumped NextRowID or a new
// heap tail.
func (c *Catalog) Save(m TableMeta) error {
	e, err := c.find(m.Name)
	if err != nil {
		return err
	}
	def, err := json.Marshal(m)
	if err != nil {
		return err
	}
	row, err := c.tbl.Get(e.tid)
	if err != nil {
		return err
	}
	_, err = c.tbl.Update(e.tid, row.RowID, []record.Value{record.Text(m.Name), record.Blob(def)})
	return err
}

// Table opens the heap of a table through the catalog's accessor.
func (c *Catalog) Table(m TableMeta) *heap.Table {
	t := heap.NewTable(m.Name, m.Schema, m.Root, c.acc, c.usable, c.log)
	t.Last = m.Last
	return t
}

// Index opens the index of a unique column, or returns nil when the column
// has none.
func (c *Catalog) Index(m TableMeta, column string) *btree.Tree {
	root, ok := m.Indexes[column]
	if !ok {
		return nil
	}
	return btree.Open(c.acc, root, c.usable, c.log)
}

// PageOwner names the table, and the index if any, that a page belongs to.
type PageOwner struct {
	Table  string
	Schema record.Schema
	Index  string
}

// Owner finds which table heap or index holds pageID. Every chain is walked,
// so this is meant for diagnostics.
func (c *Catalog) Owner(pageID uint32) (PageOwner, bool, error) {
	if pages, err := c.tbl.Pages(); err != nil {
		return PageOwner{}, false, err
	} else if slices.Contains(pages, pageID) {
		return PageOwner{Table: "catalog", Schema: schema}, true, nil
	}
	all, err := c.List()
	if err != nil {
		return PageOwner{}, false, err
	}
	for _, m := range all {
		pages, err := c.Table(m).Pages()
		if err != nil {
			return PageOwner{}, false, err
		}
		if slices.Contains(pages, pageID) {
			return PageOwner{Table: m.Name, Schema: m.Schema}, true, nil
		}
		for col := range m.Indexes {
			pages, err := c.Index(m, col).Pages()
			if err != nil {
				return PageOwner{}, false, err
			}
			if slices.Contains(pages, pageID) {
				return PageOwner{Table: m.Name, Schema: m.Schema, Index: col}, true, nil
			}
		}
	}
	return PageOwner{}, false, nil
}

// Referencing lists (table, column index) pairs whose foreign keys point at
// parent.column.
func (c *Catalog) Referencing(parent, column string) ([]Ref, error) {
	all, err := c.List()
	if err != nil {
		return nil, err
	}
	var refs []Ref
	for _, m := range all {
		for i, col := range m.Schema.Cols {
			if col.References != nil && col.References.Table == parent && col.References.Column == column {
				refs = append(refs, Ref{Table: m, Column: i})
			}
		}
	}
	return refs, nil
}

type Ref struct {
	Table  TableMeta
	Column int
}
