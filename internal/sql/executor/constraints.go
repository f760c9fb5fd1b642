package executor

import (
	"errors"
	"fmt"

	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/heap"
	"github.com/tuannm99/sealdb/internal/record"
	"github.com/tuannm99/sealdb/internal/sql/planner"
)

func constraintErr(kind dberr.ConstraintKind, table, column, detail string) *dberr.ConstraintError {
	return &dberr.ConstraintError{Kind: kind, Table: table, Column: column, Detail: detail}
}

// coerce checks v against column pos, turning a NULL violation into a
// constraint error and any other mismatch into ErrSchema.
func (t *tableRef) coerce(pos int, v record.Value) (record.Value, error) {
	col := t.meta.Schema.Cols[pos]
	out, err := record.Coerce(col, v)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, record.ErrNullNotAllowed):
		kind := dberr.NotNull
		if col.PrimaryKey {
			kind = dberr.PrimaryKey
		}
		return record.Value{}, constraintErr(kind, t.meta.Name, col.Name, "")
	default:
		return record.Value{}, fmt.Errorf("%w: %w", dberr.ErrSchema, err)
	}
}

// bindRow puts the named values into schema order. An explicit integer
// "rowid" is honoured; otherwise the table's next rowid is used.
func (t *tableRef) bindRow(in planner.Values) (rowID int64, explicit bool, vals []record.Value, err error) {
	schema := t.meta.Schema
	for name, v := range in {
		if name == record.RowIDColumn {
			switch v.Kind {
			case record.KindNull:
			case record.KindInteger:
				rowID, explicit = v.I, true
			default:
				return 0, false, nil, fmt.Errorf("%w: rowid must be an integer", dberr.ErrSchema)
			}
			continue
		}
		if schema.ColIndex(name) < 0 {
			return 0, false, nil, fmt.Errorf("%w: table %s has no column %s", dberr.ErrSchema, t.meta.Name, name)
		}
	}
	vals = make([]record.Value, len(schema.Cols))
	for i, col := range schema.Cols {
		if vals[i], err = t.coerce(i, in[col.Name]); err != nil {
			return 0, false, nil, err
		}
	}
	if !explicit {
		rowID = t.meta.NextRowID
	}
	return rowID, explicit, vals, nil
}

// conflicts finds rows that collide with the candidate on rowid or on a
// UNIQUE / PRIMARY KEY column. Only an explicit rowid below the table's
// counter can collide, and only that case scans the heap; unique columns go
// through their index. For an update the row being rewritten is rowID itself
// and is skipped. The first collision (rowid, then columns in schema order) is
// reported as a constraint error alongside every clashing row.
func (t *tableRef) conflicts(rowID int64, explicit bool, vals []record.Value, update bool) ([]match, *dberr.ConstraintError, error) {
	var (
		clash []match
		first *dberr.ConstraintError
	)
	seen := make(map[heap.TID]bool)
	add := func(m match) {
		if !seen[m.tid] {
			seen[m.tid] = true
			clash = append(clash, m)
		}
	}

	if explicit && !update && rowID < t.meta.NextRowID {
		err := t.heap.Scan(func(id heap.TID, row heap.Row) error {
			if row.RowID != rowID {
				return nil
			}
			first = constraintErr(dberr.PrimaryKey, t.meta.Name, record.RowIDColumn, fmt.Sprintf("rowid %d", rowID))
			add(match{tid: id, row: row})
			return heap.ErrStopScan
		})
		if err != nil {
			return nil, nil, err
		}
	}

	for i, col := range t.meta.Schema.Cols {
		if !col.IsUnique() || vals[i].IsNull() {
			continue
		}
		hits, err := t.lookup(i, vals[i], 0)
		if err != nil {
			return nil, nil, err
		}
		for _, h := range hits {
			if update && h.row.RowID == rowID {
				continue
			}
			if first == nil {
				kind := dberr.Unique
				if col.PrimaryKey {
					kind = dberr.PrimaryKey
				}
				first = constraintErr(kind, t.meta.Name, col.Name, vals[i].String())
			}
			add(h)
		}
	}
	return clash, first, nil
}

// checkReferences verifies that every foreign key among cols points at an
// existing parent row. A self-reference may be satisfied by the row itself.
func (s *stmt) checkReferences(t *tableRef, vals []record.Value, cols []int) error {
	if !s.fk {
		return nil
	}
	for _, i := range cols {
		col := t.meta.Schema.Cols[i]
		ref := col.References
		if ref == nil || vals[i].IsNull() {
			continue
		}
		if ref.Table == t.meta.Name {
			if pi := t.meta.Schema.ColIndex(ref.Column); pi >= 0 && vals[pi].Equal(vals[i]) {
				continue
			}
		}
		parent, err := s.open(ref.Table)
		if err != nil {
			return err
		}
		pi := parent.meta.Schema.ColIndex(ref.Column)
		if pi < 0 {
			return fmt.Errorf("%w: %s.%s references unknown column %s.%s", dberr.ErrSchema, t.meta.Name, col.Name, ref.Table, ref.Column)
		}
		found, err := parent.exists(pi, vals[i])
		if err != nil {
			return err
		}
		if !found {
			return constraintErr(dberr.ForeignKey, t.meta.Name, col.Name,
				fmt.Sprintf("no %s.%s = %s", ref.Table, ref.Column, vals[i]))
		}
	}
	return nil
}

// parentKey is a unique value that left its table during the statement.
type parentKey struct {
	table  string
	column string
	pos    int
	value  record.Value
}

func (s *stmt) noteRemoved(t *tableRef, old []record.Value, changed func(i int) bool) {
	if !s.fk {
		return
	}
	for i, col := range t.meta.Schema.Cols {
		if col.IsUnique() && !old[i].IsNull() && (changed == nil || changed(i)) {
			s.removed = append(s.removed, parentKey{table: t.meta.Name, column: col.Name, pos: i, value: old[i]})
		}
	}
}

// checkRemovedParents runs at the end of a statement: a parent key that is
// gone for good must not be referenced by any remaining child row.
func (s *stmt) checkRemovedParents() error {
	for _, pk := range s.removed {
		refs, err := s.cat.Referencing(pk.table, pk.column)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			continue
		}
		parent, err := s.open(pk.table)
		if err != nil {
			return err
		}
		still, err := parent.exists(pk.pos, pk.value)
		if err != nil {
			return err
		}
		if still {
			continue
		}
		for _, ref := range refs {
			child, err := s.open(ref.Table.Name)
			if err != nil {
				return err
			}
			used, err := child.exists(ref.Column, pk.value)
			if err != nil {
				return err
			}
			if used {
				return constraintErr(dberr.ForeignKey, ref.Table.Name, ref.Table.Schema.Cols[ref.Column].Name,
					fmt.Sprintf("still references %s.%s = %s", pk.table, pk.column, pk.value))
			}
		}
	}
	s.removed = nil
	return nil
}
