// Package executor runs compiled plans against the pages of one transaction.
// Every write statement runs under a savepoint, so a failed statement leaves
// the transaction exactly as it was.
package executor

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tuannm99/sealdb/internal/catalog"
	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/heap"
	"github.com/tuannm99/sealdb/internal/record"
	"github.com/tuannm99/sealdb/internal/sql/planner"
	"github.com/tuannm99/sealdb/internal/storage"
	"github.com/tuannm99/sealdb/internal/txn"
)

// Txn is the slice of a transaction the executor needs.
type Txn interface {
	storage.PageAccessor
	UsableSize() int
	Exclusive() bool
	Savepoint() txn.Savepoint
	RollbackTo(txn.Savepoint)
}

var _ Txn = (*txn.Tx)(nil)

// Executor executes a plan inside a caller-supplied transaction.
type Executor struct {
	log *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{log: logger}
}

// Exec runs p. Write plans need an exclusive transaction and are atomic: on
// any error the transaction's dirty pages are restored to the state before
// the statement.
func (e *Executor) Exec(tx Txn, p planner.Plan) (*Result, error) {
	if !planner.IsWrite(p) {
		return e.execPlan(tx, p)
	}
	if !tx.Exclusive() {
		return nil, dberr.ErrReadOnlyTx
	}
	sp := tx.Savepoint()
	res, err := e.execPlan(tx, p)
	if err != nil {
		tx.RollbackTo(sp)
		e.log.Debug("statement rolled back", "plan", fmt.Sprintf("%T", p), "err", err)
		return nil, err
	}
	return res, nil
}

func (e *Executor) execPlan(tx Txn, p planner.Plan) (*Result, error) {
	s, err := newStmt(tx, e.log)
	if err != nil {
		return nil, err
	}
	switch plan := p.(type) {
	case *planner.CreateTablePlan:
		return s.execCreateTable(plan)
	case *planner.InsertPlan:
		return s.execInsert(plan)
	case *planner.UpdatePlan:
		return s.execUpdate(plan)
	case *planner.DeletePlan:
		return s.execDelete(plan)
	case *planner.SelectPlan:
		return s.execSelect(plan)
	case *planner.CountPlan:
		return s.execCount(plan)
	default:
		return nil, fmt.Errorf("executor: unsupported plan type %T", p)
	}
}

// stmt is the state of one statement.
type stmt struct {
	tx      Txn
	log     *slog.Logger
	cat     *catalog.Catalog
	fk      bool
	removed []parentKey
}

func newStmt(tx Txn, logger *slog.Logger) (*stmt, error) {
	meta, err := storage.LoadMeta(tx)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(tx, tx.UsableSize(), logger)
	if err != nil {
		return nil, err
	}
	return &stmt{tx: tx, log: logger, cat: cat, fk: meta.ForeignKeys()}, nil
}

type tableRef struct {
	meta    catalog.TableMeta
	heap    *heap.Table
	indexes []columnIndex
}

func (s *stmt) open(name string) (*tableRef, error) {
	m, err := s.cat.Get(name)
	if err != nil {
		return nil, err
	}
	t := &tableRef{meta: m, heap: s.cat.Table(m)}
	for i, col := range m.Schema.Cols {
		if tree := s.cat.Index(m, col.Name); tree != nil {
			t.indexes = append(t.indexes, columnIndex{pos: i, tree: tree})
		}
	}
	return t, nil
}

// persist saves the definition when the rowid counter or the heap tail moved
// since nextBefore was taken.
func (s *stmt) persist(t *tableRef, nextBefore int64) error {
	if t.meta.NextRowID == nextBefore && t.heap.Last == t.meta.Last {
		return nil
	}
	t.meta.Last = t.heap.Last
	return s.cat.Save(t.meta)
}

type match struct {
	tid heap.TID
	row heap.Row
}

func (t *tableRef) scan(where planner.Where) ([]match, error) {
	conds, err := bindWhere(t.meta.Schema, where)
	if err != nil {
		return nil, err
	}
	var out []match
	err = t.heap.Scan(func(id heap.TID, row heap.Row) error {
		if matchWhere(conds, row) {
			out = append(out, match{tid: id, row: row})
		}
		return nil
	})
	return out, err
}

func (s *stmt) execCreateTable(p *planner.CreateTablePlan) (*Result, error) {
	if _, err := s.cat.Create(p.TableName, p.Schema); err != nil {
		return nil, err
	}
	return &Result{LastInsertID: -1}, nil
}

func (s *stmt) execInsert(p *planner.InsertPlan) (*Result, error) {
	t, err := s.open(p.TableName)
	if err != nil {
		return nil, err
	}
	allCols := make([]int, len(t.meta.Schema.Cols))
	for i := range allCols {
		allCols[i] = i
	}

	res := &Result{LastInsertID: -1}
	nextBefore := t.meta.NextRowID
	for _, in := range p.Rows {
		rowID, explicit, vals, err := t.bindRow(in)
		if err != nil {
			var ce *dberr.ConstraintError
			if errors.As(err, &ce) && p.OnConflict == planner.ConflictIgnore {
				s.skip(ce)
				continue
			}
			return nil, err
		}

		clash, cerr, err := t.conflicts(rowID, explicit, vals, false)
		if err != nil {
			return nil, err
		}
		if cerr != nil {
			switch p.OnConflict {
			case planner.ConflictIgnore:
				s.skip(cerr)
				continue
			case planner.ConflictReplace:
				if err := s.deleteRows(t, clash); err != nil {
					return nil, err
				}
			default:
				return nil, cerr
			}
		}

		if err := s.checkReferences(t, vals, allCols); err != nil {
			return nil, err
		}
		if _, err := t.insertRow(rowID, vals); err != nil {
			return nil, err
		}
		if rowID >= t.meta.NextRowID {
			t.meta.NextRowID = rowID + 1
		}
		res.AffectedRows++
		res.LastInsertID = rowID
	}

	if err := s.persist(t, nextBefore); err != nil {
		return nil, err
	}
	if err := s.checkRemovedParents(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *stmt) skip(ce *dberr.ConstraintError) {
	s.log.Debug("row skipped on conflict", "table", ce.Table, "column", ce.Column, "kind", ce.Kind)
}

func (s *stmt) deleteRows(t *tableRef, rows []match) error {
	for _, m := range rows {
		s.noteRemoved(t, m.row.Values, nil)
		if err := t.deleteRow(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *stmt) execUpdate(p *planner.UpdatePlan) (*Result, error) {
	t, err := s.open(p.TableName)
	if err != nil {
		return nil, err
	}
	if len(p.Assigns) == 0 {
		return nil, fmt.Errorf("%w: update without assignments", dberr.ErrSchema)
	}
	positions := make([]int, len(p.Assigns))
	for i, a := range p.Assigns {
		pos, err := colPos(t.meta.Schema, a.Column)
		if err != nil {
			return nil, err
		}
		if pos == rowIDPos {
			return nil, fmt.Errorf("%w: rowid cannot be assigned", dberr.ErrSchema)
		}
		positions[i] = pos
	}

	matches, err := t.scan(p.Where)
	if err != nil {
		return nil, err
	}

	res := &Result{LastInsertID: -1}
	gone := make(map[int64]bool)
	for _, m := range matches {
		if gone[m.row.RowID] {
			continue
		}
		vals := slices.Clone(m.row.Values)
		skip := false
		for i, a := range p.Assigns {
			v, err := t.coerce(positions[i], a.Value)
			if err != nil {
				var ce *dberr.ConstraintError
				if errors.As(err, &ce) && p.OnConflict == planner.ConflictIgnore {
					s.skip(ce)
					skip = true
					break
				}
				return nil, err
			}
			vals[positions[i]] = v
		}
		if skip {
			continue
		}

		clash, cerr, err := t.conflicts(m.row.RowID, true, vals, true)
		if err != nil {
			return nil, err
		}
		if cerr != nil {
			switch p.OnConflict {
			case planner.ConflictIgnore:
				s.skip(cerr)
				continue
			case planner.ConflictReplace:
				if err := s.deleteRows(t, clash); err != nil {
					return nil, err
				}
				for _, c := range clash {
					gone[c.row.RowID] = true
				}
			default:
				return nil, cerr
			}
		}

		if err := s.checkReferences(t, vals, positions); err != nil {
			return nil, err
		}
		old := m.row.Values
		s.noteRemoved(t, old, func(i int) bool { return !old[i].Equal(vals[i]) })

		if err := t.updateRow(m, vals); err != nil {
			return nil, err
		}
		res.AffectedRows++
	}

	if err := s.persist(t, t.meta.NextRowID); err != nil {
		return nil, err
	}
	if err := s.checkRemovedParents(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *stmt) execDelete(p *planner.DeletePlan) (*Result, error) {
	t, err := s.open(p.TableName)
	if err != nil {
		return nil, err
	}
	matches, err := t.scan(p.Where)
	if err != nil {
		return nil, err
	}
	if err := s.deleteRows(t, matches); err != nil {
		return nil, err
	}
	if err := s.checkRemovedParents(); err != nil {
		return nil, err
	}
	return &Result{AffectedRows: int64(len(matches)), LastInsertID: -1}, nil
}

func (s *stmt) execSelect(p *planner.SelectPlan) (*Result, error) {
	t, err := s.open(p.TableName)
	if err != nil {
		return nil, err
	}

	if len(p.GroupBy) > 0 {
		matches, err := t.scan(p.Where)
		if err != nil {
			return nil, err
		}
		return groupRows(t.meta.Schema, p, matches)
	}

	names := p.Columns
	if len(names) == 0 {
		names = t.meta.Schema.Names()
	}
	proj := make([]int, len(names))
	for i, name := range names {
		if proj[i], err = colPos(t.meta.Schema, name); err != nil {
			return nil, err
		}
	}
	order := make([]int, len(p.OrderBy))
	for i, ob := range p.OrderBy {
		if order[i], err = colPos(t.meta.Schema, ob.Column); err != nil {
			return nil, err
		}
	}

	matches, err := t.scan(p.Where)
	if err != nil {
		return nil, err
	}
	if len(order) > 0 {
		slices.SortStableFunc(matches, func(a, b match) int {
			for i, pos := range order {
				c := record.Order(valueAt(a.row, pos), valueAt(b.row, pos))
				if p.OrderBy[i].Desc {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}

	if p.Offset > 0 {
		matches = matches[min(p.Offset, len(matches)):]
	}
	if p.Limit > 0 && len(matches) > p.Limit {
		matches = matches[:p.Limit]
	}

	res := &Result{Columns: slices.Clone(names), LastInsertID: -1}
	for _, m := range matches {
		row := make([]record.Value, len(proj))
		for i, pos := range proj {
			row[i] = valueAt(m.row, pos)
		}
		res.Rows = append(res.Rows, row)
		res.RowIDs = append(res.RowIDs, m.row.RowID)
	}
	return res, nil
}

func (s *stmt) execCount(p *planner.CountPlan) (*Result, error) {
	t, err := s.open(p.TableName)
	if err != nil {
		return nil, err
	}
	matches, err := t.scan(p.Where)
	if err != nil {
		return nil, err
	}
	return &Result{Count: int64(len(matches)), LastInsertID: -1}, nil
}
