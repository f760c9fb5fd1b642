package executor

import (
	"fmt"
	"slices"

	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/record"
	"github.com/tuannm99/sealdb/internal/sql/planner"
)

const countPos = -2

func compareKeys(a, b []record.Value) int {
	for i := range a {
		if c := record.Order(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// groupRows folds matches into one row per distinct GroupBy key with its
// row count.
func groupRows(schema record.Schema, p *planner.SelectPlan, matches []match) (*Result, error) {
	keys := make([]int, len(p.GroupBy))
	for i, name := range p.GroupBy {
		pos, err := colPos(schema, name)
		if err != nil {
			return nil, err
		}
		keys[i] = pos
	}

	// output column -> index into the group key, or countPos
	outPos := func(name string) (int, error) {
		if name == planner.CountColumn {
			return countPos, nil
		}
		if i := slices.Index(p.GroupBy, name); i >= 0 {
			return i, nil
		}
		return 0, fmt.Errorf("%w: column %s is not grouped", dberr.ErrSchema, name)
	}
	names := p.Columns
	if len(names) == 0 {
		names = append(slices.Clone(p.GroupBy), planner.CountColumn)
	}
	proj := make([]int, len(names))
	for i, name := range names {
		pos, err := outPos(name)
		if err != nil {
			return nil, err
		}
		proj[i] = pos
	}
	order := make([]int, len(p.OrderBy))
	for i, ob := range p.OrderBy {
		pos, err := outPos(ob.Column)
		if err != nil {
			return nil, err
		}
		order[i] = pos
	}

	type group struct {
		key []record.Value
		n   int64
	}
	rowKeys := make([][]record.Value, len(matches))
	for i, m := range matches {
		k := make([]record.Value, len(keys))
		for j, pos := range keys {
			k[j] = valueAt(m.row, pos)
		}
		rowKeys[i] = k
	}
	slices.SortStableFunc(rowKeys, compareKeys)
	var groups []group
	for _, k := range rowKeys {
		if n := len(groups); n > 0 && compareKeys(groups[n-1].key, k) == 0 {
			groups[n-1].n++
			continue
		}
		groups = append(groups, group{key: k, n: 1})
	}

	at := func(g group, pos int) record.Value {
		if pos == countPos {
			return record.Int(g.n)
		}
		return g.key[pos]
	}
	if len(order) > 0 {
		slices.SortStableFunc(groups, func(a, b group) int {
			for i, pos := range order {
				c := record.Order(at(a, pos), at(b, pos))
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
		groups = groups[min(p.Offset, len(groups)):]
	}
	if p.Limit > 0 && len(groups) > p.Limit {
		groups = groups[:p.Limit]
	}

	res := &Result{Columns: slices.Clone(names), LastInsertID: -1}
	for _, g := range groups {
		row := make([]record.Value, len(proj))
		for i, pos := range proj {
			row[i] = at(g, pos)
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}
