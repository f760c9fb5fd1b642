package executor

import (
	"fmt"

	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/heap"
	"github.com/tuannm99/sealdb/internal/record"
	"github.com/tuannm99/sealdb/internal/sql/planner"
)

const rowIDPos = -1

func colPos(schema record.Schema, name string) (int, error) {
	if name == record.RowIDColumn {
		return rowIDPos, nil
	}
	if pos := schema.ColIndex(name); pos >= 0 {
		return pos, nil
	}
	return 0, fmt.Errorf("%w: unknown column %s", dberr.ErrSchema, name)
}

func valueAt(row heap.Row, pos int) record.Value {
	if pos == rowIDPos {
		return record.Int(row.RowID)
	}
	return row.Values[pos]
}

type boundCond struct {
	pos  int
	cond planner.Cond
}

func bindWhere(schema record.Schema, w planner.Where) ([]boundCond, error) {
	out := make([]boundCond, len(w))
	for i, c := range w {
		pos, err := colPos(schema, c.Column)
		if err != nil {
			return nil, err
		}
		if c.Op > planner.OpNotNull {
			return nil, fmt.Errorf("%w: unknown operator %d on %s", dberr.ErrSchema, c.Op, c.Column)
		}
		out[i] = boundCond{pos: pos, cond: c}
	}
	return out, nil
}

// matchWhere follows SQL semantics: a comparison involving NULL is false.
func matchWhere(conds []boundCond, row heap.Row) bool {
	for _, bc := range conds {
		got := valueAt(row, bc.pos)
		switch bc.cond.Op {
		case planner.OpIsNull:
			if !got.IsNull() {
				return false
			}
			continue
		case planner.OpNotNull:
			if got.IsNull() {
				return false
			}
			continue
		}
		c, ok := got.Compare(bc.cond.Value)
		if !ok {
			return false
		}
		var hit bool
		switch bc.cond.Op {
		case planner.OpEq:
			hit = c == 0
		case planner.OpNe:
			hit = c != 0
		case planner.OpLt:
			hit = c < 0
		case planner.OpLe:
			hit = c <= 0
		case planner.OpGt:
			hit = c > 0
		case planner.OpGe:
			hit = c >= 0
		}
		if !hit {
			return false
		}
	}
	return true
}
