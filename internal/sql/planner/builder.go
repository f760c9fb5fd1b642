package planner

import (
	"fmt"
	"sort"

	"github.com/tuannm99/sealdb/internal/dberr"
	"github.com/tuannm99/sealdb/internal/record"
)

// ToValues converts a loosely typed column map, as handed over by an ORM
// binding, into typed values. Type checks against the schema happen later,
// at execution.
func ToValues(in map[string]any) (Values, error) {
	out := make(Values, len(in))
	for name, x := range in {
		if name == "" {
			return nil, fmt.Errorf("%w: empty column name", dberr.ErrSchema)
		}
		v, err := record.FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("%w: column %s: %w", dberr.ErrSchema, name, err)
		}
		out[name] = v
	}
	return out, nil
}

func BuildInsert(table string, row map[string]any, onConflict Conflict) (*InsertPlan, error) {
	vals, err := ToValues(row)
	if err != nil {
		return nil, err
	}
	return &InsertPlan{TableName: table, Rows: []Values{vals}, OnConflict: onConflict}, nil
}

// BuildUpdate orders the assignments by column name so plans are deterministic.
func BuildUpdate(table string, set map[string]any, where Where, onConflict Conflict) (*UpdatePlan, error) {
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: update without assignments", dberr.ErrSchema)
	}
	vals, err := ToValues(set)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(vals))
	for name := range vals {
		names = append(names, name)
	}
	sort.Strings(names)
	p := &UpdatePlan{TableName: table, Where: where, OnConflict: onConflict}
	for _, name := range names {
		p.Assigns = append(p.Assigns, Assignment{Column: name, Value: vals[name]})
	}
	return p, nil
}

// Eq is shorthand for the most common condition.
func Eq(column string, x any) (Cond, error) {
	v, err := record.FromAny(x)
	if err != nil {
		return Cond{}, fmt.Errorf("%w: column %s: %w", dberr.ErrSchema, column, err)
	}
	return Cond{Column: column, Op: OpEq, Value: v}, nil
}
