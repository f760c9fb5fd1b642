package record

import (
	"errors"
	"fmt"
)

type ColumnType uint8

const (
	ColInteger ColumnType = iota + 1 // int64
	ColReal                          // float64
	ColText                          // UTF-8
	ColBlob                          // opaque bytes
)

func (t ColumnType) String() string {
	switch t {
	case ColInteger:
		return "INTEGER"
	case ColReal:
		return "REAL"
	case ColText:
		return "TEXT"
	case ColBlob:
		return "BLOB"
	default:
		return fmt.Sprintf("ColumnType(%d)", uint8(t))
	}
}

// ForeignKey points a column at a unique column of another table.
type ForeignKey struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

type Column struct {
	Name       string      `json:"name"`
	Type       ColumnType  `json:"type"`
	Nullable   bool        `json:"nullable"`
	Unique     bool        `json:"unique,omitempty"`
	PrimaryKey bool        `json:"primary_key,omitempty"`
	References *ForeignKey `json:"references,omitempty"`
}

// IsUnique covers both UNIQUE and PRIMARY KEY columns.
func (c Column) IsUnique() bool { return c.Unique || c.PrimaryKey }

type Schema struct {
	Cols []Column `json:"cols"`
}

var ErrBadSchema = errors.New("record: invalid schema")

func (s Schema) NumCols() int { return len(s.Cols) }

// ColIndex returns the position of the named column, or -1.
func (s Schema) ColIndex(name string) int {
	for i := range s.Cols {
		if s.Cols[i].Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) Names() []string {
	out := make([]string, len(s.Cols))
	for i, c := range s.Cols {
		out[i] = c.Name
	}
	return out
}

func (s Schema) Validate() error {
	if len(s.Cols) == 0 {
		return fmt.Errorf("%w: no columns", ErrBadSchema)
	}
	seen := make(map[string]bool, len(s.Cols))
	pk := 0
	for _, c := range s.Cols {
		if c.Name == "" || c.Name == RowIDColumn {
			return fmt.Errorf("%w: bad column name %q", ErrBadSchema, c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate column %q", ErrBadSchema, c.Name)
		}
		seen[c.Name] = true
		if c.Type < ColInteger || c.Type > ColBlob {
			return fmt.Errorf("%w: column %q has unknown type", ErrBadSchema, c.Name)
		}
		if c.PrimaryKey {
			pk++
		}
		if c.References != nil && (c.References.Table == "" || c.References.Column == "") {
			return fmt.Errorf("%w: column %q has an incomplete reference", ErrBadSchema, c.Name)
		}
	}
	if pk > 1 {
		return fmt.Errorf("%w: more than one primary key column", ErrBadSchema)
	}
	return nil
}
