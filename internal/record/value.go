package record

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"strconv"
)

// RowIDColumn is the implicit auto-increment identity of every row.
const RowIDColumn = "rowid"

type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// Value is one column value. Only the field matching Kind is meaningful.
type Value struct {
	Kind Kind
	I    int64
	F    float64
	S    string
	B    []byte
}

func Null() Value            { return Value{} }
func Int(v int64) Value      { return Value{Kind: KindInteger, I: v} }
func Real(v float64) Value   { return Value{Kind: KindReal, F: v} }
func Text(v string) Value    { return Value{Kind: KindText, S: v} }
func Blob(v []byte) Value    { return Value{Kind: KindBlob, B: v} }
func (v Value) IsNull() bool { return v.Kind == KindNull }

// FromAny converts the loosely typed values an ORM binding hands over.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case bool:
		if t {
			return Int(1), nil
		}
		return Int(0), nil
	case float32:
		return Real(float64(t)), nil
	case float64:
		return Real(t), nil
	case string:
		return Text(t), nil
	case []byte:
		return Blob(t), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported value type %T", ErrSchemaMismatch, x)
	}
}

// Any is the inverse of FromAny, used by result sets.
func (v Value) Any() any {
	switch v.Kind {
	case KindInteger:
		return v.I
	case KindReal:
		return v.F
	case KindText:
		return v.S
	case KindBlob:
		return v.B
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.I, 10)
	case KindReal:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindText:
		return strconv.Quote(v.S)
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.B)
	default:
		return "NULL"
	}
}

// Compare orders two non-null values. Integers and reals compare numerically;
// ok is false for NULL or for kinds that do not compare (text vs integer).
func (v Value) Compare(o Value) (c int, ok bool) {
	switch {
	case v.Kind == KindNull || o.Kind == KindNull:
		return 0, false
	case v.Kind == KindInteger && o.Kind == KindInteger:
		return cmp.Compare(v.I, o.I), true
	case isNumeric(v) && isNumeric(o):
		return cmp.Compare(v.num(), o.num()), true
	case v.Kind == KindText && o.Kind == KindText:
		return cmp.Compare(v.S, o.S), true
	case v.Kind == KindBlob && o.Kind == KindBlob:
		return bytes.Compare(v.B, o.B), true
	default:
		return 0, false
	}
}

// Equal is SQL-ish equality: NULL equals nothing, not even NULL.
func (v Value) Equal(o Value) bool {
	c, ok := v.Compare(o)
	return ok && c == 0
}

// Order is a total order for sorting: NULL < numbers < TEXT < BLOB.
func Order(a, b Value) int {
	if c, ok := a.Compare(b); ok {
		return c
	}
	return cmp.Compare(rank(a), rank(b))
}

func rank(v Value) int {
	switch v.Kind {
	case KindNull:
		return 0
	case KindInteger, KindReal:
		return 1
	case KindText:
		return 2
	default:
		return 3
	}
}

func isNumeric(v Value) bool { return v.Kind == KindInteger || v.Kind == KindReal }

func (v Value) num() float64 {
	if v.Kind == KindInteger {
		return float64(v.I)
	}
	return v.F
}

// Coerce validates v against the column and applies the only widening allowed:
// INTEGER into a REAL column, TEXT into a BLOB column.
func Coerce(col Column, v Value) (Value, error) {
	if v.IsNull() {
		if !col.Nullable || col.PrimaryKey {
			return Value{}, ErrNullNotAllowed
		}
		return v, nil
	}
	switch col.Type {
	case ColInteger:
		if v.Kind == KindInteger {
			return v, nil
		}
		if v.Kind == KindReal && v.F == math.Trunc(v.F) && math.Abs(v.F) < 1<<53 {
			return Int(int64(v.F)), nil
		}
	case ColReal:
		if v.Kind == KindReal {
			return v, nil
		}
		if v.Kind == KindInteger {
			return Real(float64(v.I)), nil
		}
	case ColText:
		if v.Kind == KindText {
			return v, nil
		}
	case ColBlob:
		if v.Kind == KindBlob {
			return v, nil
		}
		if v.Kind == KindText {
			return Blob([]byte(v.S)), nil
		}
	}
	return Value{}, fmt.Errorf("%w: column %s expects %s, got kind %d", ErrSchemaMismatch, col.Name, col.Type, v.Kind)
}
