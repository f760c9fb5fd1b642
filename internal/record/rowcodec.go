package record

import (
	"errors"
	"fmt"
	"math"

	"github.com/tuannm99/sealdb/internal/alias/bx"
)

var (
	ErrSchemaMismatch  = errors.New("rowcodec: schema/values mismatch")
	ErrNullNotAllowed  = fmt.Errorf("%w: NULL in non-nullable column", ErrSchemaMismatch)
	ErrBadBuffer       = errors.New("rowcodec: buffer underflow/overflow")
	ErrVarTooLong      = errors.New("rowcodec: variable length exceeds u32")
	ErrUnsupportedType = errors.New("rowcodec: unsupported type")
)

const rowIDSize = 8

// EncodeRow lays a row out as
//
//	[rowid i64] [nullmap: ceil(N/8) bytes, bit=1 => NULL] [field0?] [field1?] ...
//
// INTEGER and REAL take 8 bytes; TEXT and BLOB are a u32 length (LE) + data.
// Values must already be coerced to their column type.
func EncodeRow(s Schema, rowID int64, values []Value) ([]byte, error) {
	nc := s.NumCols()
	if len(values) != nc {
		return nil, ErrSchemaMismatch
	}

	nbBytes := (nc + 7) / 8
	out := make([]byte, rowIDSize+nbBytes, rowIDSize+nbBytes+encodedSize(values))
	bx.PutI64(out[:rowIDSize], rowID)
	nullmap := out[rowIDSize:]

	for i, col := range s.Cols {
		v := values[i]
		if v.IsNull() {
			if !col.Nullable {
				return nil, fmt.Errorf("%w: %s", ErrNullNotAllowed, col.Name)
			}
			nullmap[i/8] |= 1 << (uint(i) & 7)
			continue
		}

		switch col.Type {
		case ColInteger:
			if v.Kind != KindInteger {
				return nil, fmt.Errorf("%w: %s wants INTEGER", ErrSchemaMismatch, col.Name)
			}
			var b [8]byte
			bx.PutI64(b[:], v.I)
			out = append(out, b[:]...)

		case ColReal:
			if v.Kind != KindReal {
				return nil, fmt.Errorf("%w: %s wants REAL", ErrSchemaMismatch, col.Name)
			}
			var b [8]byte
			bx.PutU64(b[:], math.Float64bits(v.F))
			out = append(out, b[:]...)

		case ColText:
			if v.Kind != KindText {
				return nil, fmt.Errorf("%w: %s wants TEXT", ErrSchemaMismatch, col.Name)
			}
			var err error
			if out, err = appendVar(out, []byte(v.S)); err != nil {
				return nil, err
			}

		case ColBlob:
			if v.Kind != KindBlob {
				return nil, fmt.Errorf("%w: %s wants BLOB", ErrSchemaMismatch, col.Name)
			}
			var err error
			if out, err = appendVar(out, v.B); err != nil {
				return nil, err
			}

		default:
			return nil, ErrUnsupportedType
		}
	}
	return out, nil
}

func appendVar(out, data []byte) ([]byte, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, ErrVarTooLong
	}
	var l [4]byte
	bx.PutU32(l[:], uint32(len(data)))
	out = append(out, l[:]...)
	return append(out, data...), nil
}

func encodedSize(values []Value) int {
	n := 0
	for _, v := range values {
		switch v.Kind {
		case KindInteger, KindReal:
			n += 8
		case KindText:
			n += 4 + len(v.S)
		case KindBlob:
			n += 4 + len(v.B)
		}
	}
	return n
}

// DecodeRow is the inverse of EncodeRow. Returned blobs never alias buf.
func DecodeRow(s Schema, buf []byte) (int64, []Value, error) {
	nc := s.NumCols()
	nbBytes := (nc + 7) / 8
	if len(buf) < rowIDSize+nbBytes {
		return 0, nil, ErrBadBuffer
	}
	rowID := bx.I64(buf[:rowIDSize])
	nullmap := buf[rowIDSize : rowIDSize+nbBytes]
	i := rowIDSize + nbBytes

	out := make([]Value, nc)
	for colIdx, col := range s.Cols {
		if (nullmap[colIdx/8]>>(uint(colIdx)&7))&1 == 1 {
			continue
		}

		switch col.Type {
		case ColInteger:
			if i+8 > len(buf) {
				return 0, nil, ErrBadBuffer
			}
			out[colIdx] = Int(bx.I64(buf[i : i+8]))
			i += 8

		case ColReal:
			if i+8 > len(buf) {
				return 0, nil, ErrBadBuffer
			}
			out[colIdx] = Real(math.Float64frombits(bx.U64(buf[i : i+8])))
			i += 8

		case ColText, ColBlob:
			if i+4 > len(buf) {
				return 0, nil, ErrBadBuffer
			}
			l := int(bx.U32(buf[i : i+4]))
			i += 4
			if l < 0 || i+l > len(buf) {
				return 0, nil, ErrBadBuffer
			}
			if col.Type == ColText {
				out[colIdx] = Text(string(buf[i : i+l]))
			} else {
				out[colIdx] = Blob(bx.Clone(buf[i : i+l]))
			}
			i += l

		default:
			return 0, nil, ErrUnsupportedType
		}
	}
	return rowID, out, nil
}

// RowID reads just the identity prefix of an encoded row.
func RowID(buf []byte) (int64, error) {
	if len(buf) < rowIDSize {
		return 0, ErrBadBuffer
	}
	return bx.I64(buf[:rowIDSize]), nil
}
