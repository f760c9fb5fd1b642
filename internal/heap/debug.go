package heap

import (
	"fmt"
	"strings"

	"github.com/tuannm99/sealdb/internal/alias/bx"
	"github.com/tuannm99/sealdb/internal/record"
)

// DescribeTuple renders one heap tuple for page dumps. Without a schema only
// the tuple kind and rowid are shown; with one, inline rows are decoded
// column by column. Overflow chains are not followed.
func DescribeTuple(tup []byte, schema *record.Schema) string {
	if len(tup) == 0 {
		return "empty tuple"
	}
	switch tup[0] {
	case tupleInline:
		data := tup[1:]
		if schema == nil {
			if len(data) < 8 {
				return fmt.Sprintf("inline, %d bytes: %v", len(data), ErrBadTuple)
			}
			return fmt.Sprintf("inline rowid=%d (%d bytes)", bx.I64(data[:8]), len(data))
		}
		rowID, values, err := record.DecodeRow(*schema, data)
		if err != nil {
			return fmt.Sprintf("inline, undecodable: %v", err)
		}
		cols := make([]string, len(values))
		for i, v := range values {
			cols[i] = schema.Cols[i].Name + "=" + v.String()
		}
		return fmt.Sprintf("inline rowid=%d %s", rowID, strings.Join(cols, " "))
	case tupleOverflow:
		ref, err := decodeRef(tup)
		if err != nil {
			return fmt.Sprintf("overflow: %v", err)
		}
		return fmt.Sprintf("overflow rowid=%d first=%d length=%d", bx.I64(tup[1:9]), ref.FirstPageID, ref.Length)
	default:
		return fmt.Sprintf("unknown tuple kind %d", tup[0])
	}
}
