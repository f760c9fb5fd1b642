package btree

import (
	"fmt"

	"github.com/tuannm99/sealdb/internal/storage"
)

// DescribeEntry renders one tuple of an index page for page dumps.
func DescribeEntry(typ storage.PageType, tup []byte) string {
	switch typ {
	case storage.PageTypeIndexLeaf:
		e, err := DecodeLeafEntry(tup)
		if err != nil {
			return err.Error()
		}
		return fmt.Sprintf("key=%016x row=%s", uint64(e.Key), e.TID)
	case storage.PageTypeIndexInternal:
		sep, child, err := DecodeInternalEntry(tup)
		if err != nil {
			return err.Error()
		}
		return fmt.Sprintf("sep=%s child=%d", sep, child)
	default:
		return fmt.Sprintf("not an index page (%s)", typ)
	}
}
