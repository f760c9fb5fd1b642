package storage

import (
	"errors"
	"fmt"
)

const (
	OneKB = 1 << 10

	DefaultPageSize = 4 * OneKB
	MinPageSize     = 1 * OneKB
	MaxPageSize     = 64 * OneKB

	// HeaderAreaSize is the part of page 0 that carries the file header; it is
	// read before the page size is known.
	HeaderAreaSize = 256
)

// Reserved page ids. Page 0 is plaintext, the rest go through the codec.
const (
	HeaderPageID   uint32 = 0
	MetaPageID     uint32 = 1
	FreeListPageID uint32 = 2
	CatalogPageID  uint32 = 3

	FirstUserPageID uint32 = 4
)

const (
	FileMode0644 = 0o644
	FileMode0755 = 0o755
)

type PageType uint16

const (
	PageTypeNone PageType = iota
	PageTypeHeap
	PageTypeFreeTrunk
	PageTypeIndexLeaf
	PageTypeIndexInternal
)

func (t PageType) String() string {
	switch t {
	case PageTypeNone:
		return "none"
	case PageTypeHeap:
		return "heap"
	case PageTypeFreeTrunk:
		return "free-trunk"
	case PageTypeIndexLeaf:
		return "index-leaf"
	case PageTypeIndexInternal:
		return "index-internal"
	default:
		return fmt.Sprintf("PageType(%d)", uint16(t))
	}
}

var (
	ErrBadHeader   = errors.New("storage: bad file header")
	ErrBadPageSize = errors.New("storage: page size must be a power of two in [1KiB, 64KiB]")
	ErrDoubleFree  = errors.New("storage: page is already on the free list")
)

func ValidatePageSize(n int) error {
	if n < MinPageSize || n > MaxPageSize || n&(n-1) != 0 {
		return fmt.Errorf("%w: got %d", ErrBadPageSize, n)
	}
	return nil
}
